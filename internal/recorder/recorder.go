package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-speaktrainer/internal/audio"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/types"
)

// readChunkSize is the device read size: 1024 mono samples, 64ms at 16kHz.
const readChunkSize = 2048

// Recorder captures one spoken response at a time.
type Recorder struct {
	device   Device
	opts     Options
	gate     audio.Gate
	clock    Clock
	onStatus func(Status)

	mu         sync.Mutex
	state      State
	sess       *session
	cancelOpen context.CancelFunc
	lastErr    error
	peakHold   *audio.PeakHolder
	levels     types.AudioLevels
}

// session holds per-recording state. It is discarded when the recording stops.
type session struct {
	stream    io.ReadCloser
	ticker    Ticker
	done      chan struct{}
	result    chan Result
	startedAt time.Time

	pcm    bytes.Buffer
	latest []uint8

	speechDetected bool
	firstSpeechAt  time.Time

	silenceTimer Timer
	silenceGen   uint64
	maxTimer     Timer
}

// New creates a Recorder. A nil clock uses the system clock.
func New(device Device, opts Options, clock Clock, onStatus func(Status)) *Recorder {
	if clock == nil {
		clock = SystemClock{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = types.PollInterval
	}
	if opts.SilenceDuration <= 0 {
		opts.SilenceDuration = DefaultSilenceDuration
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = types.SampleRate
	}
	if opts.Channels <= 0 {
		opts.Channels = types.Channels
	}
	return &Recorder{
		device:   device,
		opts:     opts,
		gate:     audio.NewGate(opts.MinVolume),
		clock:    clock,
		onStatus: onStatus,
		state:    StateIdle,
		peakHold: audio.NewPeakHolder(),
	}
}

// Start acquires the device and arms the recorder. The returned channel
// receives exactly one Result when the session stops, and is then closed.
func (r *Recorder) Start(ctx context.Context) (<-chan Result, error) {
	r.mu.Lock()
	if r.sess != nil || r.cancelOpen != nil {
		r.mu.Unlock()
		return nil, ErrAlreadyActive
	}
	openCtx, cancel := context.WithCancel(ctx)
	r.cancelOpen = cancel
	r.lastErr = nil
	r.mu.Unlock()

	stream, err := r.device.Open(openCtx)

	r.mu.Lock()
	r.cancelOpen = nil
	if err == nil && openCtx.Err() != nil {
		// Stop arrived while the device was being opened.
		err = openCtx.Err()
		_ = stream.Close()
	}
	cancel()
	if err != nil {
		r.state = StateIdle
		r.lastErr = err
		r.mu.Unlock()
		slog.Warn("microphone unavailable", "error", err)
		r.emit(Status{State: StateIdle, Err: err})
		return nil, err
	}

	s := &session{
		stream:    stream,
		done:      make(chan struct{}),
		result:    make(chan Result, 1),
		startedAt: r.clock.Now(),
	}
	s.ticker = r.clock.NewTicker(r.opts.PollInterval)
	if r.opts.MaxDuration > 0 {
		s.maxTimer = r.clock.AfterFunc(r.opts.MaxDuration, func() {
			r.finish(s, ReasonMaxDuration, nil)
		})
	}
	r.sess = s
	r.state = StateArmed
	r.peakHold.Reset()
	r.levels = types.AudioLevels{}
	r.mu.Unlock()

	slog.Info("recorder armed", "auto_stop", r.opts.AutoStop, "silence", r.opts.SilenceDuration)
	r.emit(Status{State: StateArmed})

	go r.readLoop(s)
	go r.monitorLoop(s)

	return s.result, nil
}

// Stop ends the current session manually. It returns after the device has
// been released. Calling Stop while the device is still being opened
// aborts the open.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if r.cancelOpen != nil {
		r.cancelOpen()
		r.mu.Unlock()
		return nil
	}
	s := r.sess
	r.mu.Unlock()
	if s == nil {
		return ErrNotActive
	}
	r.finish(s, ReasonManual, nil)
	return nil
}

// Close releases the device if a session is open.
func (r *Recorder) Close() {
	if err := r.Stop(); err != nil && !errors.Is(err, ErrNotActive) {
		slog.Warn("failed to stop recorder", "error", err)
	}
}

// Feed ingests a chunk of S16LE PCM. The first chunk of a session moves the
// recorder from armed to recording. Chunks outside a session are ignored.
func (r *Recorder) Feed(chunk []byte) {
	r.mu.Lock()
	s := r.sess
	r.mu.Unlock()
	if s != nil {
		r.ingest(s, chunk)
	}
}

// Tick runs one energy monitoring step on the newest frame.
func (r *Recorder) Tick() {
	r.mu.Lock()
	s := r.sess
	r.mu.Unlock()
	if s != nil {
		r.tick(s)
	}
}

// State returns the current state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Status returns a snapshot for status reporting.
func (r *Recorder) Status() types.RecorderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := types.RecorderStatus{State: string(r.state)}
	if r.sess != nil {
		st.SpeechDetected = r.sess.speechDetected
		st.Duration = r.clock.Now().Sub(r.sess.startedAt).Seconds()
	}
	if r.lastErr != nil {
		st.Error = r.lastErr.Error()
	}
	return st
}

// Levels returns the most recent meter reading.
func (r *Recorder) Levels() types.AudioLevels {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.levels
}

func (r *Recorder) ingest(s *session, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	r.mu.Lock()
	if r.sess != s {
		r.mu.Unlock()
		return
	}
	s.pcm.Write(chunk)
	s.latest = audio.MagnitudeFrame(chunk)
	armed := r.state == StateArmed
	if armed {
		r.state = StateRecording
	}
	r.mu.Unlock()

	if armed {
		r.emit(Status{State: StateRecording})
	}
}

func (r *Recorder) tick(s *session) {
	r.mu.Lock()
	if r.sess != s || r.state != StateRecording {
		r.mu.Unlock()
		return
	}

	now := r.clock.Now()
	speech := r.gate.Detect(s.latest)
	peak := audio.Peak(s.latest)
	r.levels = types.AudioLevels{
		Peak:     peak,
		PeakHold: r.peakHold.Update(peak, now),
		Speech:   speech,
	}

	firstSpeech := false
	switch {
	case speech:
		if !s.speechDetected {
			s.speechDetected = true
			s.firstSpeechAt = now
			firstSpeech = true
		}
		if s.silenceTimer != nil {
			s.silenceTimer.Stop()
			s.silenceTimer = nil
		}
	case s.speechDetected && r.opts.AutoStop && s.silenceTimer == nil:
		s.silenceGen++
		gen := s.silenceGen
		s.silenceTimer = r.clock.AfterFunc(r.opts.SilenceDuration, func() {
			r.silenceElapsed(s, gen)
		})
	}
	r.mu.Unlock()

	if firstSpeech {
		slog.Debug("speech detected", "offset", now.Sub(s.startedAt))
		r.emit(Status{State: StateRecording, SpeechDetected: true})
	}
}

// silenceElapsed stops the session unless the silence timer that fired has
// since been cancelled or replaced.
func (r *Recorder) silenceElapsed(s *session, gen uint64) {
	r.finishIf(s, ReasonSilence, nil, func() bool {
		return s.silenceTimer != nil && s.silenceGen == gen
	})
}

func (r *Recorder) readLoop(s *session) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := s.stream.Read(buf)
		if n > 0 {
			r.ingest(s, buf[:n])
		}
		if err == nil {
			continue
		}
		select {
		case <-s.done:
			return
		default:
		}
		if errors.Is(err, io.EOF) {
			err = ErrCaptureEnded
		}
		r.finish(s, ReasonError, fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err))
		return
	}
}

func (r *Recorder) monitorLoop(s *session) {
	for {
		select {
		case <-s.done:
			return
		case <-s.ticker.C():
			r.tick(s)
		}
	}
}

// finish moves s to stopped and emits its result. Only the first call for a
// session has any effect.
func (r *Recorder) finish(s *session, reason StopReason, cause error) {
	r.finishIf(s, reason, cause, nil)
}

// finishIf is finish with a guard evaluated under r.mu. A false guard leaves
// the session running.
func (r *Recorder) finishIf(s *session, reason StopReason, cause error, guard func() bool) {
	r.mu.Lock()
	if r.sess != s || (guard != nil && !guard()) {
		r.mu.Unlock()
		return
	}
	r.sess = nil
	r.state = StateStopped
	r.lastErr = cause
	r.levels = types.AudioLevels{}

	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
		s.silenceTimer = nil
	}
	if s.maxTimer != nil {
		s.maxTimer.Stop()
	}
	s.ticker.Stop()
	close(s.done)

	res := Result{
		Audio:          audio.EncodeWAV(s.pcm.Bytes(), r.opts.SampleRate, r.opts.Channels),
		ContentType:    audio.ContentTypeWAV,
		Duration:       r.clock.Now().Sub(s.startedAt),
		SpeechDetected: s.speechDetected,
		Reason:         reason,
		Err:            cause,
	}
	if s.speechDetected {
		res.FirstSpeech = s.firstSpeechAt.Sub(s.startedAt)
	}
	r.mu.Unlock()

	if err := s.stream.Close(); err != nil {
		slog.Debug("closing capture stream", "error", err)
	}

	s.result <- res
	close(s.result)

	if cause != nil {
		slog.Error("recording stopped", "reason", reason, "error", cause)
	} else {
		slog.Info("recording stopped", "reason", reason, "duration", res.Duration, "speech", res.SpeechDetected)
	}
	r.emit(Status{State: StateStopped, SpeechDetected: res.SpeechDetected, Err: cause})
}

func (r *Recorder) emit(st Status) {
	if r.onStatus != nil {
		r.onStatus(st)
	}
}
