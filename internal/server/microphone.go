package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/oszuidwest/zwfm-speaktrainer/internal/config"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/eventlog"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/observe"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/pipeline"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/recorder"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/types"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/util"
)

// StepRecord is the step reported when the microphone itself fails.
const StepRecord = "record"

// ErrNoSpeech is reported when a recording ends without any speech.
var ErrNoSpeech = errors.New("no speech detected")

// Submitter grades a recorded attempt.
type Submitter interface {
	Submit(ctx context.Context, sess pipeline.Session, sub pipeline.Submission) (*pipeline.Outcome, error)
}

// DeviceFactory returns the capture device for a configured input.
type DeviceFactory func(input string) recorder.Device

// Prompt is the practice item a microphone attempt answers.
type Prompt struct {
	AttemptID       string
	ItemID          string
	Category        types.Category
	TargetText      string
	ExpectedPhrases []string
	Variations      []string
	Keyword         string
	MaxLatencyMs    int64
	MeasurementType types.MeasurementType
	Language        string
}

// MicrophoneDeps are the collaborators of a Microphone. Clock, Metrics and
// Events are optional.
type MicrophoneDeps struct {
	Config    *config.Config
	Devices   DeviceFactory
	Submitter Submitter
	Clock     recorder.Clock
	Metrics   *observe.Metrics
	Events    *eventlog.Logger
}

// Microphone runs one recording at a time on the local capture device and
// grades it when it stops. Status changes (recorder.Status) and graded
// results (types.WSAttemptResult) are published to subscribers.
// It is safe for concurrent use.
type Microphone struct {
	deps   MicrophoneDeps
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	rec  *recorder.Recorder
	busy bool
	subs map[chan any]struct{}
}

// NewMicrophone returns an idle Microphone.
func NewMicrophone(d MicrophoneDeps) *Microphone {
	ctx, cancel := context.WithCancel(context.Background())
	return &Microphone{
		deps:   d,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[chan any]struct{}),
	}
}

// Start arms a recording for p and returns its attempt id. It blocks until
// the device is acquired.
func (m *Microphone) Start(sess pipeline.Session, p Prompt) (string, error) {
	snap := m.deps.Config.Snapshot()

	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return "", recorder.ErrAlreadyActive
	}
	m.busy = true
	rec := recorder.New(m.deps.Devices(snap.AudioInput), recorder.Options{
		MinVolume:       snap.MinVolume,
		SilenceDuration: snap.SilenceDuration,
		AutoStop:        snap.AutoStop,
		PollInterval:    snap.PollInterval,
		MaxDuration:     snap.MaxDuration,
	}, m.deps.Clock, m.publishStatus)
	m.rec = rec
	m.mu.Unlock()

	if p.AttemptID == "" {
		p.AttemptID = uuid.NewString()
	}

	results, err := rec.Start(m.ctx)
	if err != nil {
		m.release()
		m.logRecorder(eventlog.RecorderError, &eventlog.RecorderDetails{Error: err.Error()})
		return "", err
	}

	if m.deps.Metrics != nil {
		m.deps.Metrics.ActiveRecordings.Add(m.ctx, 1)
	}
	m.logRecorder(eventlog.RecorderStarted, nil)

	m.wg.Go(func() {
		m.grade(sess, p, <-results)
	})
	return p.AttemptID, nil
}

// Stop ends the current recording. The recording is still graded.
func (m *Microphone) Stop() error {
	m.mu.Lock()
	rec := m.rec
	m.mu.Unlock()
	if rec == nil {
		return recorder.ErrNotActive
	}
	return rec.Stop()
}

// Status returns the recorder status for the status message.
func (m *Microphone) Status() types.RecorderStatus {
	m.mu.Lock()
	rec := m.rec
	m.mu.Unlock()
	if rec == nil {
		return types.RecorderStatus{State: string(recorder.StateIdle)}
	}
	return rec.Status()
}

// Levels returns the live meter reading.
func (m *Microphone) Levels() types.AudioLevels {
	m.mu.Lock()
	rec := m.rec
	m.mu.Unlock()
	if rec == nil {
		return types.AudioLevels{}
	}
	return rec.Levels()
}

// Subscribe registers for published messages. The returned function
// unregisters the subscription.
func (m *Microphone) Subscribe() (<-chan any, func()) {
	ch := make(chan any, 8)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()
	return ch, func() {
		m.mu.Lock()
		delete(m.subs, ch)
		m.mu.Unlock()
	}
}

// Close stops any recording and waits for grading to finish.
func (m *Microphone) Close() {
	m.mu.Lock()
	rec := m.rec
	m.mu.Unlock()
	if rec != nil {
		rec.Close()
	}
	m.wg.Wait()
	m.cancel()
}

func (m *Microphone) grade(sess pipeline.Session, p Prompt, res recorder.Result) {
	m.release()

	if m.deps.Metrics != nil {
		m.deps.Metrics.ActiveRecordings.Add(m.ctx, -1)
		m.deps.Metrics.RecordRecording(m.ctx, string(res.Reason))
	}
	details := &eventlog.RecorderDetails{
		Reason:         string(res.Reason),
		DurationMs:     res.Duration.Milliseconds(),
		SpeechDetected: res.SpeechDetected,
	}
	slog.Info("recording finished", "attempt_id", p.AttemptID, "reason", res.Reason,
		"duration", util.FormatDuration(details.DurationMs))

	if res.Err != nil {
		details.Error = res.Err.Error()
		m.logRecorder(eventlog.RecorderError, details)
		m.publish(types.WSAttemptResult{
			Type:      "attempt_result",
			AttemptID: p.AttemptID,
			Error:     res.Err.Error(),
			Step:      StepRecord,
		})
		return
	}
	m.logRecorder(eventlog.RecorderStopped, details)

	// Without speech there is no first-speech latency to grade.
	if !res.SpeechDetected {
		m.publish(types.WSAttemptResult{
			Type:      "attempt_result",
			AttemptID: p.AttemptID,
			Error:     ErrNoSpeech.Error(),
			Step:      StepRecord,
		})
		return
	}

	sub := pipeline.Submission{
		AttemptID:       p.AttemptID,
		ItemID:          p.ItemID,
		Category:        p.Category,
		TargetText:      p.TargetText,
		ExpectedPhrases: p.ExpectedPhrases,
		Variations:      p.Variations,
		Keyword:         p.Keyword,
		MaxLatencyMs:    p.MaxLatencyMs,
		MeasurementType: p.MeasurementType,
		Language:        p.Language,
		Audio:           res.Audio,
		ContentType:     res.ContentType,
		DurationSec:     res.Duration.Seconds(),
		LatencyMs:       res.FirstSpeech.Milliseconds(),
	}

	out, err := m.deps.Submitter.Submit(m.ctx, sess, sub)
	if err != nil {
		msg := types.WSAttemptResult{Type: "attempt_result", AttemptID: p.AttemptID, Error: err.Error()}
		var stepErr *pipeline.StepError
		if errors.As(err, &stepErr) {
			msg.Step = stepErr.Step
		}
		m.publish(msg)
		return
	}

	m.publish(types.WSAttemptResult{
		Type:      "attempt_result",
		AttemptID: out.AttemptID,
		Result:    NewAttemptResponse(out),
	})
}

func (m *Microphone) release() {
	m.mu.Lock()
	m.busy = false
	m.mu.Unlock()
}

func (m *Microphone) publishStatus(st recorder.Status) {
	m.publish(st)
}

func (m *Microphone) publish(msg any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- msg:
		default:
			slog.Warn("dropping microphone message: subscriber full")
		}
	}
}

func (m *Microphone) logRecorder(t eventlog.EventType, details *eventlog.RecorderDetails) {
	if err := m.deps.Events.LogRecorder(t, details); err != nil {
		slog.Warn("failed to write event log", "error", err)
	}
}

// NewAttemptResponse converts a pipeline outcome to its wire form.
func NewAttemptResponse(out *pipeline.Outcome) *types.AttemptResponse {
	return &types.AttemptResponse{
		AttemptID:      out.AttemptID,
		Score:          out.Score,
		Feedback:       out.Feedback,
		STTText:        out.Transcript,
		AudioURL:       out.AudioURL,
		LatencyMs:      out.LatencyMs,
		MatchedText:    out.MatchedText,
		SentenceCount:  out.SentenceCount,
		StructureScore: out.StructureScore,
	}
}
