package recorder

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-speaktrainer/internal/audio"
)

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	// beforeFire runs once after due timers are picked and before their
	// callbacks run.
	beforeFire func()
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeTicker struct{ c chan time.Time }

func (t fakeTicker) C() <-chan time.Time { return t.c }
func (t fakeTicker) Stop()               {}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// NewTicker never fires; tests drive monitoring through Tick.
func (c *fakeClock) NewTicker(time.Duration) Ticker {
	return fakeTicker{c: make(chan time.Time)}
}

// Advance moves time forward and runs every timer that became due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []func()
	for _, t := range c.timers {
		if !t.stopped && !t.at.After(c.now) {
			t.stopped = true
			due = append(due, t.f)
		}
	}
	hook := c.beforeFire
	if len(due) > 0 {
		c.beforeFire = nil
	}
	c.mu.Unlock()
	if hook != nil && len(due) > 0 {
		hook()
	}
	for _, f := range due {
		f()
	}
}

// fakeStream blocks reads until closed or fed an error.
type fakeStream struct {
	errCh     chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{errCh: make(chan error, 1), closed: make(chan struct{})}
}

func (s *fakeStream) Read([]byte) (int, error) {
	select {
	case err := <-s.errCh:
		return 0, err
	case <-s.closed:
		return 0, io.EOF
	}
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeDevice struct {
	stream  *fakeStream
	err     error
	blocked bool
}

func (d *fakeDevice) Open(ctx context.Context) (io.ReadCloser, error) {
	if d.blocked {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

// pcmChunk returns 100ms of constant-amplitude mono samples.
func pcmChunk(amplitude int16) []byte {
	buf := make([]byte, 3200)
	for i := 0; i < len(buf); i += 2 {
		binary.LittleEndian.PutUint16(buf[i:], uint16(amplitude))
	}
	return buf
}

var (
	loud  = pcmChunk(8000)
	quiet = pcmChunk(10)
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.MaxDuration = 0
	return opts
}

func startRecorder(t *testing.T, opts Options) (*Recorder, *fakeClock, *fakeStream, <-chan Result) {
	t.Helper()
	clock := newFakeClock()
	stream := newFakeStream()
	r := New(&fakeDevice{stream: stream}, opts, clock, nil)
	results, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(r.Close)
	return r, clock, stream, results
}

func step(r *Recorder, clock *fakeClock, chunk []byte, d time.Duration) {
	r.Feed(chunk)
	r.Tick()
	clock.Advance(d)
}

func expectNoResult(t *testing.T, results <-chan Result) {
	t.Helper()
	select {
	case res := <-results:
		t.Fatalf("unexpected result: reason %s", res.Reason)
	default:
	}
}

func waitResult(t *testing.T, results <-chan Result) Result {
	t.Helper()
	select {
	case res, ok := <-results:
		if !ok {
			t.Fatal("result channel closed without a result")
		}
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
		return Result{}
	}
}

func TestArmedUntilFirstChunk(t *testing.T) {
	r, _, _, _ := startRecorder(t, testOptions())

	if got := r.State(); got != StateArmed {
		t.Fatalf("State() = %s, want %s", got, StateArmed)
	}
	r.Tick()
	if got := r.State(); got != StateArmed {
		t.Fatalf("State() after tick = %s, want %s", got, StateArmed)
	}
	r.Feed(quiet)
	if got := r.State(); got != StateRecording {
		t.Fatalf("State() after feed = %s, want %s", got, StateRecording)
	}
}

func TestSilenceOnlyNeverStops(t *testing.T) {
	r, clock, _, results := startRecorder(t, testOptions())

	for range 200 {
		step(r, clock, quiet, 50*time.Millisecond)
	}

	if got := r.State(); got != StateRecording {
		t.Fatalf("State() = %s, want %s", got, StateRecording)
	}
	expectNoResult(t, results)
}

func TestSilenceAfterSpeechStops(t *testing.T) {
	r, clock, stream, results := startRecorder(t, testOptions())

	step(r, clock, loud, 50*time.Millisecond)
	r.Feed(quiet)
	r.Tick()

	clock.Advance(1499 * time.Millisecond)
	if got := r.State(); got != StateRecording {
		t.Fatalf("State() before window = %s, want %s", got, StateRecording)
	}
	expectNoResult(t, results)

	clock.Advance(time.Millisecond)
	res := waitResult(t, results)
	if res.Reason != ReasonSilence {
		t.Errorf("Reason = %s, want %s", res.Reason, ReasonSilence)
	}
	if !res.SpeechDetected {
		t.Error("SpeechDetected = false, want true")
	}
	if res.Duration != 1550*time.Millisecond {
		t.Errorf("Duration = %v, want 1.55s", res.Duration)
	}
	if res.ContentType != audio.ContentTypeWAV || len(res.Audio) != 44+2*len(loud) {
		t.Errorf("Audio = %d bytes (%s), want %d bytes WAV", len(res.Audio), res.ContentType, 44+2*len(loud))
	}
	if !stream.isClosed() {
		t.Error("device not released after stop")
	}
	if got := r.State(); got != StateStopped {
		t.Errorf("State() = %s, want %s", got, StateStopped)
	}
	if _, ok := <-results; ok {
		t.Error("result channel delivered a second value")
	}
}

func TestSpeechResumingCancelsStop(t *testing.T) {
	r, clock, _, results := startRecorder(t, testOptions())

	step(r, clock, loud, 50*time.Millisecond)
	step(r, clock, quiet, time.Second)
	step(r, clock, loud, time.Second)

	if got := r.State(); got != StateRecording {
		t.Fatalf("State() = %s, want %s", got, StateRecording)
	}
	expectNoResult(t, results)

	step(r, clock, quiet, 1500*time.Millisecond)
	if res := waitResult(t, results); res.Reason != ReasonSilence {
		t.Errorf("Reason = %s, want %s", res.Reason, ReasonSilence)
	}
}

func TestSpeechBeforeSilenceCallbackKeepsRecording(t *testing.T) {
	r, clock, stream, results := startRecorder(t, testOptions())

	step(r, clock, loud, 50*time.Millisecond)
	r.Feed(quiet)
	r.Tick()

	// The silence timer is due, but speech is detected before its callback runs.
	clock.mu.Lock()
	clock.beforeFire = func() {
		r.Feed(loud)
		r.Tick()
	}
	clock.mu.Unlock()
	clock.Advance(1500 * time.Millisecond)

	if got := r.State(); got != StateRecording {
		t.Fatalf("State() = %s, want %s", got, StateRecording)
	}
	expectNoResult(t, results)
	if stream.isClosed() {
		t.Error("device released while speech continues")
	}

	// A fresh silence window still stops the session.
	r.Feed(quiet)
	r.Tick()
	clock.Advance(1500 * time.Millisecond)
	if res := waitResult(t, results); res.Reason != ReasonSilence {
		t.Errorf("Reason = %s, want %s", res.Reason, ReasonSilence)
	}
}

func TestAutoStopDisabled(t *testing.T) {
	opts := testOptions()
	opts.AutoStop = false
	r, clock, _, results := startRecorder(t, opts)

	step(r, clock, loud, 50*time.Millisecond)
	for range 100 {
		step(r, clock, quiet, 100*time.Millisecond)
	}
	expectNoResult(t, results)

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if res := waitResult(t, results); res.Reason != ReasonManual {
		t.Errorf("Reason = %s, want %s", res.Reason, ReasonManual)
	}
}

func TestManualStop(t *testing.T) {
	r, clock, stream, results := startRecorder(t, testOptions())

	step(r, clock, quiet, 300*time.Millisecond)
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !stream.isClosed() {
		t.Error("device not released when Stop returned")
	}

	res := waitResult(t, results)
	if res.Reason != ReasonManual || res.SpeechDetected {
		t.Errorf("result = %+v, want manual stop without speech", res)
	}
	if err := r.Stop(); !errors.Is(err, ErrNotActive) {
		t.Errorf("second Stop() error = %v, want ErrNotActive", err)
	}
}

func TestFirstSpeechOffset(t *testing.T) {
	r, clock, _, results := startRecorder(t, testOptions())

	clock.Advance(800 * time.Millisecond)
	step(r, clock, loud, 50*time.Millisecond)
	if err := r.Stop(); err != nil {
		t.Fatal(err)
	}
	if res := waitResult(t, results); res.FirstSpeech != 800*time.Millisecond {
		t.Errorf("FirstSpeech = %v, want 800ms", res.FirstSpeech)
	}
}

func TestMaxDuration(t *testing.T) {
	opts := testOptions()
	opts.MaxDuration = 5 * time.Second
	r, clock, _, results := startRecorder(t, opts)

	r.Feed(loud)
	r.Tick()
	clock.Advance(5 * time.Second)

	if res := waitResult(t, results); res.Reason != ReasonMaxDuration {
		t.Errorf("Reason = %s, want %s", res.Reason, ReasonMaxDuration)
	}
}

func TestStartWhileActive(t *testing.T) {
	r, _, _, _ := startRecorder(t, testOptions())
	if _, err := r.Start(context.Background()); !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("Start() error = %v, want ErrAlreadyActive", err)
	}
}

func TestRestartAfterStop(t *testing.T) {
	clock := newFakeClock()
	dev := &fakeDevice{stream: newFakeStream()}
	r := New(dev, testOptions(), clock, nil)
	defer r.Close()

	results, err := r.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	_ = r.Stop()
	waitResult(t, results)

	dev.stream = newFakeStream()
	if _, err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() after stop error = %v", err)
	}
	if got := r.State(); got != StateArmed {
		t.Errorf("State() = %s, want %s", got, StateArmed)
	}
}

func TestOpenFailure(t *testing.T) {
	var statuses []Status
	r := New(&fakeDevice{err: audio.ErrPermissionDenied}, testOptions(), newFakeClock(), func(s Status) {
		statuses = append(statuses, s)
	})

	_, err := r.Start(context.Background())
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("Start() error = %v, want ErrPermissionDenied", err)
	}
	if got := r.State(); got != StateIdle {
		t.Errorf("State() = %s, want %s", got, StateIdle)
	}
	if len(statuses) != 1 || !errors.Is(statuses[0].Err, audio.ErrPermissionDenied) {
		t.Errorf("statuses = %+v, want one permission error", statuses)
	}
	if st := r.Status(); st.Error == "" {
		t.Error("Status().Error is empty")
	}
}

func TestStopDuringOpen(t *testing.T) {
	r := New(&fakeDevice{blocked: true}, testOptions(), newFakeClock(), nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := r.Start(context.Background())
		errCh <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		r.mu.Lock()
		opening := r.cancelOpen != nil
		r.mu.Unlock()
		if opening {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Start never began opening the device")
		}
		time.Sleep(time.Millisecond)
	}

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Start() error = %v, want context.Canceled", err)
	}
	if got := r.State(); got != StateIdle {
		t.Errorf("State() = %s, want %s", got, StateIdle)
	}
}

func TestStreamErrorStops(t *testing.T) {
	r, clock, stream, results := startRecorder(t, testOptions())
	step(r, clock, loud, 50*time.Millisecond)

	stream.errCh <- errors.New("device unplugged")

	res := waitResult(t, results)
	if res.Reason != ReasonError {
		t.Fatalf("Reason = %s, want %s", res.Reason, ReasonError)
	}
	if !errors.Is(res.Err, audio.ErrDeviceUnavailable) {
		t.Errorf("Err = %v, want ErrDeviceUnavailable", res.Err)
	}
	if st := r.Status(); st.State != string(StateStopped) || st.Error == "" {
		t.Errorf("Status() = %+v, want stopped with error", st)
	}
}

func TestLevels(t *testing.T) {
	r, _, _, _ := startRecorder(t, testOptions())

	r.Feed(loud)
	r.Tick()
	lv := r.Levels()
	if !lv.Speech || lv.Peak == 0 || lv.PeakHold < lv.Peak {
		t.Errorf("Levels() = %+v, want speech with peak hold", lv)
	}
}
