// Package recorder provides the voice-activity-gated microphone recorder.
//
// A Recorder moves through idle → armed → recording → stopped. Once speech
// has been heard, a run of silence longer than the configured window stops
// the recording automatically. Every session ends with exactly one Result.
package recorder

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/oszuidwest/zwfm-speaktrainer/internal/audio"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/types"
)

// Sentinel errors for recorder operations.
var (
	// ErrAlreadyActive is returned when Start is called while a session is open.
	ErrAlreadyActive = errors.New("recorder is already active")

	// ErrNotActive is returned when Stop is called without an open session.
	ErrNotActive = errors.New("recorder is not active")

	// ErrCaptureEnded is reported when the device stream ends on its own.
	ErrCaptureEnded = errors.New("capture stream ended")
)

// State is the recorder state.
type State string

const (
	// StateIdle means no device is held.
	StateIdle State = "idle"
	// StateArmed means the device is open but no audio has arrived yet.
	StateArmed State = "armed"
	// StateRecording means audio is accumulating and being monitored.
	StateRecording State = "recording"
	// StateStopped means the last session ended and its result was emitted.
	StateStopped State = "stopped"
)

// StopReason explains why a session ended.
type StopReason string

const (
	ReasonManual      StopReason = "manual"
	ReasonSilence     StopReason = "silence"
	ReasonMaxDuration StopReason = "max_duration"
	ReasonError       StopReason = "error"
)

// Device acquires a microphone stream of mono S16LE PCM.
// Open may block (for example on a permission prompt) and must honour ctx.
type Device interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Compile-time check that the capture command satisfies Device.
var _ Device = (*audio.CommandDevice)(nil)

// Options configures a Recorder.
type Options struct {
	MinVolume       uint8         // energy gate threshold on the 0-255 scale
	SilenceDuration time.Duration // silence after speech before auto-stop
	AutoStop        bool          // false: only a manual Stop ends the session
	PollInterval    time.Duration // energy monitoring interval
	MaxDuration     time.Duration // hard cap on session length, 0 disables
	SampleRate      int
	Channels        int
}

// Defaults for Options.
const (
	DefaultSilenceDuration = 1500 * time.Millisecond
	DefaultMaxDuration     = 60 * time.Second
)

// DefaultOptions returns the standard recorder settings.
func DefaultOptions() Options {
	return Options{
		MinVolume:       audio.DefaultMinVolume,
		SilenceDuration: DefaultSilenceDuration,
		AutoStop:        true,
		PollInterval:    types.PollInterval,
		MaxDuration:     DefaultMaxDuration,
		SampleRate:      types.SampleRate,
		Channels:        types.Channels,
	}
}

// Result is the single output of a finished session.
type Result struct {
	Audio          []byte        // WAV-encoded capture
	ContentType    string        // MIME type of Audio
	Duration       time.Duration // time from device acquisition to stop
	FirstSpeech    time.Duration // offset of the first speech frame, 0 if none
	SpeechDetected bool
	Reason         StopReason
	Err            error // set when Reason is ReasonError
}

// Status is reported to the status callback on every state change.
type Status struct {
	State          State
	SpeechDetected bool
	Err            error
}
