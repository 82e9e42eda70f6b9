// Package types provides shared type definitions used across the trainer.
package types

import (
	"time"
)

// Category selects the evaluation strategy for an attempt.
type Category string

const (
	// CategoryOnPitch is a time-critical short reaction scored by phrase match and latency.
	CategoryOnPitch Category = "on_pitch"
	// CategoryInterview is an extended answer scored by sentence structure.
	CategoryInterview Category = "interview"
	// CategoryShadowing repeats a target sentence and is scored by fuzzy similarity.
	CategoryShadowing Category = "shadowing"
)

// AttemptStatus represents the lifecycle state of an attempt record.
type AttemptStatus string

const (
	// StatusPending indicates the attempt was received but not yet graded.
	StatusPending AttemptStatus = "pending"
	// StatusFinalized indicates the attempt was graded successfully.
	StatusFinalized AttemptStatus = "finalized"
	// StatusFailed indicates a pipeline step failed for this attempt.
	StatusFailed AttemptStatus = "failed"
)

// MeasurementType tags an attempt for progress reporting.
type MeasurementType string

const (
	// MeasurementBaseline marks a learner's first attempt at an item.
	MeasurementBaseline MeasurementType = "baseline"
	// MeasurementAfter marks a retry measured after practice.
	MeasurementAfter MeasurementType = "after"
)

// Audio format constants for microphone capture.
const (
	// SampleRate is the capture sample rate in Hz.
	SampleRate = 16000
	// Channels is the number of capture channels (mono).
	Channels = 1
)

const (
	// PollInterval is the default energy monitoring interval.
	PollInterval = 50 * time.Millisecond
	// ShutdownTimeout is the duration to wait for graceful shutdown.
	ShutdownTimeout = 3000 * time.Millisecond
)

// AttemptRecord is the durable unit of one graded submission.
type AttemptRecord struct {
	AttemptID       string          `json:"attempt_id"`
	Status          AttemptStatus   `json:"status"`
	UserID          string          `json:"user_id,omitempty"`
	ItemID          string          `json:"item_id,omitempty"`
	Category        Category        `json:"category"`
	TargetText      string          `json:"target_text"`
	MeasurementType MeasurementType `json:"measurement_type,omitempty"`
	Transcript      string          `json:"transcript,omitempty"`
	Score           *int            `json:"score,omitempty"`
	Feedback        string          `json:"feedback,omitempty"`
	MatchedText     string          `json:"matched_text,omitempty"`
	AudioURL        string          `json:"audio_url,omitempty"`
	LatencyMs       int64           `json:"latency_ms,omitempty"`
	DurationSec     float64         `json:"duration_sec,omitempty"`
	SentenceCount   int             `json:"sentence_count,omitempty"`
	StructureScore  int             `json:"structure_score,omitempty"`
	ErrorStep       string          `json:"error_step,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	FinalizedAt     *time.Time      `json:"finalized_at,omitempty"`
}

// AttemptPatch is a partial update of an attempt record.
// Nil fields are left untouched by the store.
type AttemptPatch struct {
	Status         *AttemptStatus
	Transcript     *string
	Score          *int
	Feedback       *string
	MatchedText    *string
	AudioURL       *string
	LatencyMs      *int64
	DurationSec    *float64
	SentenceCount  *int
	StructureScore *int
	ErrorStep      *string
	ErrorMessage   *string
	UpdatedAt      *time.Time
	FinalizedAt    *time.Time
}

// Apply merges the non-nil fields of p into rec.
func (p *AttemptPatch) Apply(rec *AttemptRecord) {
	if p.Status != nil {
		rec.Status = *p.Status
	}
	if p.Transcript != nil {
		rec.Transcript = *p.Transcript
	}
	if p.Score != nil {
		score := *p.Score
		rec.Score = &score
	}
	if p.Feedback != nil {
		rec.Feedback = *p.Feedback
	}
	if p.MatchedText != nil {
		rec.MatchedText = *p.MatchedText
	}
	if p.AudioURL != nil {
		rec.AudioURL = *p.AudioURL
	}
	if p.LatencyMs != nil {
		rec.LatencyMs = *p.LatencyMs
	}
	if p.DurationSec != nil {
		rec.DurationSec = *p.DurationSec
	}
	if p.SentenceCount != nil {
		rec.SentenceCount = *p.SentenceCount
	}
	if p.StructureScore != nil {
		rec.StructureScore = *p.StructureScore
	}
	if p.ErrorStep != nil {
		rec.ErrorStep = *p.ErrorStep
	}
	if p.ErrorMessage != nil {
		rec.ErrorMessage = *p.ErrorMessage
	}
	if p.UpdatedAt != nil {
		rec.UpdatedAt = *p.UpdatedAt
	}
	if p.FinalizedAt != nil {
		t := *p.FinalizedAt
		rec.FinalizedAt = &t
	}
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// AudioLevels is the current microphone level for the live meter.
type AudioLevels struct {
	// Peak is the peak magnitude of the newest frame (0-255).
	Peak uint8 `json:"peak"`
	// PeakHold is the held peak magnitude (0-255).
	PeakHold uint8 `json:"peak_hold"`
	// Speech reports whether the newest frame passed the energy gate.
	Speech bool `json:"speech,omitzero"`
}

// RecorderStatus contains runtime status for the microphone recorder.
type RecorderStatus struct {
	State          string  `json:"state"`
	SpeechDetected bool    `json:"speech_detected,omitempty"`
	Duration       float64 `json:"duration,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// VersionInfo contains version information for the frontend.
type VersionInfo struct {
	Current     string `json:"current"`
	Latest      string `json:"latest,omitempty"`
	UpdateAvail bool   `json:"update_available"`
	Commit      string `json:"commit,omitempty"`
	BuildTime   string `json:"build_time,omitempty"`
}
