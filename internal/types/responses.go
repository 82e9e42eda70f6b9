package types

// WSStatusResponse is pushed to WebSocket clients on connect and on every state change.
type WSStatusResponse struct {
	Type           string         `json:"type"` // "status"
	Recorder       RecorderStatus `json:"recorder"`
	CaptureEnabled bool           `json:"capture_enabled"`
	Devices        []Device       `json:"devices"`
	Version        VersionInfo    `json:"version"`
}

// WSLevelsResponse carries the live microphone level.
type WSLevelsResponse struct {
	Type   string      `json:"type"` // "levels"
	Levels AudioLevels `json:"levels"`
}

// WSAttemptResult is sent when a microphone attempt has been graded or failed.
type WSAttemptResult struct {
	Type      string           `json:"type"` // "attempt_result"
	AttemptID string           `json:"attempt_id"`
	Result    *AttemptResponse `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	Step      string           `json:"step,omitempty"`
}

// WSCommandResult is the standard response for command execution.
type WSCommandResult struct {
	Type    string           `json:"type"`            // "<command>_result"
	Success bool             `json:"success"`         // true if command succeeded
	Error   *ValidationError `json:"error,omitempty"` // Validation errors if failed
	Data    any              `json:"data,omitempty"`  // Optional response data
}

// AttemptResponse is the success body of an attempt submission.
type AttemptResponse struct {
	AttemptID      string `json:"attempt_id"`
	Score          int    `json:"score"`
	Feedback       string `json:"feedback"`
	STTText        string `json:"stt_text"`
	AudioURL       string `json:"audio_url"`
	LatencyMs      int64  `json:"latency_ms"`
	MatchedText    string `json:"matched_text,omitempty"`
	SentenceCount  *int   `json:"sentence_count,omitempty"`
	StructureScore *int   `json:"structure_score,omitempty"`
}

// ErrorResponse is the failure body of an attempt submission.
type ErrorResponse struct {
	Error string `json:"error"`
	Step  string `json:"step,omitempty"`
}

// Device represents an available audio input device.
type Device struct {
	// ID is the device identifier.
	ID string `json:"id"`
	// Name is the device display name.
	Name string `json:"name"`
}
