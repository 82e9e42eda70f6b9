package server

// Request types for the attempt endpoint and WebSocket commands with
// go-playground/validator struct tags for automatic validation.

// --- Attempts ---

// SubmitRequest holds the form fields of POST /api/attempts.
type SubmitRequest struct {
	AttemptID       string   `json:"attempt_id" validate:"omitempty,attemptid"`
	UserID          string   `json:"user_id" validate:"omitempty,max=128"`
	ItemID          string   `json:"item_id" validate:"omitempty,max=128"`
	Category        string   `json:"category" validate:"omitempty,max=64"`
	TargetText      string   `json:"target_en" validate:"max=4000"`
	ExpectedPhrases []string `json:"expected_phrases" validate:"max=50,dive,max=500"`
	Variations      []string `json:"variations" validate:"max=50,dive,max=4000"`
	Keyword         string   `json:"keyword" validate:"omitempty,max=200"`
	MaxLatencyMs    int64    `json:"max_latency_ms" validate:"gte=0,lte=60000"`
	LatencyMs       int64    `json:"time_to_first_response_ms" validate:"gte=0,lte=3600000"`
	DurationSec     float64  `json:"duration_sec" validate:"gte=0,lte=3600"`
	MeasurementType string   `json:"measurement_type" validate:"omitempty,oneof=baseline after"`
	Language        string   `json:"language" validate:"omitempty,max=16"`
}

// --- Recorder ---

// RecorderStartRequest is the request body for recorder/start.
type RecorderStartRequest struct {
	AttemptID       string   `json:"attempt_id" validate:"omitempty,attemptid"`
	ItemID          string   `json:"item_id" validate:"omitempty,max=128"`
	Category        string   `json:"category" validate:"omitempty,max=64"`
	TargetText      string   `json:"target_en" validate:"max=4000"`
	ExpectedPhrases []string `json:"expected_phrases" validate:"max=50,dive,max=500"`
	Variations      []string `json:"variations" validate:"max=50,dive,max=4000"`
	Keyword         string   `json:"keyword" validate:"omitempty,max=200"`
	MaxLatencyMs    int64    `json:"max_latency_ms" validate:"gte=0,lte=60000"`
	MeasurementType string   `json:"measurement_type" validate:"omitempty,oneof=baseline after"`
	Language        string   `json:"language" validate:"omitempty,max=16"`
}

// --- Audio settings ---

// AudioUpdateRequest is the request body for audio/update.
type AudioUpdateRequest struct {
	Input string `json:"input" validate:"omitempty,max=256"`
}
