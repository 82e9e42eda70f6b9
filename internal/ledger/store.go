package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/oszuidwest/zwfm-speaktrainer/internal/types"
)

// Store errors returned by Store implementations.
var (
	// ErrNotFound means no row exists for the attempt id.
	ErrNotFound = errors.New("attempt not found")

	// ErrDuplicate means a row already exists for the attempt id.
	ErrDuplicate = errors.New("attempt already exists")
)

// Store is a tabular attempt table keyed by attempt id.
type Store interface {
	// FindByKey returns the record for id or ErrNotFound.
	FindByKey(ctx context.Context, id string) (*types.AttemptRecord, error)
	// Insert adds rec or returns ErrDuplicate.
	Insert(ctx context.Context, rec *types.AttemptRecord) error
	// UpdateByKey merges the non-nil fields of patch into the record for id.
	// It returns ErrNotFound without writing when id is unknown.
	UpdateByKey(ctx context.Context, id string, patch *types.AttemptPatch) error
	Close() error
}

// column is one assignment in a partial update.
type column struct {
	name  string
	value any
}

// patchColumns lists the columns set by patch in table order.
func patchColumns(p *types.AttemptPatch) []column {
	var cols []column
	add := func(name string, v any) { cols = append(cols, column{name, v}) }

	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.Transcript != nil {
		add("transcript", *p.Transcript)
	}
	if p.Score != nil {
		add("score", *p.Score)
	}
	if p.Feedback != nil {
		add("feedback", *p.Feedback)
	}
	if p.MatchedText != nil {
		add("matched_text", *p.MatchedText)
	}
	if p.AudioURL != nil {
		add("audio_url", *p.AudioURL)
	}
	if p.LatencyMs != nil {
		add("latency_ms", *p.LatencyMs)
	}
	if p.DurationSec != nil {
		add("duration_sec", *p.DurationSec)
	}
	if p.SentenceCount != nil {
		add("sentence_count", *p.SentenceCount)
	}
	if p.StructureScore != nil {
		add("structure_score", *p.StructureScore)
	}
	if p.ErrorStep != nil {
		add("error_step", *p.ErrorStep)
	}
	if p.ErrorMessage != nil {
		add("error_message", *p.ErrorMessage)
	}
	if p.UpdatedAt != nil {
		add("updated_at", *p.UpdatedAt)
	}
	if p.FinalizedAt != nil {
		add("finalized_at", *p.FinalizedAt)
	}
	return cols
}

// recordColumns is the column order shared by the SQL and sheet stores.
var recordColumns = []string{
	"attempt_id", "status", "user_id", "item_id", "category", "target_text",
	"measurement_type", "transcript", "score", "feedback", "matched_text",
	"audio_url", "latency_ms", "duration_sec", "sentence_count",
	"structure_score", "error_step", "error_message", "created_at",
	"updated_at", "finalized_at",
}

func unixMillis(t time.Time) int64 { return t.UnixMilli() }

func fromUnixMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
