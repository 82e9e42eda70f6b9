// Package pipeline turns a submitted recording into a graded attempt.
//
// A submission runs ensure pending, upload, transcribe, evaluate and
// finalize in order. Whatever happens after the record is pending, exactly
// one terminal ledger write (finalize or fail) is made before Submit returns.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/oszuidwest/zwfm-speaktrainer/internal/evaluate"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/eventlog"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/ledger"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/notify"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/observe"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/storage"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/transcribe"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/types"
)

// Pipeline steps, as stored in error_step.
const (
	StepPending    = "ensure_pending"
	StepUpload     = "upload"
	StepTranscribe = "transcribe"
	StepEvaluate   = "evaluate"
	StepFinalize   = "finalize"
)

var (
	// ErrUpload indicates the recording could not be stored.
	ErrUpload = errors.New("upload failed")
	// ErrTranscription indicates the transcription service failed.
	ErrTranscription = errors.New("transcription failed")
)

// StepError reports which pipeline step failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Session identifies the caller of a submission.
type Session struct {
	UserID string
}

// Submission is one recorded answer to grade.
type Submission struct {
	AttemptID       string // generated when empty
	ItemID          string
	Category        types.Category
	TargetText      string
	ExpectedPhrases []string
	Variations      []string
	Keyword         string
	MaxLatencyMs    int64
	MeasurementType types.MeasurementType
	Language        string // transcription hint, falls back to the pipeline default

	Audio       []byte
	ContentType string
	DurationSec float64
	LatencyMs   int64 // time to first response
}

// Outcome is the graded result returned to the caller.
type Outcome struct {
	AttemptID      string
	Score          int
	Feedback       string
	Transcript     string
	AudioURL       string
	LatencyMs      int64
	SentenceCount  *int
	StructureScore *int
	MatchedText    string
	Retry          bool // the attempt id had been submitted before
}

// Deps are the collaborators of a Pipeline. Metrics, Events and Notifier are
// optional.
type Deps struct {
	Ledger      *ledger.Ledger
	Uploader    storage.Uploader
	Transcriber transcribe.Transcriber
	Evaluator   evaluate.Evaluator
	Metrics     *observe.Metrics
	Events      *eventlog.Logger
	Notifier    *notify.AttemptNotifier
	Namespace   string // object path prefix for recordings
	Language    string // default transcription language hint
}

// Pipeline grades submissions.
type Pipeline struct {
	deps Deps
}

// New returns a Pipeline using d.
func New(d Deps) *Pipeline {
	if d.Evaluator.MaxLatency <= 0 {
		d.Evaluator = evaluate.New(0)
	}
	return &Pipeline{deps: d}
}

// Submit grades sub for sess. An id that is not a safe object name is
// rejected with storage.ErrInvalidID before anything is written. Errors
// after the record is pending are *StepError values and have already been
// written to the ledger.
func (p *Pipeline) Submit(ctx context.Context, sess Session, sub Submission) (*Outcome, error) {
	if sub.AttemptID == "" {
		sub.AttemptID = uuid.NewString()
	}
	id := sub.AttemptID
	if !storage.ValidID(id) {
		return nil, fmt.Errorf("attempt id %q: %w", id, storage.ErrInvalidID)
	}

	var existed bool
	err := p.timed(ctx, StepPending, func() error {
		var err error
		existed, err = p.deps.Ledger.EnsurePending(ctx, id, ledger.Pending{
			UserID:          sess.UserID,
			ItemID:          sub.ItemID,
			Category:        sub.Category,
			TargetText:      sub.TargetText,
			MeasurementType: sub.MeasurementType,
		})
		return err
	})
	if err != nil {
		slog.Error("failed to mark attempt pending", "attempt_id", id, "error", err)
		return nil, &StepError{Step: StepPending, Err: err}
	}

	slog.Info("attempt received", "attempt_id", id, "category", sub.Category, "retry", existed)
	p.logEvent(eventlog.AttemptReceived, id, "attempt received", &eventlog.AttemptDetails{
		Category: string(sub.Category),
		ItemID:   sub.ItemID,
		UserID:   sess.UserID,
		Retry:    existed,
	})

	contentType := storage.ContentType(sub.ContentType, sub.Audio)

	var audioURL string
	err = p.timed(ctx, StepUpload, func() error {
		path, err := storage.ObjectPath(p.deps.Namespace, id, storage.Extension(contentType))
		if err != nil {
			return err
		}
		audioURL, err = p.deps.Uploader.Upload(ctx, path, sub.Audio, contentType)
		return err
	})
	if err != nil {
		return nil, p.fail(ctx, sess, sub, StepUpload, fmt.Errorf("%w: %w", ErrUpload, err))
	}

	language := sub.Language
	if language == "" {
		language = p.deps.Language
	}
	var transcript string
	err = p.timed(ctx, StepTranscribe, func() error {
		var err error
		transcript, err = p.deps.Transcriber.Transcribe(ctx, sub.Audio, contentType, language)
		return err
	})
	if err != nil {
		return nil, p.fail(ctx, sess, sub, StepTranscribe, fmt.Errorf("%w: %w", ErrTranscription, err))
	}

	var result evaluate.Result
	_ = p.timed(ctx, StepEvaluate, func() error {
		result = p.deps.Evaluator.Evaluate(evaluate.Input{
			Category:        sub.Category,
			TargetText:      sub.TargetText,
			ExpectedPhrases: sub.ExpectedPhrases,
			Variations:      sub.Variations,
			Transcript:      transcript,
			LatencyMs:       sub.LatencyMs,
			MaxLatencyMs:    sub.MaxLatencyMs,
			Keyword:         sub.Keyword,
			DurationSec:     sub.DurationSec,
		})
		return nil
	})

	outcome := &Outcome{
		AttemptID:      id,
		Score:          result.Score,
		Feedback:       result.Feedback,
		Transcript:     transcript,
		AudioURL:       audioURL,
		LatencyMs:      sub.LatencyMs,
		SentenceCount:  result.SentenceCount,
		StructureScore: result.StructureScore,
		MatchedText:    result.MatchedText,
		Retry:          existed,
	}

	wctx := context.WithoutCancel(ctx)
	err = p.timed(wctx, StepFinalize, func() error {
		return p.deps.Ledger.Finalize(wctx, id, ledger.Outcome{
			Transcript:     transcript,
			Score:          result.Score,
			Feedback:       result.Feedback,
			MatchedText:    result.MatchedText,
			AudioURL:       audioURL,
			LatencyMs:      sub.LatencyMs,
			DurationSec:    sub.DurationSec,
			SentenceCount:  result.SentenceCount,
			StructureScore: result.StructureScore,
		})
	})
	if err != nil {
		slog.Error("failed to finalize attempt", "attempt_id", id, "error", err)
		return nil, &StepError{Step: StepFinalize, Err: err}
	}

	slog.Info("attempt finalized", "attempt_id", id, "score", result.Score)
	if p.deps.Metrics != nil {
		p.deps.Metrics.RecordAttempt(wctx, string(sub.Category), string(types.StatusFinalized), result.Score)
	}
	p.logEvent(eventlog.AttemptFinalized, id, result.Feedback, &eventlog.AttemptDetails{
		Category:  string(sub.Category),
		ItemID:    sub.ItemID,
		UserID:    sess.UserID,
		Score:     &outcome.Score,
		AudioURL:  audioURL,
		LatencyMs: sub.LatencyMs,
	})
	p.deps.Notifier.Finalized(notify.AttemptEvent{
		AttemptID: id,
		UserID:    sess.UserID,
		ItemID:    sub.ItemID,
		Category:  string(sub.Category),
		Score:     &outcome.Score,
		Feedback:  result.Feedback,
		AudioURL:  audioURL,
	})

	return outcome, nil
}

// fail records the failed step. The ledger write ignores cancellation of ctx
// so a disconnected client still leaves a failed record behind.
func (p *Pipeline) fail(ctx context.Context, sess Session, sub Submission, step string, cause error) error {
	id := sub.AttemptID
	stepErr := &StepError{Step: step, Err: cause}
	slog.Error("attempt step failed", "attempt_id", id, "step", step, "error", cause)

	wctx := context.WithoutCancel(ctx)
	if err := p.deps.Ledger.Fail(wctx, id, step, cause.Error()); err != nil {
		slog.Error("failed to record attempt failure", "attempt_id", id, "error", err)
		return errors.Join(stepErr, err)
	}

	if p.deps.Metrics != nil {
		p.deps.Metrics.RecordAttempt(wctx, string(sub.Category), string(types.StatusFailed), 0)
	}
	p.logEvent(eventlog.AttemptFailed, id, cause.Error(), &eventlog.AttemptDetails{
		Category: string(sub.Category),
		ItemID:   sub.ItemID,
		UserID:   sess.UserID,
		Step:     step,
		Error:    cause.Error(),
	})
	p.deps.Notifier.Failed(notify.AttemptEvent{
		AttemptID: id,
		UserID:    sess.UserID,
		ItemID:    sub.ItemID,
		Category:  string(sub.Category),
		Step:      step,
		Error:     cause.Error(),
	})
	return stepErr
}

func (p *Pipeline) timed(ctx context.Context, step string, fn func() error) error {
	start := time.Now()
	err := fn()
	if p.deps.Metrics != nil {
		p.deps.Metrics.RecordStep(ctx, step, time.Since(start))
	}
	return err
}

func (p *Pipeline) logEvent(t eventlog.EventType, id, msg string, details *eventlog.AttemptDetails) {
	if err := p.deps.Events.LogAttempt(t, id, msg, details); err != nil {
		slog.Warn("failed to write event log", "attempt_id", id, "error", err)
	}
}

// Get returns the stored record for id.
func (p *Pipeline) Get(ctx context.Context, id string) (*types.AttemptRecord, error) {
	return p.deps.Ledger.Get(ctx, id)
}
