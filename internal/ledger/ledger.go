// Package ledger implements the idempotent attempt persistence state machine.
//
// An attempt record is created as pending on first contact and moves to
// finalized or failed exactly once per submission. The attempt id is the
// idempotency key: repeating EnsurePending for the same id never creates a
// second record. Concurrent writes for the same id are not serialized; the
// last write wins.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oszuidwest/zwfm-speaktrainer/internal/types"
)

// ErrStoreUnavailable wraps any store failure other than ErrNotFound.
var ErrStoreUnavailable = errors.New("attempt store unavailable")

// Pending holds the minimal fields written when an attempt is first seen.
type Pending struct {
	UserID          string
	ItemID          string
	Category        types.Category
	TargetText      string
	MeasurementType types.MeasurementType
}

// Outcome holds the fields written when an attempt is graded.
type Outcome struct {
	Transcript     string
	Score          int
	Feedback       string
	MatchedText    string
	AudioURL       string
	LatencyMs      int64
	DurationSec    float64
	SentenceCount  *int
	StructureScore *int
}

// Ledger drives attempt records through pending → finalized | failed.
type Ledger struct {
	store Store
	now   func() time.Time
}

// New returns a Ledger over store.
func New(store Store) *Ledger {
	return &Ledger{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// EnsurePending marks the attempt pending, creating it with p if it does not
// exist. It reports whether a record already existed. Only status and
// updated_at are touched on an existing record.
func (l *Ledger) EnsurePending(ctx context.Context, id string, p Pending) (existed bool, err error) {
	now := l.now()
	err = l.store.UpdateByKey(ctx, id, &types.AttemptPatch{
		Status:    types.Ptr(types.StatusPending),
		UpdatedAt: &now,
	})
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, storeError("mark pending", err)
	}

	rec := &types.AttemptRecord{
		AttemptID:       id,
		Status:          types.StatusPending,
		UserID:          p.UserID,
		ItemID:          p.ItemID,
		Category:        p.Category,
		TargetText:      p.TargetText,
		MeasurementType: p.MeasurementType,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	switch err := l.store.Insert(ctx, rec); {
	case err == nil:
		return false, nil
	case errors.Is(err, ErrDuplicate):
		// Created concurrently between the update and the insert.
		return true, nil
	default:
		return false, storeError("create pending", err)
	}
}

// Finalize records a graded outcome and clears any earlier failure.
func (l *Ledger) Finalize(ctx context.Context, id string, o Outcome) error {
	now := l.now()
	patch := &types.AttemptPatch{
		Status:         types.Ptr(types.StatusFinalized),
		Transcript:     &o.Transcript,
		Score:          &o.Score,
		Feedback:       &o.Feedback,
		MatchedText:    &o.MatchedText,
		AudioURL:       &o.AudioURL,
		LatencyMs:      &o.LatencyMs,
		DurationSec:    &o.DurationSec,
		SentenceCount:  o.SentenceCount,
		StructureScore: o.StructureScore,
		ErrorStep:      types.Ptr(""),
		ErrorMessage:   types.Ptr(""),
		UpdatedAt:      &now,
		FinalizedAt:    &now,
	}
	return l.update(ctx, id, "finalize", patch)
}

// Fail records that step failed with msg.
func (l *Ledger) Fail(ctx context.Context, id, step, msg string) error {
	now := l.now()
	patch := &types.AttemptPatch{
		Status:       types.Ptr(types.StatusFailed),
		ErrorStep:    &step,
		ErrorMessage: &msg,
		UpdatedAt:    &now,
		FinalizedAt:  &now,
	}
	return l.update(ctx, id, "fail", patch)
}

// Get returns the record for id.
func (l *Ledger) Get(ctx context.Context, id string) (*types.AttemptRecord, error) {
	rec, err := l.store.FindByKey(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("attempt %s: %w", id, ErrNotFound)
		}
		return nil, storeError("get", err)
	}
	return rec, nil
}

// Close closes the underlying store.
func (l *Ledger) Close() error {
	return l.store.Close()
}

func (l *Ledger) update(ctx context.Context, id, op string, patch *types.AttemptPatch) error {
	err := l.store.UpdateByKey(ctx, id, patch)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return fmt.Errorf("%s attempt %s: %w", op, id, ErrNotFound)
	default:
		return storeError(op, err)
	}
}

func storeError(op string, err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
