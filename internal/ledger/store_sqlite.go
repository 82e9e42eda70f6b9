package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/oszuidwest/zwfm-speaktrainer/internal/types"
)

// SQLiteSchema creates the attempts table. Timestamps are unix milliseconds.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS attempts (
    attempt_id       TEXT PRIMARY KEY,
    status           TEXT NOT NULL,
    user_id          TEXT NOT NULL DEFAULT '',
    item_id          TEXT NOT NULL DEFAULT '',
    category         TEXT NOT NULL DEFAULT '',
    target_text      TEXT NOT NULL DEFAULT '',
    measurement_type TEXT NOT NULL DEFAULT '',
    transcript       TEXT NOT NULL DEFAULT '',
    score            INTEGER,
    feedback         TEXT NOT NULL DEFAULT '',
    matched_text     TEXT NOT NULL DEFAULT '',
    audio_url        TEXT NOT NULL DEFAULT '',
    latency_ms       INTEGER NOT NULL DEFAULT 0,
    duration_sec     REAL NOT NULL DEFAULT 0,
    sentence_count   INTEGER NOT NULL DEFAULT 0,
    structure_score  INTEGER NOT NULL DEFAULT 0,
    error_step       TEXT NOT NULL DEFAULT '',
    error_message    TEXT NOT NULL DEFAULT '',
    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL,
    finalized_at     INTEGER
);
CREATE INDEX IF NOT EXISTS idx_attempts_user_item ON attempts(user_id, item_id);
`

// SQLiteStore is a Store backed by a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, SQLiteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) FindByKey(ctx context.Context, id string) (*types.AttemptRecord, error) {
	query := "SELECT " + strings.Join(recordColumns, ", ") + " FROM attempts WHERE attempt_id = ?"

	var (
		rec                       types.AttemptRecord
		status, category, measure string
		score, finalizedAt        sql.NullInt64
		createdAt, updatedAt      int64
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.AttemptID, &status, &rec.UserID, &rec.ItemID, &category, &rec.TargetText,
		&measure, &rec.Transcript, &score, &rec.Feedback, &rec.MatchedText,
		&rec.AudioURL, &rec.LatencyMs, &rec.DurationSec, &rec.SentenceCount,
		&rec.StructureScore, &rec.ErrorStep, &rec.ErrorMessage, &createdAt,
		&updatedAt, &finalizedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query attempt: %w", err)
	}

	rec.Status = types.AttemptStatus(status)
	rec.Category = types.Category(category)
	rec.MeasurementType = types.MeasurementType(measure)
	rec.CreatedAt = fromUnixMillis(createdAt)
	rec.UpdatedAt = fromUnixMillis(updatedAt)
	if score.Valid {
		rec.Score = types.Ptr(int(score.Int64))
	}
	if finalizedAt.Valid {
		rec.FinalizedAt = types.Ptr(fromUnixMillis(finalizedAt.Int64))
	}
	return &rec, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, rec *types.AttemptRecord) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(recordColumns)), ", ")
	query := "INSERT INTO attempts (" + strings.Join(recordColumns, ", ") + ") VALUES (" + placeholders + ")"

	var score, finalizedAt any
	if rec.Score != nil {
		score = *rec.Score
	}
	if rec.FinalizedAt != nil {
		finalizedAt = unixMillis(*rec.FinalizedAt)
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.AttemptID, string(rec.Status), rec.UserID, rec.ItemID, string(rec.Category), rec.TargetText,
		string(rec.MeasurementType), rec.Transcript, score, rec.Feedback, rec.MatchedText,
		rec.AudioURL, rec.LatencyMs, rec.DurationSec, rec.SentenceCount,
		rec.StructureScore, rec.ErrorStep, rec.ErrorMessage, unixMillis(rec.CreatedAt),
		unixMillis(rec.UpdatedAt), finalizedAt,
	)
	if err != nil {
		if isSQLiteConstraint(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateByKey(ctx context.Context, id string, patch *types.AttemptPatch) error {
	cols := patchColumns(patch)
	if len(cols) == 0 {
		_, err := s.FindByKey(ctx, id)
		return err
	}

	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for _, c := range cols {
		sets = append(sets, c.name+" = ?")
		if t, ok := c.value.(time.Time); ok {
			args = append(args, unixMillis(t))
			continue
		}
		args = append(args, c.value)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, "UPDATE attempts SET "+strings.Join(sets, ", ")+" WHERE attempt_id = ?", args...)
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isSQLiteConstraint(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
