package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oszuidwest/zwfm-speaktrainer/internal/types"
)

// PostgresSchema creates the attempts table.
const PostgresSchema = `
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
    latency_ms       BIGINT NOT NULL DEFAULT 0,
    duration_sec     DOUBLE PRECISION NOT NULL DEFAULT 0,
    sentence_count   INTEGER NOT NULL DEFAULT 0,
    structure_score  INTEGER NOT NULL DEFAULT 0,
    error_step       TEXT NOT NULL DEFAULT '',
    error_message    TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL,
    finalized_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_attempts_user_item ON attempts(user_id, item_id);
`

// DB is the database interface used by PostgresStore. Both *pgxpool.Pool
// and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db    DB
	close func()
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an existing connection or pool. The caller owns db.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db, close: func() {}}
}

// OpenPostgres connects a pool to dsn and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	s := &PostgresStore{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies PostgresSchema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByKey(ctx context.Context, id string) (*types.AttemptRecord, error) {
	query := "SELECT " + strings.Join(recordColumns, ", ") + " FROM attempts WHERE attempt_id = $1"

	var (
		rec                       types.AttemptRecord
		status, category, measure string
		score                     *int32
	)
	err := s.db.QueryRow(ctx, query, id).Scan(
		&rec.AttemptID, &status, &rec.UserID, &rec.ItemID, &category, &rec.TargetText,
		&measure, &rec.Transcript, &score, &rec.Feedback, &rec.MatchedText,
		&rec.AudioURL, &rec.LatencyMs, &rec.DurationSec, &rec.SentenceCount,
		&rec.StructureScore, &rec.ErrorStep, &rec.ErrorMessage, &rec.CreatedAt,
		&rec.UpdatedAt, &rec.FinalizedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query attempt: %w", err)
	}

	rec.Status = types.AttemptStatus(status)
	rec.Category = types.Category(category)
	rec.MeasurementType = types.MeasurementType(measure)
	if score != nil {
		rec.Score = types.Ptr(int(*score))
	}
	return &rec, nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec *types.AttemptRecord) error {
	placeholders := make([]string, len(recordColumns))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := "INSERT INTO attempts (" + strings.Join(recordColumns, ", ") + ") VALUES (" + strings.Join(placeholders, ", ") + ")"

	_, err := s.db.Exec(ctx, query,
		rec.AttemptID, string(rec.Status), rec.UserID, rec.ItemID, string(rec.Category), rec.TargetText,
		string(rec.MeasurementType), rec.Transcript, rec.Score, rec.Feedback, rec.MatchedText,
		rec.AudioURL, rec.LatencyMs, rec.DurationSec, rec.SentenceCount,
		rec.StructureScore, rec.ErrorStep, rec.ErrorMessage, rec.CreatedAt,
		rec.UpdatedAt, rec.FinalizedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateByKey(ctx context.Context, id string, patch *types.AttemptPatch) error {
	cols := patchColumns(patch)
	if len(cols) == 0 {
		_, err := s.FindByKey(ctx, id)
		return err
	}

	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", c.name, i+1))
		args = append(args, c.value)
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE attempts SET %s WHERE attempt_id = $%d", strings.Join(sets, ", "), len(args))

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.close()
	return nil
}

// isDuplicateKeyError reports a unique violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
