package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/oszuidwest/zwfm-speaktrainer/internal/types"
)

type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.NewCommandTag("OK"), nil
}

func TestPostgresStore_Migrate(t *testing.T) {
	var gotSQL string
	db := &mockDB{execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
		gotSQL = sql
		return pgconn.NewCommandTag("CREATE TABLE"), nil
	}}
	if err := NewPostgresStore(db).Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !strings.Contains(gotSQL, "CREATE TABLE IF NOT EXISTS attempts") {
		t.Errorf("Migrate() SQL = %q", gotSQL)
	}
}

func TestPostgresStore_FindByKey(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		_, err := NewPostgresStore(&mockDB{}).FindByKey(context.Background(), "nope")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("FindByKey() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("found", func(t *testing.T) {
		now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
		db := &mockDB{queryRowFunc: func(_ context.Context, sql string, args ...any) pgx.Row {
			if !strings.Contains(sql, "WHERE attempt_id = $1") || args[0] != "P1" {
				t.Errorf("unexpected query %q %v", sql, args)
			}
			return &mockRow{scanFunc: func(dest ...any) error {
				*dest[0].(*string) = "P1"
				*dest[1].(*string) = "finalized"
				*dest[4].(*string) = "on_pitch"
				score := int32(70)
				*dest[8].(**int32) = &score
				*dest[12].(*int64) = 2100
				*dest[18].(*time.Time) = now
				*dest[19].(*time.Time) = now
				*dest[20].(**time.Time) = &now
				return nil
			}}
		}}

		rec, err := NewPostgresStore(db).FindByKey(context.Background(), "P1")
		if err != nil {
			t.Fatalf("FindByKey() error = %v", err)
		}
		if rec.Status != types.StatusFinalized || rec.Category != types.CategoryOnPitch {
			t.Errorf("record = %+v", rec)
		}
		if rec.Score == nil || *rec.Score != 70 || rec.LatencyMs != 2100 || rec.FinalizedAt == nil {
			t.Errorf("record = %+v", rec)
		}
	})

	t.Run("db error", func(t *testing.T) {
		db := &mockDB{queryRowFunc: func(context.Context, string, ...any) pgx.Row {
			return &mockRow{scanFunc: func(...any) error { return errors.New("connection lost") }}
		}}
		_, err := NewPostgresStore(db).FindByKey(context.Background(), "P1")
		if err == nil || errors.Is(err, ErrNotFound) {
			t.Errorf("FindByKey() error = %v, want a store error", err)
		}
	})
}

func TestPostgresStore_Insert(t *testing.T) {
	rec := &types.AttemptRecord{AttemptID: "P2", Status: types.StatusPending, CreatedAt: time.Now(), UpdatedAt: time.Now()}

	t.Run("success", func(t *testing.T) {
		var gotArgs []any
		db := &mockDB{execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			if !strings.HasPrefix(sql, "INSERT INTO attempts") || !strings.Contains(sql, "$21") {
				t.Errorf("unexpected SQL %q", sql)
			}
			gotArgs = args
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		}}
		if err := NewPostgresStore(db).Insert(context.Background(), rec); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
		if len(gotArgs) != len(recordColumns) || gotArgs[0] != "P2" || gotArgs[1] != "pending" {
			t.Errorf("args = %v", gotArgs)
		}
	})

	t.Run("duplicate key", func(t *testing.T) {
		db := &mockDB{execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"}
		}}
		if err := NewPostgresStore(db).Insert(context.Background(), rec); !errors.Is(err, ErrDuplicate) {
			t.Errorf("Insert() error = %v, want ErrDuplicate", err)
		}
	})
}

func TestPostgresStore_UpdateByKey(t *testing.T) {
	patch := &types.AttemptPatch{Status: types.Ptr(types.StatusFailed), ErrorMessage: types.Ptr("boom")}

	t.Run("updated", func(t *testing.T) {
		db := &mockDB{execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			want := "UPDATE attempts SET status = $1, error_message = $2 WHERE attempt_id = $3"
			if sql != want {
				t.Errorf("SQL = %q, want %q", sql, want)
			}
			if len(args) != 3 || args[0] != "failed" || args[1] != "boom" || args[2] != "P3" {
				t.Errorf("args = %v", args)
			}
			return pgconn.NewCommandTag("UPDATE 1"), nil
		}}
		if err := NewPostgresStore(db).UpdateByKey(context.Background(), "P3", patch); err != nil {
			t.Fatalf("UpdateByKey() error = %v", err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		db := &mockDB{execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		}}
		if err := NewPostgresStore(db).UpdateByKey(context.Background(), "P3", patch); !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateByKey() error = %v, want ErrNotFound", err)
		}
	})
}
