package lti

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/learnspace/learnspace-lms/internal/db"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	conn, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSQLReplayConsumeOnce(t *testing.T) {
	ctx := context.Background()
	g := NewSQLReplay(newTestDB(t), time.Minute)

	if err := g.Remember(ctx, "n1", "s1"); err != nil {
		t.Fatalf("remember: %v", err)
	}
	if err := g.ConsumeAndVerify(ctx, "n1", "s1"); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if err := g.ConsumeAndVerify(ctx, "n1", "s1"); !errors.Is(err, ErrReplayOrInvalidState) {
		t.Fatalf("replay not rejected, got %v", err)
	}
}

func TestSQLReplayStateMismatch(t *testing.T) {
	ctx := context.Background()
	g := NewSQLReplay(newTestDB(t), time.Minute)

	_ = g.Remember(ctx, "n1", "s1")
	if err := g.ConsumeAndVerify(ctx, "n1", "wrong"); !errors.Is(err, ErrReplayOrInvalidState) {
		t.Fatalf("state mismatch not rejected, got %v", err)
	}
	if err := g.ConsumeAndVerify(ctx, "n1", "s1"); !errors.Is(err, ErrReplayOrInvalidState) {
		t.Fatalf("nonce survived failed verification, got %v", err)
	}
}

func TestSQLReplayExpiry(t *testing.T) {
	ctx := context.Background()
	g := NewSQLReplay(newTestDB(t), time.Minute)
	base := time.Now()
	g.now = func() time.Time { return base }

	_ = g.Remember(ctx, "n1", "s1")
	g.now = func() time.Time { return base.Add(2 * time.Minute) }
	if err := g.ConsumeAndVerify(ctx, "n1", "s1"); !errors.Is(err, ErrReplayOrInvalidState) {
		t.Fatalf("expired nonce not rejected, got %v", err)
	}
}
