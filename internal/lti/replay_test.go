package lti

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryReplayConsumeOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryReplay(time.Minute)

	if err := m.Remember(ctx, "n1", "s1"); err != nil {
		t.Fatalf("remember: %v", err)
	}
	if err := m.ConsumeAndVerify(ctx, "n1", "s1"); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	// Second use of the same nonce must fail even with the right state.
	if err := m.ConsumeAndVerify(ctx, "n1", "s1"); !errors.Is(err, ErrReplayOrInvalidState) {
		t.Fatalf("replay not rejected, got %v", err)
	}
}

func TestMemoryReplayStateMismatchBurnsNonce(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryReplay(time.Minute)

	_ = m.Remember(ctx, "n1", "s1")
	if err := m.ConsumeAndVerify(ctx, "n1", "other"); !errors.Is(err, ErrReplayOrInvalidState) {
		t.Fatalf("state mismatch not rejected, got %v", err)
	}
	// The failed attempt consumed the nonce.
	if err := m.ConsumeAndVerify(ctx, "n1", "s1"); !errors.Is(err, ErrReplayOrInvalidState) {
		t.Fatalf("nonce survived a failed verification, got %v", err)
	}
}

func TestMemoryReplayUnknownNonce(t *testing.T) {
	m := NewMemoryReplay(time.Minute)
	if err := m.ConsumeAndVerify(context.Background(), "never-seen", "s"); !errors.Is(err, ErrReplayOrInvalidState) {
		t.Fatalf("unknown nonce not rejected, got %v", err)
	}
}

func TestMemoryReplayTTLExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryReplay(time.Minute)
	base := time.Now()
	m.now = func() time.Time { return base }

	_ = m.Remember(ctx, "n1", "s1")
	m.now = func() time.Time { return base.Add(2 * time.Minute) }
	if err := m.ConsumeAndVerify(ctx, "n1", "s1"); !errors.Is(err, ErrReplayOrInvalidState) {
		t.Fatalf("expired nonce not rejected, got %v", err)
	}
}
