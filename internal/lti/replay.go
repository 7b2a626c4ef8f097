package lti

import (
	"context"
	"sync"
	"time"
)

/*
Replay protection for OIDC login state/nonce pairs.

Remember stores a pending (nonce -> state) binding when the login redirect is
issued. ConsumeAndVerify is a single atomic operation: it deletes the nonce
unconditionally and reports whether the stored state matched. A nonce can
therefore be validated at most once — the second call always fails, even when
the first comparison succeeded.
*/

type ReplayGuard interface {
	Remember(ctx context.Context, nonce, state string) error
	// ConsumeAndVerify returns nil on a first-use match and
	// ErrReplayOrInvalidState for an unknown, already-consumed or
	// state-mismatched nonce. The nonce is gone either way.
	ConsumeAndVerify(ctx context.Context, nonce, expectedState string) error
}

// MemoryReplay is a process-local ReplayGuard (dev/tests). Entries older than
// TTL are purged opportunistically on writes.
type MemoryReplay struct {
	mu      sync.Mutex
	entries map[string]memEntry
	ttl     time.Duration
	now     func() time.Time
}

type memEntry struct {
	state string
	at    time.Time
}

func NewMemoryReplay(ttl time.Duration) *MemoryReplay {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MemoryReplay{entries: make(map[string]memEntry), ttl: ttl, now: time.Now}
}

func (m *MemoryReplay) Remember(_ context.Context, nonce, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, e := range m.entries {
		if now.Sub(e.at) > m.ttl {
			delete(m.entries, k)
		}
	}
	m.entries[nonce] = memEntry{state: state, at: now}
	return nil
}

func (m *MemoryReplay) ConsumeAndVerify(_ context.Context, nonce, expectedState string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[nonce]
	delete(m.entries, nonce) // gone regardless of the comparison outcome
	if !ok || m.now().Sub(e.at) > m.ttl || e.state != expectedState {
		return ErrReplayOrInvalidState
	}
	return nil
}
