package lti

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLReplay stores pending nonces in the lti_nonces table. Consumption is a
// single DELETE ... RETURNING, so two concurrent requests cannot both
// validate the same nonce: exactly one sees the row.
type SQLReplay struct {
	DB  *sql.DB
	TTL time.Duration
	now func() time.Time
}

func NewSQLReplay(db *sql.DB, ttl time.Duration) *SQLReplay {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &SQLReplay{DB: db, TTL: ttl, now: time.Now}
}

func (s *SQLReplay) Remember(ctx context.Context, nonce, state string) error {
	now := s.now()
	// Best-effort GC of stale nonces; failures here must not block a login.
	_, _ = s.DB.ExecContext(ctx, `DELETE FROM lti_nonces WHERE created_at < $1`,
		now.Add(-s.TTL).Unix())
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO lti_nonces (nonce, state, created_at) VALUES ($1,$2,$3)`,
		nonce, state, now.Unix())
	return err
}

func (s *SQLReplay) ConsumeAndVerify(ctx context.Context, nonce, expectedState string) error {
	var (
		state     string
		createdAt int64
	)
	err := s.DB.QueryRowContext(ctx,
		`DELETE FROM lti_nonces WHERE nonce=$1 RETURNING state, created_at`, nonce).
		Scan(&state, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrReplayOrInvalidState
	}
	if err != nil {
		return err
	}
	if state != expectedState || s.now().Unix()-createdAt > int64(s.TTL.Seconds()) {
		return ErrReplayOrInvalidState
	}
	return nil
}
