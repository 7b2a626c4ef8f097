package lti

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLRegistry implements CredentialStore and LaunchContextStore plus the
// mutating operations the admin API needs. It works against both the sqlite
// and postgres schemas from internal/db.
type SQLRegistry struct {
	DB *sql.DB
}

func NewSQLRegistry(db *sql.DB) *SQLRegistry { return &SQLRegistry{DB: db} }

/* ------------------------------ Platforms --------------------------------- */

func (s *SQLRegistry) PlatformByIssuer(ctx context.Context, issuer, clientID string) (Platform, error) {
	var (
		p   Platform
		err error
	)
	if clientID != "" {
		err = s.DB.QueryRowContext(ctx, `
			SELECT id, issuer, client_id, auth_login_url, auth_token_url, keyset_url, deployment_id
			FROM lti_platforms WHERE issuer=$1 AND client_id=$2`, issuer, clientID).
			Scan(&p.ID, &p.Issuer, &p.ClientID, &p.AuthLoginURL, &p.AuthTokenURL, &p.KeySetURL, &p.DeploymentID)
	} else {
		err = s.DB.QueryRowContext(ctx, `
			SELECT id, issuer, client_id, auth_login_url, auth_token_url, keyset_url, deployment_id
			FROM lti_platforms WHERE issuer=$1`, issuer).
			Scan(&p.ID, &p.Issuer, &p.ClientID, &p.AuthLoginURL, &p.AuthTokenURL, &p.KeySetURL, &p.DeploymentID)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return Platform{}, ErrRegistrationNotFound
	}
	return p, err
}

func (s *SQLRegistry) CreatePlatform(ctx context.Context, p Platform) (Platform, error) {
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO lti_platforms (issuer, client_id, auth_login_url, auth_token_url, keyset_url, deployment_id)
		VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		p.Issuer, p.ClientID, p.AuthLoginURL, p.AuthTokenURL, p.KeySetURL, p.DeploymentID).Scan(&p.ID)
	return p, err
}

func (s *SQLRegistry) UpdatePlatform(ctx context.Context, p Platform) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE lti_platforms SET issuer=$1, client_id=$2, auth_login_url=$3,
		  auth_token_url=$4, keyset_url=$5, deployment_id=$6 WHERE id=$7`,
		p.Issuer, p.ClientID, p.AuthLoginURL, p.AuthTokenURL, p.KeySetURL, p.DeploymentID, p.ID)
	return oneRow(res, err)
}

func (s *SQLRegistry) DeletePlatform(ctx context.Context, id int64) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM lti_platforms WHERE id=$1`, id)
	return oneRow(res, err)
}

func (s *SQLRegistry) ListPlatforms(ctx context.Context) ([]Platform, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, issuer, client_id, auth_login_url, auth_token_url, keyset_url, deployment_id
		FROM lti_platforms ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Platform{}
	for rows.Next() {
		var p Platform
		if err := rows.Scan(&p.ID, &p.Issuer, &p.ClientID, &p.AuthLoginURL, &p.AuthTokenURL, &p.KeySetURL, &p.DeploymentID); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

/* -------------------------------- Tools ----------------------------------- */

func (s *SQLRegistry) ToolByID(ctx context.Context, id int64) (Tool, error) {
	var t Tool
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, name, target_url, version, client_id, login_url, consumer_key, shared_secret
		FROM lti_tools WHERE id=$1`, id).
		Scan(&t.ID, &t.Name, &t.TargetURL, &t.Version, &t.ClientID, &t.LoginURL, &t.ConsumerKey, &t.SharedSecret)
	if errors.Is(err, sql.ErrNoRows) {
		return Tool{}, ErrRegistrationNotFound
	}
	return t, err
}

func (s *SQLRegistry) ToolByClientID(ctx context.Context, clientID string) (Tool, error) {
	var t Tool
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, name, target_url, version, client_id, login_url, consumer_key, shared_secret
		FROM lti_tools WHERE client_id=$1`, clientID).
		Scan(&t.ID, &t.Name, &t.TargetURL, &t.Version, &t.ClientID, &t.LoginURL, &t.ConsumerKey, &t.SharedSecret)
	if errors.Is(err, sql.ErrNoRows) {
		return Tool{}, ErrRegistrationNotFound
	}
	return t, err
}

func (s *SQLRegistry) CreateTool(ctx context.Context, t Tool) (Tool, error) {
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO lti_tools (name, target_url, version, client_id, login_url, consumer_key, shared_secret)
		VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		t.Name, t.TargetURL, t.Version, t.ClientID, t.LoginURL, t.ConsumerKey, t.SharedSecret).Scan(&t.ID)
	return t, err
}

func (s *SQLRegistry) UpdateTool(ctx context.Context, t Tool) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE lti_tools SET name=$1, target_url=$2, version=$3, client_id=$4,
		  login_url=$5, consumer_key=$6, shared_secret=$7 WHERE id=$8`,
		t.Name, t.TargetURL, t.Version, t.ClientID, t.LoginURL, t.ConsumerKey, t.SharedSecret, t.ID)
	return oneRow(res, err)
}

func (s *SQLRegistry) DeleteTool(ctx context.Context, id int64) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM lti_tools WHERE id=$1`, id)
	return oneRow(res, err)
}

func (s *SQLRegistry) ListTools(ctx context.Context) ([]Tool, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, name, target_url, version, client_id, login_url, consumer_key, shared_secret
		FROM lti_tools ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Tool{}
	for rows.Next() {
		var t Tool
		if err := rows.Scan(&t.ID, &t.Name, &t.TargetURL, &t.Version, &t.ClientID, &t.LoginURL, &t.ConsumerKey, &t.SharedSecret); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

/* ------------------------------ Consumers --------------------------------- */

func (s *SQLRegistry) ConsumerByKey(ctx context.Context, key string) (Consumer, error) {
	var c Consumer
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, name, consumer_key, shared_secret, enabled
		FROM lti_consumers WHERE consumer_key=$1`, key).
		Scan(&c.ID, &c.Name, &c.Key, &c.Secret, &c.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return Consumer{}, ErrRegistrationNotFound
	}
	if err != nil {
		return Consumer{}, err
	}
	if !c.Enabled {
		return Consumer{}, ErrRegistrationNotFound
	}
	return c, nil
}

func (s *SQLRegistry) CreateConsumer(ctx context.Context, c Consumer) (Consumer, error) {
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO lti_consumers (name, consumer_key, shared_secret, enabled)
		VALUES ($1,$2,$3,$4) RETURNING id`,
		c.Name, c.Key, c.Secret, c.Enabled).Scan(&c.ID)
	return c, err
}

func (s *SQLRegistry) UpdateConsumer(ctx context.Context, c Consumer) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE lti_consumers SET name=$1, consumer_key=$2, shared_secret=$3, enabled=$4 WHERE id=$5`,
		c.Name, c.Key, c.Secret, c.Enabled, c.ID)
	return oneRow(res, err)
}

func (s *SQLRegistry) DeleteConsumer(ctx context.Context, id int64) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM lti_consumers WHERE id=$1`, id)
	return oneRow(res, err)
}

func (s *SQLRegistry) ListConsumers(ctx context.Context) ([]Consumer, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, name, consumer_key, shared_secret, enabled FROM lti_consumers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Consumer{}
	for rows.Next() {
		var c Consumer
		if err := rows.Scan(&c.ID, &c.Name, &c.Key, &c.Secret, &c.Enabled); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

/* --------------------------- Launch contexts ------------------------------ */

// Upsert is atomic per (user, course); a rapid re-launch cannot interleave a
// lost update because the conflict target resolves inside one statement.
func (s *SQLRegistry) Upsert(ctx context.Context, lc LaunchContext) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO lti_launch_contexts
		  (user_id, course_id, consumer_key, outcome_url, result_sourcedid, shared_secret, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (user_id, course_id) DO UPDATE SET
		  consumer_key=EXCLUDED.consumer_key,
		  outcome_url=EXCLUDED.outcome_url,
		  result_sourcedid=EXCLUDED.result_sourcedid,
		  shared_secret=EXCLUDED.shared_secret,
		  updated_at=EXCLUDED.updated_at`,
		lc.UserID, lc.CourseID, lc.ConsumerKey, lc.OutcomeURL, lc.ResultSourcedID, lc.SharedSecret,
		time.Now().Unix())
	return err
}

func (s *SQLRegistry) Get(ctx context.Context, userID string, courseID int64) (LaunchContext, bool, error) {
	var lc LaunchContext
	err := s.DB.QueryRowContext(ctx, `
		SELECT user_id, course_id, consumer_key, outcome_url, result_sourcedid, shared_secret
		FROM lti_launch_contexts WHERE user_id=$1 AND course_id=$2`, userID, courseID).
		Scan(&lc.UserID, &lc.CourseID, &lc.ConsumerKey, &lc.OutcomeURL, &lc.ResultSourcedID, &lc.SharedSecret)
	if errors.Is(err, sql.ErrNoRows) {
		return LaunchContext{}, false, nil
	}
	if err != nil {
		return LaunchContext{}, false, err
	}
	return lc, true, nil
}

func oneRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRegistrationNotFound
	}
	return nil
}
