package lti

import "context"

/*
Credential registry for the three kinds of LTI peers this system knows:

  - Platform:  an external LTI 1.3 platform we accept OIDC launches from
               (this system acting as Tool).
  - Tool:      an external tool this system launches (this system acting as
               Platform for 1.3 or Consumer for 1.1).
  - Consumer:  an external LTI 1.1 platform launching us with OAuth1
               (this system acting as Provider).

All lookups are read-only. Absence is reported as ErrRegistrationNotFound;
there is no fallback record.
*/

type Platform struct {
	ID           int64  `json:"id"`
	Issuer       string `json:"issuer"`
	ClientID     string `json:"client_id"`
	AuthLoginURL string `json:"auth_login_url"`
	AuthTokenURL string `json:"auth_token_url"`
	KeySetURL    string `json:"keyset_url"`
	DeploymentID string `json:"deployment_id,omitempty"`
}

type Tool struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	TargetURL string `json:"target_url"`
	Version   string `json:"version"` // "1.1" or "1.3"

	// 1.3 credentials
	ClientID string `json:"client_id,omitempty"`
	LoginURL string `json:"login_url,omitempty"`

	// 1.1 credentials
	ConsumerKey  string `json:"consumer_key,omitempty"`
	SharedSecret string `json:"shared_secret,omitempty"`
}

type Consumer struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Key     string `json:"consumer_key"`
	Secret  string `json:"shared_secret"`
	Enabled bool   `json:"enabled"`
}

// CredentialStore is what the launch/outcome flows need at runtime.
type CredentialStore interface {
	// PlatformByIssuer returns the registration for issuer; when clientID is
	// non-empty it must match as well.
	PlatformByIssuer(ctx context.Context, issuer, clientID string) (Platform, error)
	ToolByID(ctx context.Context, id int64) (Tool, error)
	// ConsumerByKey only returns enabled consumers.
	ConsumerByKey(ctx context.Context, key string) (Consumer, error)
}

// LaunchContext binds a launched (user, course) pair to the 1.1 outcome
// callback target that was in effect at launch time. One row per pair; a
// re-launch overwrites it, so only the most recent callback target is honored.
type LaunchContext struct {
	UserID          string
	CourseID        int64
	ConsumerKey     string
	OutcomeURL      string
	ResultSourcedID string
	SharedSecret    string
}

type LaunchContextStore interface {
	Upsert(ctx context.Context, lc LaunchContext) error
	Get(ctx context.Context, userID string, courseID int64) (LaunchContext, bool, error)
}
