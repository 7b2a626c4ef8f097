package lti

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

/*
Launch validation state machine.

A launch moves Received -> IdentityResolved -> ContextExtracted -> Verified,
or terminates Rejected with one of the sentinel reasons from errors.go. Both
protocol generations funnel through one entry point:

    id, err := v.ValidateLaunch(ctx, LTI13Launch{...})
    id, err := v.ValidateLaunch(ctx, LTI11Launch{...})

so handlers never branch on a version string.
*/

// Identity is the verified outcome of a launch: who arrived, with which role,
// and — when the platform supplied one — which of our courses they want.
type Identity struct {
	Sub      string
	Email    string
	Name     string
	Role     string
	Roles    []string
	CourseID int64 // 0 = none supplied

	// 1.1 only: captured so the caller can persist a LaunchContext for
	// asynchronous grade passback.
	ConsumerKey     string
	OutcomeURL      string
	ResultSourcedID string
	ConsumerSecret  string
}

// LaunchRequest is the closed variant over the two protocol generations.
type LaunchRequest interface{ isLaunch() }

// LTI13Launch carries the platform's signed id_token and the echoed state.
type LTI13Launch struct {
	IDToken string
	State   string
}

// LTI11Launch carries the raw OAuth1 form post.
type LTI11Launch struct {
	Method string
	URL    string
	Params map[string]string
}

func (LTI13Launch) isLaunch() {}
func (LTI11Launch) isLaunch() {}

// LoginParams is the OIDC third-party login initiation (merged query+body).
type LoginParams struct {
	Issuer        string
	LoginHint     string
	TargetLinkURI string
	ClientID      string
	MessageHint   string
}

type Validator struct {
	Store  CredentialStore
	Replay ReplayGuard
	Keys   *RemoteKeySet

	// RedirectURI is where platforms POST the id_token back (our launch URL).
	RedirectURI string
}

// BeginLogin resolves the platform registration for an OIDC login initiation
// and returns the auth redirect URL. state and nonce are generated here and
// remembered in the Replay Guard; no launch is validated yet.
func (v *Validator) BeginLogin(ctx context.Context, p LoginParams) (string, error) {
	if strings.TrimSpace(p.Issuer) == "" {
		return "", ErrRegistrationNotFound
	}
	reg, err := v.Store.PlatformByIssuer(ctx, p.Issuer, p.ClientID)
	if err != nil {
		return "", err
	}

	state := randHex(16)
	nonce := randHex(16)
	if err := v.Replay.Remember(ctx, nonce, state); err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("response_type", "id_token")
	q.Set("response_mode", "form_post")
	q.Set("scope", "openid")
	q.Set("prompt", "none")
	q.Set("client_id", reg.ClientID)
	q.Set("redirect_uri", v.RedirectURI)
	q.Set("state", state)
	q.Set("nonce", nonce)
	if p.LoginHint != "" {
		q.Set("login_hint", p.LoginHint)
	}
	if p.MessageHint != "" {
		q.Set("lti_message_hint", p.MessageHint)
	}
	sep := "?"
	if strings.Contains(reg.AuthLoginURL, "?") {
		sep = "&"
	}
	return reg.AuthLoginURL + sep + q.Encode(), nil
}

// ValidateLaunch runs the protocol-appropriate checks and either returns a
// Verified identity or fails closed.
func (v *Validator) ValidateLaunch(ctx context.Context, req LaunchRequest) (Identity, error) {
	switch r := req.(type) {
	case LTI13Launch:
		return v.validate13(ctx, r)
	case LTI11Launch:
		return v.validate11(ctx, r)
	default:
		return Identity{}, fmt.Errorf("lti: unknown launch request %T", req)
	}
}

/* ------------------------------- LTI 1.3 ---------------------------------- */

const (
	claimRoles  = "https://purl.imsglobal.org/spec/lti/claim/roles"
	claimCustom = "https://purl.imsglobal.org/spec/lti/claim/custom"
)

func (v *Validator) validate13(ctx context.Context, r LTI13Launch) (Identity, error) {
	if r.IDToken == "" || r.State == "" {
		return Identity{}, ErrReplayOrInvalidState
	}

	// Peek iss/kid without trusting anything yet; the registration tells us
	// where the verification keys live.
	unverified, _, err := jwt.NewParser().ParseUnverified(r.IDToken, jwt.MapClaims{})
	if err != nil {
		return Identity{}, ErrSignatureInvalid
	}
	iss, _ := unverified.Claims.GetIssuer()
	if iss == "" {
		return Identity{}, ErrSignatureInvalid
	}
	reg, err := v.Store.PlatformByIssuer(ctx, iss, "")
	if err != nil {
		return Identity{}, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(reg.Issuer),
		jwt.WithAudience(reg.ClientID),
		jwt.WithExpirationRequired(),
	)
	token, err := parser.Parse(r.IDToken, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		keys, err := v.Keys.KeysFor(ctx, reg.KeySetURL, kid)
		if err != nil {
			return nil, err
		}
		// golang-jwt takes one key; with no kid we try the first. Platforms
		// that rotate keys always send kid.
		return keys[0], nil
	})
	if err != nil || !token.Valid {
		log.Printf("lti: id_token verification failed issuer=%s: %v", iss, err)
		return Identity{}, ErrSignatureInvalid
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrSignatureInvalid
	}

	// Nonce consumption is atomic and unconditional: pass or fail, this
	// id_token can never validate again.
	nonce, _ := claims["nonce"].(string)
	if nonce == "" {
		return Identity{}, ErrReplayOrInvalidState
	}
	if err := v.Replay.ConsumeAndVerify(ctx, nonce, r.State); err != nil {
		log.Printf("lti: replay check failed issuer=%s nonce=%s", iss, nonce)
		return Identity{}, err
	}

	id := Identity{
		Sub:   str(claims["sub"]),
		Email: str(claims["email"]),
		Name:  str(claims["name"]),
	}
	if id.Name == "" {
		id.Name = strings.TrimSpace(str(claims["given_name"]) + " " + str(claims["family_name"]))
	}
	if roles, ok := claims[claimRoles].([]any); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				id.Roles = append(id.Roles, s)
			}
		}
	}
	id.Role = roleFromIMS(id.Roles)
	if custom, ok := claims[claimCustom].(map[string]any); ok {
		if cid := str(custom["course_id"]); cid != "" {
			id.CourseID, _ = strconv.ParseInt(cid, 10, 64)
		}
	}
	return id, nil
}

/* ------------------------------- LTI 1.1 ---------------------------------- */

func (v *Validator) validate11(ctx context.Context, r LTI11Launch) (Identity, error) {
	key := r.Params["oauth_consumer_key"]
	sig := r.Params["oauth_signature"]
	if key == "" || sig == "" {
		return Identity{}, ErrMissingOAuthParams
	}
	consumer, err := v.Store.ConsumerByKey(ctx, key)
	if err != nil {
		return Identity{}, err
	}
	if !Verify(r.Method, r.URL, r.Params, consumer.Secret) {
		log.Printf("lti: oauth1 signature mismatch consumer=%s", key)
		return Identity{}, ErrSignatureInvalid
	}

	id := Identity{
		Sub:             r.Params["user_id"],
		Email:           r.Params["lis_person_contact_email_primary"],
		Name:            r.Params["lis_person_name_full"],
		ConsumerKey:     consumer.Key,
		OutcomeURL:      r.Params["lis_outcome_service_url"],
		ResultSourcedID: r.Params["lis_result_sourcedid"],
		ConsumerSecret:  consumer.Secret,
	}
	if id.Name == "" {
		id.Name = strings.TrimSpace(r.Params["lis_person_name_given"] + " " + r.Params["lis_person_name_family"])
	}
	if roles := r.Params["roles"]; roles != "" {
		id.Roles = strings.Split(roles, ",")
	}
	id.Role = roleFromIMS(id.Roles)
	if cid := r.Params["custom_course_id"]; cid != "" {
		id.CourseID, _ = strconv.ParseInt(cid, 10, 64)
	}
	return id, nil
}

func roleFromIMS(roles []string) string {
	for _, r := range roles {
		lr := strings.ToLower(r)
		if strings.Contains(lr, "instructor") || strings.Contains(lr, "administrator") {
			return "teacher"
		}
	}
	return "student"
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
