package lti

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"
)

/*
Outcome dispatch, both directions.

Inbound: external tools report grades back. LTI 1.1 tools POST an IMS POX
replaceResult envelope whose sourcedId we minted at launch; decoding it tells
us the tenant, learner and course, and the completion cascade runs against
that tenant's database. LTI 1.3 tools POST an AGS score JSON; we normalize
and acknowledge but do not mutate completion state on that path.

Outbound: when a learner finishes a course that was launched from an
upstream consumer over 1.1, the stored launch context gives us the outcome
URL, sourcedid and shared secret to push the grade back with a signed POX
request.

Remote callers only ever see success/failure; the reasons stay in the log.
*/

// CompletionStore is what an outcome needs from the application layer: an
// idempotent "this learner finished this course with this score".
type CompletionStore interface {
	CompleteCourse(ctx context.Context, userID string, courseID int64, score float64) error
}

// TenantResolver maps the tenant segment of a sourced id to that tenant's
// completion store. Implementations decide what routing means.
type TenantResolver interface {
	CompletionsFor(ctx context.Context, tenant string) (CompletionStore, error)
}

// StaticTenants resolves every known tenant from a map, with an optional
// default for single-tenant deployments.
type StaticTenants struct {
	Default CompletionStore
	ByName  map[string]CompletionStore
}

func (s StaticTenants) CompletionsFor(_ context.Context, tenant string) (CompletionStore, error) {
	if cs, ok := s.ByName[tenant]; ok {
		return cs, nil
	}
	if s.Default != nil {
		return s.Default, nil
	}
	return nil, fmt.Errorf("lti: unknown tenant %q", tenant)
}

type Dispatcher struct {
	Tenants  TenantResolver
	Contexts LaunchContextStore
	Client   *http.Client
}

func (d *Dispatcher) httpClient() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

/* ------------------------------ inbound 1.1 -------------------------------- */

// ProcessOutcome handles one inbound POX envelope. The returned body is
// always a well-formed POX response; status is 200 for anything we could
// parse as an envelope and 400 otherwise.
func (d *Dispatcher) ProcessOutcome(ctx context.Context, body []byte) (response []byte, status int) {
	req, err := parsePOXRequest(body)
	if err != nil {
		log.Printf("lti: outcome parse failed: %v", err)
		return poxResponse("failure", "malformed request", "", "replaceResult"), http.StatusBadRequest
	}
	msgRef := req.Header.Info.MessageIdentifier

	if req.Body.ReplaceResult == nil {
		// readResult/deleteResult are acknowledged but unsupported.
		return poxResponse("failure", "unsupported operation", msgRef, "replaceResult"), http.StatusOK
	}

	sid, err := DecodeSourcedID(req.Body.ReplaceResult.Record.SourcedGUID.SourcedID)
	if err != nil {
		log.Printf("lti: outcome sourcedid rejected: %v", err)
		return poxResponse("failure", "invalid sourcedId", msgRef, "replaceResult"), http.StatusOK
	}
	score, err := req.score()
	if err != nil {
		log.Printf("lti: outcome score rejected tenant=%s user=%s course=%d: %v",
			sid.Tenant, sid.UserID, sid.CourseID, err)
		return poxResponse("failure", "invalid resultScore", msgRef, "replaceResult"), http.StatusOK
	}

	store, err := d.Tenants.CompletionsFor(ctx, sid.Tenant)
	if err != nil {
		log.Printf("lti: outcome tenant resolve failed tenant=%s: %v", sid.Tenant, err)
		return poxResponse("failure", "processing error", msgRef, "replaceResult"), http.StatusOK
	}
	if err := store.CompleteCourse(ctx, sid.UserID, sid.CourseID, score); err != nil {
		log.Printf("lti: outcome completion failed tenant=%s user=%s course=%d: %v",
			sid.Tenant, sid.UserID, sid.CourseID, err)
		return poxResponse("failure", "processing error", msgRef, "replaceResult"), http.StatusOK
	}

	log.Printf("lti: outcome recorded tenant=%s user=%s course=%d score=%.4f",
		sid.Tenant, sid.UserID, sid.CourseID, score)
	return poxResponse("success", "score recorded", msgRef, "replaceResult"), http.StatusOK
}

/* ------------------------------ inbound 1.3 -------------------------------- */

// agsScore is the subset of an AGS score publication we look at.
type agsScore struct {
	UserID           string  `json:"userId"`
	ScoreGiven       float64 `json:"scoreGiven"`
	ScoreMaximum     float64 `json:"scoreMaximum"`
	ActivityProgress string  `json:"activityProgress"`
	GradingProgress  string  `json:"gradingProgress"`
	Timestamp        string  `json:"timestamp"`
}

// ProcessAGSScore normalizes an inbound AGS score and logs it. Completion
// state is intentionally untouched here; 1.1 POX is the write path.
func (d *Dispatcher) ProcessAGSScore(_ context.Context, body []byte) (normalized float64, err error) {
	var s agsScore
	if err := json.Unmarshal(body, &s); err != nil {
		return 0, fmt.Errorf("lti: bad AGS score payload: %w", err)
	}
	if s.ScoreMaximum <= 0 {
		return 0, fmt.Errorf("lti: AGS scoreMaximum must be positive")
	}
	normalized = s.ScoreGiven / s.ScoreMaximum
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}
	log.Printf("lti: ags score received user=%s given=%.4f max=%.4f normalized=%.4f progress=%s",
		s.UserID, s.ScoreGiven, s.ScoreMaximum, normalized, s.GradingProgress)
	return normalized, nil
}

/* -------------------------------- outbound --------------------------------- */

// PushGrade reports a learner's score for a course back to the consumer that
// launched them, using the persisted launch context. The result is a plain
// boolean: callers surface nothing about upstream failures to end users, and
// a missing launch context simply means there is nowhere to push.
func (d *Dispatcher) PushGrade(ctx context.Context, userID string, courseID int64, score float64) bool {
	lc, ok, err := d.Contexts.Get(ctx, userID, courseID)
	if err != nil {
		log.Printf("lti: push grade context lookup failed user=%s course=%d: %v", userID, courseID, err)
		return false
	}
	if !ok || lc.OutcomeURL == "" || lc.ResultSourcedID == "" {
		return false
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	body := buildReplaceResultXML(lc.ResultSourcedID, score)
	if err := d.postSignedPOX(ctx, lc, body); err != nil {
		log.Printf("lti: push grade failed user=%s course=%d url=%s: %v",
			userID, courseID, lc.OutcomeURL, fmt.Errorf("%w: %v", ErrUpstreamCallbackFailed, err))
		return false
	}
	log.Printf("lti: push grade delivered user=%s course=%d score=%.4f", userID, courseID, score)
	return true
}

func (d *Dispatcher) postSignedPOX(ctx context.Context, lc LaunchContext, body []byte) error {
	bodyHash := sha1.Sum(body)
	params := map[string]string{
		"oauth_body_hash": base64.StdEncoding.EncodeToString(bodyHash[:]),
	}
	signed := Sign(http.MethodPost, lc.OutcomeURL, params, lc.ConsumerKey, lc.SharedSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, lc.OutcomeURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("Authorization", oauthAuthorizationHeader(signed))

	resp, err := d.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("outcome service returned %s", resp.Status)
	}
	return nil
}

// oauthAuthorizationHeader renders the oauth_* params as an OAuth1
// Authorization header, sorted for readability.
func oauthAuthorizationHeader(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if strings.HasPrefix(k, "oauth_") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf(`%s="%s"`, k, percentEncode(params[k])))
	}
	return "OAuth " + strings.Join(parts, ", ")
}
