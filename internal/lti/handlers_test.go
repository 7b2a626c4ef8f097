package lti

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/learnspace/learnspace-lms/internal/auth"
)

type memKeys struct {
	pairs []KeyPair
}

func (m *memKeys) Active(context.Context) (KeyPair, error) {
	if len(m.pairs) == 0 {
		return KeyPair{}, ErrNoSigningKey
	}
	return m.pairs[len(m.pairs)-1], nil
}

func (m *memKeys) All(context.Context) ([]KeyPair, error) { return m.pairs, nil }

func (m *memKeys) Save(_ context.Context, kp KeyPair) error {
	m.pairs = append(m.pairs, kp)
	return nil
}

func newTestHandlers(t *testing.T, publicURL string) (*Handlers, *memUsers, *memContexts) {
	t.Helper()
	users := &memUsers{}
	contexts := &memContexts{}
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keys := &memKeys{pairs: []KeyPair{{KID: makeKID(&priv.PublicKey), Private: priv, CreatedAt: time.Now()}}}

	return &Handlers{
		Validator: &Validator{
			Store:       consumerStore(),
			Replay:      NewMemoryReplay(time.Minute),
			Keys:        NewRemoteKeySet(),
			RedirectURI: publicURL + "/lti/launch",
		},
		Bridge: &Bridge{
			Users:    users,
			Sessions: auth.NewCodec("test-secret", time.Hour),
		},
		Dispatcher: &Dispatcher{
			Tenants:  StaticTenants{Default: &recordingCompletions{}},
			Contexts: contexts,
		},
		Contexts:  contexts,
		Keys:      keys,
		Issuer:    publicURL,
		PublicURL: publicURL,
		TenantID:  "t1",
	}, users, contexts
}

func testRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func TestLoginEndpointUnknownIssuer(t *testing.T) {
	h, _, _ := newTestHandlers(t, "https://lms.example.com")
	h.Validator.Store = &fakeCreds{platforms: map[string]Platform{}}
	rr := httptest.NewRecorder()

	req := httptest.NewRequest(http.MethodGet, "/lti/login?iss=https://stranger.test&login_hint=x", nil)
	testRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "" {
		t.Fatalf("unknown issuer still redirected to %s", loc)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body["error"] == "" {
		t.Fatalf("expected JSON error body, got %s", rr.Body.String())
	}
}

func TestLaunch11EndpointMissingParams(t *testing.T) {
	h, _, _ := newTestHandlers(t, "https://lms.example.com")
	rr := httptest.NewRecorder()

	form := url.Values{"user_id": {"42"}}
	req := httptest.NewRequest(http.MethodPost, "/lti/launch/1p1", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	testRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
}

func TestLaunch11EndpointSuccess(t *testing.T) {
	const publicURL = "https://lms.example.com"
	h, users, contexts := newTestHandlers(t, publicURL)

	signed := Sign("POST", publicURL+"/lti/launch/1p1", map[string]string{
		"lti_message_type":                 "basic-lti-launch-request",
		"lti_version":                      "LTI-1p0",
		"user_id":                          "platform-user-9",
		"lis_person_contact_email_primary": "ada@example.edu",
		"roles":                            "Learner",
		"custom_course_id":                 "7",
		"lis_outcome_service_url":          "https://platform.test/outcomes",
		"lis_result_sourcedid":             "their-sourcedid",
	}, "key-1", "s3cret")

	form := url.Values{}
	for k, v := range signed {
		form.Set(k, v)
	}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/lti/launch/1p1", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	testRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusFound {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	loc := rr.Header().Get("Location")
	if !strings.HasPrefix(loc, "/learn/7?token=") {
		t.Fatalf("redirect = %q", loc)
	}
	if users.created != 1 {
		t.Fatalf("users created = %d", users.created)
	}

	// The passback context is stored under our user id.
	u := users.byEmail["ada@example.edu"]
	lc, ok, _ := contexts.Get(context.Background(), u.ID, 7)
	if !ok {
		t.Fatal("launch context not persisted")
	}
	if lc.OutcomeURL != "https://platform.test/outcomes" || lc.SharedSecret != "s3cret" {
		t.Fatalf("launch context incomplete: %+v", lc)
	}
}

func TestLaunch11EndpointBadSignature(t *testing.T) {
	const publicURL = "https://lms.example.com"
	h, _, _ := newTestHandlers(t, publicURL)

	signed := Sign("POST", publicURL+"/lti/launch/1p1",
		map[string]string{"user_id": "42"}, "key-1", "s3cret")
	signed["user_id"] = "43" // tamper

	form := url.Values{}
	for k, v := range signed {
		form.Set(k, v)
	}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/lti/launch/1p1", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	testRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestOutcomesEndpoint(t *testing.T) {
	h, _, _ := newTestHandlers(t, "https://lms.example.com")
	router := testRouter(h)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/lti/outcomes", strings.NewReader("not xml"))
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("garbage body: status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/xml" {
		t.Fatalf("content type = %q", ct)
	}

	sid := NewSourcedID("t1", "42", 7, 3).Encode()
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/lti/outcomes",
		strings.NewReader(string(outcomeEnvelope(sid, "0.9"))))
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "success") {
		t.Fatalf("valid outcome rejected: status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestAGSScoresEndpoint(t *testing.T) {
	h, _, _ := newTestHandlers(t, "https://lms.example.com")
	router := testRouter(h)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/lti/ags/scores",
		strings.NewReader(`{"userId":"u1","scoreGiven":8,"scoreMaximum":10}`))
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body["status"] != "ok" {
		t.Fatalf("body = %s", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/lti/ags/scores",
		strings.NewReader(`{"scoreGiven":8,"scoreMaximum":0}`))
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("zero maximum accepted: status = %d", rr.Code)
	}
}

func TestJWKSEndpoint(t *testing.T) {
	h, _, _ := newTestHandlers(t, "https://lms.example.com")
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil)
	testRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var set JWKS
	if err := json.Unmarshal(rr.Body.Bytes(), &set); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(set.Keys) != 1 {
		t.Fatalf("keys = %d, want 1", len(set.Keys))
	}
	k := set.Keys[0]
	if k["kty"] != "RSA" || k["alg"] != "RS256" || k["n"] == "" {
		t.Fatalf("jwk incomplete: %+v", k)
	}
}
