package lti

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/learnspace/learnspace-lms/internal/auth"
)

/*
HTTP surface for the LTI flows:

  inbound (this system as Tool / Provider)
    GET/POST /lti/login        OIDC third-party login initiation (1.3)
    POST     /lti/launch       id_token launch (1.3)
    POST     /lti/launch/1p1   OAuth1 form launch (1.1)
    POST     /lti/outcomes     Basic Outcomes POX grade callback (1.1)
    POST     /lti/ags/scores   AGS score publication (1.3)
    GET      /.well-known/jwks.json

  outbound (this system as Platform / Consumer)
    POST     /lti/tools/launch   build a launch for a registered tool
    GET/POST /lti/authorize      OIDC authorize endpoint: mints our id_token

Every rejection is a terminal JSON (or POX) error; there is no guest
fallback. Messages sent to the remote side stay generic.
*/

type toolDirectory interface {
	ToolByID(ctx context.Context, id int64) (Tool, error)
	ToolByClientID(ctx context.Context, clientID string) (Tool, error)
}

type Handlers struct {
	Validator  *Validator
	Bridge     *Bridge
	Dispatcher *Dispatcher
	Tools      toolDirectory
	Contexts   LaunchContextStore
	Keys       KeyStore

	// Issuer and PublicURL identify this deployment to peers; TenantID tags
	// sourced ids minted here.
	Issuer    string
	PublicURL string
	TenantID  string
}

// Routes mounts the public LTI endpoints. The admin registration API is
// mounted separately behind auth middleware.
func (h *Handlers) Routes(r chi.Router) {
	r.Get("/lti/login", h.Login)
	r.Post("/lti/login", h.Login)
	r.Post("/lti/launch", h.Launch13)
	r.Post("/lti/launch/1p1", h.Launch11)
	r.Post("/lti/outcomes", h.Outcomes)
	r.Post("/lti/ags/scores", h.AGSScores)
	r.Get("/lti/authorize", h.Authorize)
	r.Post("/lti/authorize", h.Authorize)
	r.Get("/.well-known/jwks.json", JWKSHandler(h.Keys))
}

/* ------------------------------ 1.3 inbound -------------------------------- */

// Login handles the OIDC third-party login initiation. Platforms send it as
// GET or POST; ParseForm merges query and body either way.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request")
		return
	}
	p := LoginParams{
		Issuer:        r.Form.Get("iss"),
		LoginHint:     r.Form.Get("login_hint"),
		TargetLinkURI: r.Form.Get("target_link_uri"),
		ClientID:      r.Form.Get("client_id"),
		MessageHint:   r.Form.Get("lti_message_hint"),
	}
	redirect, err := h.Validator.BeginLogin(r.Context(), p)
	if err != nil {
		log.Printf("lti: login initiation rejected iss=%s: %v", p.Issuer, err)
		writeErr(w, statusFor(err), "login initiation rejected")
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// Launch13 receives the platform's form_post id_token callback.
func (h *Handlers) Launch13(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request")
		return
	}
	id, err := h.Validator.ValidateLaunch(r.Context(), LTI13Launch{
		IDToken: r.Form.Get("id_token"),
		State:   r.Form.Get("state"),
	})
	if err != nil {
		log.Printf("lti: 1.3 launch rejected: %v", err)
		writeErr(w, statusFor(err), "launch rejected")
		return
	}
	h.finishLaunch(w, r, id)
}

/* ------------------------------ 1.1 inbound -------------------------------- */

// Launch11 receives an OAuth1-signed basic launch form post. The signature
// is recomputed over this endpoint's public URL, which must be the exact URL
// the consumer signed.
func (h *Handlers) Launch11(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request")
		return
	}
	params := make(map[string]string, len(r.PostForm))
	for k, vs := range r.PostForm {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}
	id, err := h.Validator.ValidateLaunch(r.Context(), LTI11Launch{
		Method: http.MethodPost,
		URL:    h.PublicURL + "/lti/launch/1p1",
		Params: params,
	})
	if err != nil {
		log.Printf("lti: 1.1 launch rejected consumer=%s: %v", params["oauth_consumer_key"], err)
		writeErr(w, statusFor(err), "launch rejected")
		return
	}
	h.finishLaunch(w, r, id)
}

// finishLaunch bridges the verified identity into a session, persists the
// grade-passback context when the launch carried one, and redirects.
func (h *Handlers) finishLaunch(w http.ResponseWriter, r *http.Request, id Identity) {
	user, _, redirect, err := h.Bridge.Establish(r.Context(), id)
	if err != nil {
		log.Printf("lti: session bridge failed sub=%s: %v", id.Sub, err)
		writeErr(w, http.StatusInternalServerError, "launch failed")
		return
	}
	if id.OutcomeURL != "" && id.ResultSourcedID != "" && id.CourseID > 0 {
		// Keyed by our user id so grade push can find it after completion.
		lc := LaunchContext{
			UserID:          user.ID,
			CourseID:        id.CourseID,
			ConsumerKey:     id.ConsumerKey,
			OutcomeURL:      id.OutcomeURL,
			ResultSourcedID: id.ResultSourcedID,
			SharedSecret:    id.ConsumerSecret,
		}
		if err := h.Contexts.Upsert(r.Context(), lc); err != nil {
			log.Printf("lti: launch context persist failed user=%s course=%d: %v", id.Sub, id.CourseID, err)
		}
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

/* -------------------------------- outcomes --------------------------------- */

// Outcomes is the IMS Basic Outcomes service endpoint (POX XML in and out).
func (h *Handlers) Outcomes(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request")
		return
	}
	resp, status := h.Dispatcher.ProcessOutcome(r.Context(), body)
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = w.Write(resp)
}

// AGSScores accepts an LTI 1.3 AGS score publication.
func (h *Handlers) AGSScores(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "malformed request"})
		return
	}
	normalized, err := h.Dispatcher.ProcessAGSScore(r.Context(), body)
	if err != nil {
		log.Printf("lti: ags score rejected: %v", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "invalid score"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": fmt.Sprintf("score %.4f acknowledged", normalized),
	})
}

/* ----------------------------- outbound launch ----------------------------- */

type toolLaunchRequest struct {
	ToolID   int64 `json:"tool_id"`
	CourseID int64 `json:"course_id"`
}

// ToolLaunch builds a launch for a registered external tool on behalf of the
// authenticated user. 1.3 tools get a login-initiation URL; 1.1 tools get
// the target URL plus a signed parameter set for a client-side form post.
func (h *Handlers) ToolLaunch(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeErr(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req toolLaunchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ToolID <= 0 {
		writeErr(w, http.StatusBadRequest, "tool_id and course_id required")
		return
	}
	tool, err := h.Tools.ToolByID(r.Context(), req.ToolID)
	if err != nil {
		writeErr(w, statusFor(err), "unknown tool")
		return
	}

	switch tool.Version {
	case "1.3":
		q := url.Values{}
		q.Set("iss", h.Issuer)
		q.Set("client_id", tool.ClientID)
		q.Set("login_hint", claims.UserID)
		q.Set("target_link_uri", tool.TargetURL)
		q.Set("lti_message_hint", strconv.FormatInt(req.CourseID, 10))
		q.Set("lti_deployment_id", "1")
		writeJSON(w, http.StatusOK, map[string]any{
			"type": "LTI-1p3",
			"url":  tool.LoginURL + "?" + q.Encode(),
		})
	case "1.1":
		sid := NewSourcedID(h.TenantID, claims.UserID, req.CourseID, tool.ID)
		params := map[string]string{
			"lti_message_type":                 "basic-lti-launch-request",
			"lti_version":                      "LTI-1p0",
			"resource_link_id":                 fmt.Sprintf("course-%d-tool-%d", req.CourseID, tool.ID),
			"user_id":                          claims.UserID,
			"roles":                            imsRole(claims.Role),
			"lis_person_contact_email_primary": claims.Email,
			"lis_person_name_full":             claims.Username,
			"lis_result_sourcedid":             sid.Encode(),
			"lis_outcome_service_url":          h.PublicURL + "/lti/outcomes",
			"context_id":                       strconv.FormatInt(req.CourseID, 10),
		}
		signed := Sign(http.MethodPost, tool.TargetURL, params, tool.ConsumerKey, tool.SharedSecret)
		writeJSON(w, http.StatusOK, map[string]any{
			"type":   "LTI-1p0",
			"url":    tool.TargetURL,
			"params": signed,
		})
	default:
		writeErr(w, http.StatusInternalServerError, "unsupported tool version")
	}
}

func imsRole(role string) string {
	if role == "teacher" || role == "admin" {
		return "Instructor"
	}
	return "Learner"
}

/* ----------------------------- authorize (1.3) ----------------------------- */

var formPostPage = template.Must(template.New("formpost").Parse(`<!DOCTYPE html>
<html><body onload="document.forms[0].submit()">
<form method="post" action="{{.Action}}">
<input type="hidden" name="id_token" value="{{.IDToken}}">
<input type="hidden" name="state" value="{{.State}}">
<noscript><button type="submit">Continue</button></noscript>
</form></body></html>`))

// Authorize is the OIDC authorize endpoint this system exposes when acting
// as the platform for 1.3 tools it launches. The tool arrives here with the
// hints from ToolLaunch; we mint the id_token and form_post it back.
func (h *Handlers) Authorize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request")
		return
	}
	clientID := r.Form.Get("client_id")
	redirectURI := r.Form.Get("redirect_uri")
	loginHint := r.Form.Get("login_hint")
	state := r.Form.Get("state")
	nonce := r.Form.Get("nonce")
	if clientID == "" || redirectURI == "" || nonce == "" {
		writeErr(w, http.StatusBadRequest, "client_id, redirect_uri and nonce required")
		return
	}
	tool, err := h.Tools.ToolByClientID(r.Context(), clientID)
	if err != nil {
		writeErr(w, statusFor(err), "unknown client")
		return
	}
	if redirectURI != tool.TargetURL {
		log.Printf("lti: authorize redirect_uri mismatch client=%s got=%s", clientID, redirectURI)
		writeErr(w, http.StatusBadRequest, "redirect_uri not registered")
		return
	}

	kp, err := EnsureSigningKey(r.Context(), h.Keys)
	if err != nil {
		log.Printf("lti: authorize signing key unavailable: %v", err)
		writeErr(w, http.StatusInternalServerError, "signing unavailable")
		return
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   h.Issuer,
		"aud":   clientID,
		"sub":   loginHint,
		"iat":   now.Unix(),
		"exp":   now.Add(5 * time.Minute).Unix(),
		"nonce": nonce,
		"https://purl.imsglobal.org/spec/lti/claim/message_type":    "LtiResourceLinkRequest",
		"https://purl.imsglobal.org/spec/lti/claim/version":         "1.3.0",
		"https://purl.imsglobal.org/spec/lti/claim/deployment_id":   "1",
		"https://purl.imsglobal.org/spec/lti/claim/target_link_uri": tool.TargetURL,
		claimRoles: []string{"http://purl.imsglobal.org/vocab/lis/v2/membership#Learner"},
	}
	if hint := r.Form.Get("lti_message_hint"); hint != "" {
		claims[claimCustom] = map[string]string{"course_id": hint}
		claims["https://purl.imsglobal.org/spec/lti/claim/resource_link"] = map[string]string{
			"id": "course-" + hint + "-tool-" + strconv.FormatInt(tool.ID, 10),
		}
	}
	idToken, err := kp.SignIDToken(claims)
	if err != nil {
		log.Printf("lti: authorize id_token sign failed: %v", err)
		writeErr(w, http.StatusInternalServerError, "signing unavailable")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = formPostPage.Execute(w, struct {
		Action, IDToken, State string
	}{Action: redirectURI, IDToken: idToken, State: state})
}

/* --------------------------------- errors ---------------------------------- */

// statusFor maps the sentinel reject reasons onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrRegistrationNotFound):
		return http.StatusUnauthorized
	case errors.Is(err, ErrMissingOAuthParams):
		return http.StatusBadRequest
	case errors.Is(err, ErrSignatureInvalid),
		errors.Is(err, ErrReplayOrInvalidState):
		return http.StatusUnauthorized
	case errors.Is(err, ErrMalformedSourcedID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
