package lti

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

/*
Admin registration API: CRUD over platforms, tools and consumers. JSON in,
JSON out. The gateway mounts these behind bearer auth with the admin role;
nothing here re-checks identity.
*/

type AdminAPI struct {
	Registry *SQLRegistry
}

func (a *AdminAPI) Routes(r chi.Router) {
	r.Route("/platforms", func(r chi.Router) {
		r.Get("/", a.listPlatforms)
		r.Post("/", a.createPlatform)
		r.Put("/{id}", a.updatePlatform)
		r.Delete("/{id}", a.deletePlatform)
	})
	r.Route("/tools", func(r chi.Router) {
		r.Get("/", a.listTools)
		r.Post("/", a.createTool)
		r.Put("/{id}", a.updateTool)
		r.Delete("/{id}", a.deleteTool)
	})
	r.Route("/consumers", func(r chi.Router) {
		r.Get("/", a.listConsumers)
		r.Post("/", a.createConsumer)
		r.Put("/{id}", a.updateConsumer)
		r.Delete("/{id}", a.deleteConsumer)
	})
}

func idParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func decodeInto(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// adminErr hides storage details; not-found maps to 404.
func adminErr(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrRegistrationNotFound) {
		writeErr(w, http.StatusNotFound, "not found")
		return
	}
	log.Printf("lti admin: %v", err)
	writeErr(w, http.StatusInternalServerError, "storage error")
}

/* ------------------------------- platforms --------------------------------- */

func validatePlatform(p Platform) string {
	switch {
	case strings.TrimSpace(p.Issuer) == "":
		return "issuer required"
	case strings.TrimSpace(p.ClientID) == "":
		return "client_id required"
	case strings.TrimSpace(p.AuthLoginURL) == "":
		return "auth_login_url required"
	case strings.TrimSpace(p.KeySetURL) == "":
		return "keyset_url required"
	}
	return ""
}

func (a *AdminAPI) listPlatforms(w http.ResponseWriter, r *http.Request) {
	out, err := a.Registry.ListPlatforms(r.Context())
	if err != nil {
		adminErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *AdminAPI) createPlatform(w http.ResponseWriter, r *http.Request) {
	var p Platform
	if err := decodeInto(r, &p); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid body")
		return
	}
	if msg := validatePlatform(p); msg != "" {
		writeErr(w, http.StatusBadRequest, msg)
		return
	}
	created, err := a.Registry.CreatePlatform(r.Context(), p)
	if err != nil {
		adminErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *AdminAPI) updatePlatform(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "bad id")
		return
	}
	var p Platform
	if err := decodeInto(r, &p); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid body")
		return
	}
	if msg := validatePlatform(p); msg != "" {
		writeErr(w, http.StatusBadRequest, msg)
		return
	}
	p.ID = id
	if err := a.Registry.UpdatePlatform(r.Context(), p); err != nil {
		adminErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *AdminAPI) deletePlatform(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "bad id")
		return
	}
	if err := a.Registry.DeletePlatform(r.Context(), id); err != nil {
		adminErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/* --------------------------------- tools ----------------------------------- */

func validateTool(t Tool) string {
	switch {
	case strings.TrimSpace(t.Name) == "":
		return "name required"
	case strings.TrimSpace(t.TargetURL) == "":
		return "target_url required"
	}
	switch t.Version {
	case "1.3":
		if t.ClientID == "" || t.LoginURL == "" {
			return "client_id and login_url required for 1.3 tools"
		}
	case "1.1":
		if t.ConsumerKey == "" || t.SharedSecret == "" {
			return "consumer_key and shared_secret required for 1.1 tools"
		}
	default:
		return `version must be "1.1" or "1.3"`
	}
	return ""
}

func (a *AdminAPI) listTools(w http.ResponseWriter, r *http.Request) {
	out, err := a.Registry.ListTools(r.Context())
	if err != nil {
		adminErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *AdminAPI) createTool(w http.ResponseWriter, r *http.Request) {
	var t Tool
	if err := decodeInto(r, &t); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid body")
		return
	}
	if msg := validateTool(t); msg != "" {
		writeErr(w, http.StatusBadRequest, msg)
		return
	}
	created, err := a.Registry.CreateTool(r.Context(), t)
	if err != nil {
		adminErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *AdminAPI) updateTool(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "bad id")
		return
	}
	var t Tool
	if err := decodeInto(r, &t); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid body")
		return
	}
	if msg := validateTool(t); msg != "" {
		writeErr(w, http.StatusBadRequest, msg)
		return
	}
	t.ID = id
	if err := a.Registry.UpdateTool(r.Context(), t); err != nil {
		adminErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *AdminAPI) deleteTool(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "bad id")
		return
	}
	if err := a.Registry.DeleteTool(r.Context(), id); err != nil {
		adminErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/* ------------------------------- consumers --------------------------------- */

func validateConsumer(c Consumer) string {
	switch {
	case strings.TrimSpace(c.Name) == "":
		return "name required"
	case strings.TrimSpace(c.Key) == "":
		return "consumer_key required"
	case strings.TrimSpace(c.Secret) == "":
		return "shared_secret required"
	}
	return ""
}

func (a *AdminAPI) listConsumers(w http.ResponseWriter, r *http.Request) {
	out, err := a.Registry.ListConsumers(r.Context())
	if err != nil {
		adminErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *AdminAPI) createConsumer(w http.ResponseWriter, r *http.Request) {
	var c Consumer
	if err := decodeInto(r, &c); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid body")
		return
	}
	if msg := validateConsumer(c); msg != "" {
		writeErr(w, http.StatusBadRequest, msg)
		return
	}
	created, err := a.Registry.CreateConsumer(r.Context(), c)
	if err != nil {
		adminErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *AdminAPI) updateConsumer(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "bad id")
		return
	}
	var c Consumer
	if err := decodeInto(r, &c); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid body")
		return
	}
	if msg := validateConsumer(c); msg != "" {
		writeErr(w, http.StatusBadRequest, msg)
		return
	}
	c.ID = id
	if err := a.Registry.UpdateConsumer(r.Context(), c); err != nil {
		adminErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *AdminAPI) deleteConsumer(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "bad id")
		return
	}
	if err := a.Registry.DeleteConsumer(r.Context(), id); err != nil {
		adminErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
