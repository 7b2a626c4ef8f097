package course

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/learnspace/learnspace-lms/internal/auth"
)

// GradePusher reports a completion score back to whatever launched the
// course, when such a context exists. Failures are internal.
type GradePusher interface {
	PushGrade(ctx context.Context, userID string, courseID int64, score float64) bool
}

type Handlers struct {
	Store  *Store
	Pusher GradePusher
}

// Routes expects auth middleware already applied by the caller.
func (h *Handlers) Routes(r chi.Router) {
	r.Get("/courses", h.list)
	r.Get("/courses/{id}/lessons", h.lessons)
	r.Post("/courses/{id}/complete", h.complete)
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request) {
	out, err := h.Store.ListCourses(r.Context())
	if err != nil {
		log.Printf("course: list failed: %v", err)
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) lessons(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	if _, err := h.Store.CourseByID(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		log.Printf("course: lookup failed id=%d: %v", id, err)
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}
	out, err := h.Store.Lessons(r.Context(), id)
	if err != nil {
		log.Printf("course: lessons failed id=%d: %v", id, err)
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type completeRequest struct {
	Score float64 `json:"score"`
}

// complete records the authenticated user's completion and, for courses that
// arrived through an LTI 1.1 launch, pushes the grade upstream. The push
// result is reported but never fails the request.
func (h *Handlers) complete(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	courseID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || courseID <= 0 {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.Score < 0 || req.Score > 1 {
		http.Error(w, "score must be within [0,1]", http.StatusBadRequest)
		return
	}
	if _, err := h.Store.CourseByID(r.Context(), courseID); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		log.Printf("course: lookup failed id=%d: %v", courseID, err)
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}
	if err := h.Store.CompleteCourse(r.Context(), claims.UserID, courseID, req.Score); err != nil {
		log.Printf("course: completion failed user=%s course=%d: %v", claims.UserID, courseID, err)
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}

	pushed := false
	if h.Pusher != nil {
		pushed = h.Pusher.PushGrade(r.Context(), claims.UserID, courseID, req.Score)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "complete",
		"grade_pushed": pushed,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
