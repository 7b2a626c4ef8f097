package lti

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SourcedID is the opaque result identifier we hand to external tools at
// launch time and decode again when their grade callback arrives. On the
// wire it is base64("tenant:user:course:tool:issuedAt").
type SourcedID struct {
	Tenant   string
	UserID   string
	CourseID int64
	ToolID   int64
	IssuedAt int64 // unix seconds, informational
}

// Encode serializes to the wire form.
func (s SourcedID) Encode() string {
	raw := fmt.Sprintf("%s:%s:%d:%d:%d", s.Tenant, s.UserID, s.CourseID, s.ToolID, s.IssuedAt)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// NewSourcedID stamps a sourced id for an outgoing tool launch.
func NewSourcedID(tenant, userID string, courseID, toolID int64) SourcedID {
	return SourcedID{Tenant: tenant, UserID: userID, CourseID: courseID, ToolID: toolID, IssuedAt: time.Now().Unix()}
}

// DecodeSourcedID parses the wire form. Anything that is not base64 of at
// least four colon-separated parts with numeric course and tool ids is
// ErrMalformedSourcedID; the caller must not echo decode details to the tool.
func DecodeSourcedID(enc string) (SourcedID, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(enc))
	if err != nil {
		return SourcedID{}, ErrMalformedSourcedID
	}
	parts := strings.Split(string(raw), ":")
	if len(parts) < 4 {
		return SourcedID{}, ErrMalformedSourcedID
	}
	courseID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return SourcedID{}, ErrMalformedSourcedID
	}
	toolID, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return SourcedID{}, ErrMalformedSourcedID
	}
	s := SourcedID{Tenant: parts[0], UserID: parts[1], CourseID: courseID, ToolID: toolID}
	if s.Tenant == "" || s.UserID == "" {
		return SourcedID{}, ErrMalformedSourcedID
	}
	if len(parts) >= 5 {
		s.IssuedAt, _ = strconv.ParseInt(parts[4], 10, 64)
	}
	return s, nil
}
