package lti

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/learnspace/learnspace-lms/internal/auth"
)

type memUsers struct {
	byEmail map[string]User
	created int
}

func (m *memUsers) UserByEmail(_ context.Context, email string) (User, bool, error) {
	u, ok := m.byEmail[email]
	return u, ok, nil
}

func (m *memUsers) CreateUser(_ context.Context, u User, passwordHash string) error {
	if m.byEmail == nil {
		m.byEmail = map[string]User{}
	}
	if passwordHash == "" {
		panic("empty password hash")
	}
	m.byEmail[u.Email] = u
	m.created++
	return nil
}

func newTestBridge() (*Bridge, *memUsers, *auth.Codec) {
	users := &memUsers{}
	codec := auth.NewCodec("test-secret", time.Hour)
	return &Bridge{Users: users, Sessions: codec}, users, codec
}

func TestEstablishProvisionsOnce(t *testing.T) {
	b, users, _ := newTestBridge()
	ctx := context.Background()
	id := Identity{Sub: "p-user-9", Email: "Ada@Example.edu", Name: "Ada", Role: "student", CourseID: 7}

	u1, _, _, err := b.Establish(ctx, id)
	if err != nil {
		t.Fatalf("first establish: %v", err)
	}
	u2, _, _, err := b.Establish(ctx, id)
	if err != nil {
		t.Fatalf("second establish: %v", err)
	}
	if users.created != 1 {
		t.Fatalf("created %d users, want 1", users.created)
	}
	if u1.ID != u2.ID {
		t.Fatalf("same email produced two accounts: %s vs %s", u1.ID, u2.ID)
	}
	if u1.Email != "ada@example.edu" {
		t.Fatalf("email not normalized: %q", u1.Email)
	}
	if u1.Username != "ada" {
		t.Fatalf("username not derived from email local part: %q", u1.Username)
	}
}

func TestEstablishRedirectAndClaims(t *testing.T) {
	b, _, codec := newTestBridge()
	id := Identity{Sub: "p-user-9", Email: "ada@example.edu", Role: "student", CourseID: 7}

	_, token, redirect, err := b.Establish(context.Background(), id)
	if err != nil {
		t.Fatalf("establish: %v", err)
	}
	if !strings.HasPrefix(redirect, "/learn/7?token=") {
		t.Fatalf("redirect = %q", redirect)
	}
	cl, err := codec.Decode(token)
	if err != nil {
		t.Fatalf("decode session token: %v", err)
	}
	if !cl.LTIMode || cl.LTICourseID != 7 {
		t.Fatalf("launch provenance missing from claims: %+v", cl)
	}
	if cl.Role != "student" {
		t.Fatalf("role = %q", cl.Role)
	}
}

func TestEstablishNoCourseGoesToDashboard(t *testing.T) {
	b, _, _ := newTestBridge()
	_, _, redirect, err := b.Establish(context.Background(),
		Identity{Sub: "p-user-9", Email: "ada@example.edu", Role: "student"})
	if err != nil {
		t.Fatalf("establish: %v", err)
	}
	if !strings.HasPrefix(redirect, "/dashboard?token=") {
		t.Fatalf("redirect = %q", redirect)
	}
}

func TestEstablishWithoutEmailUsesStableSyntheticAddress(t *testing.T) {
	b, users, _ := newTestBridge()
	ctx := context.Background()
	id := Identity{Sub: "P-User-9", Role: "student"}

	if _, _, _, err := b.Establish(ctx, id); err != nil {
		t.Fatalf("first establish: %v", err)
	}
	if _, _, _, err := b.Establish(ctx, id); err != nil {
		t.Fatalf("second establish: %v", err)
	}
	if users.created != 1 {
		t.Fatalf("subject without email provisioned %d times", users.created)
	}
}
