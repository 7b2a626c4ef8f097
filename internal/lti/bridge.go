package lti

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/learnspace/learnspace-lms/internal/auth"
)

/*
Session bridge: turns a verified launch Identity into a first-class session.

Users arriving over LTI are matched by email; unknown emails get a fresh
account with an unusable random password so the record can never be claimed
through the local login form. The minted session token carries lti_mode and
the launched course so downstream handlers know the session's provenance.
*/

// User is the subset of the account record the bridge needs.
type User struct {
	ID       string
	Username string
	Email    string
	Role     string
}

// UserDirectory is the consumer-side view of the users table.
type UserDirectory interface {
	UserByEmail(ctx context.Context, email string) (User, bool, error)
	CreateUser(ctx context.Context, u User, passwordHash string) error
}

type Bridge struct {
	Users    UserDirectory
	Sessions *auth.Codec
}

// Establish provisions-or-matches the launched identity and returns the
// resolved account, the session token and the in-app redirect target.
// Provisioning is idempotent per email: a second launch for the same address
// reuses the first account.
func (b *Bridge) Establish(ctx context.Context, id Identity) (user User, token, redirect string, err error) {
	email := strings.ToLower(strings.TrimSpace(id.Email))
	if email == "" {
		// Platforms may withhold email; fall back to a stable synthetic
		// address derived from the subject so repeat launches still match.
		email = "lti-" + strings.ToLower(id.Sub) + "@launch.invalid"
	}

	u, found, err := b.Users.UserByEmail(ctx, email)
	if err != nil {
		return User{}, "", "", err
	}
	if !found {
		u = User{
			ID:       uuid.NewString(),
			Username: usernameFromEmail(email),
			Email:    email,
			Role:     id.Role,
		}
		if u.Role == "" {
			u.Role = "student"
		}
		hash, err := unusablePasswordHash()
		if err != nil {
			return User{}, "", "", err
		}
		if err := b.Users.CreateUser(ctx, u, hash); err != nil {
			return User{}, "", "", err
		}
		log.Printf("lti: provisioned user id=%s email=%s role=%s", u.ID, u.Email, u.Role)
	}

	token, err = b.Sessions.Encode(auth.Claims{
		UserID:      u.ID,
		Username:    u.Username,
		Email:       u.Email,
		Role:        u.Role,
		LTIMode:     true,
		LTICourseID: id.CourseID,
	})
	if err != nil {
		return User{}, "", "", err
	}

	if id.CourseID > 0 {
		redirect = fmt.Sprintf("/learn/%d?token=%s", id.CourseID, url.QueryEscape(token))
	} else {
		redirect = "/dashboard?token=" + url.QueryEscape(token)
	}
	return u, token, redirect, nil
}

// unusablePasswordHash hashes 32 random bytes; nobody can log in with it.
func unusablePasswordHash() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	h, err := bcrypt.GenerateFromPassword(buf, bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func usernameFromEmail(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}
