package auth

import (
	"errors"
	"testing"
	"time"
)

func TestCodecRoundTrip(t *testing.T) {
	c := NewCodec("unit-secret", time.Hour)
	tok, err := c.Encode(Claims{
		UserID:      "u-1",
		Username:    "ada",
		Email:       "ada@example.edu",
		Role:        "student",
		LTIMode:     true,
		LTICourseID: 7,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	cl, err := c.Decode(tok)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cl.UserID != "u-1" || cl.Role != "student" {
		t.Fatalf("claims mismatch: %+v", cl)
	}
	if !cl.LTIMode || cl.LTICourseID != 7 {
		t.Fatalf("lti claims lost: %+v", cl)
	}
}

func TestCodecExpiry(t *testing.T) {
	base := time.Now()
	c := NewCodec("unit-secret", time.Minute).WithClock(func() time.Time { return base })
	tok, err := c.Encode(Claims{UserID: "u-1"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	c.WithClock(func() time.Time { return base.Add(2 * time.Minute) })
	if _, err := c.Decode(tok); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("got %v, want ErrTokenExpired", err)
	}
}

func TestCodecRejectsWrongSecret(t *testing.T) {
	tok, err := NewCodec("secret-a", time.Hour).Encode(Claims{UserID: "u-1"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := NewCodec("secret-b", time.Hour).Decode(tok); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("got %v, want ErrTokenInvalid", err)
	}
}

func TestCodecRejectsGarbage(t *testing.T) {
	c := NewCodec("unit-secret", time.Hour)
	for _, tok := range []string{"", "not.a.jwt", "a.b"} {
		if _, err := c.Decode(tok); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("token %q: got %v, want ErrTokenInvalid", tok, err)
		}
	}
}
