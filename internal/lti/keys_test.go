package lti

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestEnsureSigningKeyGeneratesOnce(t *testing.T) {
	ctx := context.Background()
	store := &memKeys{}

	kp1, err := EnsureSigningKey(ctx, store)
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if kp1.KID == "" || kp1.Private == nil {
		t.Fatalf("incomplete pair: %+v", kp1)
	}
	kp2, err := EnsureSigningKey(ctx, store)
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if kp2.KID != kp1.KID {
		t.Fatalf("second boot generated a new key: %s vs %s", kp2.KID, kp1.KID)
	}
	if len(store.pairs) != 1 {
		t.Fatalf("stored %d pairs, want 1", len(store.pairs))
	}
}

func TestSQLKeyStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := &SQLKeyStore{DB: newTestDB(t)}

	kp, err := EnsureSigningKey(ctx, store)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	got, err := store.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if got.KID != kp.KID {
		t.Fatalf("kid mismatch: %s vs %s", got.KID, kp.KID)
	}
	if got.Private.N.Cmp(kp.Private.N) != 0 {
		t.Fatal("persisted key does not match generated key")
	}

	all, err := store.All(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("all: len=%d err=%v", len(all), err)
	}
}

func TestSignIDTokenCarriesKID(t *testing.T) {
	store := &memKeys{}
	kp, err := EnsureSigningKey(context.Background(), store)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	signed, err := kp.SignIDToken(jwt.MapClaims{"sub": "u-1"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	tok, _, err := jwt.NewParser().ParseUnverified(signed, jwt.MapClaims{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tok.Header["kid"] != kp.KID {
		t.Fatalf("kid header = %v, want %s", tok.Header["kid"], kp.KID)
	}
	if tok.Method.Alg() != "RS256" {
		t.Fatalf("alg = %s", tok.Method.Alg())
	}
}
