package lti

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

/*
Signing key pairs for this system's own RS256 JWTs (id_tokens we mint when
launching external 1.3 tools) and for the JWKS endpoint tools verify against.

One active pair is expected; several may coexist during rotation, keyed by
kid. Private material never leaves this package — JWKS exposes only the
public parameters.
*/

var ErrNoSigningKey = errors.New("lti: no signing key")

type KeyPair struct {
	KID       string
	Private   *rsa.PrivateKey
	CreatedAt time.Time
}

type KeyStore interface {
	// Active returns the newest key pair.
	Active(ctx context.Context) (KeyPair, error)
	All(ctx context.Context) ([]KeyPair, error)
	Save(ctx context.Context, kp KeyPair) error
}

// EnsureSigningKey returns the active pair, generating and persisting an
// RSA-2048 pair on first boot.
func EnsureSigningKey(ctx context.Context, store KeyStore) (KeyPair, error) {
	kp, err := store.Active(ctx)
	if err == nil {
		return kp, nil
	}
	if !errors.Is(err, ErrNoSigningKey) {
		return KeyPair{}, err
	}
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return KeyPair{}, fmt.Errorf("rsa generate: %w", err)
	}
	kp = KeyPair{KID: makeKID(&priv.PublicKey), Private: priv, CreatedAt: time.Now()}
	if err := store.Save(ctx, kp); err != nil {
		return KeyPair{}, err
	}
	return kp, nil
}

// SignIDToken mints a compact RS256 JWS with the pair's kid in the header.
func (kp KeyPair) SignIDToken(claims jwt.MapClaims) (string, error) {
	if kp.Private == nil {
		return "", ErrNoSigningKey
	}
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	t.Header["kid"] = kp.KID
	return t.SignedString(kp.Private)
}

// makeKID derives a stable kid from the public key material.
func makeKID(pub *rsa.PublicKey) string {
	h := sha256.New()
	h.Write(pub.N.Bytes())
	h.Write([]byte{byte(pub.E >> 24), byte(pub.E >> 16), byte(pub.E >> 8), byte(pub.E)})
	return "rsa-" + hex.EncodeToString(h.Sum(nil)[:8])
}

/* --------------------------------- JWKS ----------------------------------- */

// JWKS is a JSON Web Key Set, i.e. { "keys": [ JWK, ... ] }.
type JWKS struct {
	Keys []map[string]any `json:"keys"`
}

// RSAPublicJWK builds a minimal RSA JWK map (n,e) for the given key.
func RSAPublicJWK(pub *rsa.PublicKey, kid string) map[string]any {
	if pub == nil || pub.N == nil || pub.E == 0 {
		return nil
	}
	return map[string]any{
		"kty": "RSA",
		"kid": kid,
		"alg": "RS256",
		"use": "sig",
		"n":   b64url(pub.N.Bytes()),
		"e":   b64url(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// JWKSHandler serves /.well-known/jwks.json with one entry per stored pair.
func JWKSHandler(store KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pairs, err := store.All(r.Context())
		if err != nil {
			writeErr(w, http.StatusInternalServerError, "key set unavailable")
			return
		}
		set := JWKS{Keys: []map[string]any{}}
		for _, kp := range pairs {
			if jwk := RSAPublicJWK(&kp.Private.PublicKey, kp.KID); jwk != nil {
				set.Keys = append(set.Keys, jwk)
			}
		}
		w.Header().Set("Content-Type", "application/jwk-set+json")
		w.Header().Set("Cache-Control", "public, max-age=600")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(set)
	}
}

/* ------------------------------- SQL store -------------------------------- */

type SQLKeyStore struct {
	DB *sql.DB
}

func (s *SQLKeyStore) Active(ctx context.Context) (KeyPair, error) {
	var (
		kid, privPEM string
		createdAt    int64
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT kid, private_pem, created_at FROM lti_keys ORDER BY created_at DESC LIMIT 1`).
		Scan(&kid, &privPEM, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return KeyPair{}, ErrNoSigningKey
	}
	if err != nil {
		return KeyPair{}, err
	}
	return pairFromPEM(kid, privPEM, createdAt)
}

func (s *SQLKeyStore) All(ctx context.Context) ([]KeyPair, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT kid, private_pem, created_at FROM lti_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []KeyPair
	for rows.Next() {
		var (
			kid, privPEM string
			createdAt    int64
		)
		if err := rows.Scan(&kid, &privPEM, &createdAt); err != nil {
			return nil, err
		}
		kp, err := pairFromPEM(kid, privPEM, createdAt)
		if err != nil {
			return nil, err
		}
		out = append(out, kp)
	}
	return out, rows.Err()
}

func (s *SQLKeyStore) Save(ctx context.Context, kp KeyPair) error {
	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(kp.Private),
	})
	pubDER, err := x509.MarshalPKIXPublicKey(&kp.Private.PublicKey)
	if err != nil {
		return err
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO lti_keys (kid, private_pem, public_pem, created_at) VALUES ($1,$2,$3,$4)`,
		kp.KID, string(privPEM), string(pubPEM), kp.CreatedAt.Unix())
	return err
}

func pairFromPEM(kid, privPEM string, createdAt int64) (KeyPair, error) {
	block, _ := pem.Decode([]byte(privPEM))
	if block == nil {
		return KeyPair{}, fmt.Errorf("lti: bad PEM for kid %s", kid)
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return KeyPair{}, fmt.Errorf("lti: parse key %s: %w", kid, err)
	}
	return KeyPair{KID: kid, Private: priv, CreatedAt: time.Unix(createdAt, 0)}, nil
}
