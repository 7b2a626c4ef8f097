package lti

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"crypto/rsa"
)

// RemoteKeySet fetches and caches a platform's public keys from its key-set
// (JWKS) URL. Entries are refreshed after TTL; a launch storm hits the cache,
// not the platform.
type RemoteKeySet struct {
	HTTP *http.Client
	TTL  time.Duration

	mu    sync.Mutex
	cache map[string]cachedJWKS
	now   func() time.Time
}

type cachedJWKS struct {
	set     JWKS
	fetched time.Time
}

func NewRemoteKeySet() *RemoteKeySet {
	return &RemoteKeySet{
		HTTP:  &http.Client{Timeout: 10 * time.Second},
		TTL:   10 * time.Minute,
		cache: make(map[string]cachedJWKS),
		now:   time.Now,
	}
}

// KeysFor returns the RSA public keys published at keysetURL, optionally
// narrowed to a kid. When kid is set and absent from a cached set, the set is
// refetched once — rotation on the platform side shows up as a new kid.
func (r *RemoteKeySet) KeysFor(ctx context.Context, keysetURL, kid string) ([]*rsa.PublicKey, error) {
	set, err := r.get(ctx, keysetURL, false)
	if err != nil {
		return nil, err
	}
	keys, err := rsaKeysFromJWKS(set, kid)
	if err != nil && kid != "" {
		if set, err2 := r.get(ctx, keysetURL, true); err2 == nil {
			return rsaKeysFromJWKS(set, kid)
		}
	}
	return keys, err
}

func (r *RemoteKeySet) get(ctx context.Context, keysetURL string, force bool) (JWKS, error) {
	r.mu.Lock()
	if c, ok := r.cache[keysetURL]; ok && !force && r.now().Sub(c.fetched) < r.TTL {
		r.mu.Unlock()
		return c.set, nil
	}
	r.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, keysetURL, nil)
	if err != nil {
		return JWKS{}, err
	}
	resp, err := r.HTTP.Do(req)
	if err != nil {
		return JWKS{}, fmt.Errorf("lti: fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return JWKS{}, fmt.Errorf("lti: fetch jwks: %s", resp.Status)
	}
	var set JWKS
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return JWKS{}, fmt.Errorf("lti: decode jwks: %w", err)
	}

	r.mu.Lock()
	r.cache[keysetURL] = cachedJWKS{set: set, fetched: r.now()}
	r.mu.Unlock()
	return set, nil
}

func rsaKeysFromJWKS(set JWKS, kid string) ([]*rsa.PublicKey, error) {
	var out []*rsa.PublicKey
	for _, k := range set.Keys {
		if k == nil {
			continue
		}
		if t, _ := k["kty"].(string); t != "RSA" {
			continue
		}
		if kid != "" {
			if got, _ := k["kid"].(string); got != kid {
				continue
			}
		}
		nStr, _ := k["n"].(string)
		eStr, _ := k["e"].(string)
		if nStr == "" || eStr == "" {
			continue
		}
		nb, err := base64.RawURLEncoding.DecodeString(nStr)
		if err != nil {
			continue
		}
		eb, err := base64.RawURLEncoding.DecodeString(eStr)
		if err != nil {
			continue
		}
		e := 0
		for _, b := range eb {
			e = (e << 8) | int(b)
		}
		if e == 0 {
			continue
		}
		out = append(out, &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e})
	}
	if len(out) == 0 {
		if kid != "" {
			return nil, fmt.Errorf("lti: no RSA key with kid %q", kid)
		}
		return nil, errors.New("lti: no RSA keys in platform JWKS")
	}
	return out, nil
}
