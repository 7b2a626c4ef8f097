package lti

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"time"
)

/*
OAuth 1.0a HMAC-SHA1 request signing for LTI 1.1 (RFC 5849 subset).

LTI 1.1 launches and Basic Outcomes callbacks are form posts signed over a
canonical base string:

    UPPERCASE(method) & enc(url) & enc(k1=v1&k2=v2...)

where the parameter pairs are percent-encoded, sorted by key and exclude
oauth_signature. The signing key is the consumer secret followed by "&"
(no token secret in LTI).
*/

const (
	oauthSignatureMethod = "HMAC-SHA1"
	oauthVersion         = "1.0"
)

// BuildBaseString produces the canonical signature base string. It is
// deterministic under parameter-map reordering.
func BuildBaseString(method, rawurl string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "oauth_signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(percentEncode(k))
		sb.WriteByte('=')
		sb.WriteString(percentEncode(params[k]))
	}
	return strings.ToUpper(method) + "&" + percentEncode(rawurl) + "&" + percentEncode(sb.String())
}

// SignBaseString computes base64(HMAC-SHA1(base, secret+"&")).
func SignBaseString(base, secret string) string {
	mac := hmac.New(sha1.New, []byte(secret+"&"))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Sign returns a copy of params with the oauth_* protocol parameters and a
// fresh signature attached, ready for a form post. Every call uses a new
// random nonce and the current Unix timestamp.
func Sign(method, rawurl string, params map[string]string, consumerKey, secret string) map[string]string {
	out := make(map[string]string, len(params)+6)
	for k, v := range params {
		out[k] = v
	}
	out["oauth_consumer_key"] = consumerKey
	out["oauth_nonce"] = randHex(16)
	out["oauth_timestamp"] = fmt.Sprintf("%d", time.Now().Unix())
	out["oauth_signature_method"] = oauthSignatureMethod
	out["oauth_version"] = oauthVersion
	out["oauth_signature"] = SignBaseString(BuildBaseString(method, rawurl, out), secret)
	return out
}

// Verify recomputes the signature over the inbound parameter set and compares
// it byte-for-byte against the supplied oauth_signature.
func Verify(method, rawurl string, params map[string]string, secret string) bool {
	supplied := params["oauth_signature"]
	if supplied == "" {
		return false
	}
	want := SignBaseString(BuildBaseString(method, rawurl, params), secret)
	return subtle.ConstantTimeCompare([]byte(want), []byte(supplied)) == 1
}

// percentEncode implements RFC 3986 encoding as required by RFC 5849 §3.6
// (space is %20, unreserved characters pass through).
func percentEncode(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			sb.WriteByte(c)
		default:
			sb.WriteString(fmt.Sprintf("%%%02X", c))
		}
	}
	return sb.String()
}
