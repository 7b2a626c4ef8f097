package lti

import (
	"strings"
	"testing"
)

func launchParams() map[string]string {
	return map[string]string{
		"lti_message_type":       "basic-lti-launch-request",
		"lti_version":            "LTI-1p0",
		"resource_link_id":       "course-7-tool-3",
		"user_id":                "42",
		"roles":                  "Learner",
		"oauth_consumer_key":     "key-1",
		"oauth_nonce":            "abc123",
		"oauth_timestamp":        "1700000000",
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_version":          "1.0",
	}
}

func TestBuildBaseStringDeterministic(t *testing.T) {
	const launchURL = "https://lms.example.com/lti/launch/1p1"
	a := launchParams()

	// Same pairs inserted in a different order must canonicalize identically.
	b := map[string]string{}
	keys := []string{"oauth_version", "user_id", "roles", "oauth_timestamp",
		"lti_version", "oauth_signature_method", "resource_link_id",
		"oauth_nonce", "oauth_consumer_key", "lti_message_type"}
	for _, k := range keys {
		b[k] = a[k]
	}

	baseA := BuildBaseString("post", launchURL, a)
	baseB := BuildBaseString("POST", launchURL, b)
	if baseA != baseB {
		t.Fatalf("base string not deterministic:\n%s\n%s", baseA, baseB)
	}
	if !strings.HasPrefix(baseA, "POST&") {
		t.Fatalf("method not uppercased: %s", baseA)
	}
}

func TestBuildBaseStringExcludesSignature(t *testing.T) {
	p := launchParams()
	without := BuildBaseString("POST", "https://x.test/launch", p)
	p["oauth_signature"] = "bogus"
	with := BuildBaseString("POST", "https://x.test/launch", p)
	if without != with {
		t.Fatal("oauth_signature leaked into the base string")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	const (
		launchURL = "https://lms.example.com/lti/launch/1p1"
		secret    = "s3cret"
	)
	signed := Sign("POST", launchURL, map[string]string{
		"user_id": "42",
		"roles":   "Instructor",
	}, "key-1", secret)

	for _, k := range []string{"oauth_consumer_key", "oauth_nonce", "oauth_timestamp", "oauth_signature"} {
		if signed[k] == "" {
			t.Fatalf("Sign did not set %s", k)
		}
	}
	if !Verify("POST", launchURL, signed, secret) {
		t.Fatal("signature did not verify with the signing secret")
	}
	if Verify("POST", launchURL, signed, "wrong-secret") {
		t.Fatal("signature verified with the wrong secret")
	}

	signed["user_id"] = "43"
	if Verify("POST", launchURL, signed, secret) {
		t.Fatal("signature verified after parameter tampering")
	}
}

func TestVerifyRejectsMissingSignature(t *testing.T) {
	p := launchParams()
	delete(p, "oauth_signature")
	if Verify("POST", "https://x.test/launch", p, "s3cret") {
		t.Fatal("verified a request with no oauth_signature")
	}
}

func TestPercentEncode(t *testing.T) {
	cases := map[string]string{
		"abcXYZ019-._~": "abcXYZ019-._~",
		"a b":           "a%20b",
		"a+b":           "a%2Bb",
		"häst":          "h%C3%A4st",
		"a=b&c":         "a%3Db%26c",
	}
	for in, want := range cases {
		if got := percentEncode(in); got != want {
			t.Errorf("percentEncode(%q) = %q, want %q", in, got, want)
		}
	}
}
