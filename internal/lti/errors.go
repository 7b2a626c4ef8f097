package lti

import "errors"

// Reject reasons for the launch and outcome flows. Handlers map these to
// HTTP statuses; messages sent to the remote party stay generic so the
// endpoint cannot be used as a signing oracle.
var (
	ErrRegistrationNotFound   = errors.New("lti: registration not found")
	ErrReplayOrInvalidState   = errors.New("lti: replay or invalid state")
	ErrSignatureInvalid       = errors.New("lti: signature invalid")
	ErrMissingOAuthParams     = errors.New("lti: missing oauth parameters")
	ErrMalformedSourcedID     = errors.New("lti: malformed sourced id")
	ErrUpstreamCallbackFailed = errors.New("lti: upstream callback failed")
)
