package auth

import "errors"

// Error taxonomy for the authentication core. Handlers classify failures
// with errors.Is and keep user-visible responses generic; wrapped detail is
// for server-side logs only.
var (
	// ErrInvalidInput marks malformed or wrong-length credential material.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAuthFailure marks a wrong password or invalid session.
	ErrAuthFailure = errors.New("authentication failed")

	// ErrVerification marks token, signature, or claim problems.
	ErrVerification = errors.New("verification failed")

	// ErrUpstream marks token-endpoint or JWKS-endpoint failures.
	ErrUpstream = errors.New("upstream failure")
)
