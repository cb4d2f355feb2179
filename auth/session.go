package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// tokenEntropy is the number of random bytes behind a session token.
const tokenEntropy = 32

// Sessions issues and validates the single administrator session token.
// Exactly one token is valid at a time: issuing a new one supersedes the
// previous, logging out any other session. Concurrent logins race to
// last-writer-wins, which is acceptable under the single-admin assumption.
type Sessions struct {
	store Store
}

// NewSessions constructs the session token issuer.
func NewSessions(store Store) *Sessions {
	return &Sessions{store: store}
}

// Issue persists a freshly generated token as the sole valid session token
// and returns it for the caller to bind to a cookie.
func (s *Sessions) Issue() (string, error) {
	token, err := randomToken(tokenEntropy)
	if err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	if err := s.store.Store(ConfigNamespace, sessionTokenKey, token); err != nil {
		return "", fmt.Errorf("persist session token: %w", err)
	}
	return token, nil
}

// Validate reports whether presented matches the currently stored token.
// An absent stored token, an empty presented value, or any mismatch is
// invalid. Validity has no expiry window; it lasts until the next Issue.
func (s *Sessions) Validate(presented string) bool {
	if presented == "" {
		return false
	}
	stored, ok, err := s.store.Retrieve(ConfigNamespace, sessionTokenKey)
	if err != nil || !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}

// randomToken returns a URL-safe string carrying n bytes of entropy.
func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
