package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// Password authenticates the administrator by password and mints a session
// on success. No credential exists until the first login: the first password
// submitted by anyone becomes the permanent password (bootstrap-on-first-use),
// so deployments must complete setup promptly after going live. There is no
// rotation flow and no lockout or rate limiting.
type Password struct {
	store    Store
	sessions *Sessions
}

// NewPassword constructs the password authenticator.
func NewPassword(store Store, sessions *Sessions) *Password {
	return &Password{store: store, sessions: sessions}
}

// Authenticate verifies submitted against the stored salted hash, creating
// the credential if none exists yet. On success it issues a new session
// token, superseding any previous session.
func (p *Password) Authenticate(submitted string) (string, error) {
	storedHash, ok, err := p.store.Retrieve(ConfigNamespace, passwordHashKey)
	if err != nil {
		return "", fmt.Errorf("%w: read password hash: %v", ErrAuthFailure, err)
	}

	if ok {
		salt, saltOK, err := p.store.Retrieve(ConfigNamespace, passwordSaltKey)
		if err != nil || !saltOK {
			// A hash with no paired salt is an inconsistent state that
			// must not occur; treat it as a plain failure.
			return "", fmt.Errorf("%w: password salt missing", ErrAuthFailure)
		}
		if subtle.ConstantTimeCompare([]byte(hashPassword(submitted, salt)), []byte(storedHash)) != 1 {
			return "", fmt.Errorf("%w: invalid password", ErrAuthFailure)
		}
	} else {
		if err := p.bootstrap(submitted); err != nil {
			return "", fmt.Errorf("%w: bootstrap password: %v", ErrAuthFailure, err)
		}
	}

	token, err := p.sessions.Issue()
	if err != nil {
		return "", fmt.Errorf("%w: issue session: %v", ErrAuthFailure, err)
	}
	return token, nil
}

// bootstrap stores the first submitted password as the permanent credential.
// The salt is persisted before the hash so a crash between the two writes
// never leaves a hash without its pair.
func (p *Password) bootstrap(submitted string) error {
	salt, err := randomToken(tokenEntropy)
	if err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	if err := p.store.Store(ConfigNamespace, passwordSaltKey, salt); err != nil {
		return fmt.Errorf("persist salt: %w", err)
	}
	if err := p.store.Store(ConfigNamespace, passwordHashKey, hashPassword(submitted, salt)); err != nil {
		return fmt.Errorf("persist hash: %w", err)
	}
	return nil
}

func hashPassword(password, salt string) string {
	sum := sha256.Sum256([]byte(password + salt))
	return base64.StdEncoding.EncodeToString(sum[:])
}
