package app

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/shaunaa126/bunq2ifttt/auth"
)

// serviceKeyHeader carries the automation platform's static key.
const serviceKeyHeader = "IFTTT-Service-Key"

type errorPayload struct {
	Errors []errorMessage `json:"errors"`
}

type errorMessage struct {
	Message string `json:"message"`
}

// unauthorized writes the platform's error payload shape with a 401.
func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(errorPayload{Errors: []errorMessage{{Message: message}}})
}

// RequireServiceKey gates a route on the static service key header. The
// stored key is compared in constant time; missing header, missing stored
// key, and any mismatch all fail closed.
func (a *App) RequireServiceKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := r.Header.Get(serviceKeyHeader)
		if presented == "" {
			unauthorized(w, "Missing IFTTT key")
			return
		}

		stored, ok, err := a.Store.Retrieve(auth.ConfigNamespace, auth.ServiceKeyName)
		if err != nil {
			a.Logger.Error("service key lookup failed", "error", err)
			unauthorized(w, "Invalid IFTTT key")
			return
		}
		if !ok || len(stored) != len(presented) ||
			subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) != 1 {
			unauthorized(w, "Invalid IFTTT key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireBearer gates a route on a verified bearer token. The Authorization
// header must be a two-part "Bearer <token>" value; verification failures
// are reported generically, detail goes to the log.
func (a *App) RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			unauthorized(w, "Missing access token header")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			unauthorized(w, "Error in verifying access token")
			return
		}

		claims, err := a.Verifier.Verify(r.Context(), parts[1])
		if err != nil {
			a.Logger.Warn("access token rejected", "error", err)
			unauthorized(w, "Error in verifying access token")
			return
		}

		r = r.WithContext(context.WithValue(r.Context(), claimsKey, claims))
		next.ServeHTTP(w, r)
	})
}

// requireSession gates administrative routes on the session cookie.
func (a *App) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || !a.Sessions.Validate(cookie.Value) {
			writeMessage(w, http.StatusUnauthorized, "Invalid request: session cookie not set or not valid")
			return
		}
		next.ServeHTTP(w, r)
	})
}
