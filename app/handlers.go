package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/shaunaa126/bunq2ifttt/auth"
	"github.com/shaunaa126/bunq2ifttt/bunq"
	"github.com/shaunaa126/bunq2ifttt/storage"
)

const (
	sessionCookieName = "session"

	serviceKeyLength = 64
)

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config   Config
	Logger   *slog.Logger
	Store    *storage.Store
	Sessions *auth.Sessions
	Password *auth.Password
	Verifier *auth.Verifier
	OAuth    *auth.OAuthClient
	Bunq     *bunq.Client

	http *http.Client
}

// NewApp wires together the application state from configuration. The
// context bounds OIDC endpoint discovery at startup.
func NewApp(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	store, err := storage.Open(filepath.Join(cfg.Server.DataPath, "bunq2ifttt.db"))
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}

	sessions := auth.NewSessions(store)
	password := auth.NewPassword(store, sessions)

	verifier := auth.NewVerifier(auth.VerifierConfig{
		Domain:     cfg.Authority.Domain,
		Audience:   cfg.Authority.Audience,
		Issuer:     cfg.Authority.Issuer,
		Algorithms: cfg.Authority.Algorithms,
		HTTPClient: httpClient,
	})

	installer := bunq.NewClient(cfg.Bunq.APIBase, cfg.Authority.UserinfoURL, store, httpClient, logger)

	oauthClient, err := auth.NewOAuthClient(ctx, auth.OAuthConfig{
		Issuer:       cfg.Authority.Issuer,
		AuthorizeURL: cfg.Authority.AuthorizeURL,
		TokenURL:     cfg.Authority.TokenURL,
		RedirectURL:  cfg.Authority.RedirectURL,
		Audience:     cfg.Authority.Audience,
		Scopes:       cfg.Authority.Scopes,
		Connection:   cfg.Authority.Connection,
		HTTPClient:   httpClient,
	}, store, verifier, installer, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &App{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Sessions: sessions,
		Password: password,
		Verifier: verifier,
		OAuth:    oauthClient,
		Bunq:     installer,
		http:     httpClient,
	}, nil
}

// Close releases the credential store.
func (a *App) Close() error {
	return a.Store.Close()
}

// handleHome reports setup state. Without a valid session only the login
// prompt state is revealed.
func (a *App) handleHome(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || !a.Sessions.Validate(cookie.Value) {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}

	_, keySet, err := a.Store.Retrieve(auth.ConfigNamespace, auth.ServiceKeyName)
	if err != nil {
		a.Logger.Error("service key lookup failed", "error", err)
	}

	state := map[string]any{
		"authenticated": true,
		"ifttt_key_set": keySet,
		"bunq_key_mode": "",
		"oauth_expiry":  nil,
	}

	if cfg, ok, err := a.Bunq.RetrieveConfig(); err != nil {
		a.Logger.Error("bunq config lookup failed", "error", err)
	} else if ok {
		state["bunq_key_mode"] = string(cfg.Mode)
		if grant, haveGrant, _ := a.OAuth.CurrentGrant(); haveGrant && cfg.Mode != bunq.ModeAPIKey {
			// OAuth grants expire after 90 days; surface the deadline for
			// the presentation layer.
			state["oauth_expiry"] = time.Unix(grant.Timestamp, 0).Add(90 * 24 * time.Hour).Format(time.RFC3339)
		}
	}

	writeJSON(w, http.StatusOK, state)
}

// handleLogin verifies the submitted password and binds a fresh session
// token to the session cookie.
func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request")
		return
	}

	token, err := a.Password.Authenticate(r.PostFormValue("password"))
	if err != nil {
		a.Logger.Warn("login failed", "error", err)
		writeMessage(w, http.StatusUnauthorized, "Invalid password")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   !a.Config.Server.DevMode,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleSetServiceKey stores the automation platform's 64-character service
// key.
func (a *App) handleSetServiceKey(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request")
		return
	}

	key := r.PostFormValue("iftttkey")
	if len(key) != serviceKeyLength {
		a.Logger.Warn("service key rejected", "length", len(key))
		writeMessage(w, http.StatusBadRequest, "Invalid key")
		return
	}

	if err := a.Store.Store(auth.ConfigNamespace, auth.ServiceKeyName, key); err != nil {
		a.Logger.Error("service key store failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, "An unknown error occurred, see the logs")
		return
	}
	writeMessage(w, http.StatusOK, "IFTTT service key successfully set")
}

// handleSubmitBunqKey accepts either an OAuth client id/secret compound
// string or a static API key.
func (a *App) handleSubmitBunqKey(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request")
		return
	}

	allIPs := r.PostFormValue("allips") == "on"

	result, err := a.OAuth.Submit(r.Context(), r.PostFormValue("bunqkey"), allIPs, a.urlroot(r))
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeMessage(w, http.StatusBadRequest, "No valid API key or OAuth client id/secret found")
		return
	case errors.Is(err, auth.ErrUpstream):
		a.Logger.Error("API key installation failed", "error", err)
		writeMessage(w, http.StatusBadGateway, "An error occurred while installing the API key, see the logs")
		return
	case err != nil:
		a.Logger.Error("credential submission failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, "An unknown error occurred, see the logs")
		return
	}

	if result.Mode == bunq.ModeAPIKey {
		writeMessage(w, http.StatusOK, "API key successfully installed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":       "Make sure the redirect URL is registered with the provider, then follow the authorize URL",
		"redirect_url":  result.RedirectURL,
		"authorize_url": result.AuthorizeURL,
	})
}

// handleReauthorize renews the OAuth grant using the stored client
// credentials.
func (a *App) handleReauthorize(w http.ResponseWriter, r *http.Request) {
	url, err := a.OAuth.Reauthorize()
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeMessage(w, http.StatusBadRequest, "No existing authorization to renew")
		return
	case err != nil:
		a.Logger.Error("reauthorize failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, "An unknown error occurred, see the logs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":       "Make sure the redirect URL is registered with the provider, then follow the authorize URL",
		"redirect_url":  a.Config.Authority.RedirectURL,
		"authorize_url": url,
	})
}

// handleOAuthCallback is the provider's redirect target: it validates and
// exchanges the authorization code and installs the verified token.
func (a *App) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")

	err := a.OAuth.Callback(r.Context(), code, a.urlroot(r))
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		a.Logger.Warn("callback rejected", "error", err)
		writeMessage(w, http.StatusBadRequest, "Invalid code")
		return
	case errors.Is(err, auth.ErrVerification):
		a.Logger.Error("exchanged token failed validation", "error", err)
		writeMessage(w, http.StatusBadGateway, "Failed validating token")
		return
	case errors.Is(err, auth.ErrUpstream):
		a.Logger.Error("token exchange failed", "error", err)
		writeMessage(w, http.StatusBadGateway, "An error occurred contacting the provider, see the logs")
		return
	case err != nil:
		a.Logger.Error("callback failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, "An unknown error occurred, see the logs")
		return
	}

	writeMessage(w, http.StatusOK, "OAuth successfully setup")
}

// urlroot returns the externally visible root URL for provider-side
// registrations.
func (a *App) urlroot(r *http.Request) string {
	if a.Config.Server.PublicURL != "" {
		return strings.TrimSuffix(a.Config.Server.PublicURL, "/")
	}
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
