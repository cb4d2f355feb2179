package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shaunaa126/bunq2ifttt/auth"
	"github.com/shaunaa126/bunq2ifttt/bunq"
	"github.com/shaunaa126/bunq2ifttt/storage"
)

// newTestApp wires an App against a throwaway store and pinned authority
// endpoints, so no discovery or network happens at construction.
func newTestApp(t *testing.T, mutate func(*Config)) *App {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Server.DevMode = true
	cfg.Server.PublicURL = "https://bridge.example.net"
	cfg.Authority.Domain = "authority.test"
	cfg.Authority.Audience = "https://bridge.example.net/ifttt/v1/"
	cfg.Authority.AuthorizeURL = "https://authority.test/authorize"
	cfg.Authority.TokenURL = "https://authority.test/oauth/token"
	cfg.applyDerived()
	if mutate != nil {
		mutate(&cfg)
	}

	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	httpClient := &http.Client{Timeout: 5 * time.Second}

	sessions := auth.NewSessions(store)
	verifier := auth.NewVerifier(auth.VerifierConfig{
		Domain:     cfg.Authority.Domain,
		Audience:   cfg.Authority.Audience,
		Issuer:     cfg.Authority.Issuer,
		Algorithms: cfg.Authority.Algorithms,
		HTTPClient: httpClient,
	})
	installer := bunq.NewClient(cfg.Bunq.APIBase, cfg.Authority.UserinfoURL, store, httpClient, logger)

	oauthClient, err := auth.NewOAuthClient(context.Background(), auth.OAuthConfig{
		Issuer:       cfg.Authority.Issuer,
		AuthorizeURL: cfg.Authority.AuthorizeURL,
		TokenURL:     cfg.Authority.TokenURL,
		RedirectURL:  cfg.Authority.RedirectURL,
		Audience:     cfg.Authority.Audience,
		Scopes:       cfg.Authority.Scopes,
		HTTPClient:   httpClient,
	}, store, verifier, installer, logger)
	require.NoError(t, err)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Sessions: sessions,
		Password: auth.NewPassword(store, sessions),
		Verifier: verifier,
		OAuth:    oauthClient,
		Bunq:     installer,
		http:     httpClient,
	}
}

// login bootstraps the password and returns the session cookie.
func login(t *testing.T, handler http.Handler) *http.Cookie {
	t.Helper()

	req := postForm("/login", url.Values{"password": {"test-password"}})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusSeeOther, rec.Code)

	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func postForm(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}
