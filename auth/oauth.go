package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/shaunaa126/bunq2ifttt/bunq"
)

const (
	// Credential material lengths, fixed by the provider.
	clientIDLength     = 32
	clientSecretLength = 64
	apiKeyLength       = 64
	authCodeLength     = 45

	compoundTokenCount = 6
)

// A compound client id/secret submission is split on the delimiters the
// provider's key export uses between fields.
var submissionSplit = regexp.MustCompile(`[:, \r\n\t]+`)

// PendingRequest stages client credentials awaiting the provider's redirect
// callback. One pending request exists at a time, under a fixed storage key.
type PendingRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	AllIPs       bool   `json:"allips"`
}

// Grant is the persisted result of a completed authorization. Timestamp is
// grant issuance in epoch seconds, kept for expiry display; Triggers resets
// to empty on every (re-)grant.
type Grant struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	AllIPs       bool     `json:"allips"`
	Timestamp    int64    `json:"timestamp"`
	Triggers     []string `json:"triggers"`
}

// Installer is the banking-provider-facing collaborator that registers a
// validated token or API key and persists the resulting configuration.
type Installer interface {
	Install(ctx context.Context, keyOrToken string, allIPs bool, urlroot string, mode bunq.Mode) (bunq.Config, error)
	SaveConfig(cfg bunq.Config) error
}

// OAuthConfig holds the environment-specific endpoints and parameters of the
// authorization server. AuthorizeURL and TokenURL may be left empty when
// Issuer supports OIDC discovery.
type OAuthConfig struct {
	Issuer       string
	AuthorizeURL string
	TokenURL     string
	RedirectURL  string
	Audience     string
	Scopes       []string
	// Connection is appended on reauthorization only, matching the
	// provider's renewal flow.
	Connection string
	HTTPClient *http.Client
}

// Submission is the outcome of a credential submission.
type Submission struct {
	Mode bunq.Mode
	// AuthorizeURL and RedirectURL are set for the OAuth form; the caller
	// must ensure RedirectURL is registered with the provider out of band.
	AuthorizeURL string
	RedirectURL  string
}

// OAuthClient drives the three-phase authorization-code flow: credential
// submission, redirect callback, and credential-less reauthorization.
type OAuthClient struct {
	cfg       OAuthConfig
	store     Store
	verifier  *Verifier
	installer Installer
	logger    *slog.Logger
	http      *http.Client
	now       func() time.Time
}

// NewOAuthClient constructs the client, resolving the authorize and token
// endpoints through OIDC discovery when they are not pinned in config.
func NewOAuthClient(ctx context.Context, cfg OAuthConfig, store Store, verifier *Verifier, installer Installer, logger *slog.Logger) (*OAuthClient, error) {
	if cfg.AuthorizeURL == "" || cfg.TokenURL == "" {
		if cfg.Issuer == "" {
			return nil, fmt.Errorf("authorize/token URLs or issuer required")
		}
		provider, err := oidc.NewProvider(ctx, cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("%w: discover %s: %v", ErrUpstream, cfg.Issuer, err)
		}
		ep := provider.Endpoint()
		if cfg.AuthorizeURL == "" {
			cfg.AuthorizeURL = ep.AuthURL
		}
		if cfg.TokenURL == "" {
			cfg.TokenURL = ep.TokenURL
		}
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &OAuthClient{
		cfg:       cfg,
		store:     store,
		verifier:  verifier,
		installer: installer,
		logger:    logger,
		http:      client,
		now:       time.Now,
	}, nil
}

// Submit handles a credential submission: either a 6-field compound string
// carrying a client id and secret, or a single static API key. Exactly one
// form must match; anything else is invalid input.
func (c *OAuthClient) Submit(ctx context.Context, key string, allIPs bool, urlroot string) (*Submission, error) {
	tokens := submissionSplit.Split(strings.TrimSpace(key), -1)

	switch {
	case len(tokens) == compoundTokenCount &&
		len(tokens[2]) == clientIDLength && len(tokens[5]) == clientSecretLength:
		pending := PendingRequest{
			ClientID:     tokens[2],
			ClientSecret: tokens[5],
			AllIPs:       allIPs,
		}
		if err := c.store.StoreLarge(BunqNamespace, pendingOAuthKey, pending); err != nil {
			return nil, fmt.Errorf("stage pending request: %w", err)
		}
		return &Submission{
			Mode:         bunq.ModeOAuth,
			AuthorizeURL: c.authorizeURL(pending.ClientID, false),
			RedirectURL:  c.cfg.RedirectURL,
		}, nil

	case len(tokens) == 1 && len(tokens[0]) == apiKeyLength:
		cfg, err := c.installer.Install(ctx, tokens[0], allIPs, urlroot, bunq.ModeAPIKey)
		if err != nil {
			return nil, fmt.Errorf("%w: install API key: %v", ErrUpstream, err)
		}
		if err := c.installer.SaveConfig(cfg); err != nil {
			return nil, fmt.Errorf("save bunq config: %w", err)
		}
		return &Submission{Mode: bunq.ModeAPIKey}, nil
	}

	return nil, fmt.Errorf("%w: no valid API key or OAuth client id/secret found", ErrInvalidInput)
}

// Callback exchanges the provider's authorization code for an access token,
// promotes the pending request into a grant, and installs the token after
// independently verifying it against the JWKS. The verification guards
// against a misissued or malformed token being installed even when the token
// endpoint reported success.
func (c *OAuthClient) Callback(ctx context.Context, code, urlroot string) error {
	if len(code) != authCodeLength {
		return fmt.Errorf("%w: invalid code", ErrInvalidInput)
	}

	var pending PendingRequest
	ok, err := c.store.GetValue(BunqNamespace, pendingOAuthKey, &pending)
	if err != nil {
		return fmt.Errorf("read pending request: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: no pending authorization request", ErrInvalidInput)
	}

	conf := &oauth2.Config{
		ClientID:     pending.ClientID,
		ClientSecret: pending.ClientSecret,
		RedirectURL:  c.cfg.RedirectURL,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	tok, err := conf.Exchange(context.WithValue(ctx, oauth2.HTTPClient, c.http), code)
	if err != nil {
		return fmt.Errorf("%w: token exchange: %v", ErrUpstream, err)
	}

	grant := Grant{
		ClientID:     pending.ClientID,
		ClientSecret: pending.ClientSecret,
		AllIPs:       pending.AllIPs,
		Timestamp:    c.now().Unix(),
		Triggers:     []string{},
	}
	if err := c.store.StoreLarge(BunqNamespace, grantOAuthKey, grant); err != nil {
		return fmt.Errorf("promote grant: %w", err)
	}

	if _, err := c.verifier.Verify(ctx, tok.AccessToken); err != nil {
		c.logger.Warn("exchanged token failed validation", "error", err)
		return err
	}

	cfg, err := c.installer.Install(ctx, tok.AccessToken, pending.AllIPs, urlroot, bunq.ModeOAuth)
	if err != nil {
		return fmt.Errorf("%w: install token: %v", ErrUpstream, err)
	}
	if err := c.installer.SaveConfig(cfg); err != nil {
		return fmt.Errorf("save bunq config: %w", err)
	}
	return nil
}

// Reauthorize re-stages the existing grant's client credentials as a new
// pending request and returns a fresh authorization URL, so the
// administrator can renew without resubmitting credentials.
func (c *OAuthClient) Reauthorize() (string, error) {
	var grant Grant
	ok, err := c.store.GetValue(BunqNamespace, grantOAuthKey, &grant)
	if err != nil {
		return "", fmt.Errorf("read grant: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("%w: no existing authorization to renew", ErrInvalidInput)
	}

	pending := PendingRequest{
		ClientID:     grant.ClientID,
		ClientSecret: grant.ClientSecret,
		AllIPs:       grant.AllIPs,
	}
	if err := c.store.StoreLarge(BunqNamespace, pendingOAuthKey, pending); err != nil {
		return "", fmt.Errorf("stage pending request: %w", err)
	}

	return c.authorizeURL(grant.ClientID, true), nil
}

// CurrentGrant returns the persisted grant, if any.
func (c *OAuthClient) CurrentGrant() (*Grant, bool, error) {
	var grant Grant
	ok, err := c.store.GetValue(BunqNamespace, grantOAuthKey, &grant)
	if err != nil || !ok {
		return nil, false, err
	}
	return &grant, true, nil
}

func (c *OAuthClient) authorizeURL(clientID string, reauthorize bool) string {
	conf := &oauth2.Config{
		ClientID:    clientID,
		RedirectURL: c.cfg.RedirectURL,
		Scopes:      c.cfg.Scopes,
		Endpoint:    oauth2.Endpoint{AuthURL: c.cfg.AuthorizeURL},
	}

	var opts []oauth2.AuthCodeOption
	if c.cfg.Audience != "" {
		opts = append(opts, oauth2.SetAuthURLParam("audience", c.cfg.Audience))
	}
	if reauthorize && c.cfg.Connection != "" {
		opts = append(opts, oauth2.SetAuthURLParam("connection", c.cfg.Connection))
	}
	return conf.AuthCodeURL("", opts...)
}
