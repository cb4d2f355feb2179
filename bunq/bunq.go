// Package bunq handles installation and registration of banking-provider
// credentials: it pairs a validated access token or API key with a fresh
// keypair, registers the public key with the provider, resolves the user id,
// and persists the resulting configuration. Business actions on the provider
// API (payments, triggers) live elsewhere and consume the saved config.
package bunq

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Mode distinguishes how the installed credential was obtained.
type Mode string

const (
	ModeOAuth  Mode = "OAuth"
	ModeAPIKey Mode = "APIkey"
)

const (
	namespace = "bunq2IFTTT"
	configKey = "bunq_config"

	keyBits = 2048
)

// Config is the persisted provider configuration. Key material is stored
// PEM-encoded; one credential per installation.
type Config struct {
	AccessToken   string         `json:"access_token"`
	Mode          Mode           `json:"mode"`
	Permissions   map[string]any `json:"permissions,omitempty"`
	PrivateKeyPEM string         `json:"private_key_enc,omitempty"`
	PublicKeyPEM  string         `json:"public_key_enc,omitempty"`
	InstallToken  string         `json:"install_token,omitempty"`
	ServerKeyPEM  string         `json:"server_key_enc,omitempty"`
	UserID        string         `json:"user_id,omitempty"`
}

// Store is the subset of the credential store the installer needs.
type Store interface {
	StoreLarge(namespace, key string, doc any) error
	GetValue(namespace, key string, out any) (bool, error)
}

// Client installs credentials against the provider API.
type Client struct {
	apiBase     string
	userinfoURL string
	store       Store
	http        *http.Client
	logger      *slog.Logger
}

// NewClient constructs the installer. apiBase is the provider API root,
// userinfoURL the authority endpoint used to resolve the token's subject.
func NewClient(apiBase, userinfoURL string, store Store, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		apiBase:     strings.TrimSuffix(apiBase, "/"),
		userinfoURL: userinfoURL,
		store:       store,
		http:        httpClient,
		logger:      logger,
	}
}

// Install registers keyOrToken with the provider and returns the resulting
// configuration for the caller to save. Permissions from a previous
// installation carry over; key material is regenerated on every install.
func (c *Client) Install(ctx context.Context, keyOrToken string, allIPs bool, urlroot string, mode Mode) (Config, error) {
	old, _, err := c.RetrieveConfig()
	if err != nil {
		return Config{}, fmt.Errorf("read previous config: %w", err)
	}

	c.logger.Info("installing provider credential", "mode", mode, "allips", allIPs, "urlroot", urlroot)

	cfg := Config{
		AccessToken: keyOrToken,
		Mode:        mode,
		Permissions: old.Permissions,
	}

	if err := generateKeypair(&cfg); err != nil {
		return Config{}, fmt.Errorf("generate keypair: %w", err)
	}
	if err := c.installKey(ctx, &cfg); err != nil {
		return Config{}, fmt.Errorf("install key: %w", err)
	}
	if err := c.resolveUser(ctx, &cfg); err != nil {
		return Config{}, fmt.Errorf("resolve user: %w", err)
	}

	return cfg, nil
}

// SaveConfig persists the configuration as the single provider config record.
func (c *Client) SaveConfig(cfg Config) error {
	return c.store.StoreLarge(namespace, configKey, cfg)
}

// RetrieveConfig loads the persisted configuration; ok is false when no
// installation has happened yet.
func (c *Client) RetrieveConfig() (Config, bool, error) {
	var cfg Config
	ok, err := c.store.GetValue(namespace, configKey, &cfg)
	return cfg, ok, err
}

func generateKeypair(cfg *Config) error {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return err
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return err
	}

	cfg.PrivateKeyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}))
	cfg.PublicKeyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))
	return nil
}

// installKey registers the generated public key with the provider and
// records the returned installation token and server public key.
func (c *Client) installKey(ctx context.Context, cfg *Config) error {
	body, err := json.Marshal(map[string]string{"client_public_key": cfg.PublicKeyPEM})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/v1/installation", strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("installation failed: %s", resp.Status)
	}

	var parsed struct {
		Response []map[string]json.RawMessage `json:"Response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return err
	}

	for _, item := range parsed.Response {
		if raw, ok := item["Token"]; ok {
			var tok struct {
				Token string `json:"token"`
			}
			if err := json.Unmarshal(raw, &tok); err != nil {
				return err
			}
			cfg.InstallToken = tok.Token
		}
		if raw, ok := item["ServerPublicKey"]; ok {
			var srv struct {
				ServerPublicKey string `json:"server_public_key"`
			}
			if err := json.Unmarshal(raw, &srv); err != nil {
				return err
			}
			cfg.ServerKeyPEM = srv.ServerPublicKey
		}
	}
	if cfg.InstallToken == "" || cfg.ServerKeyPEM == "" {
		return fmt.Errorf("installation response missing token or server key")
	}
	return nil
}

// resolveUser fills in the user id behind the installed credential from the
// authority's userinfo endpoint.
func (c *Client) resolveUser(ctx context.Context, cfg *Config) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userinfoURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+cfg.AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("userinfo failed: %s", resp.Status)
	}

	var info struct {
		Sub string `json:"sub"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return err
	}
	if info.Sub == "" {
		return fmt.Errorf("userinfo response missing subject")
	}
	cfg.UserID = info.Sub
	return nil
}
