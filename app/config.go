package app

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config captures the full application configuration loaded from YAML and
// environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Authority AuthorityConfig `yaml:"authority"`
	Bunq      BunqConfig      `yaml:"bunq"`
}

// ServerConfig controls listener, TLS, and storage concerns.
type ServerConfig struct {
	PublicURL  string    `yaml:"public_url" env:"BUNQ2IFTTT_PUBLIC_URL"`
	ListenAddr string    `yaml:"listen_addr" env:"BUNQ2IFTTT_LISTEN_ADDR"`
	DevMode    bool      `yaml:"dev_mode" env:"BUNQ2IFTTT_DEV_MODE"`
	DataPath   string    `yaml:"data_path" env:"BUNQ2IFTTT_DATA_PATH"`
	TLS        TLSConfig `yaml:"tls"`
}

// TLSConfig defines autocert behaviour for non-dev serving.
type TLSConfig struct {
	Domains []string `yaml:"domains" env:"BUNQ2IFTTT_TLS_DOMAINS"`
	Email   string   `yaml:"email" env:"BUNQ2IFTTT_TLS_EMAIL"`
}

// AuthorityConfig describes the identity/authorization server. The
// environment variable names match the original deployment's .env file.
type AuthorityConfig struct {
	Domain       string   `yaml:"domain" env:"AUTH0_DOMAIN"`
	Audience     string   `yaml:"audience" env:"AUTH0_AUDIENCE"`
	Issuer       string   `yaml:"issuer" env:"AUTH0_ISSUER"`
	Algorithms   []string `yaml:"algorithms" env:"AUTH0_ALGORITHMS"`
	UserinfoURL  string   `yaml:"userinfo_url" env:"AUTH0_USERINFO"`
	AuthorizeURL string   `yaml:"authorize_url" env:"AUTH0_AUTHORIZE_URL"`
	TokenURL     string   `yaml:"token_url" env:"AUTH0_TOKEN_URL"`
	RedirectURL  string   `yaml:"redirect_url" env:"BUNQ2IFTTT_REDIRECT_URL"`
	Scopes       []string `yaml:"scopes"`
	Connection   string   `yaml:"connection"`
}

// BunqConfig locates the banking provider API.
type BunqConfig struct {
	APIBase string `yaml:"api_base" env:"BUNQ_API_BASE"`
}

// DefaultConfig returns the baseline configuration before file and
// environment merging.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			DataPath:   "./data",
		},
		Authority: AuthorityConfig{
			Algorithms: []string{"RS256"},
			Scopes:     []string{"openid", "profile", "email", "offline_access", "ifttt"},
		},
		Bunq: BunqConfig{
			APIBase: "https://api.bunq.com",
		},
	}
}

// LoadConfig reads the YAML config file (optional) and merges environment
// overrides, then derives dependent defaults and validates.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDerived fills in values computable from others: issuer, userinfo, and
// redirect URL all follow from the authority domain and public URL unless
// pinned explicitly.
func (c *Config) applyDerived() {
	if c.Authority.Issuer == "" && c.Authority.Domain != "" {
		c.Authority.Issuer = "https://" + c.Authority.Domain + "/"
	}
	if c.Authority.UserinfoURL == "" && c.Authority.Domain != "" {
		c.Authority.UserinfoURL = "https://" + c.Authority.Domain + "/userinfo"
	}
	if c.Authority.RedirectURL == "" && c.Server.PublicURL != "" {
		c.Authority.RedirectURL = strings.TrimSuffix(c.Server.PublicURL, "/") + "/auth"
	}
}

// Validate reports configuration that cannot support startup.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.ListenAddr == "" {
		problems = append(problems, "server.listen_addr is required")
	}
	if c.Server.DataPath == "" {
		problems = append(problems, "server.data_path is required")
	}
	if c.Authority.Domain == "" && (c.Authority.Issuer == "" || c.Authority.UserinfoURL == "") {
		problems = append(problems, "authority.domain (or explicit issuer and userinfo_url) is required")
	}
	if c.Authority.Audience == "" {
		problems = append(problems, "authority.audience is required")
	}
	if c.Authority.RedirectURL == "" {
		problems = append(problems, "authority.redirect_url or server.public_url is required")
	}
	if len(c.Authority.Algorithms) == 0 {
		problems = append(problems, "authority.algorithms must not be empty")
	}
	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		problems = append(problems, "server.tls.domains is required outside dev mode")
	}

	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}
