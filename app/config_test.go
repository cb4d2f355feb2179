package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  public_url: https://bridge.example.net
  dev_mode: true
authority:
  domain: authority.test
  audience: https://bridge.example.net/ifttt/v1/
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr, "default preserved")
	assert.Equal(t, "authority.test", cfg.Authority.Domain)
	assert.Equal(t, "https://authority.test/", cfg.Authority.Issuer, "derived from domain")
	assert.Equal(t, "https://authority.test/userinfo", cfg.Authority.UserinfoURL)
	assert.Equal(t, "https://bridge.example.net/auth", cfg.Authority.RedirectURL, "derived from public URL")
	assert.Equal(t, []string{"RS256"}, cfg.Authority.Algorithms)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("AUTH0_DOMAIN", "env.authority.test")
	t.Setenv("AUTH0_AUDIENCE", "https://env.example/api/")
	t.Setenv("BUNQ2IFTTT_PUBLIC_URL", "https://env.example")
	t.Setenv("BUNQ2IFTTT_DEV_MODE", "true")
	t.Setenv("BUNQ2IFTTT_LISTEN_ADDR", ":9090")
	t.Setenv("BUNQ_API_BASE", "https://public-api.sandbox.bunq.com")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "env.authority.test", cfg.Authority.Domain)
	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, "https://env.example/auth", cfg.Authority.RedirectURL)
	assert.Equal(t, "https://public-api.sandbox.bunq.com", cfg.Bunq.APIBase)
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := writeConfigFile(t, `
server:
  listne_addr: ":8080"
`)

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := DefaultConfig()
		cfg.Server.DevMode = true
		cfg.Server.PublicURL = "https://bridge.example.net"
		cfg.Authority.Domain = "authority.test"
		cfg.Authority.Audience = "aud"
		cfg.applyDerived()
		return cfg
	}

	validCfg := valid()
	require.NoError(t, validCfg.Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing audience", func(c *Config) { c.Authority.Audience = "" }},
		{"missing authority", func(c *Config) {
			c.Authority.Domain = ""
			c.Authority.Issuer = ""
			c.Authority.UserinfoURL = ""
		}},
		{"missing redirect", func(c *Config) { c.Authority.RedirectURL = "" }},
		{"missing listen addr", func(c *Config) { c.Server.ListenAddr = "" }},
		{"missing data path", func(c *Config) { c.Server.DataPath = "" }},
		{"no algorithms", func(c *Config) { c.Authority.Algorithms = nil }},
		{"prod without tls domains", func(c *Config) { c.Server.DevMode = false }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateProdWithTLSDomains(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.DevMode = false
	cfg.Server.TLS.Domains = []string{"bridge.example.net"}
	cfg.Server.PublicURL = "https://bridge.example.net"
	cfg.Authority.Domain = "authority.test"
	cfg.Authority.Audience = "aud"
	cfg.applyDerived()

	assert.NoError(t, cfg.Validate())
}
