package bunq

import (
	"context"
	"encoding/json"
	"encoding/pem"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) StoreLarge(namespace, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[namespace+"/"+key] = raw
	return nil
}

func (m *memStore) GetValue(namespace, key string, out any) (bool, error) {
	m.mu.Lock()
	raw, ok := m.data[namespace+"/"+key]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newProviderServer serves the installation endpoint in the provider's
// Response-array envelope.
func newProviderServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/installation" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var body struct {
			ClientPublicKey string `json:"client_public_key"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ClientPublicKey == "" {
			http.Error(w, "missing client_public_key", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Response":[
			{"Id":{"id":42}},
			{"Token":{"token":"install-token-1"}},
			{"ServerPublicKey":{"server_public_key":"-----BEGIN PUBLIC KEY-----\nserver\n-----END PUBLIC KEY-----"}}
		]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newUserinfoServer(t *testing.T, wantToken string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+wantToken {
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"sub": "auth0|bunq-user"})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestInstall(t *testing.T) {
	provider := newProviderServer(t)
	userinfo := newUserinfoServer(t, "access-token-1")
	c := NewClient(provider.URL, userinfo.URL, newMemStore(), nil, testLogger())

	cfg, err := c.Install(context.Background(), "access-token-1", true, "https://bridge.example.net", ModeOAuth)
	require.NoError(t, err)

	assert.Equal(t, "access-token-1", cfg.AccessToken)
	assert.Equal(t, ModeOAuth, cfg.Mode)
	assert.Equal(t, "install-token-1", cfg.InstallToken)
	assert.Equal(t, "auth0|bunq-user", cfg.UserID)
	assert.NotEmpty(t, cfg.ServerKeyPEM)

	priv, _ := pem.Decode([]byte(cfg.PrivateKeyPEM))
	require.NotNil(t, priv)
	assert.Equal(t, "PRIVATE KEY", priv.Type)
	pub, _ := pem.Decode([]byte(cfg.PublicKeyPEM))
	require.NotNil(t, pub)
	assert.Equal(t, "PUBLIC KEY", pub.Type)
}

func TestInstallCarriesOverPermissions(t *testing.T) {
	provider := newProviderServer(t)
	userinfo := newUserinfoServer(t, "fresh-token")
	store := newMemStore()
	c := NewClient(provider.URL, userinfo.URL, store, nil, testLogger())

	require.NoError(t, c.SaveConfig(Config{
		AccessToken: "stale-token",
		Mode:        ModeAPIKey,
		Permissions: map[string]any{"NL42BUNQ0123456789": map[string]any{"Payment": true}},
	}))

	cfg, err := c.Install(context.Background(), "fresh-token", false, "https://bridge.example.net", ModeOAuth)
	require.NoError(t, err)
	assert.Contains(t, cfg.Permissions, "NL42BUNQ0123456789")
	assert.Equal(t, "fresh-token", cfg.AccessToken)
	assert.Equal(t, ModeOAuth, cfg.Mode)
}

func TestInstallProviderFailure(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer provider.Close()
	userinfo := newUserinfoServer(t, "tok")
	c := NewClient(provider.URL, userinfo.URL, newMemStore(), nil, testLogger())

	_, err := c.Install(context.Background(), "tok", false, "https://bridge.example.net", ModeAPIKey)
	assert.Error(t, err)
}

func TestInstallUserinfoFailure(t *testing.T) {
	provider := newProviderServer(t)
	userinfo := newUserinfoServer(t, "the-right-token")
	c := NewClient(provider.URL, userinfo.URL, newMemStore(), nil, testLogger())

	_, err := c.Install(context.Background(), "the-wrong-token", false, "https://bridge.example.net", ModeAPIKey)
	assert.Error(t, err)
}

func TestSaveAndRetrieveConfig(t *testing.T) {
	store := newMemStore()
	c := NewClient("https://api.invalid", "https://userinfo.invalid", store, nil, testLogger())

	_, ok, err := c.RetrieveConfig()
	require.NoError(t, err)
	assert.False(t, ok)

	want := Config{
		AccessToken:  "tok",
		Mode:         ModeOAuth,
		InstallToken: "install",
		UserID:       "auth0|u",
	}
	require.NoError(t, c.SaveConfig(want))

	got, ok, err := c.RetrieveConfig()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}
