package auth

// Storage namespaces and keys. The bunq2IFTTT namespace matches the record
// names the IFTTT service configuration refers to, so an existing deployment's
// data remains addressable.
const (
	ConfigNamespace = "config"
	BunqNamespace   = "bunq2IFTTT"

	passwordHashKey = "password_hash"
	passwordSaltKey = "password_salt"
	sessionTokenKey = "session_token"

	// ServiceKeyName is the stored IFTTT service key.
	ServiceKeyName = "ifttt_service_key"

	pendingOAuthKey = "bunq_oauth_new"
	grantOAuthKey   = "bunq_oauth"
)

// Store is the durable credential store consumed by the authentication
// components. Implementations must serialize concurrent access; the
// components hold no state beyond a single request.
type Store interface {
	// Store persists a scalar value, overwriting any previous one.
	Store(namespace, key, value string) error
	// Retrieve returns a scalar value and whether it existed.
	Retrieve(namespace, key string) (string, bool, error)
	// StoreLarge persists a multi-field record as JSON.
	StoreLarge(namespace, key string, doc any) error
	// GetValue loads a record stored by StoreLarge into out and reports
	// whether it existed.
	GetValue(namespace, key string, out any) (bool, error)
}
