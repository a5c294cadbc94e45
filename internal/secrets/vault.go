// Package secrets keeps provider credentials encrypted at rest.
package secrets

import "context"

const providerKeyPrefix = "provider/"

// Vault seals values under an entry name. Provider API keys live under
// ProviderKey(id).
type Vault interface {
	Resolve(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// SecretStore persists sealed entries as opaque bytes. store.Store satisfies it.
type SecretStore interface {
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
}

// ProviderKey names the vault entry holding a provider's API key.
func ProviderKey(providerID string) string {
	return providerKeyPrefix + providerID
}
