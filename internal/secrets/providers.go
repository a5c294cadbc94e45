package secrets

import (
	"context"
	"strings"
	"time"

	"github.com/rendis/lessonflow/pkg/schema"
)

// ProviderMetaStore persists provider configs without their API keys.
type ProviderMetaStore interface {
	GetProviderMeta(ctx context.Context, id string) (*schema.ProviderConfig, error)
	PutProviderMeta(ctx context.Context, cfg *schema.ProviderConfig) error
	ListProviderMeta(ctx context.Context) ([]*schema.ProviderConfig, error)
}

// ProviderConfigs keeps provider settings in the store and their API keys
// in the vault. It implements actions.ConfigStore.
type ProviderConfigs struct {
	meta  ProviderMetaStore
	vault Vault
	now   func() time.Time
}

// NewProviderConfigs creates the config store.
func NewProviderConfigs(meta ProviderMetaStore, vault Vault) *ProviderConfigs {
	return &ProviderConfigs{meta: meta, vault: vault, now: time.Now}
}

// GetProviderConfig returns the config with its decrypted key.
func (p *ProviderConfigs) GetProviderConfig(ctx context.Context, id string) (*schema.ProviderConfig, error) {
	cfg, err := p.meta.GetProviderMeta(ctx, id)
	if err != nil {
		return nil, err
	}
	key, err := p.vault.Resolve(ctx, ProviderKey(id))
	switch {
	case err == nil:
		cfg.APIKey = string(key)
	case schema.CodeOf(err) != schema.ErrCodeNotFound:
		return nil, err
	}
	return cfg, nil
}

// SetProviderConfig stores cfg. An empty APIKey removes the stored key.
func (p *ProviderConfigs) SetProviderConfig(ctx context.Context, cfg *schema.ProviderConfig) error {
	if cfg == nil || strings.TrimSpace(cfg.ID) == "" {
		return schema.NewError(schema.ErrCodeValidation, "provider id is required")
	}
	meta := *cfg
	meta.APIKey = ""
	meta.UpdatedAt = p.now().UTC()
	if err := p.meta.PutProviderMeta(ctx, &meta); err != nil {
		return err
	}

	if cfg.APIKey == "" {
		if err := p.vault.Delete(ctx, ProviderKey(cfg.ID)); err != nil && schema.CodeOf(err) != schema.ErrCodeNotFound {
			return err
		}
		return nil
	}
	return p.vault.Store(ctx, ProviderKey(cfg.ID), []byte(cfg.APIKey))
}

// List returns every provider config with keys masked.
func (p *ProviderConfigs) List(ctx context.Context) ([]*schema.ProviderConfig, error) {
	metas, err := p.meta.ListProviderMeta(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range metas {
		key, err := p.vault.Resolve(ctx, ProviderKey(m.ID))
		if err == nil {
			m.APIKey = MaskKey(string(key))
		}
	}
	return metas, nil
}

// MaskKey hides all but the last four characters of a key.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", 8) + key[len(key)-4:]
}
