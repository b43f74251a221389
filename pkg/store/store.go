package store

import (
	"context"
	"errors"
	"time"

	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/provider"
)

var (
	// ErrStoreNotFound is returned when the tenant does not exist.
	ErrStoreNotFound = errors.New("store not found")

	// ErrProviderNotFound is returned when the tenant exists but has no
	// provider under the requested ID.
	ErrProviderNotFound = errors.New("provider not found")
)

// StoreRecord is one tenant. Domain feeds password salt derivation, so it
// must be stable across config edits.
type StoreRecord struct {
	ID      string
	Domain  string
	Enabled bool
}

// ProviderRecord is one configured provider instance owned by one store.
type ProviderRecord struct {
	StoreID    string
	ProviderID string
	Enabled    bool
	Config     *provider.Config
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ConfigStore is the configuration-lookup surface the gateway depends on.
type ConfigStore interface {
	// GetStore returns the tenant record, or ErrStoreNotFound.
	GetStore(ctx context.Context, storeID string) (*StoreRecord, error)

	// GetProvider returns one provider record, or ErrProviderNotFound /
	// ErrStoreNotFound. Disabled providers are returned; callers decide
	// whether disabled means invisible.
	GetProvider(ctx context.Context, storeID, providerID string) (*ProviderRecord, error)

	// ListProviders returns the store's enabled providers ordered by ID.
	ListProviders(ctx context.Context, storeID string) ([]*ProviderRecord, error)

	// UpsertProvider creates or replaces a provider record, bumping
	// UpdatedAt so engine caches keyed on it roll over.
	UpsertProvider(ctx context.Context, rec *ProviderRecord) error

	// DeleteProvider removes a provider record. Deleting an absent record
	// returns ErrProviderNotFound.
	DeleteProvider(ctx context.Context, storeID, providerID string) error

	// Close releases any underlying resources.
	Close() error
}

// configPayload is the persisted shape of provider.Config. The public Config
// type hides secrets from JSON on purpose, so persistence serializes through
// this mirror and relies on whole-record encryption for protection.
type configPayload struct {
	Kind     string            `json:"kind"`
	Protocol provider.Protocol `json:"protocol"`

	ClientID     string   `json:"client_id,omitempty"`
	ClientSecret string   `json:"client_secret,omitempty"`
	IssuerURL    string   `json:"issuer_url,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`

	EntryPoint           string            `json:"entry_point,omitempty"`
	Issuer               string            `json:"issuer,omitempty"`
	Certificate          string            `json:"certificate,omitempty"`
	PrivateKey           string            `json:"private_key,omitempty"`
	SignRequests         bool              `json:"sign_requests,omitempty"`
	WantAssertionsSigned bool              `json:"want_assertions_signed,omitempty"`
	AttributeMapping     map[string]string `json:"attribute_mapping,omitempty"`
}

func toPayload(cfg *provider.Config) *configPayload {
	return &configPayload{
		Kind:                 cfg.Kind,
		Protocol:             cfg.Protocol,
		ClientID:             cfg.ClientID,
		ClientSecret:         cfg.ClientSecret,
		IssuerURL:            cfg.IssuerURL,
		Scopes:               cfg.Scopes,
		EntryPoint:           cfg.EntryPoint,
		Issuer:               cfg.Issuer,
		Certificate:          cfg.Certificate,
		PrivateKey:           cfg.PrivateKey,
		SignRequests:         cfg.SignRequests,
		WantAssertionsSigned: cfg.WantAssertionsSigned,
		AttributeMapping:     cfg.AttributeMapping,
	}
}

func (p *configPayload) toConfig(updatedAt time.Time) *provider.Config {
	return &provider.Config{
		Kind:                 p.Kind,
		Protocol:             p.Protocol,
		ClientID:             p.ClientID,
		ClientSecret:         p.ClientSecret,
		IssuerURL:            p.IssuerURL,
		Scopes:               p.Scopes,
		EntryPoint:           p.EntryPoint,
		Issuer:               p.Issuer,
		Certificate:          p.Certificate,
		PrivateKey:           p.PrivateKey,
		SignRequests:         p.SignRequests,
		WantAssertionsSigned: p.WantAssertionsSigned,
		AttributeMapping:     p.AttributeMapping,
		UpdatedAt:            updatedAt,
	}
}
