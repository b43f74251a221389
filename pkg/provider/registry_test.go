package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	kind string
}

func (f *fakeProvider) Initiate(context.Context, string) (*InitiateResult, error) {
	return &InitiateResult{RedirectURL: "https://idp.example.com/" + f.kind}, nil
}
func (f *fakeProvider) HandleCallback(context.Context, CallbackParams, *FlowState) (*AuthResult, error) {
	return nil, nil
}
func (f *fakeProvider) DefaultScopes() []string        { return nil }
func (f *fakeProvider) ValidateConfig() error          { return nil }
func (f *fakeProvider) RequiredConfigFields() []string { return nil }
func (f *fakeProvider) IconURL() string                { return "" }

func fakeConstructor(kind string) Constructor {
	return func(Deps, *Config) (Provider, error) {
		return &fakeProvider{kind: kind}, nil
	}
}

func TestRegisterAndNew(t *testing.T) {
	Register("test_kind_a", fakeConstructor("test_kind_a"))

	p, err := New(Deps{}, &Config{Kind: "test_kind_a"})
	require.NoError(t, err)
	assert.IsType(t, &fakeProvider{}, p)
}

func TestRegisterIsIdempotent(t *testing.T) {
	Register("test_kind_b", fakeConstructor("first"))
	Register("test_kind_b", fakeConstructor("second"))

	p, err := New(Deps{}, &Config{Kind: "test_kind_b"})
	require.NoError(t, err)
	assert.Equal(t, "second", p.(*fakeProvider).kind, "last registration wins")
}

func TestNewUnknownKind(t *testing.T) {
	_, err := New(Deps{}, &Config{Kind: "definitely_not_registered"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownProviderType)
}

func TestNewNilConfig(t *testing.T) {
	_, err := New(Deps{}, nil)
	assert.Error(t, err)
}

func TestRegisterPanicsOnBadInput(t *testing.T) {
	assert.Panics(t, func() { Register("", fakeConstructor("x")) })
	assert.Panics(t, func() { Register("kind", nil) })
}

func TestKindsSorted(t *testing.T) {
	Register("test_kind_z", fakeConstructor("z"))
	Register("test_kind_a", fakeConstructor("a"))

	kinds := Kinds()
	assert.Contains(t, kinds, "test_kind_a")
	assert.Contains(t, kinds, "test_kind_z")
	assert.IsIncreasing(t, kinds)
}

func TestDefaultCallbackURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		want    string
	}{
		{"plain", "https://sso.example.com", "https://sso.example.com/auth/sso/store-1/google/callback"},
		{"trailing slash", "https://sso.example.com/", "https://sso.example.com/auth/sso/store-1/google/callback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultCallbackURL(tt.baseURL, "store-1", "google"))
		})
	}
}

func TestDepsRedirectURIUsesCustomBuilder(t *testing.T) {
	deps := Deps{
		StoreID:    "s1",
		ProviderID: "p1",
		BaseURL:    "https://sso.example.com",
		CallbackURL: func(base, storeID, providerID string) string {
			return base + "/custom/" + storeID + "/" + providerID
		},
	}
	assert.Equal(t, "https://sso.example.com/custom/s1/p1", deps.RedirectURI())
}

func TestRandomTokenUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := RandomToken(32)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(tok), 32)
		assert.False(t, seen[tok], "tokens must not repeat")
		seen[tok] = true
	}
}

func TestCallbackParamsStateToken(t *testing.T) {
	assert.Equal(t, "abc", CallbackParams{State: "abc"}.StateToken())
	assert.Equal(t, "rly", CallbackParams{RelayState: "rly"}.StateToken())
	assert.Equal(t, "abc", CallbackParams{State: "abc", RelayState: "rly"}.StateToken())
	assert.Equal(t, "", CallbackParams{}.StateToken())
}
