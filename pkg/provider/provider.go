package provider

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/observability"
	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/statestore"
)

// Provider is the capability contract every identity provider integration
// implements. Callers only ever invoke through this interface.
type Provider interface {
	// Initiate builds the IdP redirect URL and persists ephemeral flow state.
	Initiate(ctx context.Context, returnTo string) (*InitiateResult, error)

	// HandleCallback consumes and validates the stored flow state, exchanges
	// or validates the IdP response, and returns the normalized result.
	// preConsumed carries state a caller already consumed and validated;
	// when nil the engine consumes the state itself.
	HandleCallback(ctx context.Context, params CallbackParams, preConsumed *FlowState) (*AuthResult, error)

	// DefaultScopes returns the scopes requested when config leaves them unset.
	DefaultScopes() []string

	// ValidateConfig checks the configuration at provider-setup time.
	ValidateConfig() error

	// RequiredConfigFields names the config fields this provider needs.
	RequiredConfigFields() []string

	// IconURL returns the static asset path for the provider's login button.
	IconURL() string
}

// CallbackURLBuilder produces the fully-qualified redirect URI registered
// with the external provider. It must be stable across process restarts.
type CallbackURLBuilder func(baseURL, storeID, providerID string) string

// DefaultCallbackURL builds the gateway's canonical callback URI. The result
// is normalized (no trailing slash on the base) because the string must
// byte-match what is registered at the IdP.
func DefaultCallbackURL(baseURL, storeID, providerID string) string {
	return fmt.Sprintf("%s/auth/sso/%s/%s/callback", strings.TrimRight(baseURL, "/"), storeID, providerID)
}

// Deps carries the collaborators an engine needs. Everything is injected
// explicitly; engines read no process environment.
type Deps struct {
	StoreID    string
	ProviderID string
	BaseURL    string

	States      statestore.Store
	Logger      *observability.Logger
	HTTPClient  *http.Client
	CallbackURL CallbackURLBuilder
}

// RedirectURI resolves the callback URI for this engine instance.
func (d Deps) RedirectURI() string {
	build := d.CallbackURL
	if build == nil {
		build = DefaultCallbackURL
	}
	return build(d.BaseURL, d.StoreID, d.ProviderID)
}

// Log returns the injected logger, or a default one so engines never nil-check.
func (d Deps) Log() *observability.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return observability.NewLogger(observability.InfoLevel, nil)
}

// Client returns the injected HTTP client. Engines rely on its timeout so a
// slow or unreachable IdP fails the flow instead of hanging the caller.
func (d Deps) Client() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return http.DefaultClient
}

// RandomToken returns n random bytes base64url-encoded without padding,
// suitable for state tokens, nonces and PKCE verifiers.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
