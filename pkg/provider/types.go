package provider

import "time"

// Protocol identifies the wire protocol a provider speaks.
type Protocol string

const (
	ProtocolOIDC Protocol = "oidc"
	ProtocolSAML Protocol = "saml"
)

// Config is the decrypted, protocol-specific configuration for one provider
// instance owned by one store. Secret-bearing fields carry `json:"-"` so a
// config never round-trips through an API response in cleartext; persistence
// encrypts the whole record instead (pkg/store).
type Config struct {
	Kind     string   `json:"kind"` // registry key, e.g. "google", "okta"
	Protocol Protocol `json:"protocol"`

	// OIDC family
	ClientID     string   `json:"client_id,omitempty"`
	ClientSecret string   `json:"-"`
	IssuerURL    string   `json:"issuer_url,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`

	// SAML family
	EntryPoint           string            `json:"entry_point,omitempty"` // IdP SSO URL
	Issuer               string            `json:"issuer,omitempty"`      // IdP entity ID
	Certificate          string            `json:"certificate,omitempty"` // PEM encoded IdP cert
	PrivateKey           string            `json:"-"`
	SignRequests         bool              `json:"sign_requests,omitempty"`
	WantAssertionsSigned bool              `json:"want_assertions_signed,omitempty"`
	AttributeMapping     map[string]string `json:"attribute_mapping,omitempty"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// FlowState is the ephemeral per-flow record persisted at Initiate and
// consumed exactly once at HandleCallback. It is never written to durable
// storage; loss on restart only forces the user to restart the flow.
type FlowState struct {
	StoreID    string    `json:"store_id"`
	ProviderID string    `json:"provider_id"`
	ReturnTo   string    `json:"return_to,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	// OIDC
	Nonce        string `json:"nonce,omitempty"`
	CodeVerifier string `json:"code_verifier,omitempty"`

	// SAML
	RequestID string `json:"request_id,omitempty"`
}

// UserProfile is the normalized identity returned by every provider. ID is
// the provider-side subject (`sub` for OIDC, NameID for SAML). Raw retains
// the untransformed claim/attribute set for audit and future mapping changes.
type UserProfile struct {
	ID            string         `json:"id"`
	Email         string         `json:"email"`
	FirstName     string         `json:"first_name,omitempty"`
	LastName      string         `json:"last_name,omitempty"`
	Name          string         `json:"name,omitempty"`
	Picture       string         `json:"picture,omitempty"`
	EmailVerified bool           `json:"email_verified,omitempty"`
	Locale        string         `json:"locale,omitempty"`
	Raw           map[string]any `json:"raw_profile,omitempty"`
}

// Tokens carries the provider-issued tokens from an OIDC exchange. SAML flows
// have no token exchange and leave AuthResult.Tokens nil.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

// AuthResult is the outcome of a validated callback.
type AuthResult struct {
	User   *UserProfile `json:"user"`
	Tokens *Tokens      `json:"tokens,omitempty"`
}

// InitiateResult is returned by Provider.Initiate. The caller issues an HTTP
// redirect to RedirectURL; State is the opaque token the callback must echo.
type InitiateResult struct {
	RedirectURL string `json:"redirect_url"`
	State       string `json:"state"`
	Nonce       string `json:"nonce,omitempty"`
}

// CallbackParams is the protocol-agnostic shape of an IdP callback. OIDC
// populates Code/State from the query string; SAML populates SAMLResponse/
// RelayState from the POST body. Raw keeps everything the IdP sent.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string

	SAMLResponse string
	RelayState   string

	Raw map[string]string
}

// StateToken returns whichever state token the callback carried.
func (p CallbackParams) StateToken() string {
	if p.State != "" {
		return p.State
	}
	return p.RelayState
}
