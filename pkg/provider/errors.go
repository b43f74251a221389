package provider

import (
	"errors"
	"fmt"
)

// ErrUnknownProviderType is returned by the registry for a kind no provider
// module registered. A configuration error, never a panic.
var ErrUnknownProviderType = errors.New("unknown provider type")

// SAMLFailureKind classifies SAML validation failures for operability.
type SAMLFailureKind string

const (
	SAMLFailureReplay    SAMLFailureKind = "replay"
	SAMLFailureExpired   SAMLFailureKind = "expired"
	SAMLFailureSignature SAMLFailureKind = "signature"
	SAMLFailureGeneric   SAMLFailureKind = "generic"
)

// ProviderAuthError means the external IdP reported an error or the token/
// assertion exchange failed. The user can retry from Initiate.
type ProviderAuthError struct {
	Provider    string
	Description string
	Err         error
}

func (e *ProviderAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("provider %s: authentication failed: %s", e.Provider, e.Description)
	}
	return fmt.Sprintf("provider %s: authentication failed", e.Provider)
}

func (e *ProviderAuthError) Unwrap() error { return e.Err }

// InvalidOIDCTokenError means the OIDC flow state was missing, expired or
// mismatched, or the ID token failed validation. Terminal for this flow.
type InvalidOIDCTokenError struct {
	Reason string
}

func (e *InvalidOIDCTokenError) Error() string {
	return fmt.Sprintf("invalid oidc token: %s", e.Reason)
}

// InvalidSAMLResponseError means the SAML response failed state, signature,
// replay or expiry validation. Terminal for this flow.
type InvalidSAMLResponseError struct {
	Kind   SAMLFailureKind
	Reason string
}

func (e *InvalidSAMLResponseError) Error() string {
	return fmt.Sprintf("invalid saml response (%s): %s", e.Kind, e.Reason)
}

// ConfigError reports provider configuration missing required fields,
// surfaced at provider-setup time before any Initiate is attempted.
type ConfigError struct {
	Kind          string
	MissingFields []string
	Reason        string
}

func (e *ConfigError) Error() string {
	if len(e.MissingFields) > 0 {
		return fmt.Sprintf("provider %s: missing required config fields: %v", e.Kind, e.MissingFields)
	}
	return fmt.Sprintf("provider %s: invalid config: %s", e.Kind, e.Reason)
}
