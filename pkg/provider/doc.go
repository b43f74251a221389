// Package provider defines the capability contract shared by every identity
// provider integration in the gateway.
//
// # Overview
//
// Each store configures one or more identity providers. A provider is
// instantiated from its stored configuration through the Registry and is only
// ever driven through the Provider interface: Initiate builds the redirect to
// the external IdP and persists the ephemeral flow state, HandleCallback
// consumes that state exactly once and returns a normalized UserProfile.
//
// # Adding a provider
//
// Concrete integrations live in the oidc and saml subpackages. A new provider
// kind registers a Constructor under its string key at package init:
//
//	func init() {
//		provider.Register("google", NewGoogle)
//	}
//
// Callers never reference concrete engine types, so new kinds require no
// change to calling code.
//
// # Tenant isolation
//
// Flow state embeds the store and provider identity at Initiate. Callbacks
// validated by a different provider instance fail, even when the authorization
// code or assertion is otherwise valid.
//
// # Related Packages
//
//   - pkg/statestore: one-time-use ephemeral state with TTL
//   - pkg/store: encrypted provider configuration records
//   - pkg/gateway: HTTP surface routing flows into engines
package provider
