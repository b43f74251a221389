// Package saml implements the provider contract over SP-initiated SAML 2.0:
// redirect-binding AuthnRequests out, POST-binding signed responses back.
//
// One engine serves every SAML-family provider; Okta, Azure AD and Salesforce
// variants differ only in the attribute URIs their assertions carry, declared
// in variants.go. Replay defense is two-layered: the RelayState token is
// consumed exactly once, and the AuthnRequest ID is tracked separately so a
// response whose InResponseTo was already validated is rejected even when its
// signature is valid.
package saml
