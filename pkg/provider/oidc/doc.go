// Package oidc implements the provider contract over the OpenID Connect
// authorization-code flow with PKCE (S256) and nonce validation.
//
// One engine serves every OIDC-family provider; Google, Microsoft, Facebook,
// Auth0 and generic/custom variants differ only in issuer discovery defaults
// and claim mapping, declared as variants in variants.go. Issuer discovery is
// performed once per engine instance and cached behind a singleflight group
// so concurrent first calls do not race duplicate fetches into the cache.
package oidc
