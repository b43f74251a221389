// Package gateway exposes the multi-tenant SSO HTTP surface.
//
// Routes are per-store and per-provider:
//
//	GET      /auth/sso/{store}/{provider}/login
//	GET|POST /auth/sso/{store}/{provider}/callback
//	GET      /auth/sso/{store}/{provider}/metadata
//	POST     /auth/sso/{store}/otp/send
//	POST     /auth/sso/{store}/otp/verify
//	GET      /auth/sso/creds/{token}
//
// Provider engines are cached in an LRU keyed by the config revision, and a
// cron job purges the cache so rotated secrets take effect on long-lived
// replicas. Failures surface to the browser as a generic page; the full
// detail is only logged.
package gateway
