// Package observability provides structured logging, Prometheus metrics,
// health probes, OpenTelemetry bootstrap and graceful shutdown for the SSO
// gateway.
//
// Authentication flows log full diagnostic detail (provider name, raw IdP
// errors) server-side only; the user-facing surface never sees it. Metrics
// count initiations and callbacks per protocol and provider so operators can
// spot a misconfigured IdP from the failure-reason breakdown.
package observability
