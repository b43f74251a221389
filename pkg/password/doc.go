// Package password derives commerce-platform passwords for customers who
// authenticate through SSO.
//
// Generate is deterministic: the same (store domain, IdP subject) pair always
// yields the same 20-character password, so the gateway can log a returning
// customer into the platform's native session without storing a password
// table. Hash/Verify are the separate storage-grade scheme with a fresh
// random salt per call.
//
// Both derivations are keyed on a server-side pepper of at least 16
// characters; the service refuses to construct without one.
package password
