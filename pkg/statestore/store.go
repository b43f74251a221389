package statestore

import (
	"context"
	"fmt"
	"time"
)

// TTLs for each key namespace. SAML request tracking and credential handoff
// are deliberately shorter than general flow state.
const (
	StateTTL       = 10 * time.Minute
	SAMLRequestTTL = 5 * time.Minute
	CredentialTTL  = 5 * time.Minute
	OTPTTL         = 10 * time.Minute
)

// Store is the contract for ephemeral flow state. Values are opaque
// structured records serialized as JSON.
type Store interface {
	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Get reads key without deleting it. Returns false when the key is
	// absent or expired.
	Get(ctx context.Context, key string, out any) (bool, error)

	// Consume atomically reads and deletes key. Returns false when the key
	// is absent, expired, or already consumed. Two concurrent Consume calls
	// on the same key succeed at most once between them.
	Consume(ctx context.Context, key string, out any) (bool, error)

	// Delete removes key unconditionally.
	Delete(ctx context.Context, key string) error
}

// Key builders for the namespaced key scheme.

// StateKey addresses general auth flow state by its opaque state token.
func StateKey(token string) string { return fmt.Sprintf("sso:state:%s", token) }

// SAMLRequestKey tracks an outstanding AuthnRequest ID for InResponseTo
// replay defense.
func SAMLRequestKey(requestID string) string { return fmt.Sprintf("saml:request:%s", requestID) }

// CredentialKey addresses a one-time credential handoff token.
func CredentialKey(token string) string { return fmt.Sprintf("sso:creds:%s", token) }

// OTPKey addresses the pending one-time passcode for an email address.
func OTPKey(email string) string { return fmt.Sprintf("sso:otp:%s", email) }
