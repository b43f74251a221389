// Package secrets provides authenticated encryption for provider credentials
// and store access tokens at rest.
//
// Ciphertext tokens are versioned ("v1:<iv>:<tag>:<ciphertext>", each segment
// base64) so a future algorithm change stays backward-decodable. Any decrypt
// failure surfaces as *DecryptionError; callers must treat the credentials
// as unusable rather than partially trusting a failed decrypt.
package secrets
