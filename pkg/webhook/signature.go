// Package webhook ingests asynchronous provider callbacks and folds
// them into scheduled message state. Requests are authenticated, then
// signature-verified over the raw body, then parsed strictly; duplicate
// deliveries are absorbed without re-mutating state.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signature computes the hex HMAC-SHA256 of body under secret.
func Signature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether provided matches the expected HMAC of
// the raw body. The comparison is constant-time. Verification operates
// on raw bytes and must run before any parsing of the body.
func VerifySignature(secret string, body []byte, provided string) bool {
	if secret == "" || provided == "" {
		return false
	}
	expected := Signature(secret, body)
	return hmac.Equal([]byte(expected), []byte(provided))
}
