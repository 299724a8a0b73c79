// Package signature provides HMAC-SHA256 signing and verification for
// outbound webhook payloads.
package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the hex-encoded HMAC-SHA256 of payload keyed by secret.
// Receivers recompute the digest over the exact raw body bytes they were
// sent and compare it with the X-Webhook-Signature header.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is the valid signature for payload under
// secret. Comparison is constant time.
func Verify(payload []byte, secret, sig string) bool {
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(sig))
}

// GenerateSecret creates a cryptographically random subscription secret.
// Format: "whsec_" + 32 bytes hex.
func GenerateSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("signature: generate random secret: " + err.Error())
	}
	return "whsec_" + hex.EncodeToString(b)
}
