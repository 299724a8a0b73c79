// Package apikey authenticates machine credentials presented via the
// X-API-Key header and carries the resolved tenant identity on the request
// context.
package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Keys look like "cg_" followed by 40 hex characters. The prefix gives a
// cheap malformed-key rejection before any hashing happens, and the first
// characters double as the displayable key_prefix stored alongside the hash.
const (
	KeyPrefix       = "cg_"
	keyRandomBytes  = 20
	KeyLength       = len(KeyPrefix) + keyRandomBytes*2
	StoredPrefixLen = 12
)

// Hasher digests a raw key into its stored lookup form. It is a pure
// function behind an interface so the primitive can be swapped without
// touching the authenticator's control flow.
type Hasher interface {
	Hash(rawKey string) string
}

// SHA256Hasher is the production hasher. The digest must be deterministic
// so credentials can be looked up by hash; salted or slow hashes would
// break that.
type SHA256Hasher struct{}

// Hash returns the hex SHA-256 digest of the raw key.
func (SHA256Hasher) Hash(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// WellFormed reports whether the raw key has the expected shape. It does
// not consult storage.
func WellFormed(rawKey string) bool {
	if len(rawKey) != KeyLength || !strings.HasPrefix(rawKey, KeyPrefix) {
		return false
	}
	_, err := hex.DecodeString(rawKey[len(KeyPrefix):])
	return err == nil
}

// DisplayPrefix returns the stored, non-secret prefix of a raw key.
func DisplayPrefix(rawKey string) string {
	if len(rawKey) < StoredPrefixLen {
		return rawKey
	}
	return rawKey[:StoredPrefixLen]
}

// GenerateKey creates a new raw credential. Only its hash is persisted;
// the raw value is shown to the tenant admin once.
func GenerateKey() string {
	b := make([]byte, keyRandomBytes)
	if _, err := rand.Read(b); err != nil {
		panic("apikey: generate random key: " + err.Error())
	}
	return KeyPrefix + hex.EncodeToString(b)
}
