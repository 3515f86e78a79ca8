// ABOUTME: Agent webhook secret digests
// ABOUTME: Secrets are stored and looked up only by their BLAKE2b-256 digest

package store

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// SecretDigest returns the hex-encoded BLAKE2b-256 digest of a webhook secret.
func SecretDigest(secret string) string {
	sum := blake2b.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
