// ABOUTME: Tests for webhook secret digests
// ABOUTME: Digests must be stable, hex-encoded and distinct per secret

package store

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretDigest(t *testing.T) {
	d := SecretDigest("s3cret")

	assert.Len(t, d, 64)
	_, err := hex.DecodeString(d)
	require.NoError(t, err)

	assert.Equal(t, d, SecretDigest("s3cret"), "digest is deterministic")
	assert.NotEqual(t, d, SecretDigest("s3cret2"))
	assert.NotContains(t, d, "s3cret")
}
