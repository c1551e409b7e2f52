package keyhash_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/63klabs/cache-data-proxy/internal/keyhash"
)

func TestFingerprintIsOrderIndependent(t *testing.T) {
	h, err := keyhash.New("sha256", "test-salt")
	require.NoError(t, err)

	a := map[string]any{
		"connection": map[string]any{"host": "example.com", "port": 443},
		"params":     []any{"a", "b", "c"},
	}
	b := map[string]any{
		"params":     []any{"c", "a", "b"},
		"connection": map[string]any{"port": 443, "host": "example.com"},
	}

	assert.Equal(t, h.Fingerprint(a), h.Fingerprint(b))
}

func TestFingerprintIgnoresFunctionFields(t *testing.T) {
	h, err := keyhash.New("sha256", "test-salt")
	require.NoError(t, err)

	withFunc := map[string]any{
		"id":      "abc",
		"onRetry": func() {},
	}
	withoutFunc := map[string]any{
		"id": "abc",
	}

	assert.Equal(t, h.Fingerprint(withoutFunc), h.Fingerprint(withFunc))
}

func TestFingerprintIgnoresConnectionOptions(t *testing.T) {
	h, err := keyhash.New("sha256", "test-salt")
	require.NoError(t, err)

	a := map[string]any{
		"connection": map[string]any{"host": "example.com", "options": map[string]any{"timeoutMs": 5000}},
	}
	b := map[string]any{
		"connection": map[string]any{"host": "example.com", "options": map[string]any{"timeoutMs": 8000}},
	}

	assert.Equal(t, h.Fingerprint(a), h.Fingerprint(b))
}

func TestFingerprintDistinguishesDifferentSalts(t *testing.T) {
	value := map[string]any{"id": "abc"}

	h1, err := keyhash.New("sha256", "salt-one")
	require.NoError(t, err)
	h2, err := keyhash.New("sha256", "salt-two")
	require.NoError(t, err)

	assert.NotEqual(t, h1.Fingerprint(value), h2.Fingerprint(value))
}

func TestFingerprintDistinguishesDifferentValues(t *testing.T) {
	h, err := keyhash.New("sha256", "test-salt")
	require.NoError(t, err)

	assert.NotEqual(t,
		h.Fingerprint(map[string]any{"id": "abc"}),
		h.Fingerprint(map[string]any{"id": "def"}),
	)
}

func TestNewRejectsUnknownAlgorithm(t *testing.T) {
	_, err := keyhash.New("md5", "salt")
	require.Error(t, err)
}

func TestFingerprintSha512ProducesLongerDigest(t *testing.T) {
	h256, err := keyhash.New("sha256", "salt")
	require.NoError(t, err)
	h512, err := keyhash.New("sha512", "salt")
	require.NoError(t, err)

	value := map[string]any{"id": "abc"}
	assert.Len(t, h256.Fingerprint(value), 64)
	assert.Len(t, h512.Fingerprint(value), 128)
}
