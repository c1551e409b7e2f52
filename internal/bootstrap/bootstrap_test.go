package bootstrap

import (
	"context"
	"encoding/hex"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/63klabs/cache-data-proxy/internal/config"
)

func TestKeyMaterialHex(t *testing.T) {
	km, err := keyMaterial(config.Crypto{KeySource: "hex", KeyHex: strings.Repeat("ab", 32)})
	require.NoError(t, err)
	assert.NotNil(t, km)
}

func TestKeyMaterialHexRequiresKey(t *testing.T) {
	_, err := keyMaterial(config.Crypto{KeySource: "hex"})
	assert.Error(t, err)
}

func TestKeyMaterialRawIsRejected(t *testing.T) {
	_, err := keyMaterial(config.Crypto{KeySource: "raw"})
	assert.Error(t, err)
}

func TestKeyMaterialUnknownSource(t *testing.T) {
	_, err := keyMaterial(config.Crypto{KeySource: "quantum"})
	assert.Error(t, err)
}

func TestKeyMaterialLazyResolvesFromEnv(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	encoded := hex.EncodeToString(raw)

	t.Setenv("TEST_CACHE_CRYPTO_KEY", encoded)

	km, err := keyMaterial(config.Crypto{KeySource: "lazy", KeyEnvVar: "TEST_CACHE_CRYPTO_KEY"})
	require.NoError(t, err)

	b, err := km.Bytes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, raw, b)
}

func TestResolveLazyKeyRequiresEnvVarName(t *testing.T) {
	_, err := resolveLazyKey("")
	assert.Error(t, err)
}

func TestResolveLazyKeyRequiresSetVariable(t *testing.T) {
	os.Unsetenv("TEST_CACHE_CRYPTO_KEY_UNSET")
	_, err := resolveLazyKey("TEST_CACHE_CRYPTO_KEY_UNSET")
	assert.Error(t, err)
}

func TestResolveLazyKeyRejectsNonHex(t *testing.T) {
	t.Setenv("TEST_CACHE_CRYPTO_KEY_BAD", "not-hex")
	_, err := resolveLazyKey("TEST_CACHE_CRYPTO_KEY_BAD")
	assert.Error(t, err)
}

func TestResolveLazyKeyRejectsWrongLength(t *testing.T) {
	t.Setenv("TEST_CACHE_CRYPTO_KEY_SHORT", hex.EncodeToString([]byte("short")))
	_, err := resolveLazyKey("TEST_CACHE_CRYPTO_KEY_SHORT")
	assert.Error(t, err)
}

func TestResolveLazyKeyAccepts32Bytes(t *testing.T) {
	raw := make([]byte, 32)
	t.Setenv("TEST_CACHE_CRYPTO_KEY_OK", hex.EncodeToString(raw))
	b, err := resolveLazyKey("TEST_CACHE_CRYPTO_KEY_OK")
	require.NoError(t, err)
	assert.Len(t, b, 32)
}
