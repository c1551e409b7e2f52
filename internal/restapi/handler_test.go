package restapi

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/63klabs/cache-data-proxy/internal/httpengine"
	apitypes "github.com/63klabs/cache-data-proxy/pkg/api"
)

func TestToPolicyMapsEveryField(t *testing.T) {
	req := apitypes.PolicyRequest{
		OverrideOriginHeaderExpiration:             true,
		DefaultExpirationInSeconds:                 120,
		DefaultExpirationExtensionOnErrorInSeconds: 7200,
		ExpirationIsOnInterval:                      true,
		IntervalSeconds:                              900,
		HeadersToRetain:                              []string{"content-type"},
		HostID:                                        "host-a",
		PathID:                                        "path-b",
		Encrypt:                                       false,
	}

	policy := toPolicy(req)

	assert.True(t, policy.OverrideOriginHeaderExpiration)
	assert.Equal(t, int64(120), policy.DefaultExpirationInSeconds)
	assert.Equal(t, int64(7200), policy.DefaultExpirationExtensionOnErrorInSeconds)
	assert.True(t, policy.ExpirationIsOnInterval)
	assert.Equal(t, int64(900), policy.IntervalSeconds)
	assert.Equal(t, []string{"content-type"}, policy.HeadersToRetain)
	assert.Equal(t, "host-a", policy.HostID)
	assert.Equal(t, "path-b", policy.PathID)
	assert.False(t, policy.Encrypt)
}

func TestToConnectionLowercasesHeadersAndStuffsOptions(t *testing.T) {
	req := apitypes.ConnectionRequest{
		Method:  "GET",
		URI:     "https://example.com/data",
		Headers: map[string]string{"Authorization": "Bearer token", "X-Custom": "v"},
		Options: apitypes.ConnectionOptions{
			TimeoutMS:                     5000,
			SeparateDuplicateParameters:   true,
			DuplicateParameterAppendToKey: "[]",
		},
	}

	conn := toConnection(req)

	assert.Equal(t, "GET", conn.Method)
	assert.Equal(t, "Bearer token", conn.Headers["authorization"])
	assert.Equal(t, "v", conn.Headers["x-custom"])
	assert.Equal(t, int64(5000), conn.Options["timeoutMs"])
	assert.Equal(t, true, conn.Options["separateDuplicateParameters"])
	assert.Equal(t, "[]", conn.Options["duplicateParameterAppendToKey"])
}

func TestToConnectionWithNilHeadersYieldsEmptyMap(t *testing.T) {
	conn := toConnection(apitypes.ConnectionRequest{Method: "GET", URI: "https://example.com"})
	assert.NotNil(t, conn.Headers)
	assert.Empty(t, conn.Headers)
}

func TestLowercaseHeadersHandlesNil(t *testing.T) {
	out := lowercaseHeaders(nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestToHTTPRequestExtractsOptionsFromMap(t *testing.T) {
	conn := toConnection(apitypes.ConnectionRequest{
		Method: "POST",
		URI:    "https://example.com/search",
		Options: apitypes.ConnectionOptions{
			TimeoutMS:                       2500,
			CombinedDuplicateParameterDelim: ",",
		},
	})

	req := toHTTPRequest(conn)

	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "https://example.com/search", req.URI)
	assert.Equal(t, int64(2500), req.Options.TimeoutMS)
	assert.Equal(t, ",", req.Options.CombinedDuplicateParameterDelim)
	assert.Nil(t, req.Body)
}

func TestToHTTPRequestWithNoOptionsUsesZeroValues(t *testing.T) {
	var conn = toConnection(apitypes.ConnectionRequest{Method: "GET", URI: "https://example.com"})
	conn.Options = nil

	req := toHTTPRequest(conn)
	assert.Equal(t, httpengine.DuplicateParameterMode(""), req.Options.DuplicateParameterAppendToKey)
}

func TestClonedParamsCopiesWithoutAliasing(t *testing.T) {
	original := map[string]any{"q": "term"}
	clone := clonedParams(original)
	clone["offset"] = 10

	_, ok := original["offset"]
	assert.False(t, ok)
	assert.Equal(t, "term", clone["q"])
}
