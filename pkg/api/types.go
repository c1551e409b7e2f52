// Package api defines the wire types the cache engine's HTTP surface
// accepts and returns. It decouples internal/cacheaccess.Connection and
// internal/cache.Policy — Go structs tuned for internal wiring — from
// the JSON shape a caller actually posts.
package api

import "encoding/json"

// ConnectionRequest describes the origin request CacheableAccess will
// fetch on a miss (spec.md §3 "Connection descriptor"). Options is
// transport tuning only; the fingerprint hasher excludes it by design.
type ConnectionRequest struct {
	Method     string         `json:"method"`
	URI        string         `json:"uri"`
	Headers    map[string]string `json:"headers,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Options    ConnectionOptions `json:"options,omitempty"`
}

// ConnectionOptions configures the underlying HTTPEngine call
// (spec.md §4.8).
type ConnectionOptions struct {
	TimeoutMS                       int64  `json:"timeoutMs,omitempty"`
	SeparateDuplicateParameters     bool   `json:"separateDuplicateParameters,omitempty"`
	DuplicateParameterAppendToKey   string `json:"duplicateParameterAppendToKey,omitempty"`
	CombinedDuplicateParameterDelim string `json:"combinedDuplicateParameterDelimiter,omitempty"`
}

// PolicyRequest is the JSON shape of a Cache Policy (spec.md §3).
// Zero-valued fields mean "use the documented default"; ApplyDefaults
// fills them in before the policy reaches internal/cache.
type PolicyRequest struct {
	OverrideOriginHeaderExpiration              bool     `json:"overrideOriginHeaderExpiration,omitempty"`
	DefaultExpirationInSeconds                  int64    `json:"defaultExpirationInSeconds,omitempty"`
	DefaultExpirationExtensionOnErrorInSeconds  int64    `json:"defaultExpirationExtensionOnErrorInSeconds,omitempty"`
	ExpirationIsOnInterval                      bool     `json:"expirationIsOnInterval,omitempty"`
	IntervalSeconds                             int64    `json:"intervalSeconds,omitempty"`
	HeadersToRetain                             []string `json:"headersToRetain,omitempty"`
	HostID                                       string   `json:"hostId,omitempty"`
	PathID                                       string   `json:"pathId,omitempty"`
	// Encrypt defaults to true (spec.md §3); EncryptSet distinguishes an
	// explicit false from an absent field in the posted JSON.
	Encrypt    bool `json:"encrypt"`
	EncryptSet bool `json:"-"`
}

// UnmarshalJSON records whether "encrypt" was present in the payload so
// ApplyDefaults can tell "explicitly false" from "omitted" (spec.md §3's
// encrypt default of true).
func (p *PolicyRequest) UnmarshalJSON(data []byte) error {
	type alias PolicyRequest
	aux := struct {
		Encrypt *bool `json:"encrypt"`
		*alias
	}{alias: (*alias)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Encrypt != nil {
		p.Encrypt = *aux.Encrypt
		p.EncryptSet = true
	}
	return nil
}

// PaginationRequest opts a single access into offset-based page fan-out
// (spec.md §4.10). A zero Limit means pagination is disabled.
type PaginationRequest struct {
	TotalCountKey  string `json:"totalCountKey,omitempty"`
	ItemsKey       string `json:"itemsKey,omitempty"`
	ReturnCountKey string `json:"returnCountKey,omitempty"`
	OffsetParamKey string `json:"offsetParamKey,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// CacheAccessRequest is the full body of a POST to the cache endpoint:
// the data identifying what's being cached, the origin connection to
// fetch on a miss, the policy governing this access, and optional
// pagination.
type CacheAccessRequest struct {
	Data       any                `json:"data"`
	Connection ConnectionRequest  `json:"connection"`
	Policy     PolicyRequest      `json:"policy,omitempty"`
	Tags       map[string]string  `json:"tags,omitempty"`
	Pagination *PaginationRequest `json:"pagination,omitempty"`
}

// CacheAccessResponse is generateResponseForAPIGateway's output shape
// (spec.md §6 "Outbound HTTP response").
type CacheAccessResponse struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       *string           `json:"body"`
}

// ErrorResponse is the shape returned for requests the engine never
// reaches CacheableAccess for (malformed JSON, validation failure).
type ErrorResponse struct {
	Message string `json:"message"`
}
