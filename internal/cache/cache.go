// Package cache implements the per-access Cache handle: the
// read/refresh/extend state machine that sits above MemCache and
// CacheData (spec.md §4.7). A Handle is created fresh for every access,
// performs at most one read and one write, and is then discarded.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/63klabs/cache-data-proxy/internal/cachedata"
	"github.com/63klabs/cache-data-proxy/internal/memcache"
)

// Status is the runtime status attached to a Handle after read/update/
// extendExpires, surfaced to callers via generateResponseForAPIGateway's
// x-cprxy-data-source header.
type Status string

const (
	StatusOriginal                  Status = "original"
	StatusOriginalCacheExpired      Status = "original:cache-expired"
	StatusOriginalSameAsCache       Status = "cache:original-same-as-cache"
	StatusCacheMemory               Status = "cache:memory"
	StatusCache                     Status = "cache"
	StatusErrorCache                Status = "error:cache"
	StatusOriginalNotModified       Status = "cache:original-not-modified"
	StatusErrorOriginal             Status = "error:original"
	StatusOriginalCacheUpdateForced Status = "original:cache-update-forced"
)

// Policy is the per-access Cache Policy value set (spec.md §3).
type Policy struct {
	OverrideOriginHeaderExpiration              bool
	DefaultExpirationInSeconds                  int64
	DefaultExpirationExtensionOnErrorInSeconds  int64
	ExpirationIsOnInterval                      bool
	IntervalSeconds                             int64
	HeadersToRetain                             []string
	HostID                                      string
	PathID                                      string
	Encrypt                                     bool
}

// DefaultPolicy returns the documented defaults (spec.md §3).
func DefaultPolicy() Policy {
	return Policy{
		DefaultExpirationInSeconds:                 60,
		DefaultExpirationExtensionOnErrorInSeconds: 3600,
		Encrypt: true,
	}
}

// Handle is a single access's view of the cache: one read, at most one
// write, then discarded.
type Handle struct {
	idHash      string
	syncedNow   time.Time
	syncedLater time.Time
	policy      Policy
	engine      *cachedata.Engine
	mem         *memcache.Cache

	view      cachedata.View
	status    Status
	errorCode string
}

// memPayload is the JSON shape stashed in MemCache; it mirrors
// cachedata.View so a memory hit can be served without touching
// KVStore/BlobStore at all.
type memPayload struct {
	Body           string            `json:"body"`
	Headers        map[string]string `json:"headers"`
	StatusCode     string            `json:"statusCode"`
	Classification string            `json:"classification"`
}

// New creates a Handle for idHash against engine/mem, ready for Read.
func New(idHash string, engine *cachedata.Engine, mem *memcache.Cache, policy Policy) *Handle {
	now := time.Now()
	return &Handle{
		idHash:      idHash,
		syncedNow:   now,
		syncedLater: now.Add(time.Duration(policy.DefaultExpirationInSeconds) * time.Second),
		policy:      policy,
		engine:      engine,
		mem:         mem,
	}
}

// Read performs the tier-descending lookup described in spec.md §4.7:
// MemCache, then CacheData, with stale-fallback to an expired MemCache
// entry if CacheData comes back empty/errored.
func (h *Handle) Read(ctx context.Context) {
	if h.mem != nil {
		res := h.mem.Get(h.idHash)
		if res.Status == memcache.Hit {
			if p, ok := decodeMemPayload(res.Payload); ok {
				h.view = cachedata.View{Found: true, Body: p.Body, Headers: p.Headers, StatusCode: p.StatusCode, Classification: p.Classification, Expires: res.ExpiresAt.Unix()}
				h.status = StatusCacheMemory
				return
			}
		}

		view := h.engine.Read(ctx, h.idHash)
		if view.Found {
			h.view = view
			h.status = StatusCache
			if h.mem != nil {
				h.mem.Set(h.idHash, encodeMemPayload(view), time.Unix(view.Expires, 0))
			}
			return
		}

		if res.Status == memcache.Expired {
			newExpires := h.syncedNow.Add(time.Duration(h.policy.DefaultExpirationExtensionOnErrorInSeconds) * time.Second)
			h.mem.Extend(h.idHash, newExpires)
			if p, ok := decodeMemPayload(res.Payload); ok {
				h.view = cachedata.View{Found: true, Body: p.Body, Headers: p.Headers, StatusCode: p.StatusCode, Classification: p.Classification, Expires: newExpires.Unix()}
			}
			h.status = StatusErrorCache
			h.errorCode = "500"
			return
		}

		h.view = view
		return
	}

	view := h.engine.Read(ctx, h.idHash)
	h.view = view
	if view.Found {
		h.status = StatusCache
	}
}

// NeedsRefresh reports isExpired() OR isEmpty().
func (h *Handle) NeedsRefresh() bool {
	return h.isExpired() || h.isEmpty()
}

func (h *Handle) isEmpty() bool {
	return !h.view.Found
}

func (h *Handle) isExpired() bool {
	return h.view.Found && h.view.Expires <= time.Now().Unix()
}

// View exposes the currently resolved cache view.
func (h *Handle) View() cachedata.View { return h.view }

// Status exposes the handle's current runtime status.
func (h *Handle) Status() Status { return h.status }

// ErrorCode exposes the HTTP-shaped error code attached by an error
// path, empty string if none.
func (h *Handle) ErrorCode() string { return h.errorCode }

// Update writes body/headers/statusCode through CacheData, inferring a
// runtime status from the previous state unless reason is non-empty
// (spec.md §4.7's update()).
func (h *Handle) Update(ctx context.Context, body string, headers map[string]string, statusCode int, reason Status) {
	prevEmpty := h.isEmpty()
	prevExpired := h.isExpired()
	prevEtag := h.view.Headers["etag"]
	prevModified := h.view.Headers["last-modified"]

	expires := h.resolveExpires(headers)

	view := h.engine.Write(ctx, h.idHash, time.Now(), body, headers, h.policy.HostID, h.policy.PathID, expires, strconv.Itoa(statusCode), h.policy.Encrypt)
	h.view = view
	if h.mem != nil && view.Found {
		h.mem.Set(h.idHash, encodeMemPayload(view), time.Unix(view.Expires, 0))
	}

	if reason != "" {
		h.status = reason
		return
	}

	switch {
	case prevEmpty:
		h.status = StatusOriginal
	case view.Headers["etag"] == prevEtag && view.Headers["last-modified"] == prevModified:
		h.status = StatusOriginalSameAsCache
	case prevExpired:
		h.status = StatusOriginalCacheExpired
	default:
		h.status = StatusOriginalCacheUpdateForced
	}
}

// resolveExpires honors origin Expires/Cache-Control:max-age headers
// unless OverrideOriginHeaderExpiration is set, taking the max of the
// origin signal and the policy default, subject to expires > now.
func (h *Handle) resolveExpires(headers map[string]string) int64 {
	now := time.Now()
	def := h.defaultExpiry(now)

	if h.policy.OverrideOriginHeaderExpiration {
		return def
	}

	originExpires, ok := parseOriginExpiry(headers, now)
	if !ok {
		return def
	}
	if originExpires > def {
		if originExpires > now.Unix() {
			return originExpires
		}
		return def
	}
	return def
}

func (h *Handle) defaultExpiry(now time.Time) int64 {
	if h.policy.ExpirationIsOnInterval && h.engine != nil {
		return h.engine.NextExpiry(now, h.policy.IntervalSeconds).Unix()
	}
	return now.Add(time.Duration(h.policy.DefaultExpirationInSeconds) * time.Second).Unix()
}

func parseOriginExpiry(headers map[string]string, now time.Time) (int64, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, "cache-control") {
			for _, part := range strings.Split(v, ",") {
				part = strings.TrimSpace(part)
				if strings.HasPrefix(strings.ToLower(part), "max-age=") {
					if secs, err := strconv.ParseInt(strings.TrimPrefix(part, part[:8]), 10, 64); err == nil {
						return now.Unix() + secs, true
					}
				}
			}
		}
	}
	for k, v := range headers {
		if strings.EqualFold(k, "expires") {
			if t, err := http.ParseTime(v); err == nil {
				return t.Unix(), true
			}
		}
	}
	return 0, false
}

// ExtendExpires rewrites the existing record with the same body/headers
// but a fresh expiry and updated last-modified, for 304-not-modified and
// origin-error paths (spec.md §4.7). seconds=0 uses the policy default
// (or default-on-error for error reasons).
func (h *Handle) ExtendExpires(ctx context.Context, reason Status, seconds int64, errorCode string) {
	now := time.Now()
	if seconds == 0 {
		if reason == StatusErrorOriginal {
			seconds = h.policy.DefaultExpirationExtensionOnErrorInSeconds
		} else {
			seconds = h.policy.DefaultExpirationInSeconds
		}
	}
	expires := now.Add(time.Duration(seconds) * time.Second).Unix()

	headers := h.view.Headers
	if headers == nil {
		headers = map[string]string{}
	} else {
		cloned := make(map[string]string, len(headers))
		for k, v := range headers {
			cloned[k] = v
		}
		cloned["last-modified"] = now.UTC().Format(time.RFC1123)
		headers = cloned
	}

	statusCode := 200
	if sc, err := strconv.Atoi(h.view.StatusCode); err == nil {
		statusCode = sc
	}

	view := h.engine.Write(ctx, h.idHash, now, h.view.Body, headers, h.policy.HostID, h.policy.PathID, expires, strconv.Itoa(statusCode), h.policy.Encrypt)
	h.view = view
	if h.mem != nil && view.Found {
		h.mem.Set(h.idHash, encodeMemPayload(view), time.Unix(view.Expires, 0))
	}
	h.status = reason
	h.errorCode = errorCode
}

// GenerateResponseForAPIGateway builds the outbound HTTP response
// shape, honoring conditional validators and attaching the data-source
// status header (spec.md §4.7, §6).
func (h *Handle) GenerateResponseForAPIGateway(ifNoneMatch, ifModifiedSince string) (int, map[string]string, *string) {
	etag := h.view.Headers["etag"]
	lastModified := h.view.Headers["last-modified"]

	conditionalMatch := false
	if ifNoneMatch != "" && etag != "" && ifNoneMatch == etag {
		conditionalMatch = true
	}
	if !conditionalMatch && ifModifiedSince != "" && lastModified != "" {
		if reqTime, err1 := http.ParseTime(ifModifiedSince); err1 == nil {
			if cacheTime, err2 := http.ParseTime(lastModified); err2 == nil && !reqTime.Before(cacheTime) {
				conditionalMatch = true
			}
		}
	}

	secondsLeft := h.view.Expires - time.Now().Unix()
	if secondsLeft < 0 {
		secondsLeft = 0
	}
	classification := h.view.Classification
	if classification == "" {
		classification = "public"
	}

	headers := map[string]string{
		"access-control-allow-origin": "*",
		"cache-control":                fmt.Sprintf("%s, max-age=%d", classification, secondsLeft),
		"x-cprxy-data-source":          string(h.status),
	}

	if conditionalMatch {
		return http.StatusNotModified, headers, nil
	}

	statusCode := http.StatusOK
	if sc, err := strconv.Atoi(h.view.StatusCode); err == nil && sc != 0 {
		statusCode = sc
	}
	body := h.view.Body
	return statusCode, headers, &body
}

func encodeMemPayload(v cachedata.View) []byte {
	raw, _ := json.Marshal(memPayload{Body: v.Body, Headers: v.Headers, StatusCode: v.StatusCode, Classification: v.Classification})
	return raw
}

func decodeMemPayload(raw []byte) (memPayload, bool) {
	var p memPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return memPayload{}, false
	}
	return p, true
}
