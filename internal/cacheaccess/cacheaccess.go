// Package cacheaccess implements CacheableAccess, the single entry
// point that ties fingerprinting, Cache, and a caller-supplied fetch
// function together into one read/refresh/extend operation (spec.md
// §4.11).
package cacheaccess

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/63klabs/cache-data-proxy/internal/cache"
	"github.com/63klabs/cache-data-proxy/internal/cachedata"
	"github.com/63klabs/cache-data-proxy/internal/httpengine"
	"github.com/63klabs/cache-data-proxy/internal/keyhash"
	"github.com/63klabs/cache-data-proxy/internal/memcache"
)

// Connection describes the outbound request CacheableAccess will fetch
// on a miss. Options is excluded from the fingerprint by the hasher
// (spec.md §3) so transport tuning never changes cache identity.
type Connection struct {
	Method     string
	URI        string
	Headers    map[string]string
	Parameters map[string]any
	Options    map[string]any
}

// Fetch is the caller-supplied origin call. It returns an
// HTTPEngine-shaped response; CacheableAccess never invokes the real
// network itself.
type Fetch func(ctx context.Context, conn Connection, data any) httpengine.Response

// Coordinator wires a keyhash.Hasher, cachedata.Engine, and
// memcache.Cache into the getData orchestration.
type Coordinator struct {
	hasher *keyhash.Hasher
	engine *cachedata.Engine
	mem    *memcache.Cache
	logger *zap.Logger
}

// New builds a Coordinator.
func New(hasher *keyhash.Hasher, engine *cachedata.Engine, mem *memcache.Cache, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{hasher: hasher, engine: engine, mem: mem, logger: logger}
}

// GetData runs the full sequence documented in spec.md §4.11: prime the
// cipher without waiting on it, fingerprint {data, connection, policy},
// read the cache, and — if a refresh is needed — inject conditional
// validators, invoke fetch, and resolve the result into an update or an
// error-extend. It returns the Cache handle; callers read
// GenerateResponseForAPIGateway off of it. tags are caller-supplied
// labels for observability only — they never participate in the
// fingerprint, or two requests for the same resource with different tag
// values would miss each other's cache entries (spec.md §3, §4.6).
func (c *Coordinator) GetData(ctx context.Context, policy cache.Policy, fetch Fetch, conn Connection, data any, tags map[string]string) *cache.Handle {
	go func() {
		if err := c.engine.Prime(context.Background()); err != nil {
			c.logger.Warn("cacheaccess: prime failed", zap.Error(err))
		}
	}()

	if len(tags) > 0 {
		c.logger.Debug("cacheaccess: access tags", zap.Any("tags", tags))
	}

	fingerprint := c.hasher.Fingerprint(map[string]any{
		"data":       data,
		"connection": connectionForFingerprint(conn),
		"policy":     policy,
	})

	handle := cache.New(fingerprint, c.engine, c.mem, policy)
	handle.Read(ctx)

	if !handle.NeedsRefresh() {
		return handle
	}

	conn = injectConditionalHeaders(conn, handle.View())

	resp := fetch(ctx, conn, data)

	switch {
	case resp.Success && resp.StatusCode == 304:
		handle.ExtendExpires(ctx, cache.StatusOriginalNotModified, 0, "304")
	case resp.Success:
		if err := c.engine.Prime(ctx); err != nil {
			c.logger.Warn("cacheaccess: prime before update failed", zap.Error(err))
		}
		handle.Update(ctx, string(resp.Body), resp.Headers, resp.StatusCode, "")
	default:
		handle.ExtendExpires(ctx, cache.StatusErrorOriginal, 0, strconv.Itoa(resp.StatusCode))
	}

	return handle
}

// connectionForFingerprint turns Connection into the mapping shape the
// hasher expects, with Options nested under "options" so the hasher's
// hard-coded connection.options exclusion (spec.md §3) applies.
func connectionForFingerprint(conn Connection) map[string]any {
	return map[string]any{
		"method":     conn.Method,
		"uri":        conn.URI,
		"headers":    conn.Headers,
		"parameters": conn.Parameters,
		"options":    conn.Options,
	}
}

// injectConditionalHeaders adds if-none-match / if-modified-since from
// the cached view without overwriting caller-supplied values (spec.md
// §4.11 step 4a).
func injectConditionalHeaders(conn Connection, view cachedata.View) Connection {
	etag := view.Headers["etag"]
	lastModified := view.Headers["last-modified"]
	if etag == "" && lastModified == "" {
		return conn
	}

	headers := make(map[string]string, len(conn.Headers)+2)
	for k, v := range conn.Headers {
		headers[k] = v
	}
	if _, ok := headers["if-none-match"]; !ok && etag != "" {
		headers["if-none-match"] = etag
	}
	if _, ok := headers["if-modified-since"]; !ok && lastModified != "" {
		headers["if-modified-since"] = lastModified
	}
	conn.Headers = headers
	return conn
}
