package restapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/63klabs/cache-data-proxy/internal/bootstrap"
	"github.com/63klabs/cache-data-proxy/internal/cache"
	"github.com/63klabs/cache-data-proxy/internal/cacheaccess"
	"github.com/63klabs/cache-data-proxy/internal/httpengine"
	"github.com/63klabs/cache-data-proxy/internal/paginator"
	apitypes "github.com/63klabs/cache-data-proxy/pkg/api"
)

// Handler implements the single cache-access endpoint.
type Handler struct {
	container *bootstrap.Container
}

// NewHandler builds a Handler bound to container.
func NewHandler(container *bootstrap.Container) *Handler {
	return &Handler{container: container}
}

// Access handles POST /v1/cache: it decodes a CacheAccessRequest,
// drives it through CacheableAccess.GetData using the container's
// RetryEngine (and, when requested, Paginator) as the fetch function,
// and writes the resulting generateResponseForAPIGateway shape
// (spec.md §4.11, §6).
func (h *Handler) Access(w http.ResponseWriter, r *http.Request) {
	var req apitypes.CacheAccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apitypes.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Connection.URI == "" {
		apitypes.WriteError(w, http.StatusBadRequest, "connection.uri is required")
		return
	}
	if req.Connection.Method == "" {
		req.Connection.Method = http.MethodGet
	}

	policy := toPolicy(req.Policy.ApplyDefaults())
	conn := toConnection(req.Connection)

	fetch := h.fetchFunc(req.Pagination)

	handle := h.container.Coordinator.GetData(r.Context(), policy, fetch, conn, req.Data, req.Tags)

	statusCode, headers, body := handle.GenerateResponseForAPIGateway(
		r.Header.Get("If-None-Match"),
		r.Header.Get("If-Modified-Since"),
	)

	apitypes.WriteJSON(w, statusCode, apitypes.CacheAccessResponse{
		StatusCode: statusCode,
		Headers:    headers,
		Body:       body,
	})
}

// fetchFunc builds the cacheaccess.Fetch closure that reaches the real
// origin through the container's RetryEngine, optionally expanding
// pagination on a successful first page (spec.md §4.10, §4.11).
func (h *Handler) fetchFunc(pg *apitypes.PaginationRequest) cacheaccess.Fetch {
	return func(ctx context.Context, conn cacheaccess.Connection, data any) httpengine.Response {
		resp := h.container.HTTP.Do(ctx, toHTTPRequest(conn))
		if !resp.Success || pg == nil || pg.Limit <= 0 {
			return resp.Response
		}

		cfg := h.container.PaginatorTemplate
		if pg.TotalCountKey != "" {
			cfg.TotalCountKey = pg.TotalCountKey
		}
		if pg.ItemsKey != "" {
			cfg.ItemsKey = pg.ItemsKey
		}
		if pg.ReturnCountKey != "" {
			cfg.ReturnCountKey = pg.ReturnCountKey
		}
		if pg.OffsetParamKey != "" {
			cfg.OffsetParamKey = pg.OffsetParamKey
		}
		cfg.Limit = pg.Limit

		pager := paginator.New(cfg, h.container.Logger)
		merged, meta := pager.Expand(ctx, resp.Response.Body, func(pctx context.Context, offset int) httpengine.Response {
			pageConn := conn
			pageConn.Parameters = clonedParams(conn.Parameters)
			pageConn.Parameters[cfg.OffsetParamKey] = offset
			return h.container.HTTP.Do(pctx, toHTTPRequest(pageConn)).Response
		})

		h.container.Logger.Debug("restapi: pagination expanded",
			zap.Bool("occurred", meta.Occurred),
			zap.Int("totalItems", meta.TotalItems),
			zap.Bool("incomplete", meta.Incomplete))

		out := resp.Response
		out.Body = merged
		return out
	}
}

func clonedParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	return out
}

func toPolicy(p apitypes.PolicyRequest) cache.Policy {
	return cache.Policy{
		OverrideOriginHeaderExpiration:              p.OverrideOriginHeaderExpiration,
		DefaultExpirationInSeconds:                  p.DefaultExpirationInSeconds,
		DefaultExpirationExtensionOnErrorInSeconds:  p.DefaultExpirationExtensionOnErrorInSeconds,
		ExpirationIsOnInterval:                      p.ExpirationIsOnInterval,
		IntervalSeconds:                             p.IntervalSeconds,
		HeadersToRetain:                             p.HeadersToRetain,
		HostID:                                       p.HostID,
		PathID:                                       p.PathID,
		Encrypt:                                      p.Encrypt,
	}
}

func toConnection(c apitypes.ConnectionRequest) cacheaccess.Connection {
	return cacheaccess.Connection{
		Method:     c.Method,
		URI:        c.URI,
		Headers:    lowercaseHeaders(c.Headers),
		Parameters: c.Parameters,
		Options: map[string]any{
			"timeoutMs":                       c.Options.TimeoutMS,
			"separateDuplicateParameters":     c.Options.SeparateDuplicateParameters,
			"duplicateParameterAppendToKey":   c.Options.DuplicateParameterAppendToKey,
			"combinedDuplicateParameterDelim": c.Options.CombinedDuplicateParameterDelim,
		},
	}
}

func toHTTPRequest(conn cacheaccess.Connection) httpengine.Request {
	var mode httpengine.DuplicateParameterMode
	var timeoutMS int64
	var separate bool
	var delim string
	if conn.Options != nil {
		if v, ok := conn.Options["timeoutMs"].(int64); ok {
			timeoutMS = v
		}
		if v, ok := conn.Options["separateDuplicateParameters"].(bool); ok {
			separate = v
		}
		if v, ok := conn.Options["duplicateParameterAppendToKey"].(string); ok {
			mode = httpengine.DuplicateParameterMode(v)
		}
		if v, ok := conn.Options["combinedDuplicateParameterDelim"].(string); ok {
			delim = v
		}
	}

	return httpengine.Request{
		Method:     conn.Method,
		URI:        conn.URI,
		Headers:    conn.Headers,
		Parameters: conn.Parameters,
		Options: httpengine.Options{
			TimeoutMS:                       timeoutMS,
			SeparateDuplicateParameters:     separate,
			DuplicateParameterAppendToKey:   mode,
			CombinedDuplicateParameterDelim: delim,
		},
	}
}

func lowercaseHeaders(h map[string]string) map[string]string {
	if h == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = v
	}
	return out
}
