// Package restapi exposes CacheableAccess over HTTP: POST a connection
// descriptor, cache policy, and caller data; get back the cached or
// freshly-fetched response shaped for an API gateway (spec.md §4.11,
// §6). Routing and middleware follow the teacher's chi-based router
// (interfaces/http/rest/router.go): request ID, real-IP, panic
// recovery, structured request logging, then CORS.
package restapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/63klabs/cache-data-proxy/internal/bootstrap"
	apitypes "github.com/63klabs/cache-data-proxy/pkg/api"
)

// Router builds the cache engine's HTTP surface.
type Router struct {
	container *bootstrap.Container
	handler   *Handler
}

// NewRouter builds a Router bound to container.
func NewRouter(container *bootstrap.Container) *Router {
	return &Router{container: container, handler: NewHandler(container)}
}

// Setup configures routes and middleware, returning the http.Handler
// cmd/api and cmd/lambda both serve.
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(rt.container.Logger))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "If-None-Match", "If-Modified-Since"},
		ExposedHeaders:   []string{"X-Request-ID", "x-cprxy-data-source"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", rt.health)
	r.Get("/ready", rt.ready)
	r.Get("/debug/memcache", rt.memcacheInfo)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/cache", rt.handler.Access)
	})

	return r
}

func (rt *Router) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

func (rt *Router) ready(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// memcacheInfo surfaces MemCache's hit/miss/eviction counters
// (spec.md §4.3 info()) for operational inspection. Returns only
// {"enabled": false} when the in-memory tier is disabled.
func (rt *Router) memcacheInfo(w http.ResponseWriter, r *http.Request) {
	if rt.container.MemCache == nil {
		apitypes.WriteJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	info := rt.container.MemCache.Info()
	apitypes.WriteJSON(w, http.StatusOK, map[string]any{
		"enabled":   true,
		"entries":   info.Entries,
		"bytes":     info.Bytes,
		"hits":      info.Hits,
		"misses":    info.Misses,
		"evictions": info.Evictions,
	})
}

// requestLogger logs each request at info level with its method, path,
// status, and request ID, mirroring the teacher's middleware.Logger.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.String("request_id", chimiddleware.GetReqID(r.Context())),
			)
		})
	}
}
