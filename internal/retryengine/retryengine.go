// Package retryengine wraps HTTPEngine with a classification-based
// retry loop and an outer circuit breaker (spec.md §4.9). Total attempts
// never exceed maxRetries+1 (P6); the final response gains a
// metadata.retries block only when more than one attempt occurred.
package retryengine

import (
	"context"
	"encoding/json"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/63klabs/cache-data-proxy/internal/httpengine"
)

// RetryOn enumerates which failure classes trigger another attempt.
type RetryOn struct {
	NetworkError  bool
	EmptyResponse bool
	ParseError    bool
	ServerError   bool
	ClientError   bool
}

// Config configures the engine.
type Config struct {
	Enabled    bool
	MaxRetries int
	RetryOn    RetryOn

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold float64
	CircuitBreakerMinRequests      uint32
}

// RetryMetadata is attached to a Response's Metadata when more than one
// attempt was made.
type RetryMetadata struct {
	Occurred     bool `json:"occurred"`
	Attempts     int  `json:"attempts"`
	FinalAttempt int  `json:"finalAttempt"`
}

// Response augments httpengine.Response with retry metadata.
type Response struct {
	httpengine.Response
	Retries *RetryMetadata `json:"metadata.retries,omitempty"`
}

// Engine wraps an httpengine.Engine with retry-with-classification and
// an optional gobreaker circuit breaker.
type Engine struct {
	http    *httpengine.Engine
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// New builds an Engine. When cfg.CircuitBreakerEnabled, requests that
// keep failing trip the breaker and fail fast without reaching the
// origin at all.
func New(http *httpengine.Engine, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{http: http, cfg: cfg, logger: logger}

	if cfg.CircuitBreakerEnabled {
		e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "retryengine",
			MaxRequests: 1,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < cfg.CircuitBreakerMinRequests {
					return false
				}
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return failureRatio >= cfg.CircuitBreakerFailureThreshold
			},
		})
	}

	return e
}

// Do executes req with retries applied, wrapped by the circuit breaker
// when enabled.
func (e *Engine) Do(ctx context.Context, req httpengine.Request) Response {
	if e.breaker == nil {
		return e.doWithRetry(ctx, req)
	}

	result, err := e.breaker.Execute(func() (any, error) {
		resp := e.doWithRetry(ctx, req)
		if !resp.Success {
			return resp, errBreakerTrip
		}
		return resp, nil
	})
	if err != nil {
		if resp, ok := result.(Response); ok {
			return resp
		}
		return Response{Response: httpengine.Response{Success: false, StatusCode: 503, Message: "circuit breaker open"}}
	}
	return result.(Response)
}

var errBreakerTrip = breakerTripError{}

type breakerTripError struct{}

func (breakerTripError) Error() string { return "request failed" }

func (e *Engine) doWithRetry(ctx context.Context, req httpengine.Request) Response {
	maxRetries := e.cfg.MaxRetries
	if !e.cfg.Enabled {
		maxRetries = 0
	}

	var last httpengine.Response
	attempts := 0
	for attempts = 1; attempts <= maxRetries+1; attempts++ {
		last = e.http.Do(ctx, req)
		if !e.shouldRetry(last) || attempts == maxRetries+1 {
			break
		}
		e.logger.Warn("retryengine: retrying request", zap.Int("attempt", attempts+1))
	}

	resp := Response{Response: last}
	if attempts > 1 {
		resp.Retries = &RetryMetadata{Occurred: true, Attempts: attempts, FinalAttempt: attempts}
	}
	return resp
}

func (e *Engine) shouldRetry(resp httpengine.Response) bool {
	if resp.StatusCode == 0 && e.cfg.RetryOn.NetworkError {
		return true
	}
	if len(resp.Body) == 0 && e.cfg.RetryOn.EmptyResponse {
		return true
	}
	if resp.StatusCode >= 500 && e.cfg.RetryOn.ServerError {
		return true
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && e.cfg.RetryOn.ClientError {
		return true
	}
	if e.cfg.RetryOn.ParseError && len(resp.Body) > 0 && !isValidJSON(resp.Body) {
		return true
	}
	return false
}

func isValidJSON(b []byte) bool {
	var v any
	return json.Unmarshal(b, &v) == nil
}
