// Package paginator implements offset-based page fan-out with bounded
// concurrency (spec.md §4.10). It is opt-in: callers hand the first
// page's raw body to Expand, which finds the total-count and items
// fields itself, issues the remaining pages in batches and merges them
// back into a single synthesized response.
package paginator

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/63klabs/cache-data-proxy/internal/httpengine"
)

// Config controls field names and batching (spec.md §4.10).
type Config struct {
	TotalCountKey  string
	ItemsKey       string
	ReturnCountKey string
	OffsetParamKey string
	Limit          int
	BatchSize      int // default 5
}

func (c Config) returnCountKey() string {
	if c.ReturnCountKey == "" {
		return "returnCount"
	}
	return c.ReturnCountKey
}

func (c Config) batchSize() int {
	if c.BatchSize <= 0 {
		return 5
	}
	return c.BatchSize
}

// Metadata describes the outcome of an Expand call; Expand returns it
// next to the synthesized body and does not write it into the body.
type Metadata struct {
	Occurred   bool   `json:"occurred"`
	TotalPages int    `json:"totalPages"`
	TotalItems int    `json:"totalItems"`
	Incomplete bool   `json:"incomplete"`
	Error      string `json:"error,omitempty"`
}

// Fetcher issues one HTTPEngine-shaped request for a given offset.
// Sub-requests must run with pagination disabled to prevent recursion;
// that is the caller's responsibility when constructing Fetcher.
type Fetcher func(ctx context.Context, offset int) httpengine.Response

// Engine drives the batched offset fan-out.
type Engine struct {
	cfg    Config
	logger *zap.Logger
}

// New builds an Engine.
func New(cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, logger: logger}
}

// Expand parses firstPageBody for the total-count and items fields,
// computes the remaining offsets, fetches them in batches via fetch,
// and returns the synthesized body plus pagination metadata. It never
// returns an error: a failed batch is recorded in Metadata and the
// items collected so far are returned (spec.md §4.10 failure policy).
func (e *Engine) Expand(ctx context.Context, firstPageBody []byte, fetch Fetcher) ([]byte, Metadata) {
	var first map[string]any
	if err := json.Unmarshal(firstPageBody, &first); err != nil {
		return firstPageBody, Metadata{}
	}

	total, ok := intField(first, e.cfg.TotalCountKey)
	if !ok || e.cfg.Limit <= 0 {
		return firstPageBody, Metadata{}
	}
	items, ok := first[e.cfg.ItemsKey].([]any)
	if !ok {
		return firstPageBody, Metadata{}
	}

	offsets := remainingOffsets(total, e.cfg.Limit)
	if len(offsets) == 0 {
		return firstPageBody, Metadata{Occurred: false, TotalItems: len(items), TotalPages: 1}
	}

	meta := Metadata{Occurred: true, TotalPages: 1 + len(offsets), TotalItems: len(items)}
	pages := make([][]any, len(offsets))

	batch := e.cfg.batchSize()
	for start := 0; start < len(offsets); start += batch {
		end := start + batch
		if end > len(offsets) {
			end = len(offsets)
		}
		e.runBatch(ctx, offsets[start:end], start, pages, &meta, fetch)
	}

	merged := append([]any{}, items...)
	for _, p := range pages {
		merged = append(merged, p...)
	}
	meta.TotalItems = len(merged)

	out := make(map[string]any, len(first)+1)
	for k, v := range first {
		if k == e.cfg.OffsetParamKey {
			continue
		}
		out[k] = v
	}
	out[e.cfg.ItemsKey] = merged
	out[e.cfg.returnCountKey()] = len(merged)

	body, err := json.Marshal(out)
	if err != nil {
		meta.Incomplete = true
		meta.Error = err.Error()
		return firstPageBody, meta
	}
	return body, meta
}

// runBatch fetches offsets[i] concurrently, writing results into
// pages[baseIndex+i] so offset order is preserved regardless of
// completion order (spec.md §5).
func (e *Engine) runBatch(ctx context.Context, offsets []int, baseIndex int, pages [][]any, meta *Metadata, fetch Fetcher) {
	results := make(chan struct {
		idx   int
		items []any
		err   error
	}, len(offsets))

	for i, offset := range offsets {
		go func(i, offset int) {
			resp := fetchSafely(func() httpengine.Response {
				return fetch(ctx, offset)
			})
			items, err := parseItems(resp, e.cfg.ItemsKey)
			results <- struct {
				idx   int
				items []any
				err   error
			}{idx: i, items: items, err: err}
		}(i, offset)
	}

	for range offsets {
		r := <-results
		if r.err != nil {
			meta.Incomplete = true
			meta.Error = r.err.Error()
			e.logger.Warn("paginator: batch page failed", zap.Error(r.err))
			continue
		}
		pages[baseIndex+r.idx] = r.items
	}
}

func fetchSafely(fn func() httpengine.Response) (resp httpengine.Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = httpengine.Response{Success: false, Message: "panic during page fetch"}
		}
	}()
	return fn()
}

func parseItems(resp httpengine.Response, itemsKey string) ([]any, error) {
	if !resp.Success {
		return nil, errPageFailed(resp.Message)
	}
	var page map[string]any
	if err := json.Unmarshal(resp.Body, &page); err != nil {
		return nil, err
	}
	items, _ := page[itemsKey].([]any)
	return items, nil
}

type errPageFailed string

func (e errPageFailed) Error() string {
	if string(e) == "" {
		return "page fetch failed"
	}
	return string(e)
}

func intField(m map[string]any, key string) (int, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// remainingOffsets computes the offsets of every page after the first:
// [limit, 2*limit, ..., (numPages-1)*limit] where numPages = ceil(total/limit).
func remainingOffsets(total, limit int) []int {
	numPages := (total + limit - 1) / limit
	last := (numPages - 1) * limit
	var offsets []int
	for o := limit; o <= last; o += limit {
		offsets = append(offsets, o)
	}
	return offsets
}
