// Package cachedata implements the CacheData policy engine: expiration
// math, tier placement between KVStore and BlobStore, header synthesis,
// and private/public classification (spec.md §4.6). It is the only
// component that understands the on-disk record shape; KVStore and
// BlobStore themselves stay ignorant of it.
package cachedata

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/63klabs/cache-data-proxy/internal/blobstore"
	cryptoengine "github.com/63klabs/cache-data-proxy/internal/crypto"
	"github.com/63klabs/cache-data-proxy/internal/kvstore"
)

// View is the fully resolved state of a cache entry, whether it came
// from KVStore directly, was redirected through BlobStore, or represents
// an empty/error placeholder.
type View struct {
	Found          bool
	Body           string
	Headers        map[string]string
	StatusCode     string
	Expires        int64
	Classification string
	SizeKB         float64
	ObjInS3        bool
	Host           string
	Path           string
}

// IsEmpty reports whether this view represents "nothing cached".
func (v View) IsEmpty() bool {
	return !v.Found
}

// Params configures a single-shot Engine instance (spec.md §4.6 init).
type Params struct {
	MaxKVCacheSizeKB       float64
	PurgeWindowSeconds     int64
	TimeZoneForInterval    string
	DefaultExpirationOnErr int64
}

// Engine is the CacheData policy engine bound to one KVStore, one
// BlobStore, and one Cipher. Init is single-shot: New validates once;
// callers must not construct a second live Engine over the same table.
type Engine struct {
	kv       *kvstore.Store
	blob     *blobstore.Store
	cipher   *cryptoengine.Cipher
	params   Params
	location *time.Location
}

// New validates params and builds an Engine. A validation failure here
// is the one class of error allowed to stop the caller before serving
// traffic (spec.md §7, Init misconfig).
func New(kv *kvstore.Store, blob *blobstore.Store, cipher *cryptoengine.Cipher, params Params) (*Engine, error) {
	if params.MaxKVCacheSizeKB <= 0 {
		return nil, fmt.Errorf("cachedata.New: size limit must be positive")
	}
	if params.PurgeWindowSeconds <= 0 {
		return nil, fmt.Errorf("cachedata.New: purge window must be positive")
	}
	if params.TimeZoneForInterval == "" {
		return nil, fmt.Errorf("cachedata.New: interval timezone must not be empty")
	}
	loc, err := time.LoadLocation(params.TimeZoneForInterval)
	if err != nil {
		return nil, fmt.Errorf("cachedata.New: load timezone %q: %w", params.TimeZoneForInterval, err)
	}
	return &Engine{kv: kv, blob: blob, cipher: cipher, params: params, location: loc}, nil
}

// NextExpiry returns the next interval-aligned boundary after now, in
// the engine's configured timezone (spec.md §4.6's interval algorithm).
// Callers that don't want interval alignment compute expires themselves
// and never call this.
func (e *Engine) NextExpiry(now time.Time, intervalSeconds int64) time.Time {
	return NextInterval(now, intervalSeconds, e.location)
}

// Prime ensures any lazily-resolved key material is ready. Safe to call
// concurrently and repeatedly; only the first resolution does work.
func (e *Engine) Prime(ctx context.Context) error {
	if e.cipher == nil {
		return nil
	}
	return e.cipher.Prime(ctx)
}

// recordData is the JSON shape stored under kvstore.Record.Data / the
// BlobStore document body (spec.md §3's "Cache Entry" fields).
type recordData struct {
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
	Status  string            `json:"statusCode"`
	Info    recordInfo        `json:"info"`
}

type recordInfo struct {
	Classification string  `json:"classification"`
	SizeKB         float64 `json:"size_kb"`
	ObjInS3        bool    `json:"objInS3"`
	Host           string  `json:"host,omitempty"`
	Path           string  `json:"path,omitempty"`
}

// Read fetches id's record, following the BlobStore redirect and
// decrypting private payloads. Any failure along the way — missing
// record, BlobStore I/O error, decrypt failure — degrades to an empty
// view forcing a refresh (spec.md §4.6).
func (e *Engine) Read(ctx context.Context, id string) View {
	rec, ok := e.kv.Read(ctx, id)
	if !ok {
		return e.emptyView()
	}

	data, err := decodeData(rec.Data)
	if err != nil {
		return e.errorView()
	}

	if data.Info.ObjInS3 {
		blob, ok := e.blob.Read(id)
		if !ok {
			return e.errorView()
		}
		if err := json.Unmarshal(blob, &data); err != nil {
			return e.errorView()
		}
	}

	body := data.Body
	if data.Info.Classification == "private" {
		var env cryptoengine.Envelope
		if err := json.Unmarshal([]byte(data.Body), &env); err != nil {
			return e.errorView()
		}
		plain, err := e.cipher.Decrypt(ctx, env)
		if err != nil {
			return e.errorView()
		}
		body = string(plain)
	}

	return View{
		Found:          true,
		Body:           body,
		Headers:        data.Headers,
		StatusCode:     data.Status,
		Expires:        rec.Expires,
		Classification: data.Info.Classification,
		SizeKB:         data.Info.SizeKB,
		ObjInS3:        data.Info.ObjInS3,
		Host:           data.Info.Host,
		Path:           data.Info.Path,
	}
}

// Format builds a View without touching storage — used when nothing is
// cached yet and the caller needs a placeholder to evaluate against.
func (e *Engine) Format(expires int64, body string, headers map[string]string, status string) View {
	return View{Found: body != "", Body: body, Headers: lowercaseKeys(headers), StatusCode: status, Expires: expires}
}

// Write persists body/headers under id, synthesizing etag/last-modified/
// expires headers as needed, classifying as private/public, and tiering
// to BlobStore when the serialized size exceeds MaxKVCacheSizeKB
// (spec.md §4.6 step 1-8, P4).
func (e *Engine) Write(ctx context.Context, id string, now time.Time, body string, headers map[string]string, host, path string, expires int64, status string, encrypt bool) View {
	if expires <= 0 || expires <= now.Unix() {
		expires = now.Unix() + 300
	}

	h := lowercaseKeys(headers)
	if _, ok := h["etag"]; !ok {
		h["etag"] = synthesizeETag(id, body)
	}
	if _, ok := h["last-modified"]; !ok {
		h["last-modified"] = now.UTC().Format(time.RFC1123)
	}
	if _, ok := h["expires"]; !ok {
		h["expires"] = time.Unix(expires, 0).UTC().Format(time.RFC1123)
	}

	classification := "public"
	storedBody := body
	if encrypt {
		classification = "private"
		env, err := e.cipher.Encrypt(ctx, []byte(body))
		if err != nil {
			return e.errorView()
		}
		raw, _ := json.Marshal(env)
		storedBody = string(raw)
	}

	sizeKB := float64(len(storedBody)+headerBytes(h)) / 1024.0
	sizeKB = roundTo3(sizeKB)

	full := recordData{
		Body:    storedBody,
		Headers: h,
		Status:  status,
		Info: recordInfo{
			Classification: classification,
			SizeKB:         sizeKB,
			Host:           host,
			Path:           path,
		},
	}

	purgeTS := expires + e.params.PurgeWindowSeconds

	if sizeKB > e.params.MaxKVCacheSizeKB {
		full.Info.ObjInS3 = true
		fullJSON, err := json.Marshal(full)
		if err != nil {
			return e.errorView()
		}

		preview := full
		preview.Body = fmt.Sprintf("ID: %s PREVIEW: %s", id, truncate(body, 80))

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			_ = gctx
			if !e.blob.Write(id, fullJSON) {
				return fmt.Errorf("blobstore write failed")
			}
			return nil
		})
		g.Go(func() error {
			rec := kvstore.Record{IDHash: id, Data: encodeData(preview), Expires: expires, PurgeTS: purgeTS}
			if !e.kv.Write(ctx, rec) {
				return fmt.Errorf("kvstore write failed")
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			return e.errorView()
		}

		return View{
			Found: true, Body: body, Headers: h, StatusCode: status, Expires: expires,
			Classification: classification, SizeKB: sizeKB, ObjInS3: true, Host: host, Path: path,
		}
	}

	rec := kvstore.Record{IDHash: id, Data: encodeData(full), Expires: expires, PurgeTS: purgeTS}
	if !e.kv.Write(ctx, rec) {
		return e.errorView()
	}

	return View{
		Found: true, Body: body, Headers: h, StatusCode: status, Expires: expires,
		Classification: classification, SizeKB: sizeKB, ObjInS3: false, Host: host, Path: path,
	}
}

func (e *Engine) emptyView() View {
	return View{Found: false, StatusCode: "", Expires: time.Now().Unix()}
}

func (e *Engine) errorView() View {
	return View{Found: false, StatusCode: "500", Expires: time.Now().Unix()}
}

func synthesizeETag(id, body string) string {
	sum := sha1.Sum([]byte(id + body))
	return hex.EncodeToString(sum[:])[:10]
}

func lowercaseKeys(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = v
	}
	return out
}

func headerBytes(h map[string]string) int {
	n := 0
	for k, v := range h {
		n += len(k) + len(v)
	}
	return n
}

func roundTo3(v float64) float64 {
	return float64(int64(v*1000+0.5)) / 1000
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func encodeData(d recordData) map[string]any {
	raw, _ := json.Marshal(d)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out
}

func decodeData(m map[string]any) (recordData, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return recordData{}, err
	}
	var d recordData
	if err := json.Unmarshal(raw, &d); err != nil {
		return recordData{}, err
	}
	return d, nil
}
