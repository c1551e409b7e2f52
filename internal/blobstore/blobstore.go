// Package blobstore implements the BlobStore component: opaque put/get
// of a single JSON document per key, used for cache entries whose
// serialized size exceeds the KVStore tiering threshold (spec.md §4.1,
// §6). Backed by Supabase Storage, chosen because it is already part of
// the example corpus's dependency surface (supabase-community/storage-go)
// rather than introducing an unfamiliar object-storage client.
package blobstore

import (
	"bytes"
	"io"

	storage_go "github.com/supabase-community/storage-go"
	"go.uber.org/zap"
)

// API is the subset of *storage_go.Client the Store depends on.
type API interface {
	UploadFile(bucketID, relativePath string, data io.Reader, fileOptions ...storage_go.FileOptions) (storage_go.FileUploadResponse, error)
	UpdateFile(bucketID, relativePath string, data io.Reader, fileOptions ...storage_go.FileOptions) (storage_go.FileUploadResponse, error)
	DownloadFile(bucketID, relativePath string) ([]byte, error)
}

// Store is a single-shot-initialized handle to one Supabase Storage
// bucket. Re-construction after a successful New is a caller-side no-op
// (spec.md §4.1: "single-shot init ... re-init is a logged no-op"); the
// internal/bootstrap constructs exactly one Store and hands it to
// cachedata.New.
type Store struct {
	client API
	bucket string
	prefix string
	logger *zap.Logger
}

// New builds a Store bound to bucket, namespacing every key under
// prefix (e.g. "cache/").
func New(client API, bucket, prefix string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

func (s *Store) key(id string) string {
	return s.prefix + id + ".json"
}

// Read fetches the JSON document for id. Any I/O failure returns
// (nil, false) rather than an error, matching spec.md §4.1's "returns
// null on any I/O/parse failure (logged, not raised)".
func (s *Store) Read(id string) ([]byte, bool) {
	data, err := s.client.DownloadFile(s.bucket, s.key(id))
	if err != nil {
		s.logger.Warn("blobstore: download failed", zap.String("key", s.key(id)), zap.Error(err))
		return nil, false
	}
	return data, true
}

// Write stores json under id, overwriting any existing object. It tries
// an update first (the common case: a cache entry tier keeps the same
// key across refreshes) and falls back to an initial upload when the
// object does not yet exist.
func (s *Store) Write(id string, json []byte) bool {
	key := s.key(id)

	if _, err := s.client.UpdateFile(s.bucket, key, bytes.NewReader(json), storage_go.FileOptions{
		ContentType: strPtr("application/json"),
	}); err == nil {
		return true
	}

	if _, err := s.client.UploadFile(s.bucket, key, bytes.NewReader(json), storage_go.FileOptions{
		ContentType: strPtr("application/json"),
	}); err != nil {
		s.logger.Warn("blobstore: upload failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func strPtr(s string) *string { return &s }
