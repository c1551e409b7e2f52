package cachedata_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	storage_go "github.com/supabase-community/storage-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/63klabs/cache-data-proxy/internal/blobstore"
	"github.com/63klabs/cache-data-proxy/internal/cachedata"
	"github.com/63klabs/cache-data-proxy/internal/crypto"
	"github.com/63klabs/cache-data-proxy/internal/kvstore"
)

type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	id := in.Key["id_hash"].(*types.AttributeValueMemberS).Value
	item, ok := f.items[id]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	id := in.Item["id_hash"].(*types.AttributeValueMemberS).Value
	f.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	id := in.Key["id_hash"].(*types.AttributeValueMemberS).Value
	item := f.items[id]
	item["expires"] = &types.AttributeValueMemberN{Value: "0"}
	return &dynamodb.UpdateItemOutput{}, nil
}

type fakeBlob struct {
	objects map[string][]byte
}

func newFakeBlob() *fakeBlob { return &fakeBlob{objects: make(map[string][]byte)} }

func (f *fakeBlob) UploadFile(_ string, relativePath string, data io.Reader, _ ...storage_go.FileOptions) (storage_go.FileUploadResponse, error) {
	b, _ := io.ReadAll(data)
	f.objects[relativePath] = b
	return storage_go.FileUploadResponse{Key: relativePath}, nil
}

func (f *fakeBlob) UpdateFile(_ string, relativePath string, data io.Reader, _ ...storage_go.FileOptions) (storage_go.FileUploadResponse, error) {
	if _, ok := f.objects[relativePath]; !ok {
		return storage_go.FileUploadResponse{}, errors.New("not found")
	}
	b, _ := io.ReadAll(data)
	f.objects[relativePath] = b
	return storage_go.FileUploadResponse{Key: relativePath}, nil
}

func (f *fakeBlob) DownloadFile(_ string, relativePath string) ([]byte, error) {
	b, ok := f.objects[relativePath]
	if !ok {
		return nil, errors.New("not found")
	}
	return b, nil
}

func newEngine(t *testing.T, maxKVSizeKB float64) (*cachedata.Engine, *fakeDynamo, *fakeBlob) {
	t.Helper()
	dyn := newFakeDynamo()
	blob := newFakeBlob()
	kv := kvstore.New(dyn, "cache-data", nil)
	bs := blobstore.New(blob, "cache-data", "cache/", nil)
	cipher := crypto.New(crypto.RawBytes(make([]byte, 32)))

	eng, err := cachedata.New(kv, bs, cipher, cachedata.Params{
		MaxKVCacheSizeKB:    maxKVSizeKB,
		PurgeWindowSeconds:  3600,
		TimeZoneForInterval: "UTC",
	})
	require.NoError(t, err)
	return eng, dyn, blob
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	eng, _, _ := newEngine(t, 350)
	ctx := context.Background()
	now := time.Now()

	view := eng.Write(ctx, "id1", now, `{"v":1}`, map[string]string{}, "example.com", "/a", 0, "200", false)
	require.True(t, view.Found)
	assert.False(t, view.ObjInS3)

	got := eng.Read(ctx, "id1")
	require.True(t, got.Found)
	assert.Equal(t, `{"v":1}`, got.Body)
	assert.Equal(t, "public", got.Classification)
}

func TestPrivateClassificationRoundTrip(t *testing.T) {
	eng, _, _ := newEngine(t, 350)
	ctx := context.Background()
	now := time.Now()

	body := `{"token":"abc"}`
	view := eng.Write(ctx, "id1", now, body, map[string]string{}, "example.com", "/a", 0, "200", true)
	require.True(t, view.Found)

	got := eng.Read(ctx, "id1")
	require.True(t, got.Found)
	assert.Equal(t, body, got.Body)
	assert.Equal(t, "private", got.Classification)
}

func TestOversizePayloadTiersToBlobStore(t *testing.T) {
	eng, _, blob := newEngine(t, 0.01) // tiny threshold in KB forces tiering
	ctx := context.Background()
	now := time.Now()

	big := strings.Repeat("x", 50*1024)
	view := eng.Write(ctx, "id1", now, big, map[string]string{}, "example.com", "/a", 0, "200", false)
	require.True(t, view.Found)
	assert.True(t, view.ObjInS3)
	assert.NotEmpty(t, blob.objects)

	got := eng.Read(ctx, "id1")
	require.True(t, got.Found)
	assert.Equal(t, big, got.Body)
}

func TestReadMissingReturnsEmptyView(t *testing.T) {
	eng, _, _ := newEngine(t, 350)
	got := eng.Read(context.Background(), "nonexistent")
	assert.False(t, got.Found)
}

func TestNewRejectsInvalidParams(t *testing.T) {
	kv := kvstore.New(newFakeDynamo(), "t", nil)
	bs := blobstore.New(newFakeBlob(), "b", "cache/", nil)
	cipher := crypto.New(crypto.RawBytes(make([]byte, 32)))

	_, err := cachedata.New(kv, bs, cipher, cachedata.Params{MaxKVCacheSizeKB: 0, PurgeWindowSeconds: 1, TimeZoneForInterval: "UTC"})
	require.Error(t, err)

	_, err = cachedata.New(kv, bs, cipher, cachedata.Params{MaxKVCacheSizeKB: 1, PurgeWindowSeconds: 0, TimeZoneForInterval: "UTC"})
	require.Error(t, err)

	_, err = cachedata.New(kv, bs, cipher, cachedata.Params{MaxKVCacheSizeKB: 1, PurgeWindowSeconds: 1, TimeZoneForInterval: ""})
	require.Error(t, err)
}

func TestWriteSynthesizesMissingHeaders(t *testing.T) {
	eng, _, _ := newEngine(t, 350)
	ctx := context.Background()
	now := time.Now()

	view := eng.Write(ctx, "id1", now, "body", map[string]string{}, "example.com", "/a", 0, "200", false)
	assert.Contains(t, view.Headers, "etag")
	assert.Contains(t, view.Headers, "last-modified")
	assert.Contains(t, view.Headers, "expires")
}
