package cacheaccess_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/63klabs/cache-data-proxy/internal/blobstore"
	"github.com/63klabs/cache-data-proxy/internal/cache"
	"github.com/63klabs/cache-data-proxy/internal/cacheaccess"
	"github.com/63klabs/cache-data-proxy/internal/cachedata"
	"github.com/63klabs/cache-data-proxy/internal/crypto"
	"github.com/63klabs/cache-data-proxy/internal/httpengine"
	"github.com/63klabs/cache-data-proxy/internal/keyhash"
	"github.com/63klabs/cache-data-proxy/internal/kvstore"
	"github.com/63klabs/cache-data-proxy/internal/memcache"
)

type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue
}

func newFakeDynamo() *fakeDynamo { return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)} }

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
	_ = f.items[id]
	return &dynamodb.UpdateItemOutput{}, nil
}

// expireAll sets every stored record's expires attribute to 0, so the
// next read from the KV tier sees the entry as stale.
func (f *fakeDynamo) expireAll() {
	for _, item := range f.items {
		item["expires"] = &types.AttributeValueMemberN{Value: "0"}
	}
}

func newCoordinator(t *testing.T) *cacheaccess.Coordinator {
	t.Helper()
	return newCoordinatorWith(t, newFakeDynamo(), memcache.New(100, 1<<20, nil))
}

// newCoordinatorWith builds a Coordinator over dyn and mem; a nil mem
// disables the in-memory tier.
func newCoordinatorWith(t *testing.T, dyn *fakeDynamo, mem *memcache.Cache) *cacheaccess.Coordinator {
	t.Helper()
	kv := kvstore.New(dyn, "cache-data", nil)
	bs := blobstore.New(nil, "cache-data", "cache/", nil)
	cipher := crypto.New(crypto.RawBytes(make([]byte, 32)))
	eng, err := cachedata.New(kv, bs, cipher, cachedata.Params{MaxKVCacheSizeKB: 350, PurgeWindowSeconds: 3600, TimeZoneForInterval: "UTC"})
	require.NoError(t, err)
	hasher, err := keyhash.New("sha256", "test-salt")
	require.NoError(t, err)
	return cacheaccess.New(hasher, eng, mem, nil)
}

func TestGetDataFetchesOnMissAndCaches(t *testing.T) {
	c := newCoordinator(t)
	var calls int

	fetch := func(ctx context.Context, conn cacheaccess.Connection, data any) httpengine.Response {
		calls++
		return httpengine.Response{Success: true, StatusCode: 200, Body: []byte(`{"v":1}`)}
	}

	conn := cacheaccess.Connection{Method: "GET", URI: "https://example.com/a"}
	h := c.GetData(context.Background(), cache.DefaultPolicy(), fetch, conn, map[string]any{"id": 1}, nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, cache.StatusOriginal, h.Status())
	assert.Equal(t, `{"v":1}`, h.View().Body)
}

func TestGetDataInjectsConditionalHeadersOnRefresh(t *testing.T) {
	dyn := newFakeDynamo()
	c := newCoordinatorWith(t, dyn, nil)

	first := func(ctx context.Context, conn cacheaccess.Connection, data any) httpengine.Response {
		return httpengine.Response{Success: true, StatusCode: 200, Body: []byte(`{"v":1}`), Headers: map[string]string{"etag": "abc"}}
	}
	conn := cacheaccess.Connection{Method: "GET", URI: "https://example.com/a"}
	policy := cache.DefaultPolicy()

	h1 := c.GetData(context.Background(), policy, first, conn, map[string]any{"id": 1}, nil)
	require.Equal(t, "abc", h1.View().Headers["etag"])
	dyn.expireAll() // make the stored entry stale for the next read

	var seenIfNoneMatch string
	second := func(ctx context.Context, conn cacheaccess.Connection, data any) httpengine.Response {
		seenIfNoneMatch = conn.Headers["if-none-match"]
		return httpengine.Response{Success: true, StatusCode: 304}
	}

	h2 := c.GetData(context.Background(), policy, second, conn, map[string]any{"id": 1}, nil)
	assert.Equal(t, "abc", seenIfNoneMatch)
	assert.Equal(t, cache.StatusOriginalNotModified, h2.Status())
}

func TestGetDataExtendsExpiresOnFetchError(t *testing.T) {
	dyn := newFakeDynamo()
	c := newCoordinatorWith(t, dyn, nil)

	first := func(ctx context.Context, conn cacheaccess.Connection, data any) httpengine.Response {
		return httpengine.Response{Success: true, StatusCode: 200, Body: []byte(`{"v":1}`)}
	}
	conn := cacheaccess.Connection{Method: "GET", URI: "https://example.com/a"}
	policy := cache.DefaultPolicy()

	c.GetData(context.Background(), policy, first, conn, map[string]any{"id": 1}, nil)
	dyn.expireAll() // make the stored entry stale for the next read

	failing := func(ctx context.Context, conn cacheaccess.Connection, data any) httpengine.Response {
		return httpengine.Response{Success: false, StatusCode: 500, Message: "origin down"}
	}
	h2 := c.GetData(context.Background(), policy, failing, conn, map[string]any{"id": 1}, nil)

	assert.Equal(t, cache.StatusErrorOriginal, h2.Status())
	assert.Equal(t, "500", h2.ErrorCode())
	assert.Equal(t, `{"v":1}`, h2.View().Body)
}
