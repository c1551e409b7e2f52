package kvstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/63klabs/cache-data-proxy/internal/kvstore"
)

type fakeDynamo struct {
	items      map[string]map[string]types.AttributeValue
	failGet    bool
	failPut    bool
	failUpdate bool
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.failGet {
		return nil, errors.New("boom")
	}
	id := in.Key["id_hash"].(*types.AttributeValueMemberS).Value
	item, ok := f.items[id]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.failPut {
		return nil, errors.New("boom")
	}
	id := in.Item["id_hash"].(*types.AttributeValueMemberS).Value
	f.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if f.failUpdate {
		return nil, errors.New("boom")
	}
	id := in.Key["id_hash"].(*types.AttributeValueMemberS).Value
	item, ok := f.items[id]
	if !ok {
		item = map[string]types.AttributeValue{"id_hash": in.Key["id_hash"]}
		f.items[id] = item
	}
	item["expires"] = &types.AttributeValueMemberN{Value: "999"}
	return &dynamodb.UpdateItemOutput{}, nil
}

func TestWriteThenRead(t *testing.T) {
	fake := newFakeDynamo()
	store := kvstore.New(fake, "cache-data", nil)

	rec := kvstore.Record{IDHash: "abc123", Data: map[string]any{"body": "hello"}, Expires: 100, PurgeTS: 200}
	require.True(t, store.Write(context.Background(), rec))

	got, ok := store.Read(context.Background(), "abc123")
	require.True(t, ok)
	assert.Equal(t, "abc123", got.IDHash)
	assert.Equal(t, int64(100), got.Expires)
	assert.Equal(t, "hello", got.Data["body"])
}

func TestReadMissingReturnsFalse(t *testing.T) {
	fake := newFakeDynamo()
	store := kvstore.New(fake, "cache-data", nil)

	_, ok := store.Read(context.Background(), "nonexistent")
	assert.False(t, ok)
}

func TestReadSwallowsError(t *testing.T) {
	fake := newFakeDynamo()
	fake.failGet = true
	store := kvstore.New(fake, "cache-data", nil)

	_, ok := store.Read(context.Background(), "abc123")
	assert.False(t, ok)
}

func TestWriteSwallowsError(t *testing.T) {
	fake := newFakeDynamo()
	fake.failPut = true
	store := kvstore.New(fake, "cache-data", nil)

	ok := store.Write(context.Background(), kvstore.Record{IDHash: "abc123"})
	assert.False(t, ok)
}

func TestExtendExpiresUpdatesWithoutData(t *testing.T) {
	fake := newFakeDynamo()
	store := kvstore.New(fake, "cache-data", nil)

	rec := kvstore.Record{IDHash: "abc123", Data: map[string]any{"body": "hello"}, Expires: 100}
	require.True(t, store.Write(context.Background(), rec))
	require.True(t, store.ExtendExpires(context.Background(), "abc123", 999, 1999))

	var got kvstore.Record
	require.NoError(t, attributevalue.UnmarshalMap(fake.items["abc123"], &got))
	assert.Equal(t, int64(999), got.Expires)
	assert.Equal(t, "hello", got.Data["body"])
}
