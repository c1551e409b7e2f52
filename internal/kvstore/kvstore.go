// Package kvstore implements the KVStore component: a thin, generic
// DynamoDB repository for cache records, keyed by id_hash, projecting
// exactly {id_hash, data, expires} on read (spec.md §4.2, §6). Every
// failure is swallowed and logged rather than propagated — a storage
// miss degrades to a forced refresh, never a process error.
package kvstore

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

// Record is the KVStore's on-the-wire item shape. Data carries the
// nested cache-entry payload as an opaque map so kvstore stays ignorant
// of encryption/classification, which is internal/cachedata's concern.
type Record struct {
	IDHash  string         `dynamodbav:"id_hash"`
	Data    map[string]any `dynamodbav:"data"`
	Expires int64          `dynamodbav:"expires"`
	PurgeTS int64          `dynamodbav:"purge_ts"`
}

// API is the subset of *dynamodb.Client the Store depends on, narrowed
// so tests can supply a fake instead of a live AWS connection.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Store wraps a DynamoDB client bound to a single table.
type Store struct {
	client    API
	tableName string
	logger    *zap.Logger
}

// New builds a Store. Init is single-shot by convention of its caller
// (internal/cachedata); re-construction is harmless here since Store
// holds no mutable state of its own.
func New(client API, tableName string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, tableName: tableName, logger: logger}
}

// Read fetches the record for id, projecting only id_hash, data, and
// expires. A missing item or any I/O/unmarshal error yields (nil, false)
// — never an error — matching spec.md §4.2's "errors swallowed with
// logging and mapped to null".
func (s *Store) Read(ctx context.Context, id string) (*Record, bool) {
	proj := expression.NamesList(
		expression.Name("id_hash"),
		expression.Name("data"),
		expression.Name("expires"),
	)
	expr, err := expression.NewBuilder().WithProjection(proj).Build()
	if err != nil {
		s.logger.Warn("kvstore: build projection expression", zap.Error(err))
		return nil, false
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                s.tableNamePtr(),
		Key:                      idKey(id),
		ProjectionExpression:     expr.Projection(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		s.logger.Warn("kvstore: GetItem failed", zap.String("id_hash", id), zap.Error(err))
		return nil, false
	}
	if out.Item == nil {
		return nil, false
	}

	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		s.logger.Warn("kvstore: unmarshal item", zap.String("id_hash", id), zap.Error(err))
		return nil, false
	}
	return &rec, true
}

// Write puts rec into the table, overwriting any existing item with the
// same id_hash. A failure is logged and reported as false; the caller
// proceeds without the write having happened (spec.md §4.2).
func (s *Store) Write(ctx context.Context, rec Record) bool {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		s.logger.Warn("kvstore: marshal record", zap.String("id_hash", rec.IDHash), zap.Error(err))
		return false
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: s.tableNamePtr(),
		Item:      item,
	})
	if err != nil {
		s.logger.Warn("kvstore: PutItem failed", zap.String("id_hash", rec.IDHash), zap.Error(err))
		return false
	}
	return true
}

// ExtendExpires updates only the expires/purge_ts attributes of an
// existing record, leaving data untouched. The cache handle's extend
// paths do not call it; they rewrite the whole record through
// cachedata.Engine.Write.
func (s *Store) ExtendExpires(ctx context.Context, id string, expires, purgeTS int64) bool {
	update := expression.Set(expression.Name("expires"), expression.Value(expires)).
		Set(expression.Name("purge_ts"), expression.Value(purgeTS))
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		s.logger.Warn("kvstore: build update expression", zap.Error(err))
		return false
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 s.tableNamePtr(),
		Key:                       idKey(id),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		s.logger.Warn("kvstore: UpdateItem failed", zap.String("id_hash", id), zap.Error(err))
		return false
	}
	return true
}

func (s *Store) tableNamePtr() *string {
	return aws.String(s.tableName)
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id_hash": &types.AttributeValueMemberS{Value: id},
	}
}
