package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/aurora-insure/concierge/pkg/logging"
)

const recordTTL = 30 * 24 * time.Hour

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoStore implements the guard on a DynamoDB table with a conditional
// put. The condition makes the first writer win; a ConditionalCheckFailed
// means someone else already recorded this key.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore builds a store over the provided DynamoDB client.
func NewDynamoStore(client dynamoAPI, tableName string, logger *logging.Logger) *DynamoStore {
	if client == nil {
		panic("idempotency: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("idempotency: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		logger:    logger.Component("idempotency"),
	}
}

// Get fetches the record for the key, or nil when no execution is recorded.
func (s *DynamoStore) Get(ctx context.Context, key string) (*Record, error) {
	if key == "" {
		return nil, errors.New("idempotency: key required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]types.AttributeValue{
			"recordKey": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("idempotency: failed to decode record %s: %w", key, err)
	}
	return &rec, nil
}

// PutIfAbsent records the result under the key with a first-writer-wins
// conditional put. On a lost race it fetches and returns the winner's record.
func (s *DynamoStore) PutIfAbsent(ctx context.Context, key string, result []byte) (bool, *Record, error) {
	if key == "" {
		return false, nil, errors.New("idempotency: key required")
	}
	now := time.Now().UTC()
	rec := Record{
		Key:       key,
		Result:    result,
		CreatedAt: now.Format(time.RFC3339Nano),
		ExpiresAt: now.Add(recordTTL).Unix(),
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return false, nil, fmt.Errorf("idempotency: failed to marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(recordKey)"),
	})
	if err == nil {
		return true, &rec, nil
	}

	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		existing, getErr := s.Get(ctx, key)
		if getErr != nil {
			return false, nil, getErr
		}
		if existing == nil {
			return false, nil, fmt.Errorf("%w: lost put race on %s but record vanished", ErrUnavailable, key)
		}
		s.logger.Info("replayed idempotent record", "key", key)
		return false, existing, nil
	}
	return false, nil, fmt.Errorf("%w: put %s: %v", ErrUnavailable, key, err)
}
