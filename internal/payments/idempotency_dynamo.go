package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type idempotencyRecord struct {
	Key        string `dynamodbav:"idempotencyKey"`
	ReservedAt string `dynamodbav:"reservedAt"`
	ExpiresAt  int64  `dynamodbav:"expiresAt"`
}

// DynamoIdempotencyStore reserves keys with a conditional put. Expired rows
// are overwritten so reservations do not depend on DynamoDB TTL sweeps.
type DynamoIdempotencyStore struct {
	client    dynamoAPI
	tableName string
	now       func() time.Time
}

func NewDynamoIdempotencyStore(client dynamoAPI, tableName string) *DynamoIdempotencyStore {
	if client == nil {
		panic("payments: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("payments: idempotency table name cannot be empty")
	}
	return &DynamoIdempotencyStore{client: client, tableName: tableName, now: time.Now}
}

func (s *DynamoIdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := s.now().UTC()
	item, err := attributevalue.MarshalMap(idempotencyRecord{
		Key:        key,
		ReservedAt: now.Format(time.RFC3339Nano),
		ExpiresAt:  now.Add(ttl).Unix(),
	})
	if err != nil {
		return false, fmt.Errorf("payments: failed to marshal reservation: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(idempotencyKey) OR expiresAt < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, fmt.Errorf("payments: reserve %s: %w", key, err)
	}
	return true, nil
}

func (s *DynamoIdempotencyStore) Release(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"idempotencyKey": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return fmt.Errorf("payments: release %s: %w", key, err)
	}
	return nil
}
