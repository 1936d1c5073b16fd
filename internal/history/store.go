package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imkarn/go-saga-fulfillment/internal/awsx"
)

// Record is the transaction-history item, the worker's durable audit trail.
// Unique per transaction_id; message_id records the delivery that last
// touched it.
type Record struct {
	TransactionID string    `dynamodbav:"transaction_id" json:"transaction_id"` // PK
	OrderID       string    `dynamodbav:"order_id" json:"order_id"`
	CustomerID    string    `dynamodbav:"customer_id" json:"customer_id"`
	ProductID     string    `dynamodbav:"product_id" json:"product_id"`
	Amount        int64     `dynamodbav:"amount" json:"amount"`
	Status        string    `dynamodbav:"status" json:"status"`
	ProcessedAt   time.Time `dynamodbav:"processed_at" json:"processed_at"`
	MessageID     string    `dynamodbav:"message_id,omitempty" json:"message_id,omitempty"`
}

// Store owns the transaction-history table. Nothing else writes to it.
type Store struct {
	client    awsx.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewStore(client awsx.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// SeenMessage reports whether a history record already carries this delivery
// identity. Used to acknowledge broker redeliveries without reprocessing.
func (s *Store) SeenMessage(ctx context.Context, messageID string) (bool, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsx.String("message_id-index"),
		KeyConditionExpression: awsx.String("message_id = :mid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":mid": &types.AttributeValueMemberS{Value: messageID},
		},
		Limit: ptrInt32(1),
	})
	if err != nil {
		return false, fmt.Errorf("query by message id: %w", err)
	}
	return len(out.Items) > 0, nil
}

// Upsert converges the history record for a business transaction. The first
// delivery creates the record; a different message for the same transaction
// updates status, processed_at and message_id in place rather than inserting
// a duplicate.
func (s *Store) Upsert(ctx context.Context, rec Record) error {
	rec.ProcessedAt = s.nowFunc().UTC()

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsx.String("attribute_not_exists(transaction_id)"),
	})
	if err == nil {
		return nil
	}
	var cc *types.ConditionalCheckFailedException
	if !errors.As(err, &cc) {
		return fmt.Errorf("put record: %w", err)
	}

	// business-identity dedup: record exists, apply the newer delivery
	_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"transaction_id": &types.AttributeValueMemberS{Value: rec.TransactionID},
		},
		UpdateExpression:         awsx.String("SET #s = :st, processed_at = :pa, message_id = :mid"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":st":  &types.AttributeValueMemberS{Value: rec.Status},
			":pa":  &types.AttributeValueMemberS{Value: rec.ProcessedAt.Format(time.RFC3339)},
			":mid": &types.AttributeValueMemberS{Value: rec.MessageID},
		},
	})
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	return nil
}

// Get fetches a history record. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, transactionID string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"transaction_id": &types.AttributeValueMemberS{Value: transactionID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}

func ptrInt32(n int32) *int32 { return &n }
