package payments

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

// ErrAlreadySettled indicates the conditional terminal update matched no
// pending record: another path settled the transaction first.
var ErrAlreadySettled = errors.New("transaction already settled")

// Store persists payment records and enforces idempotency-key uniqueness.
// The payments table is keyed by transaction_id; a companion key table keyed
// by idempotency_key is written in the same TransactWriteItems so at most one
// payment is ever created per key, no matter how many callers race.
type Store struct {
	client    awsx.DynamoDBAPI
	tableName string
	keyTable  string
	ttlWindow time.Duration // retention for key records
	nowFunc   func() time.Time
}

func NewStore(client awsx.DynamoDBAPI, tableName, keyTable string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		keyTable:  keyTable,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// CreateIdempotent attempts to create rec as a brand-new pending payment
// gated on its idempotency key. Returns created=true when this caller won
// the race. Returns created=false with no error when the key already exists;
// the caller should fetch the existing record and return its status verbatim.
func (s *Store) CreateIdempotent(ctx context.Context, rec PaymentRecord) (bool, error) {
	now := s.nowFunc()
	rec.Status = StatusPending
	rec.CreatedAt = now
	rec.UpdatedAt = now

	paymentItem, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return false, fmt.Errorf("marshal payment: %w", err)
	}
	keyItem, err := attributevalue.MarshalMap(keyRecord{
		IdempotencyKey: rec.IdempotencyKey,
		TransactionID:  rec.TransactionID,
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
	})
	if err != nil {
		return false, fmt.Errorf("marshal key record: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           &s.keyTable,
					Item:                keyItem,
					ConditionExpression: awsx.String("attribute_not_exists(idempotency_key)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           &s.tableName,
					Item:                paymentItem,
					ConditionExpression: awsx.String("attribute_not_exists(transaction_id)"),
				},
			},
		},
	})
	if err != nil {
		// the typed exception covers the SDK path; the code check covers
		// wrappers that only preserve the API error
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) || awsx.ErrorCode(err) == "TransactionCanceledException" {
			return false, nil
		}
		return false, fmt.Errorf("transact write: %w", err)
	}
	return true, nil
}

// Get fetches a payment by transaction id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, transactionID string) (*PaymentRecord, error) {
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
	var rec PaymentRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal payment: %w", err)
	}
	return &rec, nil
}

// GetByIdempotencyKey resolves the key table entry and returns the payment
// it points at. Returns (nil, nil) when the key was never used.
func (s *Store) GetByIdempotencyKey(ctx context.Context, key string) (*PaymentRecord, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.keyTable,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get key record: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var kr keyRecord
	if err := attributevalue.UnmarshalMap(out.Item, &kr); err != nil {
		return nil, fmt.Errorf("unmarshal key record: %w", err)
	}
	return s.Get(ctx, kr.TransactionID)
}

// Settle applies the terminal status via a conditional update that only
// matches while the record is still pending. A zero-effect update surfaces
// as ErrAlreadySettled; the caller should re-read and return the winner's
// status instead of overwriting it.
func (s *Store) Settle(ctx context.Context, transactionID, terminalStatus string) error {
	if !Terminal(terminalStatus) {
		return fmt.Errorf("settle with non-terminal status %q", terminalStatus)
	}
	now := s.nowFunc()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"transaction_id": &types.AttributeValueMemberS{Value: transactionID},
		},
		UpdateExpression:         awsx.String("SET #s = :new, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":     &types.AttributeValueMemberS{Value: terminalStatus},
			":ua":      &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			":pending": &types.AttributeValueMemberS{Value: StatusPending},
		},
		ConditionExpression: awsx.String("#s = :pending"),
	})
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return ErrAlreadySettled
		}
		return fmt.Errorf("settle update: %w", err)
	}
	return nil
}

// ListByOrder returns payments recorded for an order via the order_id index.
func (s *Store) ListByOrder(ctx context.Context, orderID string) ([]PaymentRecord, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsx.String("order_id-index"),
		KeyConditionExpression: awsx.String("order_id = :oid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":oid": &types.AttributeValueMemberS{Value: orderID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query payments by order: %w", err)
	}
	recs := make([]PaymentRecord, 0, len(out.Items))
	for _, item := range out.Items {
		var rec PaymentRecord
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal payment: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
