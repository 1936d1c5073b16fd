package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imkarn/go-saga-fulfillment/internal/awsx"
)

// ErrStatusMismatch indicates a conditional status transition matched no row:
// a concurrent path already moved the order somewhere else.
var ErrStatusMismatch = errors.New("order status mismatch")

// Store encapsulates operations on the orders table.
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

// Create persists a new order, guarding against order-id reuse.
func (s *Store) Create(ctx context.Context, order Order) error {
	now := s.nowFunc()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	item, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsx.String("attribute_not_exists(order_id)"),
	}); err != nil {
		return fmt.Errorf("put order: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// UpdateStatus conditionally moves the order to newStatus, but only while
// its current status is one of expected. Returns ErrStatusMismatch when the
// condition fails, so a concurrent transition is never clobbered.
func (s *Store) UpdateStatus(ctx context.Context, orderID, newStatus string, expected ...string) error {
	now := s.nowFunc()

	values := map[string]types.AttributeValue{
		":new": &types.AttributeValueMemberS{Value: newStatus},
		":ua":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
	}
	conds := make([]string, 0, len(expected))
	for i, st := range expected {
		ph := ":e" + strconv.Itoa(i)
		values[ph] = &types.AttributeValueMemberS{Value: st}
		conds = append(conds, "#s = "+ph)
	}

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:          awsx.String("SET #s = :new, updated_at = :ua"),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
		ConditionExpression:       awsx.String(strings.Join(conds, " OR ")),
	})
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// FindRecentDuplicate looks for an order with identical customer, product
// and quantity created within the window and not in a terminal-failure
// state. A coarse idempotency guard for retried client requests without an
// explicit key.
func (s *Store) FindRecentDuplicate(ctx context.Context, customerID, productID string, quantity int64, window time.Duration) (*Order, error) {
	since := s.nowFunc().Add(-window)
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsx.String("customer_id-created_at-index"),
		KeyConditionExpression: awsx.String("customer_id = :cid AND created_at >= :since"),
		FilterExpression:       awsx.String("product_id = :pid AND quantity = :q AND #s <> :failed AND #s <> :cancelled"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cid":       &types.AttributeValueMemberS{Value: customerID},
			":since":     &types.AttributeValueMemberS{Value: since.UTC().Format(time.RFC3339)},
			":pid":       &types.AttributeValueMemberS{Value: productID},
			":q":         &types.AttributeValueMemberN{Value: strconv.FormatInt(quantity, 10)},
			":failed":    &types.AttributeValueMemberS{Value: StatusFailed},
			":cancelled": &types.AttributeValueMemberS{Value: StatusCancelled},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query duplicates: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Items[0], &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}
