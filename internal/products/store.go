package products

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imkarn/go-saga-fulfillment/internal/awsx"
	"github.com/imkarn/go-saga-fulfillment/internal/errs"
)

// ErrInsufficientStock indicates a reservation attempt for more units than
// are available, or against an inactive product.
var ErrInsufficientStock = errors.New("insufficient stock or inactive product")

// Store encapsulates operations on the products table. Stock moves only via
// single conditional updates so concurrent reservations can never oversell.
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

// Get fetches a product by id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, productID string) (*Product, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: productID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return &p, nil
}

// Put writes a product record, overwriting any existing one.
func (s *Store) Put(ctx context.Context, p Product) error {
	now := s.nowFunc()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// Reserve atomically decrements stock by quantity, but only when the product
// is active and holds at least that many units. A failed condition surfaces
// as ErrInsufficientStock and never decrements.
func (s *Store) Reserve(ctx context.Context, productID string, quantity int64) error {
	now := s.nowFunc()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: productID},
		},
		UpdateExpression:    awsx.String("SET stock = stock - :q, updated_at = :ua"),
		ConditionExpression: awsx.String("stock >= :q AND is_active = :active"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":q":      &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", quantity)},
			":active": &types.AttributeValueMemberBOOL{Value: true},
			":ua":     &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	})
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return ErrInsufficientStock
		}
		if awsx.IsThrottle(err) {
			return errs.ServiceUnavailable("stock_throttled", "stock update throttled", err)
		}
		return fmt.Errorf("reserve stock: %w", err)
	}
	return nil
}

// Release atomically returns quantity units to stock. Used by saga
// compensation and order cancellation.
func (s *Store) Release(ctx context.Context, productID string, quantity int64) error {
	now := s.nowFunc()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: productID},
		},
		UpdateExpression:    awsx.String("SET stock = stock + :q, updated_at = :ua"),
		ConditionExpression: awsx.String("attribute_exists(product_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":q":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", quantity)},
			":ua": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	})
	if err != nil {
		if awsx.IsThrottle(err) {
			return errs.ServiceUnavailable("stock_throttled", "stock update throttled", err)
		}
		return fmt.Errorf("release stock: %w", err)
	}
	return nil
}

// CheckAvailability reports whether quantity units can currently be served.
func (s *Store) CheckAvailability(ctx context.Context, productID string, quantity int64) (*Availability, error) {
	p, err := s.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	return &Availability{
		Available: p.IsActive && p.Stock >= quantity,
		Stock:     p.Stock,
	}, nil
}
