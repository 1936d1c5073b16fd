package orders

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ordersMock is a naive in-memory mock for the orders table, tailored to the
// calls this package's store issues.
type ordersMock struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newOrdersMock() *ordersMock {
	return &ordersMock{items: map[string]map[string]types.AttributeValue{}}
}

func str(item map[string]types.AttributeValue, field string) string {
	if v, ok := item[field]; ok {
		if s, ok := v.(*types.AttributeValueMemberS); ok {
			return s.Value
		}
	}
	return ""
}

func num(item map[string]types.AttributeValue, field string) int64 {
	if v, ok := item[field]; ok {
		if n, ok := v.(*types.AttributeValueMemberN); ok {
			i, _ := strconv.ParseInt(n.Value, 10, 64)
			return i
		}
	}
	return 0
}

func (m *ordersMock) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := str(params.Item, "order_id")
	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_not_exists(order_id)" {
		if _, ok := m.items[id]; ok {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.items[id] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *ordersMock) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[str(params.Key, "order_id")]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *ordersMock) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[str(params.Key, "order_id")]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	// conditions are always of the form "#s = :e0 [OR #s = :e1 ...]"
	cur := str(item, "status")
	matched := false
	for ph, v := range params.ExpressionAttributeValues {
		if strings.HasPrefix(ph, ":e") && v.(*types.AttributeValueMemberS).Value == cur {
			matched = true
		}
	}
	if !matched {
		return nil, &types.ConditionalCheckFailedException{}
	}
	item["status"] = params.ExpressionAttributeValues[":new"]
	item["updated_at"] = params.ExpressionAttributeValues[":ua"]
	return &dyn.UpdateItemOutput{}, nil
}

func (m *ordersMock) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vals := params.ExpressionAttributeValues
	cid := vals[":cid"].(*types.AttributeValueMemberS).Value
	pid := vals[":pid"].(*types.AttributeValueMemberS).Value
	q, _ := strconv.ParseInt(vals[":q"].(*types.AttributeValueMemberN).Value, 10, 64)
	since, _ := time.Parse(time.RFC3339, vals[":since"].(*types.AttributeValueMemberS).Value)

	out := &dyn.QueryOutput{}
	for _, item := range m.items {
		created, _ := time.Parse(time.RFC3339, str(item, "created_at"))
		status := str(item, "status")
		if str(item, "customer_id") == cid && str(item, "product_id") == pid &&
			num(item, "quantity") == q && !created.Before(since) &&
			status != StatusFailed && status != StatusCancelled {
			out.Items = append(out.Items, item)
		}
	}
	return out, nil
}

func (m *ordersMock) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (m *ordersMock) statusOf(orderID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return str(m.items[orderID], "status")
}
