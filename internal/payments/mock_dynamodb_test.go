package payments

import (
	"context"
	"errors"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// dynamoMock is a small in-memory multi-table mock covering the calls the
// payments store issues. Not production-grade; it understands only the
// expressions used by this package.
type dynamoMock struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue

	transactCalls int
	settleCalls   int
}

func newDynamoMock() *dynamoMock {
	return &dynamoMock{tables: map[string]map[string]map[string]types.AttributeValue{}}
}

func (m *dynamoMock) table(name string) map[string]map[string]types.AttributeValue {
	t, ok := m.tables[name]
	if !ok {
		t = map[string]map[string]types.AttributeValue{}
		m.tables[name] = t
	}
	return t
}

func pkOf(item map[string]types.AttributeValue) (string, string) {
	if v, ok := item["transaction_id"]; ok {
		return "transaction_id", v.(*types.AttributeValueMemberS).Value
	}
	if v, ok := item["idempotency_key"]; ok {
		return "idempotency_key", v.(*types.AttributeValueMemberS).Value
	}
	return "", ""
}

func (m *dynamoMock) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, pk := pkOf(params.Item)
	m.table(*params.TableName)[pk] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *dynamoMock) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, pk := pkOf(params.Key)
	item, ok := m.table(*params.TableName)[pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *dynamoMock) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settleCalls++
	_, pk := pkOf(params.Key)
	item, ok := m.table(*params.TableName)[pk]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	// only the settle expression is supported: SET #s = :new WHERE #s = :pending
	if params.ConditionExpression != nil && *params.ConditionExpression == "#s = :pending" {
		cur := item["status"].(*types.AttributeValueMemberS).Value
		want := params.ExpressionAttributeValues[":pending"].(*types.AttributeValueMemberS).Value
		if cur != want {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	item["status"] = params.ExpressionAttributeValues[":new"]
	item["updated_at"] = params.ExpressionAttributeValues[":ua"]
	return &dyn.UpdateItemOutput{}, nil
}

func (m *dynamoMock) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	oid := params.ExpressionAttributeValues[":oid"].(*types.AttributeValueMemberS).Value
	out := &dyn.QueryOutput{}
	for _, item := range m.table(*params.TableName) {
		if v, ok := item["order_id"]; ok && v.(*types.AttributeValueMemberS).Value == oid {
			out.Items = append(out.Items, item)
		}
	}
	return out, nil
}

func (m *dynamoMock) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactCalls++
	for _, it := range params.TransactItems {
		p := it.Put
		if p == nil {
			return nil, errors.New("only Put supported")
		}
		if p.ConditionExpression != nil {
			field, pk := pkOf(p.Item)
			want := "attribute_not_exists(" + field + ")"
			if *p.ConditionExpression != want {
				return nil, errors.New("unsupported condition " + *p.ConditionExpression)
			}
			if _, exists := m.table(*p.TableName)[pk]; exists {
				return nil, &types.TransactionCanceledException{}
			}
		}
	}
	for _, it := range params.TransactItems {
		_, pk := pkOf(it.Put.Item)
		m.table(*it.Put.TableName)[pk] = it.Put.Item
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}
