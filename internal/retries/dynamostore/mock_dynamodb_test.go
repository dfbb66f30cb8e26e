package dynamostore

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is a small in-memory table keyed by the numeric "id" attribute.
// It understands the handful of expressions the store emits; Scan ignores the
// filter and pages two items at a time so callers must re-check and paginate.
type mockDynamo struct {
	mu    sync.Mutex
	table map[int64]map[string]types.AttributeValue

	scanCalls int
	failScan  error
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{table: map[int64]map[string]types.AttributeValue{}}
}

func idOf(k map[string]types.AttributeValue) (int64, error) {
	n, ok := k["id"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, errors.New("missing id")
	}
	return strconv.ParseInt(n.Value, 10, 64)
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := idOf(params.Item)
	if err != nil {
		return nil, err
	}
	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_not_exists(id)" {
		if _, ok := m.table[id]; ok {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.table[id] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := idOf(params.Key)
	if err != nil {
		return nil, err
	}
	return &dyn.GetItemOutput{Item: m.table[id]}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := idOf(params.Key)
	if err != nil {
		return nil, err
	}

	// counter
	if strings.HasPrefix(*params.UpdateExpression, "ADD seq") {
		item, ok := m.table[id]
		if !ok {
			item = map[string]types.AttributeValue{"id": params.Key["id"]}
			m.table[id] = item
		}
		var seq int64
		if n, ok := item["seq"].(*types.AttributeValueMemberN); ok {
			seq, _ = strconv.ParseInt(n.Value, 10, 64)
		}
		seq++
		item["seq"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(seq, 10)}
		return &dyn.UpdateItemOutput{Attributes: map[string]types.AttributeValue{"seq": item["seq"]}}, nil
	}

	item, ok := m.table[id]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	if want, ok := params.ExpressionAttributeValues[":expect"]; ok {
		cur, _ := item["status"].(*types.AttributeValueMemberS)
		if cur == nil || cur.Value != want.(*types.AttributeValueMemberS).Value {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	for k, v := range params.ExpressionAttributeValues {
		if k == ":expect" {
			continue
		}
		item[strings.TrimPrefix(k, ":")] = v
	}
	return &dyn.UpdateItemOutput{}, nil
}

func (m *mockDynamo) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanCalls++
	if m.failScan != nil {
		return nil, m.failScan
	}

	ids := make([]int64, 0, len(m.table))
	for id := range m.table {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] }) // unordered on purpose

	start := 0
	if params.ExclusiveStartKey != nil {
		last, _ := idOf(params.ExclusiveStartKey)
		for i, id := range ids {
			if id == last {
				start = i + 1
			}
		}
	}
	end := start + 2
	if end > len(ids) {
		end = len(ids)
	}
	out := &dyn.ScanOutput{}
	for _, id := range ids[start:end] {
		out.Items = append(out.Items, m.table[id])
	}
	if end < len(ids) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberN{Value: strconv.FormatInt(ids[end-1], 10)},
		}
	}
	return out, nil
}
