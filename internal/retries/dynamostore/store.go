// Package dynamostore persists retry records in a DynamoDB table keyed by a
// numeric id. Ids come from an atomic counter item stored in the same table.
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-route-retry/internal/aws"
	"github.com/imrishuroy/go-route-retry/internal/retries"
)

// counterID is the key of the item holding the id sequence.
const counterID = 0

// Store implements retries.Store against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore returns a Store for tableName.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

func (s *Store) Insert(ctx context.Context, rec *retries.Record) (int64, error) {
	id, err := s.nextID(ctx)
	if err != nil {
		return 0, &retries.StorageError{Op: "insert", Err: err}
	}

	now := s.nowFunc()
	rec.ID = id
	if rec.Status == "" {
		rec.Status = retries.StatusPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	it, err := toItem(rec)
	if err != nil {
		return 0, &retries.StorageError{Op: "insert", Err: err}
	}
	av, err := attributevalue.MarshalMap(it)
	if err != nil {
		return 0, &retries.StorageError{Op: "insert", Err: fmt.Errorf("marshal record: %w", err)}
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                av,
		ConditionExpression: awsString("attribute_not_exists(id)"),
	})
	if err != nil {
		return 0, &retries.StorageError{Op: "insert", Err: fmt.Errorf("put item: %w", err)}
	}
	return id, nil
}

func (s *Store) nextID(ctx context.Context) (int64, error) {
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              key(counterID),
		UpdateExpression: awsString("ADD seq :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("update item (next id): %w", err)
	}
	seq, ok := out.Attributes["seq"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, errors.New("next id: counter missing from response")
	}
	return strconv.ParseInt(seq.Value, 10, 64)
}

func (s *Store) FindPendingByFingerprint(ctx context.Context, fp string) (*retries.Record, error) {
	if fp == "" {
		return nil, nil
	}
	recs, err := s.scan(ctx, "#s = :pending AND fingerprint = :fp", map[string]types.AttributeValue{
		":pending": &types.AttributeValueMemberS{Value: string(retries.StatusPending)},
		":fp":      &types.AttributeValueMemberS{Value: fp},
	})
	if err != nil {
		return nil, &retries.StorageError{Op: "find pending", Err: err}
	}
	for i := range recs {
		if retries.IsPending(recs[i]) && recs[i].Fingerprint == fp {
			return &recs[i], nil
		}
	}
	return nil, nil
}

func (s *Store) QueryDue(ctx context.Context, f retries.Filter) ([]retries.Record, error) {
	now := s.nowFunc()
	expr := "#s = :pending AND (attribute_not_exists(next_attempt_at) OR next_attempt_at <= :now)"
	values := map[string]types.AttributeValue{
		":pending": &types.AttributeValueMemberS{Value: string(retries.StatusPending)},
		":now":     &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
	}
	if f.Tag != "" {
		expr += " AND contains(tags, :tag)"
		values[":tag"] = &types.AttributeValueMemberS{Value: f.Tag}
	}
	if f.Fingerprint != "" {
		expr += " AND fingerprint = :fp"
		values[":fp"] = &types.AttributeValueMemberS{Value: f.Fingerprint}
	}

	recs, err := s.scan(ctx, expr, values)
	if err != nil {
		return nil, &retries.StorageError{Op: "query due", Err: err}
	}
	out := recs[:0]
	for _, r := range recs {
		if f.Match(r, now) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id int64) (*retries.Record, error) {
	if id == counterID {
		return nil, retries.ErrNotFound
	}
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            key(id),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, &retries.StorageError{Op: "get", Err: fmt.Errorf("get item: %w", err)}
	}
	if len(out.Item) == 0 {
		return nil, retries.ErrNotFound
	}
	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, &retries.StorageError{Op: "get", Err: fmt.Errorf("unmarshal item: %w", err)}
	}
	r, err := it.record()
	if err != nil {
		return nil, &retries.StorageError{Op: "get", Err: err}
	}
	return &r, nil
}

func (s *Store) List(ctx context.Context, opts retries.ListOptions) ([]retries.Record, error) {
	var (
		expr   string
		values map[string]types.AttributeValue
	)
	if opts.Status != "" {
		expr = "#s = :status"
		values = map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(opts.Status)},
		}
	}
	recs, err := s.scan(ctx, expr, values)
	if err != nil {
		return nil, &retries.StorageError{Op: "list", Err: err}
	}

	out := make([]retries.Record, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		if opts.Status != "" && recs[i].Status != opts.Status {
			continue
		}
		out = append(out, recs[i])
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, id int64, p retries.Patch) error {
	now := s.nowFunc()
	update := "SET updated_at = :updated_at"
	names := map[string]string{}
	values := map[string]types.AttributeValue{
		":updated_at": &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339Nano)},
	}
	if p.Status != nil {
		update += ", #s = :status"
		names["#s"] = "status"
		values[":status"] = &types.AttributeValueMemberS{Value: string(*p.Status)}
	}
	if p.RetriesCount != nil {
		update += ", retries_count = :retries_count"
		values[":retries_count"] = &types.AttributeValueMemberN{Value: strconv.Itoa(*p.RetriesCount)}
	}
	if p.NextAttemptAt != nil {
		update += ", next_attempt_at = :next_attempt_at"
		values[":next_attempt_at"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(p.NextAttemptAt.UnixMilli(), 10)}
	}

	cond := "attribute_exists(id)"
	if p.ExpectStatus != nil {
		cond += " AND #s = :expect"
		names["#s"] = "status"
		values[":expect"] = &types.AttributeValueMemberS{Value: string(*p.ExpectStatus)}
	}

	input := &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       key(id),
		UpdateExpression:          &update,
		ConditionExpression:       &cond,
		ExpressionAttributeValues: values,
	}
	if len(names) > 0 {
		input.ExpressionAttributeNames = names
	}

	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		if !isConditionFailed(err) {
			return &retries.StorageError{Op: "update", Err: fmt.Errorf("update item: %w", err)}
		}
		// condition failed: tell a missing item apart from a status guard
		if _, gerr := s.Get(ctx, id); gerr != nil {
			return gerr
		}
		return retries.ErrStatusMismatch
	}
	return nil
}

// scan pages through the table and returns decoded records in ascending id order.
// The counter item is skipped.
func (s *Store) scan(ctx context.Context, filter string, values map[string]types.AttributeValue) ([]retries.Record, error) {
	input := &dyn.ScanInput{
		TableName:      &s.tableName,
		ConsistentRead: awsBool(true),
	}
	if filter != "" {
		input.FilterExpression = &filter
		input.ExpressionAttributeNames = map[string]string{"#s": "status"}
		input.ExpressionAttributeValues = values
	}

	var out []retries.Record
	for {
		page, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var items []item
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal items: %w", err)
		}
		for i := range items {
			if items[i].ID == counterID {
				continue
			}
			r, err := items[i].record()
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var api smithy.APIError
	return errors.As(err, &api) && api.ErrorCode() == "ConditionalCheckFailedException"
}

func key(id int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)},
	}
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
