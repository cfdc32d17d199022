package state

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

// fakeDynamo is a single-table in-memory stand-in that understands the
// condition and key expressions DynamoBackend issues.
type fakeDynamo struct {
	mu      sync.Mutex
	items   map[string]map[string]map[string]types.AttributeValue
	queries []*dynamodb.QueryInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]map[string]types.AttributeValue)}
}

func keyOf(item map[string]types.AttributeValue) (string, string) {
	pk := item["PK"].(*types.AttributeValueMemberS).Value
	sk := item["SK"].(*types.AttributeValueMemberS).Value
	return pk, sk
}

func (f *fakeDynamo) exists(item map[string]types.AttributeValue) bool {
	pk, sk := keyOf(item)
	_, ok := f.items[pk][sk]
	return ok
}

func (f *fakeDynamo) put(item map[string]types.AttributeValue) {
	pk, sk := keyOf(item)
	if f.items[pk] == nil {
		f.items[pk] = make(map[string]map[string]types.AttributeValue)
	}
	f.items[pk][sk] = item
}

func (f *fakeDynamo) del(key map[string]types.AttributeValue) {
	pk, sk := keyOf(key)
	delete(f.items[pk], sk)
}

func conditionFails(cond *string, exists bool) bool {
	switch aws.ToString(cond) {
	case "attribute_not_exists(PK)":
		return exists
	case "attribute_exists(PK)":
		return !exists
	}
	return false
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk, sk := keyOf(in.Key)
	return &dynamodb.GetItemOutput{Item: f.items[pk][sk]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conditionFails(in.ConditionExpression, f.exists(in.Item)) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("conditional check failed")}
	}
	f.put(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.del(in.Key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, in)

	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	prefix := in.ExpressionAttributeValues[":prefix"].(*types.AttributeValueMemberS).Value

	var sks []string
	for sk := range f.items[pk] {
		if strings.HasPrefix(sk, prefix) {
			sks = append(sks, sk)
		}
	}
	sort.Strings(sks)
	if in.ScanIndexForward != nil && !*in.ScanIndexForward {
		sort.Sort(sort.Reverse(sort.StringSlice(sks)))
	}
	if in.ExclusiveStartKey != nil {
		_, after := keyOf(in.ExclusiveStartKey)
		for i, sk := range sks {
			if sk == after {
				sks = sks[i+1:]
				break
			}
		}
	}

	out := &dynamodb.QueryOutput{}
	if in.Limit != nil && int(*in.Limit) < len(sks) {
		sks = sks[:*in.Limit]
		out.LastEvaluatedKey = itemKey(pk, sks[len(sks)-1])
	}
	for _, sk := range sks {
		out.Items = append(out.Items, f.items[pk][sk])
	}
	return out, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, op := range in.TransactItems {
		if op.Put != nil && conditionFails(op.Put.ConditionExpression, f.exists(op.Put.Item)) {
			return nil, &types.TransactionCanceledException{Message: aws.String("transaction cancelled")}
		}
	}
	for _, op := range in.TransactItems {
		switch {
		case op.Put != nil:
			f.put(op.Put.Item)
		case op.Delete != nil:
			f.del(op.Delete.Key)
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func TestNewDynamoBackendValidatesArgs(t *testing.T) {
	_, err := NewDynamoBackend(nil, "t")
	require.Error(t, err)
	_, err = NewDynamoBackend(newFakeDynamo(), " ")
	require.Error(t, err)
}

func TestDynamoHistoryQueriesNewestFirst(t *testing.T) {
	ctx := context.Background()
	api := newFakeDynamo()
	b, err := NewDynamoBackend(api, "dialogs")
	require.NoError(t, err)
	require.NoError(t, b.Create(ctx, sampleState("s1", "100")))

	_, err = b.GetHistory(ctx, "s1", 5, 0)
	require.NoError(t, err)

	require.NotEmpty(t, api.queries)
	q := api.queries[len(api.queries)-1]
	require.False(t, aws.ToBool(q.ScanIndexForward), "ordering comes from the sort key, not post-fetch sorting")
	require.Equal(t, "PK = :pk AND begins_with(SK, :prefix)", aws.ToString(q.KeyConditionExpression))
	require.Equal(t, int32(5), aws.ToInt32(q.Limit))
}

func TestDynamoChatPointerItem(t *testing.T) {
	ctx := context.Background()
	api := newFakeDynamo()
	b, err := NewDynamoBackend(api, "dialogs")
	require.NoError(t, err)

	s := sampleState("s1", "100")
	require.NoError(t, b.Create(ctx, s))

	pointer := api.items["CHAT#bot|telegram|100"]["CHAT"]
	require.NotNil(t, pointer)
	require.Equal(t, "s1", pointer["id"].(*types.AttributeValueMemberS).Value)

	require.NoError(t, b.Delete(ctx, "s1"))
	require.Empty(t, api.items["CHAT#bot|telegram|100"])
	require.Empty(t, api.items["STATE#s1"])
}
