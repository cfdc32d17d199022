package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/xid"
)

const (
	pkStatePrefix = "STATE#"
	pkChatPrefix  = "CHAT#"
	skState       = "STATE"
	skChat        = "CHAT"
	skHistPrefix  = "HIST#"
)

// dynamodbAPI is the subset of the DynamoDB client the backend needs.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoBackend stores states in a single DynamoDB table with PK/SK string keys.
//
//	PK=STATE#<id>    SK=STATE          the dialog state
//	PK=STATE#<id>    SK=HIST#<ts>#<n>  history entries
//	PK=CHAT#<key>    SK=CHAT           chat key -> state id
type DynamoBackend struct {
	api   dynamodbAPI
	table string
}

// NewDynamoBackend returns a backend bound to table.
func NewDynamoBackend(api dynamodbAPI, table string) (*DynamoBackend, error) {
	if api == nil {
		return nil, errors.New("state: dynamodb api must not be nil")
	}
	if strings.TrimSpace(table) == "" {
		return nil, errors.New("state: dynamodb table name must not be empty")
	}
	return &DynamoBackend{api: api, table: table}, nil
}

func statePK(id string) string { return pkStatePrefix + id }

func chatPK(k Key) string { return pkChatPrefix + k.String() }

func histSK(ts time.Time) string {
	return fmt.Sprintf("%s%020d#%s", skHistPrefix, ts.UnixMicro(), xid.New().String())
}

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func (b *DynamoBackend) Get(ctx context.Context, key Key) (*DialogState, error) {
	out, err := b.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(b.table),
		Key:            itemKey(chatPK(key), skChat),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("state: dynamodb get chat: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	id, err := strAttr(out.Item, "id")
	if err != nil {
		return nil, err
	}
	return b.GetByID(ctx, id)
}

func (b *DynamoBackend) GetByID(ctx context.Context, id string) (*DialogState, error) {
	out, err := b.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(b.table),
		Key:            itemKey(statePK(id), skState),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("state: dynamodb get state: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	return itemToState(out.Item)
}

func (b *DynamoBackend) Create(ctx context.Context, s *DialogState) error {
	item, err := stateItem(s)
	if err != nil {
		return err
	}
	chat := itemKey(chatPK(s.Key()), skChat)
	chat["id"] = &types.AttributeValueMemberS{Value: s.ID}

	_, err = b.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(b.table),
				Item:                chat,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String(b.table),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
		},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			return fmt.Errorf("%w: %s", ErrExists, s.Key())
		}
		return fmt.Errorf("state: dynamodb create: %w", err)
	}
	return nil
}

func (b *DynamoBackend) Update(ctx context.Context, s *DialogState) error {
	item, err := stateItem(s)
	if err != nil {
		return err
	}
	_, err = b.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(b.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		var failed *types.ConditionalCheckFailedException
		if errors.As(err, &failed) {
			return ErrNotFound
		}
		return fmt.Errorf("state: dynamodb update: %w", err)
	}
	return nil
}

func (b *DynamoBackend) Delete(ctx context.Context, id string) error {
	current, err := b.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var start map[string]types.AttributeValue
	for {
		out, err := b.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(b.table),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: statePK(id)},
				":prefix": &types.AttributeValueMemberS{Value: skHistPrefix},
			},
			ProjectionExpression: aws.String("PK, SK"),
			ExclusiveStartKey:    start,
		})
		if err != nil {
			return fmt.Errorf("state: dynamodb list history: %w", err)
		}
		for _, item := range out.Items {
			sk, err := strAttr(item, "SK")
			if err != nil {
				return err
			}
			if _, err := b.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(b.table),
				Key:       itemKey(statePK(id), sk),
			}); err != nil {
				return fmt.Errorf("state: dynamodb delete history: %w", err)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}

	_, err = b.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Delete: &types.Delete{TableName: aws.String(b.table), Key: itemKey(statePK(id), skState)}},
			{Delete: &types.Delete{TableName: aws.String(b.table), Key: itemKey(chatPK(current.Key()), skChat)}},
		},
	})
	if err != nil {
		return fmt.Errorf("state: dynamodb delete state: %w", err)
	}
	return nil
}

func (b *DynamoBackend) AddHistory(ctx context.Context, e HistoryEntry) error {
	item := itemKey(statePK(e.DialogID), histSK(e.CreatedAt))
	item["step_id"] = &types.AttributeValueMemberS{Value: e.StepID}
	item["message_type"] = &types.AttributeValueMemberS{Value: e.MessageType}
	item["content"] = &types.AttributeValueMemberS{Value: e.Content}
	item["created_at"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(e.CreatedAt.UnixMicro(), 10)}

	if _, err := b.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(b.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("state: dynamodb add history: %w", err)
	}
	return nil
}

// GetHistory reads newest first via the descending sort key; offset is
// applied by skipping items since DynamoDB has no native offset.
func (b *DynamoBackend) GetHistory(ctx context.Context, dialogID string, limit, offset int) ([]HistoryEntry, error) {
	if offset < 0 {
		offset = 0
	}
	var (
		out     []HistoryEntry
		skipped int
		start   map[string]types.AttributeValue
	)
	for {
		in := &dynamodb.QueryInput{
			TableName:              aws.String(b.table),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: statePK(dialogID)},
				":prefix": &types.AttributeValueMemberS{Value: skHistPrefix},
			},
			ScanIndexForward:  aws.Bool(false),
			ExclusiveStartKey: start,
		}
		if limit > 0 {
			in.Limit = aws.Int32(int32(limit + offset - skipped - len(out)))
		}
		res, err := b.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("state: dynamodb query history: %w", err)
		}
		for _, item := range res.Items {
			if skipped < offset {
				skipped++
				continue
			}
			e, err := itemToHistory(dialogID, item)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				return out, nil
			}
		}
		if len(res.LastEvaluatedKey) == 0 {
			return out, nil
		}
		start = res.LastEvaluatedKey
	}
}

func stateItem(s *DialogState) (map[string]types.AttributeValue, error) {
	data := s.CollectedData
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("state: encode collected_data: %w", err)
	}
	item := itemKey(statePK(s.ID), skState)
	item["id"] = &types.AttributeValueMemberS{Value: s.ID}
	item["bot_id"] = &types.AttributeValueMemberS{Value: s.BotID}
	item["platform"] = &types.AttributeValueMemberS{Value: s.Platform}
	item["chat_id"] = &types.AttributeValueMemberS{Value: s.ChatID}
	item["current_step"] = &types.AttributeValueMemberS{Value: s.CurrentStep}
	item["collected_data"] = &types.AttributeValueMemberS{Value: string(raw)}
	item["last_interaction_at"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(s.LastInteractionAt.UnixMicro(), 10)}
	item["created_at"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(s.CreatedAt.UnixMicro(), 10)}
	return item, nil
}

func itemToState(item map[string]types.AttributeValue) (*DialogState, error) {
	s := &DialogState{CollectedData: map[string]any{}}
	var err error
	for key, dst := range map[string]*string{
		"id":       &s.ID,
		"bot_id":   &s.BotID,
		"platform": &s.Platform,
		"chat_id":  &s.ChatID,
	} {
		if *dst, err = strAttr(item, key); err != nil {
			return nil, err
		}
	}
	s.CurrentStep, _ = strAttr(item, "current_step")
	if raw, _ := strAttr(item, "collected_data"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &s.CollectedData); err != nil {
			return nil, fmt.Errorf("state: decode collected_data for %s: %w", s.ID, err)
		}
	}
	last, err := int64Attr(item, "last_interaction_at")
	if err != nil {
		return nil, err
	}
	created, err := int64Attr(item, "created_at")
	if err != nil {
		return nil, err
	}
	s.LastInteractionAt = time.UnixMicro(last).UTC()
	s.CreatedAt = time.UnixMicro(created).UTC()
	return s, nil
}

func itemToHistory(dialogID string, item map[string]types.AttributeValue) (HistoryEntry, error) {
	created, err := int64Attr(item, "created_at")
	if err != nil {
		return HistoryEntry{}, err
	}
	step, _ := strAttr(item, "step_id")
	kind, _ := strAttr(item, "message_type")
	content, _ := strAttr(item, "content")
	return HistoryEntry{
		ID:          created,
		DialogID:    dialogID,
		StepID:      step,
		MessageType: kind,
		Content:     content,
		CreatedAt:   time.UnixMicro(created).UTC(),
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("state: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("state: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("state: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("state: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("state: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
