package groupstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDB key constants. Every group is a single item PK=GROUP#<id>,
// SK=META, so concurrent Lambda containers share one view of a group.
const (
	pkPrefix = "GROUP#"
	skMeta   = "META"
)

// DynamoAPI is the subset of *dynamodb.Client used by DynamoIndex.
type DynamoAPI interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoIndex implements Index on a DynamoDB table. Atomicity comes from
// conditional UpdateItem calls; the expiresAt attribute lets DynamoDB TTL
// delete groups that were never cleaned up.
type DynamoIndex struct {
	client    DynamoAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// Compile-time interface check.
var _ Index = (*DynamoIndex)(nil)

// ExpiryGrace is added to the group TTL when setting expiresAt. DynamoDB
// TTL must only delete items the sweeper has already had a chance to
// evict, otherwise their staged objects would never be removed.
const ExpiryGrace = 24 * time.Hour

// NewDynamoIndex creates a DynamoIndex for the given table. A zero ttl uses
// DefaultTTL. Items expire ttl+ExpiryGrace after their last update.
func NewDynamoIndex(client DynamoAPI, tableName string, ttl time.Duration) *DynamoIndex {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &DynamoIndex{client: client, tableName: tableName, ttl: ttl, now: time.Now}
}

// dynamoGroup is the stored form of an Entry.
type dynamoGroup struct {
	PK          string   `dynamodbav:"PK"`
	ChatID      int64    `dynamodbav:"chatId"`
	Members     []string `dynamodbav:"members"`
	CaptionSeen bool     `dynamodbav:"captionSeen"`
	Claimed     bool     `dynamodbav:"claimed"`
	UpdatedAt   int64    `dynamodbav:"updatedAt"`
}

func (g dynamoGroup) entry() Entry {
	return Entry{
		GroupID:     strings.TrimPrefix(g.PK, pkPrefix),
		ChatID:      g.ChatID,
		Members:     g.Members,
		CaptionSeen: g.CaptionSeen,
		Claimed:     g.Claimed,
		UpdatedAt:   time.Unix(g.UpdatedAt, 0),
	}
}

func groupKey(groupID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pkPrefix + groupID},
		"SK": &types.AttributeValueMemberS{Value: skMeta},
	}
}

func numberAttr(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

// update runs a conditional UpdateItem returning the new item. ok is false
// when the condition failed.
func (d *DynamoIndex) update(ctx context.Context, groupID, expr, cond string, values map[string]types.AttributeValue) (entry Entry, ok bool, err error) {
	now := d.now()
	values[":now"] = numberAttr(now.Unix())
	values[":exp"] = numberAttr(now.Add(d.ttl + ExpiryGrace).Unix())

	input := &dynamodb.UpdateItemInput{
		TableName:                 &d.tableName,
		Key:                       groupKey(groupID),
		UpdateExpression:          aws.String(expr + ", updatedAt = :now, expiresAt = :exp"),
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	}
	if cond != "" {
		input.ConditionExpression = aws.String(cond)
	}

	out, err := d.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("UpdateItem group=%s: %w", groupID, err)
	}

	var g dynamoGroup
	if err := attributevalue.UnmarshalMap(out.Attributes, &g); err != nil {
		return Entry{}, false, fmt.Errorf("unmarshal group=%s: %w", groupID, err)
	}
	return g.entry(), true, nil
}

func (d *DynamoIndex) AppendMember(ctx context.Context, groupID string, chatID int64, ref string) (Entry, error) {
	entry, ok, err := d.update(ctx, groupID,
		"SET members = list_append(if_not_exists(members, :empty), :member), chatId = :chat",
		"attribute_not_exists(claimed)",
		map[string]types.AttributeValue{
			":empty":  &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
			":member": &types.AttributeValueMemberL{Value: []types.AttributeValue{&types.AttributeValueMemberS{Value: ref}}},
			":chat":   numberAttr(chatID),
		})
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		return Entry{}, ErrGroupClosed
	}
	return entry, nil
}

func (d *DynamoIndex) SetCaptionSeen(ctx context.Context, groupID string, chatID int64) (Entry, error) {
	entry, ok, err := d.update(ctx, groupID,
		"SET captionSeen = :true, chatId = :chat",
		"attribute_not_exists(claimed)",
		map[string]types.AttributeValue{
			":true": &types.AttributeValueMemberBOOL{Value: true},
			":chat": numberAttr(chatID),
		})
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		return Entry{}, ErrGroupClosed
	}
	return entry, nil
}

func (d *DynamoIndex) Get(ctx context.Context, groupID string) (*Entry, error) {
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &d.tableName,
		Key:            groupKey(groupID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem group=%s: %w", groupID, err)
	}
	if result.Item == nil {
		return nil, nil
	}
	var g dynamoGroup
	if err := attributevalue.UnmarshalMap(result.Item, &g); err != nil {
		return nil, fmt.Errorf("unmarshal group=%s: %w", groupID, err)
	}
	e := g.entry()
	return &e, nil
}

func (d *DynamoIndex) Claim(ctx context.Context, groupID string) (*Entry, error) {
	entry, ok, err := d.update(ctx, groupID,
		"SET claimed = :true",
		"attribute_not_exists(claimed) AND captionSeen = :true AND size(members) = :expected",
		map[string]types.AttributeValue{
			":true":     &types.AttributeValueMemberBOOL{Value: true},
			":expected": numberAttr(ExpectedMembers),
		})
	if err != nil || !ok {
		return nil, err
	}
	return &entry, nil
}

func (d *DynamoIndex) Retire(ctx context.Context, groupID string) error {
	_, _, err := d.update(ctx, groupID,
		"REMOVE members SET claimed = :true",
		"",
		map[string]types.AttributeValue{
			":true": &types.AttributeValueMemberBOOL{Value: true},
		})
	return err
}

// Expired scans for groups idle since before cutoff. DynamoDB TTL deletes
// stale items on its own; the scan only exists so incomplete groups can be
// reported to their chat.
func (d *DynamoIndex) Expired(ctx context.Context, cutoff time.Time) ([]Entry, error) {
	input := &dynamodb.ScanInput{
		TableName:        &d.tableName,
		FilterExpression: aws.String("begins_with(PK, :prefix) AND updatedAt < :cutoff"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: pkPrefix},
			":cutoff": numberAttr(cutoff.Unix()),
		},
	}

	var out []Entry
	// DynamoDB returns up to 1MB per Scan call.
	for {
		result, err := d.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Scan expired groups: %w", err)
		}
		for _, item := range result.Items {
			var g dynamoGroup
			if err := attributevalue.UnmarshalMap(item, &g); err != nil {
				return nil, fmt.Errorf("unmarshal expired group: %w", err)
			}
			out = append(out, g.entry())
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return out, nil
}

func (d *DynamoIndex) Remove(ctx context.Context, groupID string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &d.tableName,
		Key:       groupKey(groupID),
	})
	if err != nil {
		return fmt.Errorf("DeleteItem group=%s: %w", groupID, err)
	}
	return nil
}
