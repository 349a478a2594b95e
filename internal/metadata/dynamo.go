// Package metadata implements persistent image metadata stores.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/stefando/imageHostAWS/internal/model"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoStore keeps records in a table with partition key owner_id and
// sort key item_id.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
}

// NewDynamoStore creates a store over tableName.
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName}
}

func (s *DynamoStore) key(ownerID, itemID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"owner_id": &types.AttributeValueMemberS{Value: ownerID},
		"item_id":  &types.AttributeValueMemberS{Value: itemID},
	}
}

// Put writes rec, replacing any existing item with the same key.
func (s *DynamoStore) Put(ctx context.Context, rec *model.ImageRecord) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

// QueryByOwner reads the owner's whole partition, following pagination.
func (s *DynamoStore) QueryByOwner(ctx context.Context, ownerID string) ([]*model.ImageRecord, error) {
	var (
		records           []*model.ImageRecord
		exclusiveStartKey map[string]types.AttributeValue
	)
	for {
		resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("owner_id = :owner"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":owner": &types.AttributeValueMemberS{Value: ownerID},
			},
			ExclusiveStartKey: exclusiveStartKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query owner %s: %w", ownerID, err)
		}

		page, err := unmarshalRecords(resp.Items)
		if err != nil {
			return nil, err
		}
		records = append(records, page...)

		if resp.LastEvaluatedKey == nil {
			break
		}
		exclusiveStartKey = resp.LastEvaluatedKey
	}
	return records, nil
}

// Get reads one record with a strongly consistent read.
func (s *DynamoStore) Get(ctx context.Context, ownerID, itemID string) (*model.ImageRecord, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(ownerID, itemID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	if resp.Item == nil {
		return nil, model.ErrRecordNotFound
	}

	var rec model.ImageRecord
	if err := attributevalue.UnmarshalMap(resp.Item, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}

// UpdateFields sets status and file_size on an existing item. The update
// is conditional on the item existing so it never resurrects a deleted
// record.
func (s *DynamoStore) UpdateFields(ctx context.Context, ownerID, itemID string, upd model.RecordUpdate) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.key(ownerID, itemID),
		UpdateExpression:    aws.String("SET #status = :status, file_size = :size"),
		ConditionExpression: aws.String("attribute_exists(owner_id)"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(upd.Status)},
			":size":   &types.AttributeValueMemberN{Value: strconv.FormatInt(upd.FileSize, 10)},
		},
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return model.ErrRecordNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	return nil
}

// Delete removes an item. Deleting an absent item succeeds.
func (s *DynamoStore) Delete(ctx context.Context, ownerID, itemID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(ownerID, itemID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

// ScanPending scans the whole table for pending items created before
// createdBefore.
func (s *DynamoStore) ScanPending(ctx context.Context, createdBefore string) ([]*model.ImageRecord, error) {
	var (
		records           []*model.ImageRecord
		exclusiveStartKey map[string]types.AttributeValue
	)
	for {
		resp, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(s.tableName),
			FilterExpression: aws.String("#status = :pending AND created_at < :before"),
			ExpressionAttributeNames: map[string]string{
				"#status": "status",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pending": &types.AttributeValueMemberS{Value: string(model.StatusPending)},
				":before":  &types.AttributeValueMemberS{Value: createdBefore},
			},
			ExclusiveStartKey: exclusiveStartKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending items: %w", err)
		}

		page, err := unmarshalRecords(resp.Items)
		if err != nil {
			return nil, err
		}
		records = append(records, page...)

		if resp.LastEvaluatedKey == nil {
			break
		}
		exclusiveStartKey = resp.LastEvaluatedKey
	}
	return records, nil
}

func unmarshalRecords(items []map[string]types.AttributeValue) ([]*model.ImageRecord, error) {
	var page []model.ImageRecord
	if err := attributevalue.UnmarshalListOfMaps(items, &page); err != nil {
		return nil, fmt.Errorf("failed to unmarshal records: %w", err)
	}
	records := make([]*model.ImageRecord, len(page))
	for i := range page {
		records[i] = &page[i]
	}
	return records, nil
}
