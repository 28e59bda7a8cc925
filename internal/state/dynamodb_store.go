package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/TheMichaelB/newsync/internal/events"
	"github.com/TheMichaelB/newsync/internal/models"
)

const dynamoTimeout = 10 * time.Second

// DynamoDBAPI is the subset of the DynamoDB client the store uses.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoDBStore keeps checkpoints in a DynamoDB table keyed by site.
type DynamoDBStore struct {
	client    DynamoDBAPI
	tableName string
	logger    *events.Logger
}

// NewDynamoDBStore creates a store using the default AWS configuration.
func NewDynamoDBStore(ctx context.Context, tableName string, logger *events.Logger) (*DynamoDBStore, error) {
	if tableName == "" {
		return nil, fmt.Errorf("state.table_name is required for the dynamodb backend: %w", models.ErrInvalidConfig)
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewDynamoDBStoreWithClient(dynamodb.NewFromConfig(cfg), tableName, logger), nil
}

// NewDynamoDBStoreWithClient creates a store over an existing client.
func NewDynamoDBStoreWithClient(client DynamoDBAPI, tableName string, logger *events.Logger) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
		logger:    logger.WithField("component", "dynamodb_state_store"),
	}
}

func (s *DynamoDBStore) key(site string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"site": &types.AttributeValueMemberS{Value: SiteKey(site)},
	}
}

// Load retrieves a checkpoint.
func (s *DynamoDBStore) Load(ctx context.Context, site string) (*models.SyncCheckpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, dynamoTimeout)
	defer cancel()

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(site),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get: %w", err)
	}

	if result.Item == nil {
		return nil, ErrStateNotFound
	}

	stateAttr, ok := result.Item["checkpoint"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("%w: invalid checkpoint attribute type", ErrStateCorrupt)
	}

	var cp models.SyncCheckpoint
	if err := json.Unmarshal([]byte(stateAttr.Value), &cp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}

	s.logger.WithField("site", site).Debug("Loaded state from DynamoDB")
	return &cp, nil
}

// Save puts a checkpoint.
func (s *DynamoDBStore) Save(ctx context.Context, cp *models.SyncCheckpoint) error {
	ctx, cancel := context.WithTimeout(ctx, dynamoTimeout)
	defer cancel()

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	item := s.key(cp.Site)
	item["checkpoint"] = &types.AttributeValueMemberS{Value: string(data)}
	item["updated_at"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Unix(), 10)}
	if cp.LastRunID != "" {
		item["last_run_id"] = &types.AttributeValueMemberS{Value: cp.LastRunID}
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return &models.PersistError{Op: "dynamodb put", Path: s.tableName, Err: err}
	}

	s.logger.WithFields(map[string]interface{}{
		"site":   cp.Site,
		"run_id": cp.LastRunID,
	}).Debug("Saved state to DynamoDB")

	return nil
}

// Reset deletes a checkpoint.
func (s *DynamoDBStore) Reset(ctx context.Context, site string) error {
	ctx, cancel := context.WithTimeout(ctx, dynamoTimeout)
	defer cancel()

	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(site),
	})
	if err != nil {
		return fmt.Errorf("dynamodb delete: %w", err)
	}

	s.logger.WithField("site", site).Info("Reset state in DynamoDB")
	return nil
}

// List scans the table for site keys.
func (s *DynamoDBStore) List(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*dynamoTimeout)
	defer cancel()

	var sites []string

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:            aws.String(s.tableName),
		ProjectionExpression: aws.String("site"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb scan: %w", err)
		}

		for _, item := range page.Items {
			if attr, ok := item["site"].(*types.AttributeValueMemberS); ok {
				sites = append(sites, attr.Value)
			}
		}
	}

	return sites, nil
}

// Close releases resources.
func (s *DynamoDBStore) Close() error {
	return nil
}
