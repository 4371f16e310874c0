package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of *dynamodb.Client the backend uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

type DynamoConfig struct {
	Region string
	// Endpoint overrides the service endpoint, e.g. DynamoDB Local.
	Endpoint string
}

type dynamoStore struct {
	client DynamoAPI
}

// NewDynamo wraps a DynamoDB client. Tables, keys and indexes are defined in
// DynamoDB itself, so no schemas are needed.
func NewDynamo(client DynamoAPI) (Store, error) {
	if client == nil {
		return nil, errors.New("kv: dynamo client required")
	}
	return &dynamoStore{client: client}, nil
}

// NewDynamoFromConfig builds a client from the default AWS credential chain.
func NewDynamoFromConfig(ctx context.Context, cfg DynamoConfig) (Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("kv: load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewDynamo(client)
}

func (s *dynamoStore) Get(ctx context.Context, table string, key Key) (Item, bool, error) {
	av, err := attributevalue.MarshalMap(map[string]any(key))
	if err != nil {
		return nil, false, fmt.Errorf("kv: dynamo marshal key: %w", err)
	}
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key:       av,
	})
	if err != nil {
		return nil, false, fmt.Errorf("kv: dynamo get: %w", err)
	}
	if resp.Item == nil {
		return nil, false, nil
	}
	var item Item
	if err := attributevalue.UnmarshalMap(resp.Item, &item); err != nil {
		return nil, false, fmt.Errorf("kv: dynamo unmarshal item: %w", err)
	}
	return item, true, nil
}

func (s *dynamoStore) Put(ctx context.Context, table string, item Item) error {
	av, err := attributevalue.MarshalMap(map[string]any(item))
	if err != nil {
		return fmt.Errorf("kv: dynamo marshal item: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("kv: dynamo put: %w", err)
	}
	return nil
}

func (s *dynamoStore) Query(ctx context.Context, in QueryInput) (QueryOutput, error) {
	params := &dynamodb.QueryInput{
		TableName:                aws.String(in.Table),
		KeyConditionExpression:   aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{"#pk": in.PartitionKey},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: in.PartitionValue},
		},
		ScanIndexForward: aws.Bool(in.Ascending),
	}
	if in.Index != "" {
		params.IndexName = aws.String(in.Index)
	}
	if in.Limit > 0 {
		params.Limit = aws.Int32(int32(in.Limit))
	}
	if len(in.ExclusiveStartKey) > 0 {
		start, err := attributevalue.MarshalMap(map[string]any(in.ExclusiveStartKey))
		if err != nil {
			return QueryOutput{}, fmt.Errorf("kv: dynamo marshal start key: %w", err)
		}
		params.ExclusiveStartKey = start
	}

	resp, err := s.client.Query(ctx, params)
	if err != nil {
		return QueryOutput{}, fmt.Errorf("kv: dynamo query: %w", err)
	}

	out := QueryOutput{Items: make([]Item, 0, len(resp.Items))}
	if err := attributevalue.UnmarshalListOfMaps(resp.Items, &out.Items); err != nil {
		return QueryOutput{}, fmt.Errorf("kv: dynamo unmarshal items: %w", err)
	}
	if len(resp.LastEvaluatedKey) > 0 {
		var last Key
		if err := attributevalue.UnmarshalMap(resp.LastEvaluatedKey, &last); err != nil {
			return QueryOutput{}, fmt.Errorf("kv: dynamo unmarshal last key: %w", err)
		}
		out.LastEvaluatedKey = last
	}
	return out, nil
}

func (s *dynamoStore) Close(context.Context) error {
	return nil
}
