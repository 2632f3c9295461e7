package contact

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/thiran-symposium/gateway-api/internal/models"
)

// PutItemAPI is the slice of the DynamoDB client the store needs.
type PutItemAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoStore writes messages to a table keyed by message_id.
type DynamoStore struct {
	client    PutItemAPI
	tableName string
}

func NewDynamoStore(client PutItemAPI, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName}
}

func (s *DynamoStore) Put(ctx context.Context, msg models.ContactMessage) error {
	item, err := attributevalue.MarshalMap(msg)
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(message_id)"),
	})
	if err != nil {
		return fmt.Errorf("put item failed: %w", err)
	}

	return nil
}
