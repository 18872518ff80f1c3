package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/certops/certdash/internal/server/models"
)

// DynamoAPI is the subset of the DynamoDB client used by this repository.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

var _ DynamoAPI = (*dynamodb.Client)(nil)

// DynamoRepository writes log entries to a table with CertificateID as the
// partition key and the RFC3339Nano timestamp as the sort key, so history
// reads are a single Query in time order.
type DynamoRepository struct {
	client DynamoAPI
	table  string
}

func NewDynamoRepository(client DynamoAPI, table string) *DynamoRepository {
	return &DynamoRepository{client: client, table: table}
}

type logItem struct {
	CertificateID string `dynamodbav:"CertificateID"`
	Timestamp     string `dynamodbav:"Timestamp"`
	LogID         string `dynamodbav:"LogID"`
	Action        string `dynamodbav:"Action"`
	Actor         string `dynamodbav:"Actor,omitempty"`
	Detail        string `dynamodbav:"Detail,omitempty"`
	Changes       string `dynamodbav:"Changes,omitempty"`
}

func (r *DynamoRepository) Append(ctx context.Context, entry *models.LogEntry) error {
	item := logItem{
		CertificateID: entry.CertificateID,
		Timestamp:     entry.Timestamp.UTC().Format(time.RFC3339Nano),
		LogID:         entry.LogID,
		Action:        string(entry.Action),
		Actor:         entry.Actor,
		Detail:        entry.Detail,
	}
	if len(entry.Changes) > 0 {
		b, err := json.Marshal(entry.Changes)
		if err != nil {
			return fmt.Errorf("encode changes: %w", err)
		}
		item.Changes = string(b)
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

func (r *DynamoRepository) ListByCertificate(ctx context.Context, certificateID string) ([]*models.LogEntry, error) {
	var result []*models.LogEntry
	var startKey map[string]types.AttributeValue

	for {
		out, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.table),
			KeyConditionExpression: aws.String("CertificateID = :id"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":id": &types.AttributeValueMemberS{Value: certificateID},
			},
			ScanIndexForward:  aws.Bool(false),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}

		var items []logItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal items: %w", err)
		}
		for i := range items {
			entry, err := fromLogItem(&items[i])
			if err != nil {
				return nil, err
			}
			result = append(result, entry)
		}

		if out.LastEvaluatedKey == nil {
			return result, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func fromLogItem(item *logItem) (*models.LogEntry, error) {
	ts, err := time.Parse(time.RFC3339Nano, item.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp: %w", err)
	}
	entry := &models.LogEntry{
		LogID:         item.LogID,
		CertificateID: item.CertificateID,
		Timestamp:     ts,
		Action:        models.Action(item.Action),
		Actor:         item.Actor,
		Detail:        item.Detail,
	}
	if item.Changes != "" {
		if err := json.Unmarshal([]byte(item.Changes), &entry.Changes); err != nil {
			return nil, fmt.Errorf("decode changes: %w", err)
		}
	}
	return entry, nil
}
