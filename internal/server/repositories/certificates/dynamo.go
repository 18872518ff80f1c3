package certificates

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/certops/certdash/internal/common"
	"github.com/certops/certdash/internal/logging"
	"github.com/certops/certdash/internal/server/models"
)

// DynamoAPI is the subset of the DynamoDB client used by this repository.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

var _ DynamoAPI = (*dynamodb.Client)(nil)

// DynamoRepository stores certificates in a DynamoDB table keyed by
// CertificateID, with two GSIs covering the natural keys. When an index
// query fails (e.g. the GSI has not been created yet) the lookup falls back
// to a filtered full scan, a degraded mode that is logged as a warning and
// acceptable only at small table sizes.
type DynamoRepository struct {
	client       DynamoAPI
	table        string
	accountIndex string
	serverIndex  string
	logger       logging.Logger
}

func NewDynamoRepository(client DynamoAPI, table, accountIndex, serverIndex string, logger logging.Logger) *DynamoRepository {
	return &DynamoRepository{
		client:       client,
		table:        table,
		accountIndex: accountIndex,
		serverIndex:  serverIndex,
		logger:       logger.With("module", "dynamo_certificates"),
	}
}

// certItem is the flat DynamoDB representation. Timestamps are RFC3339
// strings and the expiry date is a plain "YYYY-MM-DD" so the attribute stays
// readable in the console and usable in index conditions.
type certItem struct {
	CertificateID     string            `dynamodbav:"CertificateID"`
	AccountNumber     string            `dynamodbav:"AccountNumber,omitempty"`
	CommonName        string            `dynamodbav:"CommonName,omitempty"`
	ServerID          string            `dynamodbav:"ServerID,omitempty"`
	Thumbprint        string            `dynamodbav:"Thumbprint,omitempty"`
	CertificateName   string            `dynamodbav:"CertificateName,omitempty"`
	Subject           string            `dynamodbav:"Subject,omitempty"`
	Issuer            string            `dynamodbav:"Issuer,omitempty"`
	Type              string            `dynamodbav:"Type,omitempty"`
	KeyAlgorithm      string            `dynamodbav:"KeyAlgorithm,omitempty"`
	SerialNumber      string            `dynamodbav:"SerialNumber,omitempty"`
	Environment       string            `dynamodbav:"Environment,omitempty"`
	Application       string            `dynamodbav:"Application,omitempty"`
	Region            string            `dynamodbav:"Region,omitempty"`
	ExpiryDate        string            `dynamodbav:"ExpiryDate,omitempty"`
	Status            string            `dynamodbav:"Status,omitempty"`
	Source            string            `dynamodbav:"Source,omitempty"`
	ACMARN            string            `dynamodbav:"ACM_ARN,omitempty"`
	ACMStatus         string            `dynamodbav:"ACM_Status,omitempty"`
	ServerName        string            `dynamodbav:"ServerName,omitempty"`
	ServerPlatform    string            `dynamodbav:"ServerPlatform,omitempty"`
	FilePath          string            `dynamodbav:"FilePath,omitempty"`
	LastSyncedFromACM string            `dynamodbav:"LastSyncedFromACM,omitempty"`
	LastScannedOn     string            `dynamodbav:"LastScannedOn,omitempty"`
	OwnerEmail        string            `dynamodbav:"OwnerEmail,omitempty"`
	SupportEmail      string            `dynamodbav:"SupportEmail,omitempty"`
	Notes             string            `dynamodbav:"Notes,omitempty"`
	IncidentNumber    string            `dynamodbav:"IncidentNumber,omitempty"`
	AssignedTo        string            `dynamodbav:"AssignedTo,omitempty"`
	CustomTags        map[string]string `dynamodbav:"CustomTags,omitempty"`
	Version           int64             `dynamodbav:"Version"`
	CreatedOn         string            `dynamodbav:"CreatedOn,omitempty"`
	LastUpdatedOn     string            `dynamodbav:"LastUpdatedOn,omitempty"`
}

const dateLayout = "2006-01-02"

func toItem(cert *models.Certificate) *certItem {
	return &certItem{
		CertificateID:     cert.CertificateID,
		AccountNumber:     cert.AccountNumber,
		CommonName:        cert.CommonName,
		ServerID:          cert.ServerID,
		Thumbprint:        cert.Thumbprint,
		CertificateName:   cert.CertificateName,
		Subject:           cert.Subject,
		Issuer:            cert.Issuer,
		Type:              cert.Type,
		KeyAlgorithm:      cert.KeyAlgorithm,
		SerialNumber:      cert.SerialNumber,
		Environment:       cert.Environment,
		Application:       cert.Application,
		Region:            cert.Region,
		ExpiryDate:        formatDate(cert.ExpiryDate),
		Status:            string(cert.Status),
		Source:            string(cert.Source),
		ACMARN:            cert.ACMARN,
		ACMStatus:         cert.ACMStatus,
		ServerName:        cert.ServerName,
		ServerPlatform:    cert.ServerPlatform,
		FilePath:          cert.FilePath,
		LastSyncedFromACM: formatTime(cert.LastSyncedFromACM),
		LastScannedOn:     formatTime(cert.LastScannedOn),
		OwnerEmail:        cert.OwnerEmail,
		SupportEmail:      cert.SupportEmail,
		Notes:             cert.Notes,
		IncidentNumber:    cert.IncidentNumber,
		AssignedTo:        cert.AssignedTo,
		CustomTags:        cert.CustomTags,
		Version:           cert.Version,
		CreatedOn:         formatTime(cert.CreatedOn),
		LastUpdatedOn:     formatTime(cert.LastUpdatedOn),
	}
}

func fromItem(item *certItem) *models.Certificate {
	return &models.Certificate{
		CertificateID:     item.CertificateID,
		AccountNumber:     item.AccountNumber,
		CommonName:        item.CommonName,
		ServerID:          item.ServerID,
		Thumbprint:        item.Thumbprint,
		CertificateName:   item.CertificateName,
		Subject:           item.Subject,
		Issuer:            item.Issuer,
		Type:              item.Type,
		KeyAlgorithm:      item.KeyAlgorithm,
		SerialNumber:      item.SerialNumber,
		Environment:       item.Environment,
		Application:       item.Application,
		Region:            item.Region,
		ExpiryDate:        parseDate(item.ExpiryDate),
		Status:            models.Status(item.Status),
		Source:            models.Source(item.Source),
		ACMARN:            item.ACMARN,
		ACMStatus:         item.ACMStatus,
		ServerName:        item.ServerName,
		ServerPlatform:    item.ServerPlatform,
		FilePath:          item.FilePath,
		LastSyncedFromACM: parseTime(item.LastSyncedFromACM),
		LastScannedOn:     parseTime(item.LastScannedOn),
		OwnerEmail:        item.OwnerEmail,
		SupportEmail:      item.SupportEmail,
		Notes:             item.Notes,
		IncidentNumber:    item.IncidentNumber,
		AssignedTo:        item.AssignedTo,
		CustomTags:        item.CustomTags,
		Version:           item.Version,
		CreatedOn:         parseTime(item.CreatedOn),
		LastUpdatedOn:     parseTime(item.LastUpdatedOn),
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (r *DynamoRepository) GetByID(ctx context.Context, id string) (*models.Certificate, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"CertificateID": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, common.ErrNotFound
	}

	var item certItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return fromItem(&item), nil
}

func (r *DynamoRepository) FindByNaturalKey(ctx context.Context, key models.NaturalKey) (*models.Certificate, error) {
	index, cond, values := r.keyQuery(key)

	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.table),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    aws.String(cond),
		ExpressionAttributeValues: values,
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		// Index not available: degrade to a filtered scan. Correct but
		// O(table); flagged for operational visibility.
		r.logger.Warn(ctx, "index lookup failed, falling back to full scan", "index", index, "error", err)
		return r.scanForKey(ctx, cond, values)
	}
	if len(out.Items) == 0 {
		return nil, common.ErrNotFound
	}

	var item certItem
	if err := attributevalue.UnmarshalMap(out.Items[0], &item); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return fromItem(&item), nil
}

func (r *DynamoRepository) keyQuery(key models.NaturalKey) (string, string, map[string]types.AttributeValue) {
	if key.ByServer() {
		return r.serverIndex,
			"ServerID = :sid AND Thumbprint = :tp",
			map[string]types.AttributeValue{
				":sid": &types.AttributeValueMemberS{Value: key.ServerID},
				":tp":  &types.AttributeValueMemberS{Value: key.Thumbprint},
			}
	}
	return r.accountIndex,
		"AccountNumber = :account AND CommonName = :cn",
		map[string]types.AttributeValue{
			":account": &types.AttributeValueMemberS{Value: key.AccountNumber},
			":cn":      &types.AttributeValueMemberS{Value: key.CommonName},
		}
}

func (r *DynamoRepository) scanForKey(ctx context.Context, filter string, values map[string]types.AttributeValue) (*models.Certificate, error) {
	var startKey map[string]types.AttributeValue
	for {
		out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(r.table),
			FilterExpression:          aws.String(filter),
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if len(out.Items) > 0 {
			var item certItem
			if err := attributevalue.UnmarshalMap(out.Items[0], &item); err != nil {
				return nil, fmt.Errorf("unmarshal item: %w", err)
			}
			return fromItem(&item), nil
		}
		if out.LastEvaluatedKey == nil {
			return nil, common.ErrNotFound
		}
		startKey = out.LastEvaluatedKey
	}
}

func (r *DynamoRepository) FindByIncidentNumber(ctx context.Context, incident string) (*models.Certificate, error) {
	if incident == "" {
		return nil, common.ErrNotFound
	}
	return r.scanForKey(ctx, "IncidentNumber = :n", map[string]types.AttributeValue{
		":n": &types.AttributeValueMemberS{Value: incident},
	})
}

func (r *DynamoRepository) List(ctx context.Context) ([]*models.Certificate, error) {
	var result []*models.Certificate
	var startKey map[string]types.AttributeValue

	for {
		out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(r.table),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}

		var items []certItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal items: %w", err)
		}
		for i := range items {
			result = append(result, fromItem(&items[i]))
		}

		if out.LastEvaluatedKey == nil {
			return result, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func (r *DynamoRepository) Put(ctx context.Context, cert *models.Certificate) error {
	av, err := attributevalue.MarshalMap(toItem(cert))
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

func (r *DynamoRepository) Delete(ctx context.Context, id string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"CertificateID": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}
