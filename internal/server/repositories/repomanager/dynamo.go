package repomanager

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/certops/certdash/internal/logging"
	"github.com/certops/certdash/internal/server/repositories/auditlog"
	"github.com/certops/certdash/internal/server/repositories/certificates"
)

// DynamoConfig names the tables and natural-key indexes used by the hosted
// backend.
type DynamoConfig struct {
	CertificatesTable string
	LogsTable         string
	AccountIndex      string
	ServerIndex       string
}

type DynamoRepositoryManager struct {
	certificates certificates.Repository
	auditLog     auditlog.Repository
}

func (m *DynamoRepositoryManager) Certificates() certificates.Repository {
	return m.certificates
}

func (m *DynamoRepositoryManager) AuditLog() auditlog.Repository {
	return m.auditLog
}

func (m *DynamoRepositoryManager) Close() error {
	return nil
}

func NewDynamoRepositoryManager(client *dynamodb.Client, cfg DynamoConfig, logger logging.Logger) *DynamoRepositoryManager {
	return &DynamoRepositoryManager{
		certificates: certificates.NewDynamoRepository(client,
			cfg.CertificatesTable, cfg.AccountIndex, cfg.ServerIndex, logger),
		auditLog: auditlog.NewDynamoRepository(client, cfg.LogsTable),
	}
}
