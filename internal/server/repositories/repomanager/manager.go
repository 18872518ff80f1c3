// Package repomanager wires the concrete storage backend behind one factory.
// The backend is selected by configuration: dynamo for the hosted setup,
// postgres for self-hosted deployments, memory for tests and local runs.
package repomanager

import (
	"github.com/certops/certdash/internal/server/repositories/auditlog"
	"github.com/certops/certdash/internal/server/repositories/certificates"
)

type RepositoryManager interface {
	Certificates() certificates.Repository
	AuditLog() auditlog.Repository
	Close() error
}
