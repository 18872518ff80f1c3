package repomanager

import (
	"github.com/certops/certdash/internal/server/repositories/auditlog"
	"github.com/certops/certdash/internal/server/repositories/certificates"
)

type MemoryRepositoryManager struct {
	certificates certificates.Repository
	auditLog     auditlog.Repository
}

func (m *MemoryRepositoryManager) Certificates() certificates.Repository {
	return m.certificates
}

func (m *MemoryRepositoryManager) AuditLog() auditlog.Repository {
	return m.auditLog
}

func (m *MemoryRepositoryManager) Close() error {
	return nil
}

func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{
		certificates: certificates.NewMemoryRepository(),
		auditLog:     auditlog.NewMemoryRepository(),
	}
}
