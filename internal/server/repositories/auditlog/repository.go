// Package auditlog stores the append-only certificate history. Entries are
// written once and only ever read back, newest first.
package auditlog

import (
	"context"

	"github.com/certops/certdash/internal/server/models"
)

type Repository interface {
	Append(ctx context.Context, entry *models.LogEntry) error
	ListByCertificate(ctx context.Context, certificateID string) ([]*models.LogEntry, error)
}
