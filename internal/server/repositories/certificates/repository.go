// Package certificates provides the inventory store backends. The primary
// backend is DynamoDB (natural-key GSI lookup with a flagged scan fallback);
// Postgres and an in-memory map are available for self-hosted deployments
// and tests.
package certificates

import (
	"context"

	"github.com/certops/certdash/internal/server/models"
)

// Repository is the certificate inventory store. FindByNaturalKey and
// FindByIncidentNumber return common.ErrNotFound when nothing matches;
// not-found is an expected, common outcome, not a failure.
type Repository interface {
	GetByID(ctx context.Context, id string) (*models.Certificate, error)
	FindByNaturalKey(ctx context.Context, key models.NaturalKey) (*models.Certificate, error)
	FindByIncidentNumber(ctx context.Context, incident string) (*models.Certificate, error)
	List(ctx context.Context) ([]*models.Certificate, error)
	Put(ctx context.Context, cert *models.Certificate) error
	Delete(ctx context.Context, id string) error
}
