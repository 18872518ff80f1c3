package certificates

import (
	"context"
	"sort"
	"sync"

	"github.com/certops/certdash/internal/common"
	"github.com/certops/certdash/internal/server/models"
)

// MemoryRepository is a map-backed store used by tests and local runs.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[string]models.Certificate
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[string]models.Certificate)}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*models.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cert, ok := r.items[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &cert, nil
}

func (r *MemoryRepository) FindByNaturalKey(ctx context.Context, key models.NaturalKey) (*models.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cert := range r.items {
		if matchesNaturalKey(&cert, key) {
			c := cert
			return &c, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *MemoryRepository) FindByIncidentNumber(ctx context.Context, incident string) (*models.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cert := range r.items {
		if incident != "" && cert.IncidentNumber == incident {
			c := cert
			return &c, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *MemoryRepository) List(ctx context.Context) ([]*models.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.Certificate, 0, len(r.items))
	for _, cert := range r.items {
		c := cert
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CertificateID < result[j].CertificateID
	})
	return result, nil
}

func (r *MemoryRepository) Put(ctx context.Context, cert *models.Certificate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[cert.CertificateID] = *cert
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.items, id)
	return nil
}

func matchesNaturalKey(cert *models.Certificate, key models.NaturalKey) bool {
	if key.ByServer() {
		return cert.ServerID == key.ServerID && cert.Thumbprint == key.Thumbprint
	}
	return cert.AccountNumber == key.AccountNumber && cert.CommonName == key.CommonName &&
		cert.AccountNumber != "" && cert.CommonName != ""
}
