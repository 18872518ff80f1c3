package auditlog

import (
	"context"
	"sort"
	"sync"

	"github.com/certops/certdash/internal/server/models"
)

type MemoryRepository struct {
	mu      sync.RWMutex
	entries []models.LogEntry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Append(ctx context.Context, entry *models.LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, *entry)
	return nil
}

func (r *MemoryRepository) ListByCertificate(ctx context.Context, certificateID string) ([]*models.LogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.LogEntry
	for i := range r.entries {
		if r.entries[i].CertificateID == certificateID {
			e := r.entries[i]
			result = append(result, &e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	return result, nil
}
