package auditlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/certops/certdash/internal/dbx"
	"github.com/certops/certdash/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Append(ctx context.Context, entry *models.LogEntry) error {
	var changes []byte
	if len(entry.Changes) > 0 {
		b, err := json.Marshal(entry.Changes)
		if err != nil {
			return fmt.Errorf("encode changes: %w", err)
		}
		changes = b
	}

	query :=
		`INSERT INTO certificate_logs (id, certificate_id, ts, action, actor, detail, changes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 `

	_, err := r.db.ExecContext(ctx, query,
		entry.LogID, entry.CertificateID, entry.Timestamp,
		entry.Action, entry.Actor, entry.Detail, changes)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByCertificate(ctx context.Context, certificateID string) ([]*models.LogEntry, error) {
	query :=
		`SELECT id, certificate_id, ts, action, actor, detail, changes
		 FROM certificate_logs
		 WHERE certificate_id = $1
		 ORDER BY ts DESC
		 `

	rows, err := r.db.QueryContext(ctx, query, certificateID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.LogEntry
	for rows.Next() {
		entry := &models.LogEntry{}
		var changes []byte
		err := rows.Scan(&entry.LogID, &entry.CertificateID, &entry.Timestamp,
			&entry.Action, &entry.Actor, &entry.Detail, &changes)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &entry.Changes); err != nil {
				return nil, fmt.Errorf("decode changes: %w", err)
			}
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}
