package certificates

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/certops/certdash/internal/common"
	"github.com/certops/certdash/internal/dbx"
	"github.com/certops/certdash/internal/server/models"
)

// PostgresRepository stores the inventory in a certificates table. Custom
// tags are kept as jsonb so user-defined keys need no schema changes.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const certColumns = `id, account_number, common_name, server_id, thumbprint,
	certificate_name, subject, issuer, type, key_algorithm, serial_number,
	environment, application, region, expiry_date, status, source,
	acm_arn, acm_status, server_name, server_platform, file_path,
	last_synced_from_acm, last_scanned_on,
	owner_email, support_email, notes, incident_number, assigned_to,
	custom_tags, version, created_on, last_updated_on`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCertificate(row rowScanner) (*models.Certificate, error) {
	cert := &models.Certificate{}
	var expiry, synced, scanned sql.NullTime
	var tags []byte

	err := row.Scan(
		&cert.CertificateID, &cert.AccountNumber, &cert.CommonName,
		&cert.ServerID, &cert.Thumbprint,
		&cert.CertificateName, &cert.Subject, &cert.Issuer,
		&cert.Type, &cert.KeyAlgorithm, &cert.SerialNumber,
		&cert.Environment, &cert.Application, &cert.Region,
		&expiry, &cert.Status, &cert.Source,
		&cert.ACMARN, &cert.ACMStatus, &cert.ServerName,
		&cert.ServerPlatform, &cert.FilePath,
		&synced, &scanned,
		&cert.OwnerEmail, &cert.SupportEmail, &cert.Notes,
		&cert.IncidentNumber, &cert.AssignedTo,
		&tags, &cert.Version, &cert.CreatedOn, &cert.LastUpdatedOn,
	)
	if err != nil {
		return nil, err
	}

	if expiry.Valid {
		cert.ExpiryDate = expiry.Time
	}
	if synced.Valid {
		cert.LastSyncedFromACM = synced.Time
	}
	if scanned.Valid {
		cert.LastScannedOn = scanned.Time
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &cert.CustomTags); err != nil {
			return nil, fmt.Errorf("decode custom_tags: %w", err)
		}
	}
	return cert, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Certificate, error) {
	query := `SELECT ` + certColumns + ` FROM certificates WHERE id = $1`

	cert, err := scanCertificate(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return cert, nil
}

func (r *PostgresRepository) FindByNaturalKey(ctx context.Context, key models.NaturalKey) (*models.Certificate, error) {
	var query string
	var args []any

	if key.ByServer() {
		query = `SELECT ` + certColumns + ` FROM certificates
			 WHERE server_id = $1 AND thumbprint = $2`
		args = []any{key.ServerID, key.Thumbprint}
	} else {
		query = `SELECT ` + certColumns + ` FROM certificates
			 WHERE account_number = $1 AND common_name = $2`
		args = []any{key.AccountNumber, key.CommonName}
	}

	cert, err := scanCertificate(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return cert, nil
}

func (r *PostgresRepository) FindByIncidentNumber(ctx context.Context, incident string) (*models.Certificate, error) {
	if incident == "" {
		return nil, common.ErrNotFound
	}

	query := `SELECT ` + certColumns + ` FROM certificates WHERE incident_number = $1`

	cert, err := scanCertificate(r.db.QueryRowContext(ctx, query, incident))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return cert, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*models.Certificate, error) {
	query := `SELECT ` + certColumns + ` FROM certificates ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Certificate
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, cert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) Put(ctx context.Context, cert *models.Certificate) error {
	tags, err := json.Marshal(cert.CustomTags)
	if err != nil {
		return fmt.Errorf("encode custom_tags: %w", err)
	}
	if cert.CustomTags == nil {
		tags = nil
	}

	query :=
		`INSERT INTO certificates (` + certColumns + `)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		         $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26,
		         $27, $28, $29, $30, $31, $32, $33)
		 ON CONFLICT (id) DO UPDATE SET
		    account_number = EXCLUDED.account_number,
		    common_name = EXCLUDED.common_name,
		    server_id = EXCLUDED.server_id,
		    thumbprint = EXCLUDED.thumbprint,
		    certificate_name = EXCLUDED.certificate_name,
		    subject = EXCLUDED.subject,
		    issuer = EXCLUDED.issuer,
		    type = EXCLUDED.type,
		    key_algorithm = EXCLUDED.key_algorithm,
		    serial_number = EXCLUDED.serial_number,
		    environment = EXCLUDED.environment,
		    application = EXCLUDED.application,
		    region = EXCLUDED.region,
		    expiry_date = EXCLUDED.expiry_date,
		    status = EXCLUDED.status,
		    source = EXCLUDED.source,
		    acm_arn = EXCLUDED.acm_arn,
		    acm_status = EXCLUDED.acm_status,
		    server_name = EXCLUDED.server_name,
		    server_platform = EXCLUDED.server_platform,
		    file_path = EXCLUDED.file_path,
		    last_synced_from_acm = EXCLUDED.last_synced_from_acm,
		    last_scanned_on = EXCLUDED.last_scanned_on,
		    owner_email = EXCLUDED.owner_email,
		    support_email = EXCLUDED.support_email,
		    notes = EXCLUDED.notes,
		    incident_number = EXCLUDED.incident_number,
		    assigned_to = EXCLUDED.assigned_to,
		    custom_tags = EXCLUDED.custom_tags,
		    version = EXCLUDED.version,
		    last_updated_on = EXCLUDED.last_updated_on
		 `

	_, err = r.db.ExecContext(ctx, query,
		cert.CertificateID, cert.AccountNumber, cert.CommonName,
		cert.ServerID, cert.Thumbprint,
		cert.CertificateName, cert.Subject, cert.Issuer,
		cert.Type, cert.KeyAlgorithm, cert.SerialNumber,
		cert.Environment, cert.Application, cert.Region,
		nullTime(cert.ExpiryDate), cert.Status, cert.Source,
		cert.ACMARN, cert.ACMStatus, cert.ServerName,
		cert.ServerPlatform, cert.FilePath,
		nullTime(cert.LastSyncedFromACM), nullTime(cert.LastScannedOn),
		cert.OwnerEmail, cert.SupportEmail, cert.Notes,
		cert.IncidentNumber, cert.AssignedTo,
		tags, cert.Version, cert.CreatedOn, cert.LastUpdatedOn,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM certificates WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
