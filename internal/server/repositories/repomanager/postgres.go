package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/certops/certdash/internal/server/migrations"
	"github.com/certops/certdash/internal/server/repositories/auditlog"
	"github.com/certops/certdash/internal/server/repositories/certificates"
)

type PostgresRepositoryManager struct {
	db           *sql.DB
	certificates certificates.Repository
	auditLog     auditlog.Repository
}

func (m *PostgresRepositoryManager) Certificates() certificates.Repository {
	return m.certificates
}

func (m *PostgresRepositoryManager) AuditLog() auditlog.Repository {
	return m.auditLog
}

func (m *PostgresRepositoryManager) Close() error {
	return m.db.Close()
}

// RunMigrations applies the embedded goose migrations.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}

	if err := goose.UpContext(ctx, m.db, "."); err != nil {
		return err
	}

	return nil
}

func NewPostgresRepositoryManager(ctx context.Context, dsn string) (*PostgresRepositoryManager, error) {

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	m := &PostgresRepositoryManager{
		db:           db,
		certificates: certificates.NewPostgresRepository(db),
		auditLog:     auditlog.NewPostgresRepository(db),
	}

	if err := m.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return m, nil
}
