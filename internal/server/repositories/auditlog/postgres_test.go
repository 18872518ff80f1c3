package auditlog

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/certops/certdash/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestPostgresAppend(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)INSERT INTO certificate_logs`

	mock.ExpectExec(q).WillReturnResult(sqlmock.NewResult(0, 1))

	entry := &models.LogEntry{
		LogID:         "l-1",
		CertificateID: "c-1",
		Timestamp:     time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		Action:        models.ActionFieldUpdate,
		Actor:         "ACM",
		Changes:       []models.FieldChange{{Field: "Status", Old: "Active", New: "Due for Renewal"}},
	}
	if err := repo.Append(context.Background(), entry); err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresAppend_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)INSERT INTO certificate_logs`

	mock.ExpectExec(q).WillReturnError(errors.New("db down"))

	err := repo.Append(context.Background(), &models.LogEntry{LogID: "l-1"})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestPostgresListByCertificate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)SELECT\s+.*\s+FROM certificate_logs\s+WHERE certificate_id = \$1\s+ORDER BY ts DESC`

	ts := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "certificate_id", "ts", "action", "actor", "detail", "changes"}).
		AddRow("l-2", "c-1", ts.Add(time.Hour), "FIELD_UPDATE", "ACM", "", []byte(`[{"Field":"Status","Old":"Active","New":"Expired"}]`)).
		AddRow("l-1", "c-1", ts, "INITIAL_IMPORT", "ACM", "added from sync", nil)

	mock.ExpectQuery(q).WithArgs("c-1").WillReturnRows(rows)

	got, err := repo.ListByCertificate(context.Background(), "c-1")
	if err != nil {
		t.Fatalf("ListByCertificate error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 entries, got %d", len(got))
	}
	if got[0].Changes[0].New != "Expired" {
		t.Fatalf("changes not decoded: %+v", got[0].Changes)
	}
	if got[1].Changes != nil {
		t.Fatalf("nil changes should stay nil: %+v", got[1].Changes)
	}
}
