package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certops/certdash/internal/common"
	"github.com/certops/certdash/internal/logging"
	"github.com/certops/certdash/internal/server/models"
)

type fakeCertStore struct {
	byKey   map[models.NaturalKey]*models.Certificate
	findErr error
	putErr  error
	puts    int
}

func newFakeCertStore() *fakeCertStore {
	return &fakeCertStore{byKey: map[models.NaturalKey]*models.Certificate{}}
}

func (s *fakeCertStore) FindByNaturalKey(_ context.Context, key models.NaturalKey) (*models.Certificate, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	cert, ok := s.byKey[key]
	if !ok {
		return nil, common.ErrNotFound
	}
	clone := *cert
	return &clone, nil
}

func (s *fakeCertStore) Put(_ context.Context, cert *models.Certificate) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.puts++
	s.byKey[cert.NaturalKey()] = cert
	return nil
}

type fakeAudit struct {
	entries   []*models.LogEntry
	appendErr error
}

func (a *fakeAudit) Append(_ context.Context, entry *models.LogEntry) error {
	if a.appendErr != nil {
		return a.appendErr
	}
	a.entries = append(a.entries, entry)
	return nil
}

func newTestReconciler(store *fakeCertStore, audit *fakeAudit) *Reconciler {
	r := NewReconciler(store, audit, logging.NewNopLogger(), 30)
	r.now = func() time.Time { return today }
	return r
}

func TestReconcile_AddsNewRecord(t *testing.T) {
	store := newFakeCertStore()
	audit := &fakeAudit{}
	r := newTestReconciler(store, audit)

	outcome, err := r.Reconcile(context.Background(), acmRecord(), "acm-sync")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdded, outcome)
	assert.Equal(t, 1, store.puts)

	require.Len(t, audit.entries, 1)
	entry := audit.entries[0]
	assert.Equal(t, models.ActionInitialImport, entry.Action)
	assert.Equal(t, "acm-sync", entry.Actor)
	assert.NotEmpty(t, entry.CertificateID)
}

func TestReconcile_SkipsIdenticalRecord(t *testing.T) {
	store := newFakeCertStore()
	audit := &fakeAudit{}
	r := newTestReconciler(store, audit)

	_, err := r.Reconcile(context.Background(), acmRecord(), "acm-sync")
	require.NoError(t, err)

	outcome, err := r.Reconcile(context.Background(), acmRecord(), "acm-sync")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Equal(t, 1, store.puts, "an identical record must not be written again")
	assert.Len(t, audit.entries, 1, "a skip must not produce an audit entry")
}

func TestReconcile_UpdatesChangedRecord(t *testing.T) {
	store := newFakeCertStore()
	audit := &fakeAudit{}
	r := newTestReconciler(store, audit)

	_, err := r.Reconcile(context.Background(), acmRecord(), "acm-sync")
	require.NoError(t, err)

	renewed := acmRecord()
	renewed.ExpiryDate = timep(today.AddDate(1, 0, 0))

	outcome, err := r.Reconcile(context.Background(), renewed, "acm-sync")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)

	require.Len(t, audit.entries, 2)
	entry := audit.entries[1]
	// An expiry date moving forward is a renewal, not a plain field update.
	assert.Equal(t, models.ActionCertificateRenewed, entry.Action)
	require.NotEmpty(t, entry.Changes)
	assert.Equal(t, "ExpiryDate", entry.Changes[0].Field)

	stored := store.byKey[models.NaturalKey{AccountNumber: "123456789012", CommonName: "www.example.com"}]
	assert.Equal(t, int64(2), stored.Version)
}

func TestReconcile_NonExpiryChangeIsFieldUpdate(t *testing.T) {
	store := newFakeCertStore()
	audit := &fakeAudit{}
	r := newTestReconciler(store, audit)

	_, err := r.Reconcile(context.Background(), acmRecord(), "acm-sync")
	require.NoError(t, err)

	update := acmRecord()
	update.SerialNumber = strp("0a:1b")

	outcome, err := r.Reconcile(context.Background(), update, "acm-sync")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)

	require.Len(t, audit.entries, 2)
	assert.Equal(t, models.ActionFieldUpdate, audit.entries[1].Action)
}

func TestReconcile_RejectsMalformedKey(t *testing.T) {
	store := newFakeCertStore()
	r := newTestReconciler(store, &fakeAudit{})

	rec := acmRecord()
	rec.AccountNumber = ""

	_, err := r.Reconcile(context.Background(), rec, "acm-sync")
	assert.ErrorIs(t, err, common.ErrMalformedRecord)
	assert.Zero(t, store.puts)
}

func TestReconcile_LookupFailurePropagates(t *testing.T) {
	store := newFakeCertStore()
	store.findErr = errors.New("dynamo throttled")
	r := newTestReconciler(store, &fakeAudit{})

	_, err := r.Reconcile(context.Background(), acmRecord(), "acm-sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lookup failed")
}

func TestReconcile_PutFailureWrapsPersistence(t *testing.T) {
	store := newFakeCertStore()
	store.putErr = errors.New("conditional check failed")
	r := newTestReconciler(store, &fakeAudit{})

	_, err := r.Reconcile(context.Background(), acmRecord(), "acm-sync")
	assert.ErrorIs(t, err, common.ErrPersistence)
}

func TestReconcile_AuditFailureDoesNotFailRecord(t *testing.T) {
	store := newFakeCertStore()
	audit := &fakeAudit{appendErr: errors.New("log table gone")}
	r := newTestReconciler(store, audit)

	outcome, err := r.Reconcile(context.Background(), acmRecord(), "acm-sync")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdded, outcome)
	assert.Equal(t, 1, store.puts)
}

func TestReconcileAll_ErrorIsolation(t *testing.T) {
	store := newFakeCertStore()
	r := newTestReconciler(store, &fakeAudit{})

	bad := acmRecord()
	bad.CommonName = ""

	noExpiry := acmRecord()
	noExpiry.CommonName = "other.example.com"
	noExpiry.ExpiryDate = nil

	good := acmRecord()

	stats := r.ReconcileAll(context.Background(), []*models.PartialCertificate{bad, noExpiry, good}, "acm-sync")

	assert.Equal(t, 3, stats.Found)
	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, 0, stats.Updated)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, 2, stats.Errors)
	assert.Len(t, stats.ErrorMessages, 2)
	assert.Equal(t, today, stats.StartedAt)
	assert.Equal(t, today, stats.FinishedAt)
}

func TestReconcileAll_CountsOutcomes(t *testing.T) {
	store := newFakeCertStore()
	r := newTestReconciler(store, &fakeAudit{})

	_, err := r.Reconcile(context.Background(), acmRecord(), "acm-sync")
	require.NoError(t, err)

	unchanged := acmRecord()

	renewed := acmRecord()
	renewed.CommonName = "api.example.com"

	stats := r.ReconcileAll(context.Background(), []*models.PartialCertificate{unchanged, renewed}, "acm-sync")

	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, stats.Errors)
}

func TestRunStats_ErrorMessagesCapped(t *testing.T) {
	stats := &RunStats{}
	for i := 0; i < 25; i++ {
		stats.RecordError(errors.New("boom"))
	}
	assert.Equal(t, 25, stats.Errors)
	assert.Len(t, stats.ErrorMessages, 10)
}
