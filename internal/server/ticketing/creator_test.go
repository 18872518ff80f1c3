package ticketing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certops/certdash/internal/logging"
	"github.com/certops/certdash/internal/server/models"
)

var today = time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

type fakeCertStore struct {
	certs   []*models.Certificate
	puts    []*models.Certificate
	listErr error
}

func (f *fakeCertStore) List(ctx context.Context) ([]*models.Certificate, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.certs, nil
}

func (f *fakeCertStore) Put(ctx context.Context, cert *models.Certificate) error {
	c := *cert
	f.puts = append(f.puts, &c)
	return nil
}

type fakeAudit struct {
	entries []*models.LogEntry
}

func (f *fakeAudit) Append(ctx context.Context, entry *models.LogEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

type fakeSnow struct {
	incidents []Incident
	number    string
	err       error
}

func (f *fakeSnow) CreateIncident(ctx context.Context, inc Incident) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.incidents = append(f.incidents, inc)
	return f.number, nil
}

func newCreatorForTest(store *fakeCertStore, audit *fakeAudit, snow *fakeSnow, dryRun bool) *Creator {
	c := NewCreator(store, audit, snow, logging.NewNopLogger(), 30, dryRun)
	c.now = func() time.Time { return today }
	return c
}

func expiringCert(id string, daysOut int) *models.Certificate {
	return &models.Certificate{
		CertificateID:   id,
		CommonName:      id + ".example.com",
		CertificateName: id + " cert",
		Environment:     "PROD",
		ExpiryDate:      today.AddDate(0, 0, daysOut),
		Status:          models.StatusDueForRenewal,
	}
}

func TestCreatorRun_CreatesTickets(t *testing.T) {
	store := &fakeCertStore{certs: []*models.Certificate{
		expiringCert("c-1", 5),
		expiringCert("c-2", 400), // outside the window
	}}
	audit := &fakeAudit{}
	snow := &fakeSnow{number: "INC0012345"}

	summary, err := newCreatorForTest(store, audit, snow, false).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Expiring)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 0, summary.Failed)

	require.Len(t, snow.incidents, 1)
	inc := snow.incidents[0]
	assert.Equal(t, "c-1", inc.CorrelationID)
	assert.Equal(t, "2", inc.Priority)
	assert.Equal(t, 5, inc.DaysUntilExpiry)
	assert.Contains(t, inc.ShortDescription, "c-1 cert (PROD)")
	assert.Contains(t, inc.Description, "Days Until Expiry: 5")

	require.Len(t, store.puts, 1)
	assert.Equal(t, "INC0012345", store.puts[0].IncidentNumber)
	assert.Equal(t, int64(1), store.puts[0].Version)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.ActionTicketCreated, audit.entries[0].Action)
	assert.Equal(t, "c-1", audit.entries[0].CertificateID)
}

func TestCreatorRun_SkipsExistingTicketsAndDoneRenewals(t *testing.T) {
	withTicket := expiringCert("c-1", 5)
	withTicket.IncidentNumber = "INC0000001"
	done := expiringCert("c-2", 5)
	done.Status = models.StatusRenewalDone
	canceled := expiringCert("c-3", 5)
	canceled.Status = models.StatusRenewalCanceled

	store := &fakeCertStore{certs: []*models.Certificate{withTicket, done, canceled}}
	snow := &fakeSnow{number: "INC0099999"}

	summary, err := newCreatorForTest(store, &fakeAudit{}, snow, false).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Expiring)
	assert.Equal(t, 0, summary.Created)
	assert.Equal(t, 3, summary.Skipped)
	assert.Empty(t, snow.incidents)
}

func TestCreatorRun_ExpiredCertGetsCriticalTicket(t *testing.T) {
	expired := expiringCert("c-1", -3)
	expired.Status = models.StatusExpired

	store := &fakeCertStore{certs: []*models.Certificate{expired}}
	snow := &fakeSnow{number: "INC0012346"}

	summary, err := newCreatorForTest(store, &fakeAudit{}, snow, false).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Created)
	require.Len(t, snow.incidents, 1)
	assert.Equal(t, "1", snow.incidents[0].Priority)
}

func TestCreatorRun_DryRun(t *testing.T) {
	store := &fakeCertStore{certs: []*models.Certificate{expiringCert("c-1", 5)}}
	snow := &fakeSnow{number: "INC0012345"}
	audit := &fakeAudit{}

	summary, err := newCreatorForTest(store, audit, snow, true).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Expiring)
	assert.Equal(t, 0, summary.Created)
	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, snow.incidents)
	assert.Empty(t, store.puts)
	assert.Empty(t, audit.entries)
}

func TestCreatorRun_FailureIsCounted(t *testing.T) {
	store := &fakeCertStore{certs: []*models.Certificate{
		expiringCert("c-1", 5),
		expiringCert("c-2", 10),
	}}
	snow := &fakeSnow{err: errors.New("snow unreachable")}

	summary, err := newCreatorForTest(store, &fakeAudit{}, snow, false).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 0, summary.Created)
	require.Len(t, summary.Errors, 2)
	assert.Contains(t, summary.Errors[0], "snow unreachable")
}

func TestCreatorRun_ListFailure(t *testing.T) {
	store := &fakeCertStore{listErr: errors.New("table offline")}

	_, err := newCreatorForTest(store, &fakeAudit{}, &fakeSnow{}, false).Run(context.Background())
	require.Error(t, err)
}

func TestPriorityFor(t *testing.T) {
	cases := []struct {
		days int
		want string
	}{
		{-1, "1"},
		{0, "2"},
		{6, "2"},
		{7, "3"},
		{13, "3"},
		{14, "4"},
		{29, "4"},
		{30, "5"},
		{90, "5"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, priorityFor(tc.days), "days=%d", tc.days)
	}
}
