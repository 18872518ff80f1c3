package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certops/certdash/internal/logging"
	"github.com/certops/certdash/internal/server/models"
	"github.com/certops/certdash/internal/server/notify"
)

type fakeStore struct {
	certs   []*models.Certificate
	puts    []*models.Certificate
	listErr error
}

func (f *fakeStore) List(ctx context.Context) ([]*models.Certificate, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.certs, nil
}

func (f *fakeStore) Put(ctx context.Context, cert *models.Certificate) error {
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

func (f *fakeAudit) actions() []models.Action {
	var out []models.Action
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

type fakeNotifier struct {
	sent    []notify.Message
	sendErr error
}

func (f *fakeNotifier) Send(ctx context.Context, msg notify.Message) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

var today = time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

func newMonitorForTest(store *fakeStore, audit *fakeAudit, notifier *fakeNotifier) *Monitor {
	m := NewMonitor(store, audit, notifier, logging.NewNopLogger(), 30)
	m.now = func() time.Time { return today }
	return m
}

func cert(id, owner, support string, daysOut int, status models.Status) *models.Certificate {
	return &models.Certificate{
		CertificateID: id,
		CommonName:    id + ".example.com",
		OwnerEmail:    owner,
		SupportEmail:  support,
		ExpiryDate:    today.AddDate(0, 0, daysOut),
		Status:        status,
		Environment:   "PROD",
	}
}

func TestRun_NotifiesOwnersAndSupport(t *testing.T) {
	store := &fakeStore{certs: []*models.Certificate{
		cert("c-1", "alice@example.com", "support@example.com", 10, models.StatusDueForRenewal),
		cert("c-2", "alice@example.com", "", 3, models.StatusDueForRenewal),
		cert("c-3", "", "", 5, models.StatusDueForRenewal), // nobody to notify
		cert("c-4", "bob@example.com", "bob@example.com", 400, models.StatusActive),
	}}
	audit := &fakeAudit{}
	notifier := &fakeNotifier{}

	summary, err := newMonitorForTest(store, audit, notifier).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.CertificatesFound)
	assert.Equal(t, 2, summary.NotificationsSent) // alice and support, sorted
	require.Len(t, notifier.sent, 2)
	assert.Equal(t, []string{"alice@example.com"}, notifier.sent[0].To)
	assert.Contains(t, notifier.sent[0].Subject, "2 Certificate(s)")
	assert.Equal(t, []string{"support@example.com"}, notifier.sent[1].To)

	assert.Equal(t, 2, summary.UrgentUnder7Days)
	assert.Equal(t, 1, summary.Warning7To30Days)
	assert.Equal(t, 3, summary.ByEnvironment["PROD"])
}

func TestRun_RefreshesStaleStatuses(t *testing.T) {
	store := &fakeStore{certs: []*models.Certificate{
		cert("c-1", "alice@example.com", "", 10, models.StatusActive),   // stale, now due
		cert("c-2", "", "", -5, models.StatusActive),                    // stale, now expired
		cert("c-3", "", "", 5, models.StatusRenewalInProgress),          // manual, untouched
		cert("c-4", "", "", 100, models.StatusActive),                   // correct already
	}}
	audit := &fakeAudit{}
	notifier := &fakeNotifier{}

	summary, err := newMonitorForTest(store, audit, notifier).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.StatusesUpdated)
	require.Len(t, store.puts, 2)
	assert.Equal(t, models.StatusDueForRenewal, store.puts[0].Status)
	assert.Equal(t, int64(1), store.puts[0].Version)
	assert.Equal(t, models.StatusExpired, store.puts[1].Status)

	assert.Contains(t, audit.actions(), models.ActionStatusChanged)

	// The manual status stays in the expiring window and is reported.
	assert.Equal(t, 2, summary.CertificatesFound) // c-1 and c-3; expired c-2 excluded
	assert.Equal(t, 1, summary.ByStatus[string(models.StatusRenewalInProgress)])
}

func TestRun_ExpiryTodayIsDue(t *testing.T) {
	store := &fakeStore{certs: []*models.Certificate{
		cert("c-1", "alice@example.com", "", 0, models.StatusActive),
	}}
	audit := &fakeAudit{}
	notifier := &fakeNotifier{}

	summary, err := newMonitorForTest(store, audit, notifier).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.CertificatesFound)
	require.Len(t, store.puts, 1)
	assert.Equal(t, models.StatusDueForRenewal, store.puts[0].Status)
}

func TestRun_NotifierFailureIsCounted(t *testing.T) {
	store := &fakeStore{certs: []*models.Certificate{
		cert("c-1", "alice@example.com", "", 10, models.StatusDueForRenewal),
	}}
	audit := &fakeAudit{}
	notifier := &fakeNotifier{sendErr: errors.New("ses throttled")}

	summary, err := newMonitorForTest(store, audit, notifier).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.NotificationsSent)
	assert.Equal(t, 1, summary.NotificationsFailed)
	require.Len(t, summary.Errors, 1)
	assert.NotContains(t, audit.actions(), models.ActionNotificationSent)
}

func TestRun_ListFailure(t *testing.T) {
	store := &fakeStore{listErr: errors.New("table offline")}

	_, err := newMonitorForTest(store, &fakeAudit{}, &fakeNotifier{}).Run(context.Background())
	require.Error(t, err)
}

func TestRun_AuditsNotifications(t *testing.T) {
	store := &fakeStore{certs: []*models.Certificate{
		cert("c-1", "alice@example.com", "", 10, models.StatusDueForRenewal),
	}}
	audit := &fakeAudit{}
	notifier := &fakeNotifier{}

	_, err := newMonitorForTest(store, audit, notifier).Run(context.Background())
	require.NoError(t, err)

	assert.Contains(t, audit.actions(), models.ActionNotificationSent)
}
