package ticketing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certops/certdash/internal/common"
	"github.com/certops/certdash/internal/logging"
	"github.com/certops/certdash/internal/server/models"
)

type fakeWebhookStore struct {
	byID       map[string]*models.Certificate
	byIncident map[string]*models.Certificate
	puts       []*models.Certificate
}

func (f *fakeWebhookStore) GetByID(ctx context.Context, id string) (*models.Certificate, error) {
	if c, ok := f.byID[id]; ok {
		return c, nil
	}
	return nil, common.ErrNotFound
}

func (f *fakeWebhookStore) FindByIncidentNumber(ctx context.Context, number string) (*models.Certificate, error) {
	if c, ok := f.byIncident[number]; ok {
		return c, nil
	}
	return nil, common.ErrNotFound
}

func (f *fakeWebhookStore) Put(ctx context.Context, cert *models.Certificate) error {
	c := *cert
	f.puts = append(f.puts, &c)
	return nil
}

func newProcessorForTest(store *fakeWebhookStore, audit *fakeAudit) *WebhookProcessor {
	p := NewWebhookProcessor(store, audit, logging.NewNopLogger())
	p.now = func() time.Time { return today }
	return p
}

func storedCert(id string) *models.Certificate {
	return &models.Certificate{
		CertificateID: id,
		CommonName:    id + ".example.com",
		ExpiryDate:    today.AddDate(0, 0, 10),
		Status:        models.StatusDueForRenewal,
	}
}

func sign(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestValidateSignature(t *testing.T) {
	body := `{"incident_number":"INC0012345"}`

	assert.NoError(t, ValidateSignature([]byte(body), sign(body, "s3cret"), "s3cret"))

	err := ValidateSignature([]byte(body), sign(body, "wrong"), "s3cret")
	assert.ErrorIs(t, err, common.ErrBadSignature)

	// Missing signature with a secret configured is rejected.
	err = ValidateSignature([]byte(body), "", "s3cret")
	assert.ErrorIs(t, err, common.ErrBadSignature)

	// No secret configured disables validation.
	assert.NoError(t, ValidateSignature([]byte(body), "", ""))
	assert.NoError(t, ValidateSignature([]byte(body), "anything", ""))
}

func TestProcess_AssignsAndMovesToInProgress(t *testing.T) {
	cert := storedCert("c-1")
	store := &fakeWebhookStore{byID: map[string]*models.Certificate{"c-1": cert}}
	audit := &fakeAudit{}

	updated, err := newProcessorForTest(store, audit).Process(context.Background(), &WebhookEvent{
		IncidentNumber: "INC0012345",
		CorrelationID:  "c-1",
		State:          "2",
		AssignedTo:     Assignee{Name: "Jane Doe", Email: "jane.doe@example.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusRenewalInProgress, updated.Status)
	assert.Equal(t, "INC0012345", updated.IncidentNumber)
	assert.Equal(t, "Jane Doe <jane.doe@example.com>", updated.AssignedTo)
	assert.Equal(t, int64(1), updated.Version)
	require.Len(t, store.puts, 1)

	require.Len(t, audit.entries, 1)
	entry := audit.entries[0]
	assert.Equal(t, models.ActionTicketAssigned, entry.Action)
	assert.Contains(t, entry.Detail, "Jane Doe")
	assert.Len(t, entry.Changes, 3)
}

func TestProcess_StateMapping(t *testing.T) {
	cases := []struct {
		state string
		want  models.Status
	}{
		{"1", models.StatusPendingAssignment},
		{"2", models.StatusRenewalInProgress},
		{"6", models.StatusRenewalDone},
		{"7", models.StatusRenewalDone},
		{"8", models.StatusRenewalCanceled},
	}

	for _, tc := range cases {
		cert := storedCert("c-1")
		store := &fakeWebhookStore{byID: map[string]*models.Certificate{"c-1": cert}}

		updated, err := newProcessorForTest(store, &fakeAudit{}).Process(context.Background(), &WebhookEvent{
			IncidentNumber: "INC0012345",
			CorrelationID:  "c-1",
			State:          tc.state,
		})
		require.NoError(t, err, "state=%s", tc.state)
		assert.Equal(t, tc.want, updated.Status, "state=%s", tc.state)
	}
}

func TestProcess_OnHoldKeepsStatus(t *testing.T) {
	cert := storedCert("c-1")
	cert.Status = models.StatusRenewalInProgress
	store := &fakeWebhookStore{byID: map[string]*models.Certificate{"c-1": cert}}

	updated, err := newProcessorForTest(store, &fakeAudit{}).Process(context.Background(), &WebhookEvent{
		IncidentNumber: "INC0012345",
		CorrelationID:  "c-1",
		State:          "3",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRenewalInProgress, updated.Status)
	// The incident number is still recorded.
	assert.Equal(t, "INC0012345", updated.IncidentNumber)
}

func TestProcess_FallsBackToIncidentLookup(t *testing.T) {
	cert := storedCert("c-1")
	cert.IncidentNumber = "INC0012345"
	store := &fakeWebhookStore{
		byID:       map[string]*models.Certificate{},
		byIncident: map[string]*models.Certificate{"INC0012345": cert},
	}

	updated, err := newProcessorForTest(store, &fakeAudit{}).Process(context.Background(), &WebhookEvent{
		IncidentNumber: "INC0012345",
		CorrelationID:  "stale-id",
		State:          "6",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRenewalDone, updated.Status)
}

func TestProcess_UnknownCertificate(t *testing.T) {
	store := &fakeWebhookStore{}

	_, err := newProcessorForTest(store, &fakeAudit{}).Process(context.Background(), &WebhookEvent{
		IncidentNumber: "INC0012345",
		CorrelationID:  "c-404",
		State:          "2",
	})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestProcess_MissingIdentifiers(t *testing.T) {
	_, err := newProcessorForTest(&fakeWebhookStore{}, &fakeAudit{}).Process(context.Background(), &WebhookEvent{State: "2"})
	assert.ErrorIs(t, err, common.ErrMalformedRecord)
}

func TestProcess_NoChangesSkipsWrite(t *testing.T) {
	cert := storedCert("c-1")
	cert.Status = models.StatusRenewalInProgress
	cert.IncidentNumber = "INC0012345"
	cert.AssignedTo = "Jane Doe <jane.doe@example.com>"
	store := &fakeWebhookStore{byID: map[string]*models.Certificate{"c-1": cert}}
	audit := &fakeAudit{}

	_, err := newProcessorForTest(store, audit).Process(context.Background(), &WebhookEvent{
		IncidentNumber: "INC0012345",
		CorrelationID:  "c-1",
		State:          "2",
		AssignedTo:     Assignee{Name: "Jane Doe", Email: "jane.doe@example.com"},
	})
	require.NoError(t, err)
	assert.Empty(t, store.puts)
	assert.Empty(t, audit.entries)
}
