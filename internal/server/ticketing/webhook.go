package ticketing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/certops/certdash/internal/common"
	"github.com/certops/certdash/internal/logging"
	"github.com/certops/certdash/internal/server/models"
)

// SignatureHeader is the HTTP header carrying the webhook HMAC.
const SignatureHeader = "X-ServiceNow-Signature"

// WebhookEvent is the assignment payload posted by the ServiceNow business
// rule when an incident changes hands or state.
type WebhookEvent struct {
	IncidentNumber   string   `json:"incident_number"`
	SysID            string   `json:"sys_id"`
	State            string   `json:"state"`
	AssignedTo       Assignee `json:"assigned_to"`
	CorrelationID    string   `json:"correlation_id"`
	ShortDescription string   `json:"short_description"`
	Priority         string   `json:"priority"`
	UpdatedOn        string   `json:"updated_on"`
}

// Assignee identifies the engineer the incident was assigned to.
type Assignee struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	SysID string `json:"sys_id"`
}

// ValidateSignature checks the hex HMAC-SHA256 of the raw request body
// against the shared secret. An empty secret disables validation; with a
// secret configured, a missing or wrong signature is rejected.
func ValidateSignature(body []byte, signature, secret string) error {
	if secret == "" {
		return nil
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return common.ErrBadSignature
	}
	return nil
}

// statusForState maps a ServiceNow incident state onto a certificate status.
// On Hold ("3") and unknown states keep the current status.
func statusForState(state string) (models.Status, bool) {
	switch state {
	case "1":
		return models.StatusPendingAssignment, true
	case "2":
		return models.StatusRenewalInProgress, true
	case "6", "7":
		return models.StatusRenewalDone, true
	case "8":
		return models.StatusRenewalCanceled, true
	}
	return "", false
}

// WebhookStore is the slice of the certificate repository the webhook
// processor needs.
type WebhookStore interface {
	GetByID(ctx context.Context, id string) (*models.Certificate, error)
	FindByIncidentNumber(ctx context.Context, number string) (*models.Certificate, error)
	Put(ctx context.Context, cert *models.Certificate) error
}

// WebhookProcessor applies incident assignment events to the inventory.
type WebhookProcessor struct {
	certs  WebhookStore
	audit  AuditStore
	logger logging.Logger
	now    func() time.Time
}

func NewWebhookProcessor(certs WebhookStore, audit AuditStore, logger logging.Logger) *WebhookProcessor {
	return &WebhookProcessor{
		certs:  certs,
		audit:  audit,
		logger: logger.With("module", "servicenow_webhook"),
		now:    time.Now,
	}
}

// Process updates the certificate referenced by the event. The correlation
// ID carries the certificate ID; if the incident was created out of band the
// lookup falls back to the incident number.
func (p *WebhookProcessor) Process(ctx context.Context, evt *WebhookEvent) (*models.Certificate, error) {
	if evt.CorrelationID == "" && evt.IncidentNumber == "" {
		return nil, fmt.Errorf("%w: missing correlation_id and incident_number", common.ErrMalformedRecord)
	}

	cert, err := p.lookup(ctx, evt)
	if err != nil {
		return nil, err
	}

	var changes []models.FieldChange

	if newStatus, ok := statusForState(evt.State); ok && newStatus != cert.Status {
		changes = append(changes, models.FieldChange{
			Field: "Status", Old: string(cert.Status), New: string(newStatus),
		})
		cert.Status = newStatus
	}

	if evt.IncidentNumber != "" && evt.IncidentNumber != cert.IncidentNumber {
		changes = append(changes, models.FieldChange{
			Field: "IncidentNumber", Old: cert.IncidentNumber, New: evt.IncidentNumber,
		})
		cert.IncidentNumber = evt.IncidentNumber
	}

	if assignee := formatAssignee(evt.AssignedTo); assignee != "" && assignee != cert.AssignedTo {
		changes = append(changes, models.FieldChange{
			Field: "AssignedTo", Old: cert.AssignedTo, New: assignee,
		})
		cert.AssignedTo = assignee
	}

	if len(changes) == 0 {
		p.logger.Debug(ctx, "webhook carried no changes",
			"certificateID", cert.CertificateID, "incident", evt.IncidentNumber)
		return cert, nil
	}

	cert.LastUpdatedOn = p.now()
	cert.Version++
	if err := p.certs.Put(ctx, cert); err != nil {
		return nil, fmt.Errorf("update certificate %s: %w", cert.CertificateID, err)
	}

	p.appendAudit(ctx, cert.CertificateID, evt, changes)
	p.logger.Info(ctx, "assignment applied",
		"certificateID", cert.CertificateID,
		"incident", evt.IncidentNumber,
		"state", evt.State,
		"assignee", evt.AssignedTo.Name,
	)
	return cert, nil
}

func (p *WebhookProcessor) lookup(ctx context.Context, evt *WebhookEvent) (*models.Certificate, error) {
	if evt.CorrelationID != "" {
		cert, err := p.certs.GetByID(ctx, evt.CorrelationID)
		if err == nil {
			return cert, nil
		}
		if !errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("lookup certificate %s: %w", evt.CorrelationID, err)
		}
	}
	if evt.IncidentNumber != "" {
		cert, err := p.certs.FindByIncidentNumber(ctx, evt.IncidentNumber)
		if err == nil {
			return cert, nil
		}
		if !errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("lookup incident %s: %w", evt.IncidentNumber, err)
		}
	}
	return nil, fmt.Errorf("certificate for incident %s: %w", evt.IncidentNumber, common.ErrNotFound)
}

func formatAssignee(a Assignee) string {
	name := strings.TrimSpace(a.Name)
	email := strings.TrimSpace(a.Email)
	switch {
	case name == "" || strings.EqualFold(name, "Unassigned"):
		return ""
	case email == "":
		return name
	default:
		return fmt.Sprintf("%s <%s>", name, email)
	}
}

func (p *WebhookProcessor) appendAudit(ctx context.Context, certificateID string, evt *WebhookEvent, changes []models.FieldChange) {
	detail := fmt.Sprintf("incident %s state %s", evt.IncidentNumber, evt.State)
	if evt.AssignedTo.Name != "" {
		detail = fmt.Sprintf("incident %s assigned to %s", evt.IncidentNumber, evt.AssignedTo.Name)
	}
	entry := &models.LogEntry{
		LogID:         uuid.NewString(),
		CertificateID: certificateID,
		Timestamp:     p.now(),
		Action:        models.ActionTicketAssigned,
		Actor:         "servicenow-webhook",
		Detail:        detail,
		Changes:       changes,
	}
	if err := p.audit.Append(ctx, entry); err != nil {
		p.logger.Error(ctx, "audit append failed", "error", err, "certificateID", certificateID)
	}
}
