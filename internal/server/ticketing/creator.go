package ticketing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/certops/certdash/internal/logging"
	"github.com/certops/certdash/internal/server/inventory"
	"github.com/certops/certdash/internal/server/models"
)

// IncidentCreator creates ServiceNow incidents.
type IncidentCreator interface {
	CreateIncident(ctx context.Context, inc Incident) (string, error)
}

// CertificateStore is the slice of the certificate repository the creator
// needs.
type CertificateStore interface {
	List(ctx context.Context) ([]*models.Certificate, error)
	Put(ctx context.Context, cert *models.Certificate) error
}

// AuditStore appends audit entries.
type AuditStore interface {
	Append(ctx context.Context, entry *models.LogEntry) error
}

// CreatorSummary reports one ticket-creation run.
type CreatorSummary struct {
	Timestamp time.Time `json:"timestamp"`

	Expiring int `json:"expiring"`
	Created  int `json:"created"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`

	Errors []string `json:"errors,omitempty"`
}

// Creator opens renewal incidents for certificates inside the expiry window
// that do not have one yet. In dry-run mode candidates are counted but no
// tickets are created.
type Creator struct {
	certs         CertificateStore
	audit         AuditStore
	snow          IncidentCreator
	logger        logging.Logger
	thresholdDays int
	dryRun        bool
	now           func() time.Time
}

func NewCreator(certs CertificateStore, audit AuditStore, snow IncidentCreator, logger logging.Logger, thresholdDays int, dryRun bool) *Creator {
	if thresholdDays <= 0 {
		thresholdDays = inventory.DefaultThresholdDays
	}
	return &Creator{
		certs:         certs,
		audit:         audit,
		snow:          snow,
		logger:        logger.With("module", "ticket_creator"),
		thresholdDays: thresholdDays,
		dryRun:        dryRun,
		now:           time.Now,
	}
}

// Run performs one ticket-creation sweep. Per-certificate failures are
// collected into the summary; only listing the inventory fails the run.
func (c *Creator) Run(ctx context.Context) (*CreatorSummary, error) {
	today := c.now()
	summary := &CreatorSummary{Timestamp: today}

	certs, err := c.certs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}

	for _, cert := range certs {
		if cert.ExpiryDate.IsZero() {
			continue
		}
		days := inventory.DaysUntil(cert.ExpiryDate, today)
		if days > c.thresholdDays {
			continue
		}
		summary.Expiring++

		if !c.needsTicket(ctx, cert) {
			summary.Skipped++
			continue
		}

		if c.dryRun {
			c.logger.Info(ctx, "dry run, would create ticket",
				"certificateID", cert.CertificateID, "commonName", cert.CommonName)
			summary.Skipped++
			continue
		}

		if err := c.createTicket(ctx, cert, days, today); err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", cert.CommonName, err))
			c.logger.Error(ctx, "ticket creation failed",
				"certificateID", cert.CertificateID, "error", err)
			continue
		}
		summary.Created++
	}

	c.logger.Info(ctx, "ticket creation run finished",
		"expiring", summary.Expiring,
		"created", summary.Created,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"dryRun", c.dryRun,
	)
	return summary, nil
}

func (c *Creator) needsTicket(ctx context.Context, cert *models.Certificate) bool {
	if strings.TrimSpace(cert.IncidentNumber) != "" {
		c.logger.Debug(ctx, "ticket already exists",
			"certificateID", cert.CertificateID, "incident", cert.IncidentNumber)
		return false
	}
	if cert.Status == models.StatusRenewalDone || cert.Status == models.StatusRenewalCanceled {
		return false
	}
	return true
}

func (c *Creator) createTicket(ctx context.Context, cert *models.Certificate, days int, today time.Time) error {
	number, err := c.snow.CreateIncident(ctx, buildIncident(cert, days))
	if err != nil {
		return err
	}

	cert.IncidentNumber = number
	cert.LastUpdatedOn = today
	cert.Version++
	if err := c.certs.Put(ctx, cert); err != nil {
		// The incident exists but the inventory does not know about it.
		// Surface loudly so the number can be attached by hand.
		return fmt.Errorf("incident %s created but not recorded: %w", number, err)
	}

	c.appendAudit(ctx, cert.CertificateID, number)
	return nil
}

func buildIncident(cert *models.Certificate, days int) Incident {
	name := cert.CertificateName
	if name == "" {
		name = cert.CommonName
	}
	return Incident{
		ShortDescription: fmt.Sprintf("Certificate Expiring: %s (%s)", orUnknown(name), orUnknown(cert.Environment)),
		Description:      incidentDescription(cert, name, days),
		CorrelationID:    cert.CertificateID,
		Priority:         priorityFor(days),
		CertificateID:    cert.CertificateID,
		ExpiryDate:       cert.ExpiryDate.Format("2006-01-02"),
		Environment:      orUnknown(cert.Environment),
		Application:      orUnknown(cert.Application),
		DaysUntilExpiry:  days,
	}
}

func incidentDescription(cert *models.Certificate, name string, days int) string {
	return fmt.Sprintf(`CERTIFICATE EXPIRY ALERT

A certificate is approaching its expiration date and requires renewal action.

Certificate Details:
- Certificate Name: %s
- Common Name: %s
- Environment: %s
- Application: %s
- Current Status: %s

Expiry Information:
- Expiry Date: %s
- Days Until Expiry: %d
- Urgency: %s

Certificate Owner: %s
Support Contact: %s

Please renew this certificate before its expiry date and update the
certificate dashboard once done.
`,
		orUnknown(name), orUnknown(cert.CommonName),
		orUnknown(cert.Environment), orUnknown(cert.Application), cert.Status,
		cert.ExpiryDate.Format("2006-01-02"), days, urgencyLabel(days),
		orUnknown(cert.OwnerEmail), orUnknown(cert.SupportEmail))
}

// priorityFor maps days-until-expiry onto ServiceNow priorities: expired is
// critical, then high/medium/low by week, planning beyond thirty days.
func priorityFor(days int) string {
	switch {
	case days < 0:
		return "1"
	case days < 7:
		return "2"
	case days < 14:
		return "3"
	case days < 30:
		return "4"
	default:
		return "5"
	}
}

func urgencyLabel(days int) string {
	switch {
	case days < 0:
		return "CRITICAL - Already expired"
	case days < 7:
		return "HIGH - Expires within a week"
	case days < 14:
		return "MEDIUM - Expires within two weeks"
	default:
		return "LOW - Expires within the threshold window"
	}
}

func (c *Creator) appendAudit(ctx context.Context, certificateID, number string) {
	entry := &models.LogEntry{
		LogID:         uuid.NewString(),
		CertificateID: certificateID,
		Timestamp:     c.now(),
		Action:        models.ActionTicketCreated,
		Actor:         "servicenow",
		Detail:        fmt.Sprintf("incident %s created", number),
		Changes: []models.FieldChange{
			{Field: "IncidentNumber", Old: "", New: number},
		},
	}
	if err := c.audit.Append(ctx, entry); err != nil {
		c.logger.Error(ctx, "audit append failed", "error", err, "certificateID", certificateID)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
