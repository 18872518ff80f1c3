// Package monitor runs the periodic expiry sweep: refresh stored statuses,
// find certificates inside the renewal window, and notify their owners and
// support contacts.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/certops/certdash/internal/logging"
	"github.com/certops/certdash/internal/server/inventory"
	"github.com/certops/certdash/internal/server/models"
	"github.com/certops/certdash/internal/server/notify"
)

// CertificateStore is the slice of the certificate repository the monitor
// needs.
type CertificateStore interface {
	List(ctx context.Context) ([]*models.Certificate, error)
	Put(ctx context.Context, cert *models.Certificate) error
}

// AuditStore appends audit entries.
type AuditStore interface {
	Append(ctx context.Context, entry *models.LogEntry) error
}

// Summary reports one monitoring run.
type Summary struct {
	Timestamp     time.Time `json:"timestamp"`
	ThresholdDays int       `json:"thresholdDays"`

	CertificatesFound   int `json:"certificatesFound"`
	NotificationsSent   int `json:"notificationsSent"`
	NotificationsFailed int `json:"notificationsFailed"`
	StatusesUpdated     int `json:"statusesUpdated"`

	ByEnvironment map[string]int `json:"byEnvironment"`
	ByStatus      map[string]int `json:"byStatus"`

	// Urgency buckets over the expiring set.
	UrgentUnder7Days int `json:"urgentUnder7Days"`
	Warning7To30Days int `json:"warning7To30Days"`

	Errors []string `json:"errors,omitempty"`
}

type Monitor struct {
	certs         CertificateStore
	audit         AuditStore
	notifier      notify.Notifier
	logger        logging.Logger
	thresholdDays int
	now           func() time.Time
}

func NewMonitor(certs CertificateStore, audit AuditStore, notifier notify.Notifier, logger logging.Logger, thresholdDays int) *Monitor {
	if thresholdDays <= 0 {
		thresholdDays = inventory.DefaultThresholdDays
	}
	return &Monitor{
		certs:         certs,
		audit:         audit,
		notifier:      notifier,
		logger:        logger.With("module", "monitor"),
		thresholdDays: thresholdDays,
		now:           time.Now,
	}
}

// Run performs one monitoring sweep. Individual refresh and notification
// failures are collected into the summary; only listing the inventory can
// fail the run outright.
func (m *Monitor) Run(ctx context.Context) (*Summary, error) {
	today := m.now()
	summary := &Summary{
		Timestamp:     today,
		ThresholdDays: m.thresholdDays,
		ByEnvironment: make(map[string]int),
		ByStatus:      make(map[string]int),
	}

	certs, err := m.certs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}

	expiring := m.refreshAndCollect(ctx, certs, today, summary)
	summary.CertificatesFound = len(expiring)

	for _, cert := range expiring {
		summary.ByEnvironment[orUnknown(cert.Environment)]++
		summary.ByStatus[string(cert.Status)]++
		if inventory.DaysUntil(cert.ExpiryDate, today) < 7 {
			summary.UrgentUnder7Days++
		} else {
			summary.Warning7To30Days++
		}
	}

	m.dispatchNotifications(ctx, expiring, today, summary)

	m.logger.Info(ctx, "monitoring run finished",
		"expiring", summary.CertificatesFound,
		"notified", summary.NotificationsSent,
		"statusUpdates", summary.StatusesUpdated,
		"errors", len(summary.Errors),
	)
	return summary, nil
}

// refreshAndCollect recomputes stored statuses (preserving manual ones) and
// returns the certificates inside the renewal window: due today through the
// threshold, expired excluded (they are past notifying about a deadline).
func (m *Monitor) refreshAndCollect(ctx context.Context, certs []*models.Certificate, today time.Time, summary *Summary) []*models.Certificate {
	var expiring []*models.Certificate

	for _, cert := range certs {
		if cert.ExpiryDate.IsZero() {
			continue
		}

		refreshed, err := inventory.RefreshStatus(cert.Status, cert.ExpiryDate, today, m.thresholdDays)
		if err != nil {
			continue
		}
		if refreshed != cert.Status {
			old := cert.Status
			cert.Status = refreshed
			cert.LastUpdatedOn = today
			cert.Version++
			if err := m.certs.Put(ctx, cert); err != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("update %s: %v", cert.CertificateID, err))
				cert.Status = old
			} else {
				summary.StatusesUpdated++
				m.appendAudit(ctx, cert.CertificateID, models.ActionStatusChanged,
					fmt.Sprintf("status changed from %s to %s", old, refreshed),
					[]models.FieldChange{{Field: "Status", Old: string(old), New: string(refreshed)}})
			}
		}

		days := inventory.DaysUntil(cert.ExpiryDate, today)
		if days >= 0 && days <= m.thresholdDays {
			expiring = append(expiring, cert)
		}
	}

	return expiring
}

// dispatchNotifications groups the expiring set by recipient and sends one
// batched alert per address. Owner and support both get a copy when they
// differ.
func (m *Monitor) dispatchNotifications(ctx context.Context, expiring []*models.Certificate, today time.Time, summary *Summary) {
	byRecipient := groupByRecipient(expiring)

	recipients := make([]string, 0, len(byRecipient))
	for r := range byRecipient {
		recipients = append(recipients, r)
	}
	sort.Strings(recipients)

	for _, recipient := range recipients {
		certs := byRecipient[recipient]
		msg := notify.ExpiryAlert(recipient, certs, m.thresholdDays, today)

		if err := m.notifier.Send(ctx, msg); err != nil {
			summary.NotificationsFailed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("notify %s: %v", recipient, err))
			m.logger.Error(ctx, "notification failed", "recipient", recipient, "error", err)
			continue
		}

		summary.NotificationsSent++
		m.logger.Info(ctx, "notification sent", "recipient", recipient, "certificates", len(certs))
		for _, cert := range certs {
			m.appendAudit(ctx, cert.CertificateID, models.ActionNotificationSent,
				fmt.Sprintf("expiry alert sent to %s", recipient), nil)
		}
	}
}

func groupByRecipient(certs []*models.Certificate) map[string][]*models.Certificate {
	byRecipient := make(map[string][]*models.Certificate)
	for _, cert := range certs {
		owner := strings.TrimSpace(cert.OwnerEmail)
		support := strings.TrimSpace(cert.SupportEmail)

		if validEmail(owner) {
			byRecipient[owner] = append(byRecipient[owner], cert)
		}
		if validEmail(support) && support != owner {
			byRecipient[support] = append(byRecipient[support], cert)
		}
	}
	return byRecipient
}

func validEmail(addr string) bool {
	return addr != "" && strings.Contains(addr, "@")
}

func (m *Monitor) appendAudit(ctx context.Context, certificateID string, action models.Action, detail string, changes []models.FieldChange) {
	entry := &models.LogEntry{
		LogID:         uuid.NewString(),
		CertificateID: certificateID,
		Timestamp:     m.now(),
		Action:        action,
		Actor:         "monitor",
		Detail:        detail,
		Changes:       changes,
	}
	if err := m.audit.Append(ctx, entry); err != nil {
		m.logger.Error(ctx, "audit append failed", "error", err, "certificateID", certificateID)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
