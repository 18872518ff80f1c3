package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/certops/certdash/internal/common"
	"github.com/certops/certdash/internal/logging"
	"github.com/certops/certdash/internal/server/models"
	"github.com/google/uuid"
)

// CertificateStore is the slice of the certificate repository the reconciler
// needs. FindByNaturalKey returns common.ErrNotFound when no record matches;
// not-found is the expected outcome for every brand-new certificate.
type CertificateStore interface {
	FindByNaturalKey(ctx context.Context, key models.NaturalKey) (*models.Certificate, error)
	Put(ctx context.Context, cert *models.Certificate) error
}

// AuditStore appends audit entries. No read contract is required here.
type AuditStore interface {
	Append(ctx context.Context, entry *models.LogEntry) error
}

// Outcome classifies the result of reconciling one record.
type Outcome int

const (
	OutcomeAdded Outcome = iota
	OutcomeUpdated
	OutcomeSkipped
)

// RunStats summarizes one ingestion run. Per-record failures are tallied
// here instead of aborting the batch.
type RunStats struct {
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	Found   int `json:"found"`
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`

	ErrorMessages []string `json:"errorMessages,omitempty"`
}

// maxErrorMessages caps the messages carried in a run summary; the full
// errors are still logged individually.
const maxErrorMessages = 10

// RecordError tallies a per-record failure, keeping at most a handful of
// messages for the summary.
func (s *RunStats) RecordError(err error) {
	s.Errors++
	if len(s.ErrorMessages) < maxErrorMessages {
		s.ErrorMessages = append(s.ErrorMessages, err.Error())
	}
}

// Reconciler runs the ingestion pipeline: resolve the natural key, merge
// with the existing record (or create one), persist, and emit an audit
// entry. Each record flows through independently; no state is carried
// between records beyond the store itself.
type Reconciler struct {
	certs         CertificateStore
	audit         AuditStore
	logger        logging.Logger
	thresholdDays int
	now           func() time.Time
}

func NewReconciler(certs CertificateStore, audit AuditStore, logger logging.Logger, thresholdDays int) *Reconciler {
	if thresholdDays <= 0 {
		thresholdDays = DefaultThresholdDays
	}
	return &Reconciler{
		certs:         certs,
		audit:         audit,
		logger:        logger.With("module", "reconciler"),
		thresholdDays: thresholdDays,
		now:           time.Now,
	}
}

// Reconcile processes a single candidate record and reports whether it was
// added, updated, or skipped as identical. Errors reject only this record.
func (r *Reconciler) Reconcile(ctx context.Context, incoming *models.PartialCertificate, actor string) (Outcome, error) {
	key, err := models.NaturalKeyOf(incoming)
	if err != nil {
		return OutcomeSkipped, err
	}

	existing, err := r.certs.FindByNaturalKey(ctx, key)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			return OutcomeSkipped, fmt.Errorf("lookup failed: %w", err)
		}
		existing = nil
	}

	merged, changes, err := Merge(existing, incoming, r.now(), r.thresholdDays)
	if err != nil {
		return OutcomeSkipped, err
	}

	if existing != nil && len(changes) == 0 {
		r.logger.Debug(ctx, "no changes needed", "certificateID", existing.CertificateID)
		return OutcomeSkipped, nil
	}

	if err := r.certs.Put(ctx, merged); err != nil {
		return OutcomeSkipped, fmt.Errorf("%w: %v", common.ErrPersistence, err)
	}

	action := models.ActionFieldUpdate
	outcome := OutcomeUpdated
	if existing == nil {
		action = models.ActionInitialImport
		outcome = OutcomeAdded
	} else if renewalDetected(changes) {
		action = models.ActionCertificateRenewed
	}
	r.appendAudit(ctx, merged, action, actor, changes)

	return outcome, nil
}

// ReconcileAll runs a batch sequentially with per-record error isolation:
// a rejected or failed record is counted and processing continues.
func (r *Reconciler) ReconcileAll(ctx context.Context, records []*models.PartialCertificate, actor string) *RunStats {
	stats := &RunStats{StartedAt: r.now(), Found: len(records)}

	for _, rec := range records {
		outcome, err := r.Reconcile(ctx, rec, actor)
		if err != nil {
			r.logger.Error(ctx, "record rejected", "error", err, "commonName", rec.CommonName, "source", rec.Source)
			stats.RecordError(err)
			continue
		}
		switch outcome {
		case OutcomeAdded:
			stats.Added++
		case OutcomeUpdated:
			stats.Updated++
		default:
			stats.Skipped++
		}
	}

	stats.FinishedAt = r.now()
	r.logger.Info(ctx, "reconciliation run finished",
		"actor", actor,
		"found", stats.Found,
		"added", stats.Added,
		"updated", stats.Updated,
		"skipped", stats.Skipped,
		"errors", stats.Errors,
	)
	return stats
}

// renewalDetected reports whether the merge moved the expiry date forward,
// which is how a renewed certificate shows up in a sync. The change values
// are ISO dates, so string order is date order.
func renewalDetected(changes []models.FieldChange) bool {
	for _, ch := range changes {
		if ch.Field == "ExpiryDate" && ch.Old != "" && ch.New > ch.Old {
			return true
		}
	}
	return false
}

// appendAudit emits the audit entry for a successful mutation. An audit
// write failure is logged but does not undo the persisted record.
func (r *Reconciler) appendAudit(ctx context.Context, cert *models.Certificate, action models.Action, actor string, changes []models.FieldChange) {
	entry := &models.LogEntry{
		LogID:         uuid.NewString(),
		CertificateID: cert.CertificateID,
		Timestamp:     r.now(),
		Action:        action,
		Actor:         actor,
		Detail:        fmt.Sprintf("%s %s", action, cert.CommonName),
		Changes:       changes,
	}
	if err := r.audit.Append(ctx, entry); err != nil {
		r.logger.Error(ctx, "audit append failed", "error", err, "certificateID", cert.CertificateID)
	}
}
