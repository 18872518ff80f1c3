// Package inventory implements the certificate reconciliation engine:
// deriving lifecycle status from the expiry date, merging candidate records
// from the ingestion adapters into the canonical inventory, and running the
// per-record ingestion pipeline with run-level statistics.
package inventory

import (
	"time"

	"github.com/certops/certdash/internal/common"
	"github.com/certops/certdash/internal/server/models"
)

// DefaultThresholdDays is the renewal window: certificates expiring within
// this many days are Due for Renewal.
const DefaultThresholdDays = 30

func midnightUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysUntil returns the number of whole calendar days from today until
// expiry. Negative when the expiry date is in the past. Both arguments are
// reduced to UTC calendar dates first, so time-of-day never shifts the result.
func DaysUntil(expiry, today time.Time) int {
	return int(midnightUTC(expiry).Sub(midnightUTC(today)) / (24 * time.Hour))
}

// ComputeStatus derives the certificate status from its expiry date.
// The caller supplies "today" explicitly so the function stays deterministic
// and testable. A certificate expiring today is Due for Renewal, not Expired:
// it is not expired until the day after its stated expiry.
//
// A zero expiry date returns common.ErrInvalidDate. Callers must not default
// to Active when the date is missing.
func ComputeStatus(expiry, today time.Time, thresholdDays int) (models.Status, error) {
	if expiry.IsZero() {
		return "", common.ErrInvalidDate
	}
	if thresholdDays <= 0 {
		thresholdDays = DefaultThresholdDays
	}

	days := DaysUntil(expiry, today)
	switch {
	case days < 0:
		return models.StatusExpired, nil
	case days <= thresholdDays:
		return models.StatusDueForRenewal, nil
	default:
		return models.StatusActive, nil
	}
}

// RefreshStatus recomputes a stored status against the current date while
// preserving manually set statuses (Renewal in Progress and friends), which
// remain ground truth until changed through an explicit status update.
func RefreshStatus(current models.Status, expiry, today time.Time, thresholdDays int) (models.Status, error) {
	if current.ManuallySet() {
		return current, nil
	}
	return ComputeStatus(expiry, today, thresholdDays)
}
