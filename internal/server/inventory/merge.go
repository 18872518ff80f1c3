package inventory

import (
	"time"

	"github.com/certops/certdash/internal/common"
	"github.com/certops/certdash/internal/server/models"
	"github.com/google/uuid"
)

// fieldSetter applies one optional incoming value to the merged record and
// tracks the change when the value differs.
type fieldSetter struct {
	changes []models.FieldChange
}

func (f *fieldSetter) set(dst *string, src *string, field string) {
	if src == nil || *src == "" {
		return
	}
	if *dst == *src {
		return
	}
	f.changes = append(f.changes, models.FieldChange{Field: field, Old: *dst, New: *src})
	*dst = *src
}

// Merge reconciles an incoming candidate record with the existing certificate
// sharing its natural key (existing may be nil for a brand-new record).
//
// Rules:
//   - Every incoming record must carry an expiry date; otherwise
//     common.ErrInvalidDate is returned and existing is left untouched.
//   - Automation-owned fields (names, issuer, type, key algorithm, serial,
//     environment, application, region, ACM/server attributes and the expiry
//     date itself) are overwritten only when the incoming record supplies a
//     non-empty value. A scan that omits a field never nulls out data.
//   - User-owned fields (owner email, support email, notes, incident number,
//     custom tags) are applied on initial import or when the source is
//     Manual; an automated sync never changes them.
//   - Status is recomputed from the merged expiry date, preserving manually
//     set statuses.
//
// The returned change list covers automation-owned transitions (including
// Status). When it is empty for an existing record the merge was a no-op:
// Version and LastUpdatedOn are NOT bumped, so applying the same incoming
// record twice yields an identical result and callers can skip the write.
func Merge(existing *models.Certificate, incoming *models.PartialCertificate, now time.Time, thresholdDays int) (*models.Certificate, []models.FieldChange, error) {
	if incoming.ExpiryDate == nil || incoming.ExpiryDate.IsZero() {
		return nil, nil, common.ErrInvalidDate
	}

	if existing == nil {
		cert, err := newCertificate(incoming, now, thresholdDays)
		if err != nil {
			return nil, nil, err
		}
		return cert, nil, nil
	}

	merged := *existing
	if existing.CustomTags != nil {
		merged.CustomTags = make(map[string]string, len(existing.CustomTags))
		for k, v := range existing.CustomTags {
			merged.CustomTags[k] = v
		}
	}

	fs := &fieldSetter{}

	expiry := midnightUTC(*incoming.ExpiryDate)
	if !merged.ExpiryDate.Equal(expiry) {
		fs.changes = append(fs.changes, models.FieldChange{
			Field: "ExpiryDate",
			Old:   formatDate(merged.ExpiryDate),
			New:   formatDate(expiry),
		})
		merged.ExpiryDate = expiry
	}

	fs.set(&merged.CertificateName, incoming.CertificateName, "CertificateName")
	fs.set(&merged.Subject, incoming.Subject, "Subject")
	fs.set(&merged.Issuer, incoming.Issuer, "Issuer")
	fs.set(&merged.Type, incoming.Type, "Type")
	fs.set(&merged.KeyAlgorithm, incoming.KeyAlgorithm, "KeyAlgorithm")
	fs.set(&merged.SerialNumber, incoming.SerialNumber, "SerialNumber")
	fs.set(&merged.Environment, incoming.Environment, "Environment")
	fs.set(&merged.Application, incoming.Application, "Application")
	fs.set(&merged.Region, incoming.Region, "Region")
	fs.set(&merged.ACMARN, incoming.ACMARN, "ACMARN")
	fs.set(&merged.ACMStatus, incoming.ACMStatus, "ACMStatus")
	fs.set(&merged.ServerName, incoming.ServerName, "ServerName")
	fs.set(&merged.ServerPlatform, incoming.ServerPlatform, "ServerPlatform")
	fs.set(&merged.FilePath, incoming.FilePath, "FilePath")

	if !incoming.Source.Automated() {
		applyUserFields(&merged, incoming, fs)
	}

	status, err := RefreshStatus(merged.Status, merged.ExpiryDate, now, thresholdDays)
	if err != nil {
		return nil, nil, err
	}
	if status != merged.Status {
		fs.changes = append(fs.changes, models.FieldChange{
			Field: "Status",
			Old:   string(merged.Status),
			New:   string(status),
		})
		merged.Status = status
	}

	if len(fs.changes) == 0 {
		return &merged, nil, nil
	}

	merged.Version = existing.Version + 1
	merged.LastUpdatedOn = now
	stampSyncTime(&merged, incoming.Source, now)

	return &merged, fs.changes, nil
}

// newCertificate builds the initial record for a natural key never seen
// before. User-owned fields are taken from the incoming record here (an
// Excel row or manual entry legitimately carries an owner on first import).
func newCertificate(incoming *models.PartialCertificate, now time.Time, thresholdDays int) (*models.Certificate, error) {
	expiry := midnightUTC(*incoming.ExpiryDate)

	status, err := ComputeStatus(expiry, now, thresholdDays)
	if err != nil {
		return nil, err
	}

	cert := &models.Certificate{
		CertificateID: uuid.NewString(),
		AccountNumber: incoming.AccountNumber,
		CommonName:    incoming.CommonName,
		ServerID:      incoming.ServerID,
		Thumbprint:    incoming.Thumbprint,
		ExpiryDate:    expiry,
		Status:        status,
		Source:        incoming.Source,
		Version:       1,
		CreatedOn:     now,
		LastUpdatedOn: now,
	}

	fs := &fieldSetter{}
	fs.set(&cert.CertificateName, incoming.CertificateName, "CertificateName")
	fs.set(&cert.Subject, incoming.Subject, "Subject")
	fs.set(&cert.Issuer, incoming.Issuer, "Issuer")
	fs.set(&cert.Type, incoming.Type, "Type")
	fs.set(&cert.KeyAlgorithm, incoming.KeyAlgorithm, "KeyAlgorithm")
	fs.set(&cert.SerialNumber, incoming.SerialNumber, "SerialNumber")
	fs.set(&cert.Environment, incoming.Environment, "Environment")
	fs.set(&cert.Application, incoming.Application, "Application")
	fs.set(&cert.Region, incoming.Region, "Region")
	fs.set(&cert.ACMARN, incoming.ACMARN, "ACMARN")
	fs.set(&cert.ACMStatus, incoming.ACMStatus, "ACMStatus")
	fs.set(&cert.ServerName, incoming.ServerName, "ServerName")
	fs.set(&cert.ServerPlatform, incoming.ServerPlatform, "ServerPlatform")
	fs.set(&cert.FilePath, incoming.FilePath, "FilePath")
	applyUserFields(cert, incoming, fs)

	if cert.CertificateName == "" {
		cert.CertificateName = cert.CommonName
	}
	stampSyncTime(cert, incoming.Source, now)

	return cert, nil
}

func applyUserFields(cert *models.Certificate, incoming *models.PartialCertificate, fs *fieldSetter) {
	fs.set(&cert.OwnerEmail, incoming.OwnerEmail, "OwnerEmail")
	fs.set(&cert.SupportEmail, incoming.SupportEmail, "SupportEmail")
	fs.set(&cert.Notes, incoming.Notes, "Notes")
	fs.set(&cert.IncidentNumber, incoming.IncidentNumber, "IncidentNumber")
	for k, v := range incoming.CustomTags {
		if cert.CustomTags[k] == v {
			continue
		}
		fs.changes = append(fs.changes, models.FieldChange{Field: "CustomTags." + k, Old: cert.CustomTags[k], New: v})
		if cert.CustomTags == nil {
			cert.CustomTags = make(map[string]string, len(incoming.CustomTags))
		}
		cert.CustomTags[k] = v
	}
}

// stampSyncTime records the per-source sync timestamp. Deliberately not
// tracked as a field change: a timestamp tick alone must not defeat the
// skip-identical-merges rule.
func stampSyncTime(cert *models.Certificate, source models.Source, now time.Time) {
	switch source {
	case models.SourceACM:
		cert.LastSyncedFromACM = now
	case models.SourceServerScan:
		cert.LastScannedOn = now
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
