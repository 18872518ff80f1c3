// Package models defines the entities shared by the server layers:
// the canonical Certificate record, the sparse PartialCertificate produced
// by ingestion adapters, and the append-only audit LogEntry.
package models

import (
	"time"

	"github.com/certops/certdash/internal/common"
)

// Source identifies where a certificate record (or an update to it) came from.
type Source string

const (
	SourceManual     Source = "Manual"
	SourceExcel      Source = "Excel"
	SourceACM        Source = "ACM"
	SourceServerScan Source = "ServerScan"
	SourceRenewal    Source = "Renewal"
)

// Automated reports whether the source is an automated sync rather than a
// human-initiated operation. Automated sources never touch user-owned fields.
func (s Source) Automated() bool {
	return s != SourceManual
}

// Status is the lifecycle state of a certificate. Active, Due for Renewal and
// Expired are derived from the expiry date; the remaining values are set
// manually (or by the ticketing integration) and survive recomputes.
type Status string

const (
	StatusActive            Status = "Active"
	StatusDueForRenewal     Status = "Due for Renewal"
	StatusExpired           Status = "Expired"
	StatusPendingAssignment Status = "Pending Assignment"
	StatusRenewalInProgress Status = "Renewal in Progress"
	StatusRenewalDone       Status = "Renewal Done"
	StatusRenewalCanceled   Status = "Renewal Canceled"
)

// ManuallySet reports whether the status was set by a human or the ticketing
// workflow, in which case a recompute must not replace it.
func (s Status) ManuallySet() bool {
	switch s {
	case StatusPendingAssignment, StatusRenewalInProgress, StatusRenewalDone, StatusRenewalCanceled:
		return true
	}
	return false
}

// Certificate is the canonical inventory record. For a given natural key at
// most one live Certificate exists.
//
// Automation-owned fields are overwritten on every sync when the incoming
// record supplies a value. User-owned fields (OwnerEmail, SupportEmail,
// Notes, IncidentNumber, CustomTags, AssignedTo) are only ever set by
// explicit user-initiated updates.
type Certificate struct {
	CertificateID string

	// Natural key fields. ACM/Excel/Manual records are identified by
	// AccountNumber+CommonName, server scans by ServerID+Thumbprint.
	AccountNumber string
	CommonName    string
	ServerID      string
	Thumbprint    string

	CertificateName string
	Subject         string
	Issuer          string
	Type            string
	KeyAlgorithm    string
	SerialNumber    string
	Environment     string
	Application     string
	Region          string

	ExpiryDate time.Time // calendar date, midnight UTC
	Status     Status
	Source     Source

	ACMARN         string
	ACMStatus      string
	ServerName     string
	ServerPlatform string
	FilePath       string

	LastSyncedFromACM time.Time
	LastScannedOn     time.Time

	// User-owned fields.
	OwnerEmail     string
	SupportEmail   string
	Notes          string
	IncidentNumber string
	AssignedTo     string
	CustomTags     map[string]string

	Version       int64
	CreatedOn     time.Time
	LastUpdatedOn time.Time
}

// NaturalKey returns the dedup key of the record.
func (c *Certificate) NaturalKey() NaturalKey {
	if c.Source == SourceServerScan {
		return NaturalKey{ServerID: c.ServerID, Thumbprint: c.Thumbprint}
	}
	return NaturalKey{AccountNumber: c.AccountNumber, CommonName: c.CommonName}
}

// PartialCertificate is a sparse candidate record produced by an ingestion
// adapter. Optional fields are pointers: nil means "not supplied", and a
// merge must not null out existing data for fields the scan omitted.
type PartialCertificate struct {
	Source Source

	AccountNumber string
	CommonName    string
	ServerID      string
	Thumbprint    string

	CertificateName *string
	Subject         *string
	Issuer          *string
	Type            *string
	KeyAlgorithm    *string
	SerialNumber    *string
	Environment     *string
	Application     *string
	Region          *string

	ExpiryDate *time.Time

	ACMARN         *string
	ACMStatus      *string
	ServerName     *string
	ServerPlatform *string
	FilePath       *string

	// User-owned fields. Applied on initial import or when Source is
	// Manual; ignored on every automated update of an existing record.
	OwnerEmail     *string
	SupportEmail   *string
	Notes          *string
	IncidentNumber *string
	CustomTags     map[string]string
}

// NaturalKey is the composite key that identifies "the same real-world
// certificate" across repeated ingestions. Exactly one of the two field
// pairs is populated.
type NaturalKey struct {
	AccountNumber string
	CommonName    string

	ServerID   string
	Thumbprint string
}

// ByServer reports whether this is a ServerID+Thumbprint key.
func (k NaturalKey) ByServer() bool {
	return k.ServerID != ""
}

// NaturalKeyOf derives the natural key of an incoming record. It returns
// common.ErrMalformedRecord when the key fields for the record's source are
// missing; such records are rejected before reaching the resolver.
func NaturalKeyOf(p *PartialCertificate) (NaturalKey, error) {
	if p.Source == SourceServerScan {
		if p.ServerID == "" || p.Thumbprint == "" {
			return NaturalKey{}, common.ErrMalformedRecord
		}
		return NaturalKey{ServerID: p.ServerID, Thumbprint: p.Thumbprint}, nil
	}
	if p.AccountNumber == "" || p.CommonName == "" {
		return NaturalKey{}, common.ErrMalformedRecord
	}
	return NaturalKey{AccountNumber: p.AccountNumber, CommonName: p.CommonName}, nil
}
