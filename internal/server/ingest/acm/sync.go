// Package acm syncs the inventory with AWS Certificate Manager. Every listed
// certificate in the configured regions becomes a candidate record keyed by
// AccountNumber+CommonName; user-entered fields on existing records are left
// alone by the merge policy.
package acm

import (
	"context"
	"fmt"
	"time"

	awsacm "github.com/aws/aws-sdk-go-v2/service/acm"
	acmtypes "github.com/aws/aws-sdk-go-v2/service/acm/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/certops/certdash/internal/logging"
	"github.com/certops/certdash/internal/server/inventory"
	"github.com/certops/certdash/internal/server/models"
)

// ACMAPI is the subset of the ACM client used by the syncer.
type ACMAPI interface {
	ListCertificates(ctx context.Context, params *awsacm.ListCertificatesInput, optFns ...func(*awsacm.Options)) (*awsacm.ListCertificatesOutput, error)
	DescribeCertificate(ctx context.Context, params *awsacm.DescribeCertificateInput, optFns ...func(*awsacm.Options)) (*awsacm.DescribeCertificateOutput, error)
}

// STSAPI resolves the account the syncer is running in.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

var (
	_ ACMAPI = (*awsacm.Client)(nil)
	_ STSAPI = (*sts.Client)(nil)
)

// Reconciler consumes the candidate records produced by a scan.
type Reconciler interface {
	ReconcileAll(ctx context.Context, records []*models.PartialCertificate, actor string) *inventory.RunStats
}

// syncedStatuses covers every lifecycle state worth tracking; certificates
// pending deletion or failed validation are not inventory material.
var syncedStatuses = []acmtypes.CertificateStatus{
	acmtypes.CertificateStatusIssued,
	acmtypes.CertificateStatusPendingValidation,
	acmtypes.CertificateStatusInactive,
	acmtypes.CertificateStatusExpired,
}

type Syncer struct {
	acm        ACMAPI
	sts        STSAPI
	reconciler Reconciler
	regions    []string
	logger     logging.Logger
}

func NewSyncer(acmClient ACMAPI, stsClient STSAPI, reconciler Reconciler, regions []string, logger logging.Logger) *Syncer {
	return &Syncer{
		acm:        acmClient,
		sts:        stsClient,
		reconciler: reconciler,
		regions:    regions,
		logger:     logger.With("module", "acm_sync"),
	}
}

// Sync lists and describes every certificate in the configured regions and
// feeds them through the reconciler. A region that fails to list is counted
// as an error and the remaining regions still run.
func (s *Syncer) Sync(ctx context.Context) (*inventory.RunStats, error) {
	identity, err := s.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("resolve account: %w", err)
	}
	account := *identity.Account
	s.logger.Info(ctx, "starting ACM sync", "account", account, "regions", s.regions)

	var records []*models.PartialCertificate
	var regionErrs []error

	for _, region := range s.regions {
		regionRecords, err := s.scanRegion(ctx, account, region)
		if err != nil {
			s.logger.Error(ctx, "region scan failed", "region", region, "error", err)
			regionErrs = append(regionErrs, fmt.Errorf("region %s: %w", region, err))
			continue
		}
		records = append(records, regionRecords...)
	}

	stats := s.reconciler.ReconcileAll(ctx, records, string(models.SourceACM))
	for _, err := range regionErrs {
		stats.RecordError(err)
	}
	return stats, nil
}

func (s *Syncer) scanRegion(ctx context.Context, account, region string) ([]*models.PartialCertificate, error) {
	withRegion := func(o *awsacm.Options) { o.Region = region }

	var records []*models.PartialCertificate
	var nextToken *string

	for {
		page, err := s.acm.ListCertificates(ctx, &awsacm.ListCertificatesInput{
			CertificateStatuses: syncedStatuses,
			NextToken:           nextToken,
		}, withRegion)
		if err != nil {
			return nil, fmt.Errorf("list certificates: %w", err)
		}

		for _, summary := range page.CertificateSummaryList {
			detail, err := s.acm.DescribeCertificate(ctx, &awsacm.DescribeCertificateInput{
				CertificateArn: summary.CertificateArn,
			}, withRegion)
			if err != nil {
				s.logger.Warn(ctx, "describe certificate failed", "arn", deref(summary.CertificateArn), "error", err)
				continue
			}
			records = append(records, recordFromDetail(detail.Certificate, account, region))
		}

		if page.NextToken == nil {
			break
		}
		nextToken = page.NextToken
	}

	s.logger.Info(ctx, "region scanned", "region", region, "found", len(records))
	return records, nil
}

func recordFromDetail(cert *acmtypes.CertificateDetail, account, region string) *models.PartialCertificate {
	domain := deref(cert.DomainName)
	record := &models.PartialCertificate{
		Source:        models.SourceACM,
		AccountNumber: account,
		CommonName:    domain,

		CertificateName: &domain,
		Region:          &region,
		Type:            strptr(string(cert.Type)),
		KeyAlgorithm:    strptr(string(cert.KeyAlgorithm)),
		ACMARN:          cert.CertificateArn,
		ACMStatus:       strptr(string(cert.Status)),
		Subject:         cert.Subject,
		Issuer:          cert.Issuer,
		SerialNumber:    cert.Serial,
	}
	if cert.NotAfter != nil {
		expiry := midnightUTC(*cert.NotAfter)
		record.ExpiryDate = &expiry
	}
	return record
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
