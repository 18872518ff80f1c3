package serverscan

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/certops/certdash/internal/logging"
	"github.com/certops/certdash/internal/server/inventory"
	"github.com/certops/certdash/internal/server/models"
)

// SSMAPI is the subset of the SSM client used by the scanner.
type SSMAPI interface {
	DescribeInstanceInformation(ctx context.Context, params *ssm.DescribeInstanceInformationInput, optFns ...func(*ssm.Options)) (*ssm.DescribeInstanceInformationOutput, error)
	SendCommand(ctx context.Context, params *ssm.SendCommandInput, optFns ...func(*ssm.Options)) (*ssm.SendCommandOutput, error)
	GetCommandInvocation(ctx context.Context, params *ssm.GetCommandInvocationInput, optFns ...func(*ssm.Options)) (*ssm.GetCommandInvocationOutput, error)
}

// STSAPI resolves the account the scanner is running in.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

var (
	_ SSMAPI = (*ssm.Client)(nil)
	_ STSAPI = (*sts.Client)(nil)
)

// Reconciler consumes the candidate records produced by a scan.
type Reconciler interface {
	ReconcileAll(ctx context.Context, records []*models.PartialCertificate, actor string) *inventory.RunStats
}

const (
	// SSM rejects SendCommand calls with more than 50 instance IDs.
	maxBatchSize = 50

	commandTimeoutSeconds = 300
	pollInterval          = 2 * time.Second
	pollTimeout           = 2 * time.Minute
)

// Scanner runs the platform-specific SSM documents against every online
// managed instance and reconciles what the agents report back.
type Scanner struct {
	ssm        SSMAPI
	sts        STSAPI
	reconciler Reconciler

	windowsDocument string
	linuxDocument   string

	logger logging.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewScanner(ssmClient SSMAPI, stsClient STSAPI, reconciler Reconciler, windowsDocument, linuxDocument string, logger logging.Logger) *Scanner {
	return &Scanner{
		ssm:             ssmClient,
		sts:             stsClient,
		reconciler:      reconciler,
		windowsDocument: windowsDocument,
		linuxDocument:   linuxDocument,
		logger:          logger.With("module", "server_scan"),
		sleep:           sleepCtx,
	}
}

// Scan discovers online managed instances, runs the scan documents, and
// reconciles every certificate found. Per-instance failures are tallied and
// do not stop the run.
func (s *Scanner) Scan(ctx context.Context) (*inventory.RunStats, error) {
	identity, err := s.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("resolve account: %w", err)
	}
	account := *identity.Account

	instances, err := s.onlineInstances(ctx)
	if err != nil {
		return nil, err
	}

	var windows, linux []Instance
	for _, inst := range instances {
		if inst.Platform == "Windows" {
			windows = append(windows, inst)
		} else {
			linux = append(linux, inst)
		}
	}
	s.logger.Info(ctx, "starting server scan",
		"instances", len(instances), "windows", len(windows), "linux", len(linux))

	var records []*models.PartialCertificate
	var scanErrs []error

	winRecords, winErrs := s.scanPlatform(ctx, windows, s.windowsDocument, account, ParseWindowsOutput)
	records = append(records, winRecords...)
	scanErrs = append(scanErrs, winErrs...)

	linRecords, linErrs := s.scanPlatform(ctx, linux, s.linuxDocument, account, ParseLinuxOutput)
	records = append(records, linRecords...)
	scanErrs = append(scanErrs, linErrs...)

	stats := s.reconciler.ReconcileAll(ctx, records, string(models.SourceServerScan))
	for _, err := range scanErrs {
		stats.RecordError(err)
	}
	return stats, nil
}

// onlineInstances lists SSM-managed instances whose agent is reachable.
func (s *Scanner) onlineInstances(ctx context.Context) ([]Instance, error) {
	var instances []Instance
	var nextToken *string

	for {
		page, err := s.ssm.DescribeInstanceInformation(ctx, &ssm.DescribeInstanceInformationInput{
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("describe instances: %w", err)
		}

		for _, info := range page.InstanceInformationList {
			if info.PingStatus != ssmtypes.PingStatusOnline {
				continue
			}
			inst := Instance{
				ID:           aws.ToString(info.InstanceId),
				Name:         aws.ToString(info.Name),
				Platform:     string(info.PlatformType),
				PlatformName: aws.ToString(info.PlatformName),
				IPAddress:    aws.ToString(info.IPAddress),
			}
			if inst.Name == "" {
				inst.Name = inst.ID
			}
			instances = append(instances, inst)
		}

		if page.NextToken == nil {
			return instances, nil
		}
		nextToken = page.NextToken
	}
}

type outputParser func(output string, inst Instance, account string) []*models.PartialCertificate

func (s *Scanner) scanPlatform(ctx context.Context, instances []Instance, document, account string, parse outputParser) ([]*models.PartialCertificate, []error) {
	var records []*models.PartialCertificate
	var errs []error

	for start := 0; start < len(instances); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(instances) {
			end = len(instances)
		}
		batch := instances[start:end]

		batchRecords, batchErrs := s.scanBatch(ctx, batch, document, account, parse)
		records = append(records, batchRecords...)
		errs = append(errs, batchErrs...)
	}

	return records, errs
}

func (s *Scanner) scanBatch(ctx context.Context, batch []Instance, document, account string, parse outputParser) ([]*models.PartialCertificate, []error) {
	ids := make([]string, len(batch))
	for i, inst := range batch {
		ids[i] = inst.ID
	}

	cmd, err := s.ssm.SendCommand(ctx, &ssm.SendCommandInput{
		InstanceIds:    ids,
		DocumentName:   aws.String(document),
		Comment:        aws.String("certificate inventory scan"),
		TimeoutSeconds: aws.Int32(commandTimeoutSeconds),
	})
	if err != nil {
		return nil, []error{fmt.Errorf("send command %s: %w", document, err)}
	}
	commandID := aws.ToString(cmd.Command.CommandId)

	var records []*models.PartialCertificate
	var errs []error

	for _, inst := range batch {
		output, err := s.waitForInvocation(ctx, commandID, inst.ID)
		if err != nil {
			s.logger.Error(ctx, "instance scan failed", "instance", inst.ID, "server", inst.Name, "error", err)
			errs = append(errs, fmt.Errorf("instance %s: %w", inst.ID, err))
			continue
		}

		found := parse(output, inst, account)
		s.logger.Info(ctx, "instance scanned", "instance", inst.ID, "server", inst.Name, "certificates", len(found))
		records = append(records, found...)
	}

	return records, errs
}

// waitForInvocation polls until the per-instance invocation reaches a
// terminal state.
func (s *Scanner) waitForInvocation(ctx context.Context, commandID, instanceID string) (string, error) {
	deadline := time.Now().Add(pollTimeout)

	for {
		if err := s.sleep(ctx, pollInterval); err != nil {
			return "", err
		}

		inv, err := s.ssm.GetCommandInvocation(ctx, &ssm.GetCommandInvocationInput{
			CommandId:  aws.String(commandID),
			InstanceId: aws.String(instanceID),
		})
		if err != nil {
			// The invocation may not be registered yet right after
			// SendCommand; keep polling until the deadline.
			if time.Now().After(deadline) {
				return "", fmt.Errorf("get invocation: %w", err)
			}
			continue
		}

		switch inv.Status {
		case ssmtypes.CommandInvocationStatusSuccess:
			return aws.ToString(inv.StandardOutputContent), nil
		case ssmtypes.CommandInvocationStatusPending,
			ssmtypes.CommandInvocationStatusInProgress,
			ssmtypes.CommandInvocationStatusDelayed:
			if time.Now().After(deadline) {
				return "", fmt.Errorf("command timed out in status %s", inv.Status)
			}
		default:
			return "", fmt.Errorf("command finished with status %s: %s",
				inv.Status, aws.ToString(inv.StandardErrorContent))
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
