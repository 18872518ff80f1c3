package excel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/certops/certdash/internal/logging"
	"github.com/certops/certdash/internal/server/inventory"
	"github.com/certops/certdash/internal/server/models"
)

// S3API is the subset of the S3 client used by the importer.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var _ S3API = (*s3.Client)(nil)

// Reconciler consumes the parsed records.
type Reconciler interface {
	ReconcileAll(ctx context.Context, records []*models.PartialCertificate, actor string) *inventory.RunStats
}

// Importer downloads an uploaded workbook from S3, runs it through the
// reconciler, and writes a JSON processing summary to the logs bucket.
type Importer struct {
	s3         S3API
	reconciler Reconciler
	logsBucket string
	logger     logging.Logger
	now        func() time.Time
}

func NewImporter(client S3API, reconciler Reconciler, logsBucket string, logger logging.Logger) *Importer {
	return &Importer{
		s3:         client,
		reconciler: reconciler,
		logsBucket: logsBucket,
		logger:     logger.With("module", "excel_import"),
		now:        time.Now,
	}
}

type importSummary struct {
	Summary      *inventory.RunStats `json:"summary"`
	SourceBucket string              `json:"sourceBucket"`
	SourceKey    string              `json:"sourceKey"`
}

// ImportFromS3 processes one uploaded workbook. Row-level problems are
// tallied in the returned stats; only fetch and workbook-level failures
// produce an error.
func (i *Importer) ImportFromS3(ctx context.Context, bucket, key string) (*inventory.RunStats, error) {
	i.logger.Info(ctx, "processing uploaded workbook", "bucket", bucket, "key", key)

	obj, err := i.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch s3://%s/%s: %w", bucket, key, err)
	}
	defer obj.Body.Close()

	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}

	records, rowErrs, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	stats := i.reconciler.ReconcileAll(ctx, records, string(models.SourceExcel))
	stats.Found += len(rowErrs)
	for _, re := range rowErrs {
		i.logger.Error(ctx, "row rejected", "bucket", bucket, "key", key, "row", re.Row, "error", re.Err)
		stats.RecordError(re)
	}

	i.writeSummary(ctx, stats, bucket, key)
	return stats, nil
}

// writeSummary persists the run summary next to the upload for later review.
// A failure here is logged and swallowed, the import itself succeeded.
func (i *Importer) writeSummary(ctx context.Context, stats *inventory.RunStats, bucket, key string) {
	if i.logsBucket == "" {
		return
	}

	body, err := json.MarshalIndent(importSummary{
		Summary:      stats,
		SourceBucket: bucket,
		SourceKey:    key,
	}, "", "  ")
	if err != nil {
		i.logger.Error(ctx, "encode import summary", "error", err)
		return
	}

	logKey := fmt.Sprintf("excel_processing/%s_processing_log.json", i.now().UTC().Format("20060102_150405"))
	_, err = i.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(i.logsBucket),
		Key:         aws.String(logKey),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		i.logger.Error(ctx, "save import summary", "bucket", i.logsBucket, "key", logKey, "error", err)
		return
	}
	i.logger.Info(ctx, "import summary saved", "bucket", i.logsBucket, "key", logKey)
}
