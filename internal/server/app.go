// Package server initializes and runs the certificate dashboard server: it
// selects the storage backend, wires the ingestion adapters, monitor and
// ticketing jobs onto the scheduler, and serves the REST API until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsacm "github.com/aws/aws-sdk-go-v2/service/acm"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/certops/certdash/internal/logging"
	"github.com/certops/certdash/internal/server/config"
	"github.com/certops/certdash/internal/server/httpapi"
	"github.com/certops/certdash/internal/server/ingest/acm"
	"github.com/certops/certdash/internal/server/ingest/excel"
	"github.com/certops/certdash/internal/server/ingest/serverscan"
	"github.com/certops/certdash/internal/server/inventory"
	"github.com/certops/certdash/internal/server/monitor"
	"github.com/certops/certdash/internal/server/notify"
	"github.com/certops/certdash/internal/server/repositories/repomanager"
	"github.com/certops/certdash/internal/server/scheduler"
	"github.com/certops/certdash/internal/server/ticketing"
)

type App struct {
	config *config.Config
	logger logging.Logger

	repos      repomanager.RepositoryManager
	reconciler *inventory.Reconciler
	httpServer *httpapi.Server
	scheduler  *scheduler.Scheduler
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	app := &App{config: cfg, logger: logger}

	awsCfg, awsErr := awsconfig.LoadDefaultConfig(ctx)
	if awsErr != nil {
		// A deployment on the memory or postgres backend can run without
		// AWS access; the AWS-backed components just stay disabled.
		logger.Warn(ctx, "AWS configuration unavailable, AWS components disabled", "error", awsErr)
	}

	repos, err := buildRepositoryManager(ctx, cfg, awsErr == nil, func() *dynamodb.Client {
		return dynamodb.NewFromConfig(awsCfg)
	}, logger)
	if err != nil {
		return nil, err
	}
	app.repos = repos

	app.reconciler = inventory.NewReconciler(repos.Certificates(), repos.AuditLog(), logger, cfg.ThresholdDays)

	var notifier notify.Notifier
	switch cfg.NotifierBackend {
	case "smtp":
		notifier = notify.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SenderEmail)
	default:
		if awsErr == nil {
			notifier = notify.NewSESNotifier(sesv2.NewFromConfig(awsCfg), cfg.SenderEmail)
		}
	}

	var (
		acmSyncer *acm.Syncer
		scanner   *serverscan.Scanner
		importer  *excel.Importer
		secrets   *ticketing.Secrets
	)
	if awsErr == nil {
		stsClient := sts.NewFromConfig(awsCfg)
		acmSyncer = acm.NewSyncer(awsacm.NewFromConfig(awsCfg), stsClient, app.reconciler, cfg.ACMRegions, logger)
		scanner = serverscan.NewScanner(ssm.NewFromConfig(awsCfg), stsClient, app.reconciler,
			cfg.WindowsScanDocument, cfg.LinuxScanDocument, logger)
		importer = excel.NewImporter(s3.NewFromConfig(awsCfg), app.reconciler, cfg.LogsBucket, logger)
		secrets = ticketing.NewSecrets(secretsmanager.NewFromConfig(awsCfg))
	}

	webhookSecret := ""
	if secrets != nil && cfg.WebhookSecretName != "" {
		v, err := secrets.WebhookSecret(ctx, cfg.WebhookSecretName)
		if err != nil {
			logger.Warn(ctx, "webhook secret unavailable, signature validation disabled", "error", err)
		} else {
			webhookSecret = v
		}
	}

	webhook := ticketing.NewWebhookProcessor(repos.Certificates(), repos.AuditLog(), logger)

	app.httpServer = httpapi.NewServer(
		repos.Certificates(), repos.AuditLog(), app.reconciler,
		syncerOrNil(acmSyncer), scannerOrNil(scanner), importerOrNil(importer),
		webhook, notifier, logger,
		httpapi.Config{
			JWTSecret:     []byte(cfg.SecretKey),
			WebhookSecret: webhookSecret,
			ThresholdDays: cfg.ThresholdDays,
			UploadBucket:  cfg.UploadBucket,
		},
	)

	app.scheduler = buildScheduler(cfg, logger, repos, acmSyncer, scanner, notifier, secrets)

	return app, nil
}

// The nil checks keep a typed nil pointer out of the server's interface
// fields, so its "is this configured" checks stay plain nil comparisons.
func syncerOrNil(s *acm.Syncer) httpapi.ACMSyncer {
	if s == nil {
		return nil
	}
	return s
}

func scannerOrNil(s *serverscan.Scanner) httpapi.ServerScanner {
	if s == nil {
		return nil
	}
	return s
}

func importerOrNil(i *excel.Importer) httpapi.ExcelImporter {
	if i == nil {
		return nil
	}
	return i
}

func buildRepositoryManager(ctx context.Context, cfg *config.Config, awsAvailable bool, dynamoClient func() *dynamodb.Client, logger logging.Logger) (repomanager.RepositoryManager, error) {
	switch cfg.StoreBackend {
	case "dynamo":
		if !awsAvailable {
			return nil, fmt.Errorf("dynamo backend requires AWS configuration")
		}
		return repomanager.NewDynamoRepositoryManager(dynamoClient(), repomanager.DynamoConfig{
			CertificatesTable: cfg.CertificatesTable,
			LogsTable:         cfg.LogsTable,
			AccountIndex:      cfg.AccountIndexName,
			ServerIndex:       cfg.ServerIndexName,
		}, logger), nil
	case "postgres":
		m, err := repomanager.NewPostgresRepositoryManager(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		return m, nil
	case "memory", "":
		return repomanager.NewMemoryRepositoryManager(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func buildScheduler(cfg *config.Config, logger logging.Logger, repos repomanager.RepositoryManager, acmSyncer *acm.Syncer, scanner *serverscan.Scanner, notifier notify.Notifier, secrets *ticketing.Secrets) *scheduler.Scheduler {
	sched := scheduler.New(cfg.SyncInterval, logger)

	if acmSyncer != nil {
		sched.Add("acm_sync", func(ctx context.Context) error {
			_, err := acmSyncer.Sync(ctx)
			return err
		})
	}
	if scanner != nil {
		sched.Add("server_scan", func(ctx context.Context) error {
			_, err := scanner.Scan(ctx)
			return err
		})
	}
	if notifier != nil {
		mon := monitor.NewMonitor(repos.Certificates(), repos.AuditLog(), notifier, logger, cfg.ThresholdDays)
		sched.Add("expiry_monitor", func(ctx context.Context) error {
			_, err := mon.Run(ctx)
			return err
		})
	}
	if secrets != nil && cfg.SnowSecretName != "" {
		// Credentials are fetched per run so a secret rotation is picked up
		// without a restart of the job loop.
		sched.Add("ticket_creator", func(ctx context.Context) error {
			creds, err := secrets.Credentials(ctx, cfg.SnowSecretName)
			if err != nil {
				return err
			}
			creator := ticketing.NewCreator(repos.Certificates(), repos.AuditLog(),
				ticketing.NewClient(creds, logger), logger, cfg.ThresholdDays, cfg.TicketingDryRun)
			_, err = creator.Run(ctx)
			return err
		})
	}

	return sched
}

// RunJob runs one scheduled job by name and exits, for cron-style one-off
// invocations.
func (app *App) RunJob(ctx context.Context, name string) error {
	defer func() {
		if err := app.repos.Close(); err != nil {
			app.logger.Error(ctx, "closing storage failed", "error", err)
		}
	}()
	return app.scheduler.RunJob(ctx, name)
}

// Jobs lists the jobs available to RunJob.
func (app *App) Jobs() []string {
	return app.scheduler.Jobs()
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	srv := &http.Server{
		Addr:    app.config.EndpointAddrHTTP,
		Handler: app.httpServer.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(ctx, "HTTP server listening", "addr", app.config.EndpointAddrHTTP)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.scheduler.Run(ctx)
	}()

	wg.Wait()

	if err := app.repos.Close(); err != nil {
		app.logger.Error(ctx, "closing storage failed", "error", err)
	}
}
