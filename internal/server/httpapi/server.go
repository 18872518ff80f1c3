// Package httpapi exposes the dashboard REST API: certificate CRUD, manual
// sync triggers, audit history, and the ServiceNow assignment webhook.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/certops/certdash/internal/logging"
	"github.com/certops/certdash/internal/server/inventory"
	"github.com/certops/certdash/internal/server/models"
	"github.com/certops/certdash/internal/server/notify"
	"github.com/certops/certdash/internal/server/repositories/auditlog"
	"github.com/certops/certdash/internal/server/repositories/certificates"
	"github.com/certops/certdash/internal/server/ticketing"
)

// Reconciler handles manual certificate creation through the same pipeline
// the ingestion adapters use.
type Reconciler interface {
	Reconcile(ctx context.Context, incoming *models.PartialCertificate, actor string) (inventory.Outcome, error)
}

// ACMSyncer triggers one ACM synchronization run.
type ACMSyncer interface {
	Sync(ctx context.Context) (*inventory.RunStats, error)
}

// ServerScanner triggers one fleet certificate scan.
type ServerScanner interface {
	Scan(ctx context.Context) (*inventory.RunStats, error)
}

// ExcelImporter imports an uploaded workbook from S3.
type ExcelImporter interface {
	ImportFromS3(ctx context.Context, bucket, key string) (*inventory.RunStats, error)
}

// WebhookProcessor applies ServiceNow assignment events.
type WebhookProcessor interface {
	Process(ctx context.Context, evt *ticketing.WebhookEvent) (*models.Certificate, error)
}

// Config carries the API settings.
type Config struct {
	JWTSecret     []byte
	WebhookSecret string
	ThresholdDays int
	UploadBucket  string
}

// Server wires the handlers. The sync components are optional: a deployment
// without, say, SSM access leaves the scanner nil and the trigger endpoint
// reports it unavailable.
type Server struct {
	certs      certificates.Repository
	logs       auditlog.Repository
	reconciler Reconciler
	acm        ACMSyncer
	scanner    ServerScanner
	importer   ExcelImporter
	webhook    WebhookProcessor
	notifier   notify.Notifier
	logger     logging.Logger
	cfg        Config
	now        func() time.Time
}

func NewServer(
	certs certificates.Repository,
	logs auditlog.Repository,
	reconciler Reconciler,
	acm ACMSyncer,
	scanner ServerScanner,
	importer ExcelImporter,
	webhook WebhookProcessor,
	notifier notify.Notifier,
	logger logging.Logger,
	cfg Config,
) *Server {
	if cfg.ThresholdDays <= 0 {
		cfg.ThresholdDays = inventory.DefaultThresholdDays
	}
	return &Server{
		certs:      certs,
		logs:       logs,
		reconciler: reconciler,
		acm:        acm,
		scanner:    scanner,
		importer:   importer,
		webhook:    webhook,
		notifier:   notifier,
		logger:     logger.With("module", "httpapi"),
		cfg:        cfg,
		now:        time.Now,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.healthCheck)
	r.POST("/webhooks/servicenow", s.handleServiceNowWebhook)

	api := r.Group("/api", s.authRequired())
	{
		api.GET("/certificates", s.listCertificates)
		api.GET("/certificates/:id", s.getCertificate)
		api.POST("/certificates", s.createCertificate)
		api.PUT("/certificates/:id", s.updateCertificate)
		api.DELETE("/certificates/:id", s.deleteCertificate)

		api.POST("/sync/acm", s.triggerACMSync)
		api.POST("/sync/servers", s.triggerServerScan)
		api.POST("/import", s.triggerImport)

		api.GET("/logs/:certificateID", s.listCertificateLogs)
	}

	return r
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) respondError(c *gin.Context, status int, msg string, err error) {
	if err != nil {
		s.logger.Error(c.Request.Context(), msg, "error", err, "path", c.FullPath())
	}
	c.JSON(status, errorResponse{Error: msg})
}
