package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/certops/certdash/internal/common"
	"github.com/certops/certdash/internal/server/inventory"
	"github.com/certops/certdash/internal/server/models"
	"github.com/certops/certdash/internal/server/notify"
)

// certificateView is the API representation of a certificate. The status and
// days-until-expiry are recomputed at read time so the dashboard never shows
// a stale derived status, whatever is persisted.
type certificateView struct {
	CertificateID string `json:"certificateId"`

	AccountNumber string `json:"accountNumber,omitempty"`
	CommonName    string `json:"commonName,omitempty"`
	ServerID      string `json:"serverId,omitempty"`
	Thumbprint    string `json:"thumbprint,omitempty"`

	CertificateName string `json:"certificateName,omitempty"`
	Subject         string `json:"subject,omitempty"`
	Issuer          string `json:"issuer,omitempty"`
	Type            string `json:"type,omitempty"`
	KeyAlgorithm    string `json:"keyAlgorithm,omitempty"`
	SerialNumber    string `json:"serialNumber,omitempty"`
	Environment     string `json:"environment,omitempty"`
	Application     string `json:"application,omitempty"`
	Region          string `json:"region,omitempty"`

	ExpiryDate      string `json:"expiryDate,omitempty"`
	DaysUntilExpiry *int   `json:"daysUntilExpiry,omitempty"`
	Status          string `json:"status"`
	Source          string `json:"source"`

	ACMARN         string `json:"acmArn,omitempty"`
	ACMStatus      string `json:"acmStatus,omitempty"`
	ServerName     string `json:"serverName,omitempty"`
	ServerPlatform string `json:"serverPlatform,omitempty"`
	FilePath       string `json:"filePath,omitempty"`

	OwnerEmail     string            `json:"ownerEmail,omitempty"`
	SupportEmail   string            `json:"supportEmail,omitempty"`
	Notes          string            `json:"notes,omitempty"`
	IncidentNumber string            `json:"incidentNumber,omitempty"`
	AssignedTo     string            `json:"assignedTo,omitempty"`
	CustomTags     map[string]string `json:"customTags,omitempty"`

	Version       int64      `json:"version"`
	CreatedOn     *time.Time `json:"createdOn,omitempty"`
	LastUpdatedOn *time.Time `json:"lastUpdatedOn,omitempty"`
}

func (s *Server) viewOf(cert *models.Certificate) certificateView {
	v := certificateView{
		CertificateID:   cert.CertificateID,
		AccountNumber:   cert.AccountNumber,
		CommonName:      cert.CommonName,
		ServerID:        cert.ServerID,
		Thumbprint:      cert.Thumbprint,
		CertificateName: cert.CertificateName,
		Subject:         cert.Subject,
		Issuer:          cert.Issuer,
		Type:            cert.Type,
		KeyAlgorithm:    cert.KeyAlgorithm,
		SerialNumber:    cert.SerialNumber,
		Environment:     cert.Environment,
		Application:     cert.Application,
		Region:          cert.Region,
		Status:          string(cert.Status),
		Source:          string(cert.Source),
		ACMARN:          cert.ACMARN,
		ACMStatus:       cert.ACMStatus,
		ServerName:      cert.ServerName,
		ServerPlatform:  cert.ServerPlatform,
		FilePath:        cert.FilePath,
		OwnerEmail:      cert.OwnerEmail,
		SupportEmail:    cert.SupportEmail,
		Notes:           cert.Notes,
		IncidentNumber:  cert.IncidentNumber,
		AssignedTo:      cert.AssignedTo,
		CustomTags:      cert.CustomTags,
		Version:         cert.Version,
	}
	if !cert.CreatedOn.IsZero() {
		t := cert.CreatedOn
		v.CreatedOn = &t
	}
	if !cert.LastUpdatedOn.IsZero() {
		t := cert.LastUpdatedOn
		v.LastUpdatedOn = &t
	}
	if !cert.ExpiryDate.IsZero() {
		today := s.now()
		v.ExpiryDate = cert.ExpiryDate.Format("2006-01-02")
		days := inventory.DaysUntil(cert.ExpiryDate, today)
		v.DaysUntilExpiry = &days
		if refreshed, err := inventory.RefreshStatus(cert.Status, cert.ExpiryDate, today, s.cfg.ThresholdDays); err == nil {
			v.Status = string(refreshed)
		}
	}
	return v
}

func (s *Server) listCertificates(c *gin.Context) {
	certs, err := s.certs.List(c.Request.Context())
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "listing certificates failed", err)
		return
	}

	views := make([]certificateView, 0, len(certs))
	for _, cert := range certs {
		views = append(views, s.viewOf(cert))
	}
	c.JSON(http.StatusOK, gin.H{"certificates": views, "count": len(views)})
}

func (s *Server) getCertificate(c *gin.Context) {
	cert, err := s.certs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.respondError(c, http.StatusNotFound, "certificate not found", nil)
			return
		}
		s.respondError(c, http.StatusInternalServerError, "loading certificate failed", err)
		return
	}
	c.JSON(http.StatusOK, s.viewOf(cert))
}

type createCertificateRequest struct {
	AccountNumber   string            `json:"accountNumber" binding:"required"`
	CommonName      string            `json:"commonName" binding:"required"`
	CertificateName string            `json:"certificateName"`
	ExpiryDate      string            `json:"expiryDate" binding:"required"`
	Type            string            `json:"type"`
	Environment     string            `json:"environment"`
	Application     string            `json:"application"`
	Region          string            `json:"region"`
	Issuer          string            `json:"issuer"`
	SerialNumber    string            `json:"serialNumber"`
	OwnerEmail      string            `json:"ownerEmail"`
	SupportEmail    string            `json:"supportEmail"`
	Notes           string            `json:"notes"`
	CustomTags      map[string]string `json:"customTags"`
}

func (s *Server) createCertificate(c *gin.Context) {
	var req createCertificateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error(), nil)
		return
	}

	expiry, err := time.Parse("2006-01-02", req.ExpiryDate)
	if err != nil {
		s.respondError(c, http.StatusBadRequest, "expiryDate must be YYYY-MM-DD", nil)
		return
	}

	incoming := &models.PartialCertificate{
		Source:          models.SourceManual,
		AccountNumber:   strings.TrimSpace(req.AccountNumber),
		CommonName:      strings.TrimSpace(req.CommonName),
		ExpiryDate:      &expiry,
		CertificateName: optional(req.CertificateName),
		Type:            optional(req.Type),
		Environment:     optional(req.Environment),
		Application:     optional(req.Application),
		Region:          optional(req.Region),
		Issuer:          optional(req.Issuer),
		SerialNumber:    optional(req.SerialNumber),
		OwnerEmail:      optional(req.OwnerEmail),
		SupportEmail:    optional(req.SupportEmail),
		Notes:           optional(req.Notes),
		CustomTags:      req.CustomTags,
	}

	outcome, err := s.reconciler.Reconcile(c.Request.Context(), incoming, actor(c))
	if err != nil {
		switch {
		case errors.Is(err, common.ErrMalformedRecord), errors.Is(err, common.ErrInvalidDate):
			s.respondError(c, http.StatusBadRequest, err.Error(), nil)
		default:
			s.respondError(c, http.StatusInternalServerError, "creating certificate failed", err)
		}
		return
	}

	key := models.NaturalKey{AccountNumber: incoming.AccountNumber, CommonName: incoming.CommonName}
	cert, err := s.certs.FindByNaturalKey(c.Request.Context(), key)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "loading created certificate failed", err)
		return
	}

	status := http.StatusCreated
	if outcome != inventory.OutcomeAdded {
		status = http.StatusOK
	}
	c.JSON(status, s.viewOf(cert))
}

type updateCertificateRequest struct {
	OwnerEmail     *string           `json:"ownerEmail"`
	SupportEmail   *string           `json:"supportEmail"`
	Notes          *string           `json:"notes"`
	IncidentNumber *string           `json:"incidentNumber"`
	AssignedTo     *string           `json:"assignedTo"`
	CustomTags     map[string]string `json:"customTags"`
	Status         *string           `json:"status"`
}

// updateCertificate applies user-owned field changes and manual status
// transitions. Automation-owned fields are not editable here; they belong to
// the sync pipelines.
func (s *Server) updateCertificate(c *gin.Context) {
	var req updateCertificateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error(), nil)
		return
	}

	var newStatus models.Status
	if req.Status != nil {
		newStatus = models.Status(*req.Status)
		if !newStatus.ManuallySet() {
			s.respondError(c, http.StatusBadRequest,
				fmt.Sprintf("status %q cannot be set manually", newStatus), nil)
			return
		}
	}

	ctx := c.Request.Context()
	cert, err := s.certs.GetByID(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.respondError(c, http.StatusNotFound, "certificate not found", nil)
			return
		}
		s.respondError(c, http.StatusInternalServerError, "loading certificate failed", err)
		return
	}

	oldStatus := cert.Status
	var changes []models.FieldChange
	apply := func(field string, dst *string, src *string) {
		if src == nil || *src == *dst {
			return
		}
		changes = append(changes, models.FieldChange{Field: field, Old: *dst, New: *src})
		*dst = *src
	}

	apply("OwnerEmail", &cert.OwnerEmail, req.OwnerEmail)
	apply("SupportEmail", &cert.SupportEmail, req.SupportEmail)
	apply("Notes", &cert.Notes, req.Notes)
	apply("IncidentNumber", &cert.IncidentNumber, req.IncidentNumber)
	apply("AssignedTo", &cert.AssignedTo, req.AssignedTo)
	if req.CustomTags != nil {
		changes = append(changes, models.FieldChange{
			Field: "CustomTags",
			Old:   fmt.Sprintf("%d tags", len(cert.CustomTags)),
			New:   fmt.Sprintf("%d tags", len(req.CustomTags)),
		})
		cert.CustomTags = req.CustomTags
	}
	if req.Status != nil && newStatus != cert.Status {
		changes = append(changes, models.FieldChange{
			Field: "Status", Old: string(cert.Status), New: string(newStatus),
		})
		cert.Status = newStatus
	}

	if len(changes) == 0 {
		c.JSON(http.StatusOK, s.viewOf(cert))
		return
	}

	cert.LastUpdatedOn = s.now()
	cert.Version++
	if err := s.certs.Put(ctx, cert); err != nil {
		s.respondError(c, http.StatusInternalServerError, "updating certificate failed", err)
		return
	}

	action := models.ActionFieldUpdate
	if cert.Status != oldStatus {
		action = models.ActionStatusChanged
	}
	s.appendAudit(c, cert.CertificateID, action,
		fmt.Sprintf("%s %s", action, cert.CommonName), changes)

	if cert.Status != oldStatus {
		s.notifyStatusChange(c, cert, oldStatus)
	}

	c.JSON(http.StatusOK, s.viewOf(cert))
}

func (s *Server) notifyStatusChange(c *gin.Context, cert *models.Certificate, oldStatus models.Status) {
	if s.notifier == nil || !strings.Contains(cert.OwnerEmail, "@") {
		return
	}
	msg := notify.StatusChangeAlert(cert.OwnerEmail, cert, oldStatus)
	if err := s.notifier.Send(c.Request.Context(), msg); err != nil {
		s.logger.Error(c.Request.Context(), "status change notification failed",
			"certificateID", cert.CertificateID, "error", err)
	}
}

func (s *Server) deleteCertificate(c *gin.Context) {
	ctx := c.Request.Context()
	cert, err := s.certs.GetByID(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.respondError(c, http.StatusNotFound, "certificate not found", nil)
			return
		}
		s.respondError(c, http.StatusInternalServerError, "loading certificate failed", err)
		return
	}

	if err := s.certs.Delete(ctx, cert.CertificateID); err != nil {
		s.respondError(c, http.StatusInternalServerError, "deleting certificate failed", err)
		return
	}

	s.appendAudit(c, cert.CertificateID, models.ActionDeleted,
		fmt.Sprintf("DELETED %s", cert.CommonName), nil)

	c.JSON(http.StatusOK, gin.H{"deleted": cert.CertificateID})
}

func (s *Server) listCertificateLogs(c *gin.Context) {
	entries, err := s.logs.ListByCertificate(c.Request.Context(), c.Param("certificateID"))
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "listing logs failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": entries, "count": len(entries)})
}

func (s *Server) appendAudit(c *gin.Context, certificateID string, action models.Action, detail string, changes []models.FieldChange) {
	entry := &models.LogEntry{
		LogID:         uuid.NewString(),
		CertificateID: certificateID,
		Timestamp:     s.now(),
		Action:        action,
		Actor:         actor(c),
		Detail:        detail,
		Changes:       changes,
	}
	if err := s.logs.Append(c.Request.Context(), entry); err != nil {
		s.logger.Error(c.Request.Context(), "audit append failed",
			"error", err, "certificateID", certificateID)
	}
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
