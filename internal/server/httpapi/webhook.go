package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/certops/certdash/internal/common"
	"github.com/certops/certdash/internal/server/ticketing"
)

const maxWebhookBody = 1 << 20

// handleServiceNowWebhook receives incident assignment events. The endpoint
// sits outside the bearer-token API; authenticity comes from the HMAC
// signature over the raw body.
func (s *Server) handleServiceNowWebhook(c *gin.Context) {
	if s.webhook == nil {
		s.respondError(c, http.StatusServiceUnavailable, "webhook processing is not configured", nil)
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		s.respondError(c, http.StatusBadRequest, "reading body failed", nil)
		return
	}

	signature := c.GetHeader(ticketing.SignatureHeader)
	if err := ticketing.ValidateSignature(body, signature, s.cfg.WebhookSecret); err != nil {
		s.logger.Warn(c.Request.Context(), "webhook signature rejected", "error", err)
		s.respondError(c, http.StatusUnauthorized, "invalid signature", nil)
		return
	}

	var evt ticketing.WebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		s.respondError(c, http.StatusBadRequest, "invalid payload", nil)
		return
	}

	cert, err := s.webhook.Process(c.Request.Context(), &evt)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrMalformedRecord):
			s.respondError(c, http.StatusBadRequest, err.Error(), nil)
		case errors.Is(err, common.ErrNotFound):
			s.respondError(c, http.StatusNotFound, "certificate not found", nil)
		default:
			s.respondError(c, http.StatusInternalServerError, "processing webhook failed", err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"certificateId": cert.CertificateID,
		"status":        string(cert.Status),
		"assignedTo":    cert.AssignedTo,
	})
}
