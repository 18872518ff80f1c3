package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// The sync triggers run the job inline and return its summary. Runs are safe
// to trigger concurrently with the scheduler: records reconcile one at a
// time and automation never touches user-owned fields.

func (s *Server) triggerACMSync(c *gin.Context) {
	if s.acm == nil {
		s.respondError(c, http.StatusServiceUnavailable, "ACM sync is not configured", nil)
		return
	}

	stats, err := s.acm.Sync(c.Request.Context())
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "ACM sync failed", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) triggerServerScan(c *gin.Context) {
	if s.scanner == nil {
		s.respondError(c, http.StatusServiceUnavailable, "server scanning is not configured", nil)
		return
	}

	stats, err := s.scanner.Scan(c.Request.Context())
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "server scan failed", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

type importRequest struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key" binding:"required"`
}

func (s *Server) triggerImport(c *gin.Context) {
	if s.importer == nil {
		s.respondError(c, http.StatusServiceUnavailable, "workbook import is not configured", nil)
		return
	}

	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error(), nil)
		return
	}
	bucket := req.Bucket
	if bucket == "" {
		bucket = s.cfg.UploadBucket
	}
	if bucket == "" {
		s.respondError(c, http.StatusBadRequest, "no bucket given and no upload bucket configured", nil)
		return
	}

	stats, err := s.importer.ImportFromS3(c.Request.Context(), bucket, req.Key)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "workbook import failed", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
