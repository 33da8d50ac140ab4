package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"docflow/internal/database"
	"docflow/internal/model"
	"docflow/internal/orchestrator"
)

// CreateJobRequest is the job submission body.
type CreateJobRequest struct {
	DocumentID     string                 `json:"documentId" binding:"required"`
	OrganizationID string                 `json:"organizationId"`
	Type           model.JobType          `json:"type" binding:"required"`
	Params         map[string]interface{} `json:"params"`
}

// CleanupRequest overrides the configured retention for one sweep.
type CleanupRequest struct {
	OlderThanDays int `json:"olderThanDays"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx := c.Request.Context()
	checks := gin.H{}
	healthy := true

	if err := s.store.Health(ctx); err != nil {
		checks["mongodb"] = err.Error()
		healthy = false
	} else {
		checks["mongodb"] = "ok"
	}

	if err := s.cache.Ping(ctx); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	} else {
		checks["redis"] = "ok"
	}

	if err := s.objects.TestConnection(ctx); err != nil {
		checks["s3"] = err.Error()
		healthy = false
	} else {
		checks["s3"] = "ok"
	}

	if err := s.rabbit.Health(); err != nil {
		checks["rabbitmq"] = err.Error()
		healthy = false
	} else {
		checks["rabbitmq"] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"healthy": healthy, "checks": checks})
}

func (s *Server) createJobHandler(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.svc.AddJob(c.Request.Context(), req.DocumentID, req.OrganizationID, req.Type, req.Params)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (s *Server) getJobHandler(c *gin.Context) {
	status, err := s.svc.GetJobStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) retryJobHandler(c *gin.Context) {
	result, err := s.svc.RetryJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) cancelJobHandler(c *gin.Context) {
	if err := s.svc.CancelJob(c.Request.Context(), c.Param("id")); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": c.Param("id")})
}

func (s *Server) failedJobsHandler(c *gin.Context) {
	limit, offset := paginationParams(c)

	jobs, err := s.svc.GetFailedJobs(c.Request.Context(), limit, offset)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "limit": limit, "offset": offset})
}

func (s *Server) documentJobsHandler(c *gin.Context) {
	jobs, err := s.svc.GetJobsByDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) queueStatsHandler(c *gin.Context) {
	stats, err := s.svc.GetQueueStats(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) queueStatsByNameHandler(c *gin.Context) {
	stats, err := s.svc.GetQueueStatsByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) pauseQueueHandler(c *gin.Context) {
	if err := s.svc.PauseQueue(c.Request.Context(), c.Param("name")); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": c.Param("name")})
}

func (s *Server) resumeQueueHandler(c *gin.Context) {
	if err := s.svc.ResumeQueue(c.Request.Context(), c.Param("name")); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resumed": c.Param("name")})
}

func (s *Server) drainQueueHandler(c *gin.Context) {
	removed, err := s.svc.DrainQueue(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": c.Param("name"), "removed": removed})
}

func (s *Server) cleanupHandler(c *gin.Context) {
	req := CleanupRequest{OlderThanDays: s.config.Cleanup.RetentionDays}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	report, err := s.svc.CleanOldJobs(c.Request.Context(), req.OlderThanDays)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// renderError maps service errors to status codes.
func (s *Server) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, database.ErrJobNotFound), errors.Is(err, database.ErrDocumentNotFound),
		errors.Is(err, orchestrator.ErrUnknownQueue):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, orchestrator.ErrUnknownJobType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, orchestrator.ErrJobNotRetryable), errors.Is(err, orchestrator.ErrJobNotCancellable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case strings.Contains(err.Error(), "invalid retention"):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func paginationParams(c *gin.Context) (int, int) {
	limit := 20
	offset := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	return limit, offset
}
