package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func (s *Server) RegisterRoutes() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.CORS.AllowedOrigins,
		AllowMethods:     s.config.CORS.AllowedMethods,
		AllowHeaders:     s.config.CORS.AllowedHeaders,
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           time.Duration(s.config.CORS.MaxAge) * time.Second,
	}))

	r.GET("/health", s.healthHandler)

	jobs := r.Group("/jobs")
	{
		jobs.POST("", s.createJobHandler)
		jobs.GET("/failed", s.failedJobsHandler)
		jobs.GET("/:id", s.getJobHandler)
		jobs.POST("/:id/retry", s.retryJobHandler)
		jobs.POST("/:id/cancel", s.cancelJobHandler)
	}

	r.GET("/documents/:id/jobs", s.documentJobsHandler)

	queues := r.Group("/queues")
	{
		queues.GET("/stats", s.queueStatsHandler)
		queues.GET("/:name/stats", s.queueStatsByNameHandler)
		queues.POST("/:name/pause", s.pauseQueueHandler)
		queues.POST("/:name/resume", s.resumeQueueHandler)
		queues.POST("/:name/drain", s.drainQueueHandler)
	}

	r.POST("/maintenance/cleanup", s.cleanupHandler)

	return r
}
