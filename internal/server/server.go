// Package server exposes the pipeline's HTTP surface: job submission and
// inspection, queue operations, and health.
package server

import (
	"fmt"
	"net/http"
	"time"

	"docflow/internal/aws"
	"docflow/internal/cache"
	"docflow/internal/config"
	"docflow/internal/database"
	"docflow/internal/orchestrator"
	"docflow/internal/rabbitmq"
)

type Server struct {
	svc     *orchestrator.Service
	store   database.Store
	cache   cache.Cache
	objects aws.ObjectStore
	rabbit  rabbitmq.Client
	config  config.Config
}

func New(cfg config.Config, svc *orchestrator.Service, store database.Store, c cache.Cache, objects aws.ObjectStore, rabbit rabbitmq.Client) *http.Server {
	server := Server{
		svc:     svc,
		store:   store,
		cache:   c,
		objects: objects,
		rabbit:  rabbit,
		config:  cfg,
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%v", cfg.Port),
		Handler:      server.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}
