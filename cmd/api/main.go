package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"docflow/internal/aws"
	"docflow/internal/cache"
	"docflow/internal/config"
	"docflow/internal/database"
	"docflow/internal/events"
	"docflow/internal/orchestrator"
	"docflow/internal/queue"
	"docflow/internal/rabbitmq"
	"docflow/internal/server"
)

func main() {
	configPath := "config/config.json"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return
	}

	// Configure logging
	setupLogger(cfg.Logging)
	log.Info().Str("env", cfg.Env).Msg("Starting API server")

	// Initialize MongoDB connection
	store, err := database.New(cfg.MongoDB)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize MongoDB connection")
		return
	}
	defer store.Close(context.Background())
	log.Info().Msg("MongoDB connection established")

	// Initialize Redis connection
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize redis cache connection")
		return
	}
	defer redisCache.Close()
	log.Info().Msg("Redis connection established")

	// Initialize S3 client
	objects, err := aws.NewObjectStore(cfg.S3)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize S3 client")
		return
	}
	log.Info().Str("bucket", objects.Bucket()).Msg("S3 client initialized")

	// Initialize RabbitMQ connection
	rabbit, err := rabbitmq.NewClientFromConfig(cfg.RabbitMQ)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize RabbitMQ connection")
		return
	}
	defer rabbit.Close()
	log.Info().Msg("RabbitMQ connection established")

	emitter, err := events.NewRabbitEmitter(rabbit, cfg.RabbitMQ.ExchangeName)
	if err != nil {
		log.Error().Err(err).Msg("Failed to declare events exchange")
		return
	}

	// The API binary enqueues and inspects jobs; processors only run in the
	// worker binary, so the registry stays empty here.
	svc := orchestrator.NewService(store, orchestrator.NewRegistry(), emitter)

	rdb := redisCache.Client()
	for _, qc := range cfg.Queues.All() {
		svc.AttachQueue(queue.NewRedisQueue(rdb, cfg.Redis.Prefix, qc.Name), qc)
	}
	if cfg.Queues.LegacyQueue != "" {
		svc.AttachLegacyQueue(queue.NewRedisQueue(rdb, cfg.Redis.Prefix, cfg.Queues.LegacyQueue))
	}

	srv := server.New(*cfg, svc, store, redisCache, objects, rabbit)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Int("port", cfg.Port).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	log.Info().Msg("Shutdown complete")
}

func setupLogger(config config.LoggingConfig) {
	// Set global log level
	level, err := zerolog.ParseLevel(config.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure logger output
	switch config.Format {
	case "json":
		// JSON is the default for zerolog
	case "console", "combined":
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	// Add timestamp
	log.Logger = log.With().Timestamp().Logger()
}
