package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"docflow/internal/aws"
	"docflow/internal/cache"
	"docflow/internal/config"
	"docflow/internal/database"
	"docflow/internal/events"
	"docflow/internal/extract"
	"docflow/internal/llm"
	"docflow/internal/model"
	"docflow/internal/orchestrator"
	"docflow/internal/pdf"
	"docflow/internal/processor"
	"docflow/internal/queue"
	"docflow/internal/rabbitmq"
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
	log.Info().Str("env", cfg.Env).Msg("Starting worker")

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

	// Initialize Textract client
	extractor, err := extract.NewTextractClient(cfg.S3)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize Textract client")
		return
	}

	// Initialize RabbitMQ connection for job events
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

	// Embedding client, cached to avoid re-billing identical chunks on retry
	var embedder llm.Embedder = llm.NewOpenAIEmbedder(cfg.Embedding)
	if cfg.Embedding.CacheTTLHours > 0 {
		embedder = llm.NewCachedEmbedder(embedder, redisCache, time.Duration(cfg.Embedding.CacheTTLHours)*time.Hour)
	}
	classifier := llm.NewOpenAIClassifier(cfg.AI)

	registry := orchestrator.NewRegistry()
	registry.Register(processor.NewOCRProcessor(store, objects, extractor, cfg.OCR), model.JobTypeOCR)
	registry.Register(processor.NewThumbnailProcessor(store, objects), model.JobTypeThumbnail)
	registry.Register(processor.NewEmbeddingProcessor(store, embedder, cfg.Embedding), model.JobTypeEmbedding)
	registry.Register(processor.NewClassifyProcessor(store, classifier), model.JobTypeAIClassify)
	registry.Register(processor.NewPDFProcessor(store, objects, pdf.NewEngine()),
		model.JobTypePDFSplit, model.JobTypePDFMerge, model.JobTypePDFWatermark,
		model.JobTypePDFCompress, model.JobTypePDFExtractPages,
		model.JobTypePDFRenderPage, model.JobTypePDFMetadata)

	svc := orchestrator.NewService(store, registry, emitter)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redisCache.Client()
	var pools []*queue.WorkerPool
	for _, qc := range cfg.Queues.All() {
		q := queue.NewRedisQueue(rdb, cfg.Redis.Prefix, qc.Name)
		svc.AttachQueue(q, qc)

		pool := queue.NewWorkerPool(q, qc, svc.Handler())
		pool.Start(ctx)
		pools = append(pools, pool)
	}

	// Jobs enqueued by deployments predating the split queues still arrive
	// on the old shared queue; drain it with a small dedicated pool.
	if cfg.Queues.LegacyQueue != "" {
		q := queue.NewRedisQueue(rdb, cfg.Redis.Prefix, cfg.Queues.LegacyQueue)
		svc.AttachLegacyQueue(q)

		legacyCfg := config.QueueConfig{
			Name:          cfg.Queues.LegacyQueue,
			Concurrency:   1,
			MaxAttempts:   3,
			BackoffBaseMs: 2000,
			StallSeconds:  60,
		}
		pool := queue.NewWorkerPool(q, legacyCfg, svc.Handler())
		pool.Start(ctx)
		pools = append(pools, pool)
	}

	// Scheduled retention sweep
	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Cleanup.Schedule, func() {
		report, err := svc.CleanOldJobs(context.Background(), cfg.Cleanup.RetentionDays)
		if err != nil {
			log.Error().Err(err).Msg("Scheduled cleanup failed")
			return
		}
		pruned := int64(0)
		for _, n := range report.PrunedByQueue {
			pruned += n
		}
		log.Info().
			Int64("deletedRecords", report.DeletedRecords).
			Int64("prunedQueueEntries", pruned).
			Int("queueErrors", len(report.QueueErrors)).
			Msg("Scheduled cleanup finished")
	})
	if err != nil {
		log.Error().Err(err).Str("schedule", cfg.Cleanup.Schedule).Msg("Invalid cleanup schedule")
		return
	}
	scheduler.Start()

	log.Info().Int("queues", len(pools)).Msg("Worker running")

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	cronCtx := scheduler.Stop()
	<-cronCtx.Done()
	for _, pool := range pools {
		pool.Stop()
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
