package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"docflow/internal/cache"
	"docflow/internal/config"
	"docflow/internal/database"
	"docflow/internal/events"
	"docflow/internal/model"
	"docflow/internal/orchestrator"
	"docflow/internal/queue"
)

func main() {
	// Configure logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	if len(os.Args) < 4 {
		fmt.Println("Usage: enqueue <config_path> <document_id> <job_type> [params_json]")
		fmt.Println("Example: enqueue config.json 6613a2... ocr '{\"forceAsync\":true}'")
		os.Exit(1)
	}

	configPath := os.Args[1]
	documentID := os.Args[2]
	jobType := model.JobType(os.Args[3])

	var params map[string]interface{}
	if len(os.Args) > 4 {
		if err := json.Unmarshal([]byte(os.Args[4]), &params); err != nil {
			log.Fatal().Msgf("Invalid params JSON: %v", err)
		}
	}

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal().Msgf("Failed to load configuration: %v", err)
	}

	store, err := database.New(cfg.MongoDB)
	if err != nil {
		log.Fatal().Msgf("Failed to connect to MongoDB: %v", err)
	}
	defer store.Close(context.Background())

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Fatal().Msgf("Failed to connect to Redis: %v", err)
	}
	defer redisCache.Close()

	svc := orchestrator.NewService(store, orchestrator.NewRegistry(), events.NopEmitter{})
	rdb := redisCache.Client()
	for _, qc := range cfg.Queues.All() {
		svc.AttachQueue(queue.NewRedisQueue(rdb, cfg.Redis.Prefix, qc.Name), qc)
	}

	result, err := svc.AddJob(context.Background(), documentID, "", jobType, params)
	if err != nil {
		log.Fatal().Msgf("Failed to enqueue job: %v", err)
	}

	fmt.Println("Job enqueued successfully!")
	fmt.Println("Job ID:", result.JobID)
	fmt.Println("Queue:", result.QueueName)
}
