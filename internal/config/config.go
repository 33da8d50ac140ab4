package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config represents the entire application configuration
type Config struct {
	Env       string          `json:"env"`
	Port      int             `json:"port"`
	AppName   string          `json:"app_name"`
	MongoDB   MongoDBConfig   `json:"mongodb"`
	Redis     RedisConfig     `json:"redis"`
	S3        S3Config        `json:"s3"`
	RabbitMQ  RabbitMQConfig  `json:"rabbitmq"`
	Queues    QueuesConfig    `json:"queues"`
	OCR       OCRConfig       `json:"ocr"`
	Embedding EmbeddingConfig `json:"embedding"`
	AI        AIConfig        `json:"ai"`
	Cleanup   CleanupConfig   `json:"cleanup"`
	Logging   LoggingConfig   `json:"logging"`
	CORS      CORSConfig      `json:"cors"`
}

// MongoDBConfig contains MongoDB connection details
type MongoDBConfig struct {
	URI      string `json:"uri"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       string `json:"db"`
}

// RedisConfig contains connection details for the queue backend and cache
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// S3Config contains object storage credentials and bucket selection
type S3Config struct {
	AccessKey     string `json:"access_key"`
	SecretKey     string `json:"secret_key"`
	Bucket        string `json:"bucket"`
	Region        string `json:"region"`
	PresignExpiry int    `json:"presign_expiry_seconds"`
}

// RabbitMQConfig contains the event-emitter broker connection details
type RabbitMQConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	VHost        string `json:"vhost"`
	ExchangeName string `json:"exchange_name"`
}

// QueueConfig describes one named queue's delivery constraints.
type QueueConfig struct {
	Name          string `json:"name"`
	Concurrency   int    `json:"concurrency"`
	RatePerMinute int    `json:"rate_per_minute"` // -1 disables the limit; 0 takes the queue default
	MaxAttempts   int    `json:"max_attempts"`
	BackoffBaseMs int    `json:"backoff_base_ms"`
	StallSeconds  int    `json:"stall_seconds"`
}

// QueuesConfig holds every queue the pipeline runs plus the optional legacy
// fallback queue kept from the old single-queue deployment.
type QueuesConfig struct {
	OCR         QueueConfig `json:"ocr"`
	Thumbnail   QueueConfig `json:"thumbnail"`
	Embedding   QueueConfig `json:"embedding"`
	AIClassify  QueueConfig `json:"ai_classify"`
	PDF         QueueConfig `json:"pdf"`
	LegacyQueue string      `json:"legacy_queue,omitempty"`
}

// All returns the queue configs in a stable order.
func (q QueuesConfig) All() []QueueConfig {
	return []QueueConfig{q.OCR, q.Thumbnail, q.Embedding, q.AIClassify, q.PDF}
}

// OCRConfig tunes the sync/async decision and the async poll loop.
type OCRConfig struct {
	SyncMaxBytes      int64 `json:"sync_max_bytes"`
	PollIntervalMs    int   `json:"poll_interval_ms"`
	PollMaxIntervalMs int   `json:"poll_max_interval_ms"`
	MaxWaitMs         int   `json:"max_wait_ms"`
}

func (c OCRConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c OCRConfig) PollMaxInterval() time.Duration {
	return time.Duration(c.PollMaxIntervalMs) * time.Millisecond
}

func (c OCRConfig) MaxWait() time.Duration {
	return time.Duration(c.MaxWaitMs) * time.Millisecond
}

// EmbeddingConfig tunes chunking and the embedding API client.
type EmbeddingConfig struct {
	BaseURL       string `json:"base_url"`
	APIKey        string `json:"api_key"`
	Model         string `json:"model"`
	MaxTokens     int    `json:"max_tokens"`
	MaxBatchSize  int    `json:"max_batch_size"`
	CacheTTLHours int    `json:"cache_ttl_hours"`
}

// AIConfig tunes the classification API client.
type AIConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
}

// CleanupConfig controls the scheduled retention sweep.
type CleanupConfig struct {
	Schedule      string `json:"schedule"` // cron expression
	RetentionDays int    `json:"retention_days"`
}

// LoggingConfig contains logging-related configurations
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age,omitempty"`
}

// LoadConfig reads configuration from the specified file path
func LoadConfig(filePath string) (*Config, error) {
	configData, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(configData, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	defaults := []struct {
		queue         *QueueConfig
		name          string
		concurrency   int
		ratePerMinute int
	}{
		{&c.Queues.OCR, "ocr", 2, 10},
		{&c.Queues.Thumbnail, "thumbnail", 4, 0},
		{&c.Queues.Embedding, "embedding", 3, 60},
		{&c.Queues.AIClassify, "ai-classify", 2, 20},
		{&c.Queues.PDF, "pdf", 4, 0},
	}
	for _, d := range defaults {
		if d.queue.Name == "" {
			d.queue.Name = d.name
		}
		if d.queue.Concurrency <= 0 {
			d.queue.Concurrency = d.concurrency
		}
		if d.queue.RatePerMinute == 0 {
			d.queue.RatePerMinute = d.ratePerMinute
		} else if d.queue.RatePerMinute < 0 {
			// Explicitly unlimited.
			d.queue.RatePerMinute = 0
		}
		if d.queue.MaxAttempts <= 0 {
			d.queue.MaxAttempts = 3
		}
		if d.queue.BackoffBaseMs <= 0 {
			d.queue.BackoffBaseMs = 2000
		}
		if d.queue.StallSeconds <= 0 {
			d.queue.StallSeconds = 60
		}
	}

	if c.OCR.SyncMaxBytes <= 0 {
		c.OCR.SyncMaxBytes = 5 * 1024 * 1024
	}
	if c.OCR.PollIntervalMs <= 0 {
		c.OCR.PollIntervalMs = 5000
	}
	if c.OCR.PollMaxIntervalMs <= 0 {
		c.OCR.PollMaxIntervalMs = 30000
	}
	if c.OCR.MaxWaitMs <= 0 {
		c.OCR.MaxWaitMs = 300000
	}

	if c.Embedding.MaxTokens <= 0 {
		c.Embedding.MaxTokens = 8191
	}
	if c.Embedding.MaxBatchSize <= 0 {
		c.Embedding.MaxBatchSize = 2048
	}

	if c.Cleanup.Schedule == "" {
		c.Cleanup.Schedule = "0 3 * * *"
	}
	if c.Cleanup.RetentionDays <= 0 {
		c.Cleanup.RetentionDays = 30
	}

	if c.S3.PresignExpiry <= 0 {
		c.S3.PresignExpiry = 900
	}
}
