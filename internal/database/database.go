package database

import (
	"context"
	"docflow/internal/config"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store is the durable record store the pipeline coordinates through. The
// orchestrator and processors only ever touch this interface.
type Store interface {
	Health(ctx context.Context) error
	Close(ctx context.Context) error
	JobStore
	DocumentStore
}

type mongoDB struct {
	client *mongo.Client
	db     *mongo.Database

	jobsCol      *mongo.Collection
	documentsCol *mongo.Collection
}

// New connects to MongoDB and prepares the pipeline collections.
func New(cfg config.MongoDBConfig) (Store, error) {
	clientOptions := options.Client().ApplyURI(cfg.URI)
	if cfg.Username != "" {
		clientOptions.SetAuth(options.Credential{
			Username: cfg.Username,
			Password: cfg.Password,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to MongoDB")
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		log.Error().Err(err).Msg("Failed to ping MongoDB")
		return nil, err
	}

	db := client.Database(cfg.DB)

	log.Info().Str("db", cfg.DB).Msg("MongoDB connection established")

	return &mongoDB{
		client:       client,
		db:           db,
		jobsCol:      db.Collection("processing_jobs"),
		documentsCol: db.Collection("documents"),
	}, nil
}

// Health verifies the connection is still usable.
func (m *mongoDB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.client.Ping(ctx, nil)
}

// Close releases the underlying client.
func (m *mongoDB) Close(ctx context.Context) error {
	log.Info().Msg("Closing MongoDB connection")
	return m.client.Disconnect(ctx)
}
