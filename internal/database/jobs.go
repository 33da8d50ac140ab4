package database

import (
	"context"
	"docflow/internal/model"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrJobNotFound is returned when no processing job exists for an id.
var ErrJobNotFound = errors.New("processing job not found")

// JobStore defines job-related store operations
type JobStore interface {
	// Create a new processing job record
	CreateJob(ctx context.Context, job *model.ProcessingJob) error

	// Get a job by ID
	GetJob(ctx context.Context, id string) (*model.ProcessingJob, error)

	// Apply a partial field update to a job
	UpdateJob(ctx context.Context, id string, fields map[string]interface{}) error

	// List every job for a document, newest first
	ListJobsByDocument(ctx context.Context, documentID string) ([]*model.ProcessingJob, error)

	// List jobs in a given status with pagination, newest first
	ListJobsByStatus(ctx context.Context, status model.JobStatus, limit, offset int) ([]*model.ProcessingJob, error)

	// Find a pending or running job of the given type for a document
	FindActiveJob(ctx context.Context, documentID string, jobType model.JobType) (*model.ProcessingJob, error)

	// Delete terminal jobs completed before the cutoff; returns the count removed
	DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CreateJob inserts a new processing job record
func (m *mongoDB) CreateJob(ctx context.Context, job *model.ProcessingJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	_, err := m.jobsCol.InsertOne(ctx, job)
	if err != nil {
		log.Error().Err(err).Str("jobID", job.ID).Msg("Failed to create processing job")
		return err
	}

	log.Debug().Str("jobID", job.ID).Str("type", string(job.Type)).Msg("Created processing job")
	return nil
}

// GetJob retrieves a job by its ID
func (m *mongoDB) GetJob(ctx context.Context, id string) (*model.ProcessingJob, error) {
	var job model.ProcessingJob
	err := m.jobsCol.FindOne(ctx, bson.M{"_id": id}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrJobNotFound
		}
		log.Error().Err(err).Str("jobID", id).Msg("Failed to get processing job")
		return nil, err
	}

	return &job, nil
}

// UpdateJob applies a partial field update to a job record
func (m *mongoDB) UpdateJob(ctx context.Context, id string, fields map[string]interface{}) error {
	set := bson.M{}
	for k, v := range fields {
		set[k] = v
	}

	result, err := m.jobsCol.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		log.Error().Err(err).Str("jobID", id).Msg("Failed to update processing job")
		return err
	}

	if result.MatchedCount == 0 {
		return ErrJobNotFound
	}

	log.Debug().Str("jobID", id).Int("fields", len(fields)).Msg("Updated processing job")
	return nil
}

// ListJobsByDocument retrieves all jobs for a document, newest first
func (m *mongoDB) ListJobsByDocument(ctx context.Context, documentID string) ([]*model.ProcessingJob, error) {
	opts := options.Find().SetSort(bson.M{"created_at": -1})

	cursor, err := m.jobsCol.Find(ctx, bson.M{"document_id": documentID}, opts)
	if err != nil {
		log.Error().Err(err).Str("documentID", documentID).Msg("Failed to list jobs by document")
		return nil, err
	}
	defer cursor.Close(ctx)

	var jobs []*model.ProcessingJob
	if err := cursor.All(ctx, &jobs); err != nil {
		log.Error().Err(err).Msg("Failed to decode processing jobs")
		return nil, err
	}

	return jobs, nil
}

// ListJobsByStatus retrieves jobs by their status with pagination
func (m *mongoDB) ListJobsByStatus(ctx context.Context, status model.JobStatus, limit, offset int) ([]*model.ProcessingJob, error) {
	opts := options.Find().
		SetLimit(int64(limit)).
		SetSkip(int64(offset)).
		SetSort(bson.M{"created_at": -1})

	cursor, err := m.jobsCol.Find(ctx, bson.M{"status": status}, opts)
	if err != nil {
		log.Error().Err(err).Str("status", string(status)).Msg("Failed to list jobs by status")
		return nil, err
	}
	defer cursor.Close(ctx)

	var jobs []*model.ProcessingJob
	if err := cursor.All(ctx, &jobs); err != nil {
		log.Error().Err(err).Msg("Failed to decode processing jobs")
		return nil, err
	}

	return jobs, nil
}

// FindActiveJob returns a pending or running job of the given type for a
// document, or nil when none exists. Downstream chaining uses this to avoid
// creating duplicate jobs.
func (m *mongoDB) FindActiveJob(ctx context.Context, documentID string, jobType model.JobType) (*model.ProcessingJob, error) {
	filter := bson.M{
		"document_id": documentID,
		"type":        jobType,
		"status":      bson.M{"$in": []model.JobStatus{model.JobStatusPending, model.JobStatusRunning}},
	}

	var job model.ProcessingJob
	err := m.jobsCol.FindOne(ctx, filter).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		log.Error().Err(err).Str("documentID", documentID).Str("type", string(jobType)).Msg("Failed to find active job")
		return nil, err
	}

	return &job, nil
}

// DeleteTerminalJobsBefore removes completed, failed and cancelled jobs whose
// completion predates the cutoff.
func (m *mongoDB) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	filter := bson.M{
		"status": bson.M{"$in": []model.JobStatus{
			model.JobStatusCompleted, model.JobStatusFailed, model.JobStatusCancelled,
		}},
		"completed_at": bson.M{"$lt": cutoff},
	}

	result, err := m.jobsCol.DeleteMany(ctx, filter)
	if err != nil {
		log.Error().Err(err).Time("cutoff", cutoff).Msg("Failed to delete old processing jobs")
		return 0, err
	}

	log.Info().Int64("deleted", result.DeletedCount).Time("cutoff", cutoff).Msg("Deleted old processing jobs")
	return result.DeletedCount, nil
}
