// Package queue implements the distributed job queue backend on Redis.
// Each named queue gets its own waiting/delayed/active/completed/failed
// structures plus a paused marker and a fixed-window rate counter, so
// per-queue concurrency and rate limits are enforced independently.
package queue

import (
	"context"
	"errors"
	"time"

	"docflow/internal/model"
)

// JobState mirrors the queue-side lifecycle, distinct from the store-side
// job status (the store is the source of truth for user-visible state).
type JobState string

const (
	StateWaiting   JobState = "waiting"
	StateDelayed   JobState = "delayed"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

// ErrJobNotFound is returned when the queue holds no job for an id.
var ErrJobNotFound = errors.New("queue job not found")

// Job is the queue backend's view of one unit of work.
type Job struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Payload     []byte    `json:"payload"`
	Priority    int       `json:"priority"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"maxAttempts"`
	State       JobState  `json:"state"`
	LastError   string    `json:"lastError,omitempty"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
}

// AddOptions controls how a job enters the queue. JobID lets the caller
// reuse the durable store id as the queue-native identity.
type AddOptions struct {
	JobID       string
	Priority    int
	Delay       time.Duration
	MaxAttempts int
}

// Queue is one named delivery channel. The orchestrator consumes this
// interface; the Redis implementation lives alongside, and tests inject
// in-memory fakes.
type Queue interface {
	Name() string

	Add(ctx context.Context, kind string, payload []byte, opts AddOptions) (string, error)
	GetJob(ctx context.Context, id string) (*Job, error)
	GetWaiting(ctx context.Context) ([]string, error)
	GetDelayed(ctx context.Context) ([]string, error)
	Remove(ctx context.Context, id string) (bool, error)

	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	IsPaused(ctx context.Context) (bool, error)

	Counts(ctx context.Context) (model.QueueCounts, error)
	Clean(ctx context.Context, maxAge time.Duration, limit int64, state JobState) (int64, error)
}

// priorityShift packs (priority, sequence) into one sortable float score:
// lower priority value sorts first, insertion order breaks ties. 2^40
// sequence values keep the packed score well inside float64's exact-integer
// range for any realistic priority.
const priorityShift = int64(1) << 40

func packScore(priority int, seq int64) float64 {
	return float64(int64(priority)*priorityShift + seq)
}

// retryBackoff is the delay before attempt n+1 after n failed attempts:
// base * 2^(n-1), matching the queue's exponential policy for transient
// failures.
func retryBackoff(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}
