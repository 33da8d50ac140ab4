package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"docflow/internal/config"
	"docflow/internal/database"
	"docflow/internal/events"
	"docflow/internal/faults"
	"docflow/internal/model"
	"docflow/internal/queue"
)

// Policy violations surfaced to callers; the HTTP layer maps these to
// conflict or bad-request responses.
var (
	ErrJobNotRetryable   = errors.New("job not retryable")
	ErrJobNotCancellable = errors.New("job not cancellable")
	ErrUnknownQueue      = errors.New("unknown queue")
)

// JobStatus combines the durable record with the queue backend's view.
type JobStatus struct {
	Record        *model.ProcessingJob `json:"record"`
	QueueState    queue.JobState       `json:"queueState,omitempty"`
	QueueAttempts int                  `json:"queueAttempts,omitempty"`
}

// Service routes jobs onto queues, executes them through registered
// processors, and exposes the operational surface. The store is the source
// of truth for user-visible state; the queues only carry delivery.
type Service struct {
	store    database.Store
	registry *Registry
	emitter  events.Emitter

	queues     map[string]queue.Queue
	queueCfgs  map[string]config.QueueConfig
	queueOrder []string
	legacy     queue.Queue
}

func NewService(store database.Store, registry *Registry, emitter events.Emitter) *Service {
	return &Service{
		store:     store,
		registry:  registry,
		emitter:   emitter,
		queues:    make(map[string]queue.Queue),
		queueCfgs: make(map[string]config.QueueConfig),
	}
}

// AttachQueue binds a named queue and its delivery constraints. Stats and
// cleanup iterate queues in attachment order.
func (s *Service) AttachQueue(q queue.Queue, cfg config.QueueConfig) {
	s.queues[q.Name()] = q
	s.queueCfgs[q.Name()] = cfg
	s.queueOrder = append(s.queueOrder, q.Name())
}

// AttachLegacyQueue binds the fallback queue kept from the old
// single-queue deployment. Status lookups and cancellation consult it when
// the primary queue has no entry.
func (s *Service) AttachLegacyQueue(q queue.Queue) {
	s.legacy = q
}

// AddJob creates the durable record, enqueues it, and marks the document
// pending. The record id doubles as the queue job id. An active job of the
// same type for the document is returned as-is instead of creating a
// duplicate.
func (s *Service) AddJob(ctx context.Context, documentID, organizationID string, jobType model.JobType, params map[string]interface{}) (*model.AddJobResult, error) {
	queueName, err := QueueFor(jobType)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}
	q, ok := s.queues[queueName]
	if !ok {
		return nil, fmt.Errorf("queue %q is not attached", queueName)
	}

	if existing, err := s.store.FindActiveJob(ctx, documentID, jobType); err != nil {
		return nil, fmt.Errorf("check active jobs for document %s: %w", documentID, err)
	} else if existing != nil {
		log.Debug().
			Str("jobID", existing.ID).
			Str("documentID", documentID).
			Str("type", string(jobType)).
			Msg("Reusing active job instead of duplicating")
		return &model.AddJobResult{JobID: existing.ID, QueueJobID: existing.ID, QueueName: queueName}, nil
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", documentID, err)
	}
	if organizationID == "" {
		organizationID = doc.OrganizationID
	}

	cfg := s.queueCfgs[queueName]
	job := &model.ProcessingJob{
		ID:             uuid.NewString(),
		DocumentID:     documentID,
		OrganizationID: organizationID,
		Type:           jobType,
		Status:         model.JobStatusPending,
		MaxAttempts:    cfg.MaxAttempts,
		InputParams:    params,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job record: %w", err)
	}

	payload, err := json.Marshal(model.JobPayload{
		JobID:          job.ID,
		DocumentID:     documentID,
		OrganizationID: organizationID,
		S3Key:          doc.S3Key,
		Type:           jobType,
		Options:        params,
	})
	if err != nil {
		return nil, fmt.Errorf("encode job payload: %w", err)
	}

	queueJobID, err := q.Add(ctx, KindFor(jobType), payload, queue.AddOptions{
		JobID:       job.ID,
		Priority:    PriorityFor(jobType),
		MaxAttempts: cfg.MaxAttempts,
	})
	if err != nil {
		if uerr := s.store.UpdateJob(ctx, job.ID, map[string]interface{}{
			"status":        model.JobStatusFailed,
			"error_message": "enqueue failed: " + err.Error(),
			"completed_at":  time.Now().UTC(),
		}); uerr != nil {
			log.Error().Err(uerr).Str("jobID", job.ID).Msg("Failed to mark unenqueued job failed")
		}
		return nil, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}

	if derr := s.store.UpdateDocument(ctx, documentID, map[string]interface{}{
		"processing_status": model.ProcessingPending,
	}); derr != nil {
		log.Warn().Err(derr).Str("documentID", documentID).Msg("Failed to mark document pending")
	}

	log.Info().
		Str("jobID", job.ID).
		Str("documentID", documentID).
		Str("type", string(jobType)).
		Str("queue", queueName).
		Msg("Job accepted")

	return &model.AddJobResult{JobID: job.ID, QueueJobID: queueJobID, QueueName: queueName}, nil
}

// Handler returns the queue handler every worker pool runs. One handler
// serves all queues; the registry resolves the processor per job type.
func (s *Service) Handler() queue.Handler {
	return s.handleQueueJob
}

func (s *Service) handleQueueJob(ctx context.Context, qjob *queue.Job) error {
	var payload model.JobPayload
	if err := json.Unmarshal(qjob.Payload, &payload); err != nil {
		return faults.Permanentf("malformed job payload: %v", err)
	}

	record, err := s.store.GetJob(ctx, payload.JobID)
	if err != nil {
		if errors.Is(err, database.ErrJobNotFound) {
			return faults.Permanentf("job record %s does not exist", payload.JobID)
		}
		return fmt.Errorf("load job record %s: %w", payload.JobID, err)
	}

	// At-least-once delivery: a cancelled or already-finished record means
	// this delivery is a leftover, not work.
	if record.Status.IsTerminal() {
		log.Warn().
			Str("jobID", record.ID).
			Str("status", string(record.Status)).
			Msg("Dropping delivery for terminal job")
		return nil
	}

	// Manual retries pre-increment the record; automatic redeliveries
	// advance the queue counter. Whichever is ahead wins.
	attempts := record.Attempts
	if qa := qjob.Attempts + 1; qa > attempts {
		attempts = qa
	}

	now := time.Now().UTC()
	if err := s.store.UpdateJob(ctx, record.ID, map[string]interface{}{
		"status":     model.JobStatusRunning,
		"started_at": now,
		"attempts":   attempts,
	}); err != nil {
		return fmt.Errorf("mark job %s running: %w", record.ID, err)
	}
	record.Status = model.JobStatusRunning
	record.StartedAt = &now
	record.Attempts = attempts

	s.emitter.JobStarted(record)

	proc, ok := s.registry.Get(record.Type)
	if !ok {
		err := faults.Permanentf("no processor registered for job type %q", record.Type)
		s.recordFailure(ctx, record, qjob, err)
		return err
	}

	progress := func(pct int) { s.emitter.JobProgress(record, pct) }

	output, err := proc.Process(ctx, record, progress)
	if err != nil {
		s.recordFailure(ctx, record, qjob, err)
		return err
	}

	if err := s.store.UpdateJob(ctx, record.ID, map[string]interface{}{
		"status":         model.JobStatusCompleted,
		"completed_at":   time.Now().UTC(),
		"output_data":    output,
		"error_message":  "",
		"error_category": "",
	}); err != nil {
		return fmt.Errorf("mark job %s completed: %w", record.ID, err)
	}
	record.Status = model.JobStatusCompleted
	record.OutputData = output

	s.emitter.JobProgress(record, 100)
	s.emitter.JobCompleted(record, output)

	s.chainDownstream(ctx, record)

	return nil
}

// recordFailure persists the classified failure. Retryable failures put the
// record back to pending for the queue's next delivery; permanent failures
// and exhausted attempts are terminal and surface on the document.
func (s *Service) recordFailure(ctx context.Context, record *model.ProcessingJob, qjob *queue.Job, err error) {
	ce := faults.Classify(err)

	exhausted := ce.Category != faults.RateLimited &&
		ce.Category != faults.Permanent &&
		record.Attempts >= qjob.MaxAttempts
	terminal := ce.Category == faults.Permanent || exhausted

	fields := map[string]interface{}{
		"error_message":  ce.Message,
		"error_category": string(ce.Category),
	}
	if terminal {
		fields["status"] = model.JobStatusFailed
		fields["completed_at"] = time.Now().UTC()
	} else {
		fields["status"] = model.JobStatusPending
	}

	if uerr := s.store.UpdateJob(ctx, record.ID, fields); uerr != nil {
		log.Error().Err(uerr).Str("jobID", record.ID).Msg("Failed to persist job failure")
	}

	if terminal {
		if derr := s.store.UpdateDocument(ctx, record.DocumentID, map[string]interface{}{
			"processing_status": model.ProcessingFailed,
		}); derr != nil {
			log.Error().Err(derr).Str("documentID", record.DocumentID).Msg("Failed to mark document failed")
		}
		record.Status = model.JobStatusFailed
		s.emitter.JobFailed(record, ce.Message)
	}

	log.Error().
		Str("jobID", record.ID).
		Str("type", string(record.Type)).
		Str("category", string(ce.Category)).
		Int("attempts", record.Attempts).
		Bool("terminal", terminal).
		Str("error", ce.Message).
		Msg("Job processing failed")
}

// GetJobStatus returns the durable record plus the queue backend's view,
// falling back to the legacy queue when the primary has no entry.
func (s *Service) GetJobStatus(ctx context.Context, id string) (*JobStatus, error) {
	record, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	status := &JobStatus{Record: record}

	queueName, err := QueueFor(record.Type)
	if err == nil {
		if q, ok := s.queues[queueName]; ok {
			if qjob, qerr := q.GetJob(ctx, id); qerr == nil {
				status.QueueState = qjob.State
				status.QueueAttempts = qjob.Attempts
				return status, nil
			}
		}
	}

	if s.legacy != nil {
		if qjob, qerr := s.legacy.GetJob(ctx, id); qerr == nil {
			status.QueueState = qjob.State
			status.QueueAttempts = qjob.Attempts
		}
	}

	return status, nil
}

// RetryJob re-enqueues a failed job under its original id. Only failed jobs
// with attempts left qualify; error fields are cleared and the document goes
// back to pending.
func (s *Service) RetryJob(ctx context.Context, id string) (*model.AddJobResult, error) {
	record, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	if record.Status != model.JobStatusFailed {
		return nil, fmt.Errorf("%w: job %s is %s, only failed jobs can be retried", ErrJobNotRetryable, id, record.Status)
	}
	if record.Attempts >= record.MaxAttempts {
		return nil, fmt.Errorf("%w: job %s has used all %d attempts", ErrJobNotRetryable, id, record.MaxAttempts)
	}

	queueName, err := QueueFor(record.Type)
	if err != nil {
		return nil, err
	}
	q, ok := s.queues[queueName]
	if !ok {
		return nil, fmt.Errorf("queue %q is not attached", queueName)
	}

	doc, err := s.store.GetDocument(ctx, record.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", record.DocumentID, err)
	}

	if err := s.store.UpdateJob(ctx, record.ID, map[string]interface{}{
		"status":         model.JobStatusPending,
		"attempts":       record.Attempts + 1,
		"error_message":  "",
		"error_category": "",
		"error_stack":    "",
		"completed_at":   nil,
	}); err != nil {
		return nil, fmt.Errorf("reset job %s: %w", id, err)
	}

	if err := s.store.UpdateDocument(ctx, record.DocumentID, map[string]interface{}{
		"processing_status": model.ProcessingPending,
	}); err != nil {
		log.Warn().Err(err).Str("documentID", record.DocumentID).Msg("Failed to reset document status for retry")
	}

	payload, err := json.Marshal(model.JobPayload{
		JobID:          record.ID,
		DocumentID:     record.DocumentID,
		OrganizationID: record.OrganizationID,
		S3Key:          doc.S3Key,
		Type:           record.Type,
		Options:        record.InputParams,
	})
	if err != nil {
		return nil, fmt.Errorf("encode job payload: %w", err)
	}

	queueJobID, err := q.Add(ctx, KindFor(record.Type), payload, queue.AddOptions{
		JobID:       record.ID,
		Priority:    PriorityFor(record.Type),
		MaxAttempts: record.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("re-enqueue job %s: %w", id, err)
	}

	log.Info().Str("jobID", record.ID).Int("attempts", record.Attempts+1).Msg("Job retried")

	return &model.AddJobResult{JobID: record.ID, QueueJobID: queueJobID, QueueName: queueName}, nil
}

// CancelJob cancels a pending job. Queue removal is advisory: if a worker
// claimed the job between the status check and the removal, the record still
// flips to cancelled and the handler drops the leftover delivery.
func (s *Service) CancelJob(ctx context.Context, id string) error {
	record, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}

	if record.Status != model.JobStatusPending {
		return fmt.Errorf("%w: job %s is %s, only pending jobs can be cancelled", ErrJobNotCancellable, id, record.Status)
	}

	if queueName, qerr := QueueFor(record.Type); qerr == nil {
		if q, ok := s.queues[queueName]; ok {
			if removed, rerr := q.Remove(ctx, id); rerr != nil {
				log.Warn().Err(rerr).Str("jobID", id).Msg("Primary queue removal failed")
			} else if !removed {
				log.Debug().Str("jobID", id).Msg("Job not waiting in primary queue")
			}
		}
	}
	if s.legacy != nil {
		if _, rerr := s.legacy.Remove(ctx, id); rerr != nil {
			log.Warn().Err(rerr).Str("jobID", id).Msg("Legacy queue removal failed")
		}
	}

	if err := s.store.UpdateJob(ctx, id, map[string]interface{}{
		"status":       model.JobStatusCancelled,
		"completed_at": time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("mark job %s cancelled: %w", id, err)
	}

	log.Info().Str("jobID", id).Msg("Job cancelled")
	return nil
}

// GetQueueStats aggregates counts across every attached queue.
func (s *Service) GetQueueStats(ctx context.Context) (*model.PipelineStats, error) {
	stats := &model.PipelineStats{}

	for _, name := range s.queueOrder {
		counts, err := s.queues[name].Counts(ctx)
		if err != nil {
			return nil, fmt.Errorf("counts for queue %q: %w", name, err)
		}
		stats.Queues = append(stats.Queues, model.QueueStats{Name: name, Counts: counts})

		stats.Totals.Waiting += counts.Waiting
		stats.Totals.Active += counts.Active
		stats.Totals.Completed += counts.Completed
		stats.Totals.Failed += counts.Failed
		stats.Totals.Delayed += counts.Delayed
	}

	return stats, nil
}

// GetQueueStatsByName returns one queue's counters.
func (s *Service) GetQueueStatsByName(ctx context.Context, name string) (*model.QueueStats, error) {
	q, ok := s.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownQueue, name)
	}

	counts, err := q.Counts(ctx)
	if err != nil {
		return nil, err
	}
	return &model.QueueStats{Name: name, Counts: counts}, nil
}

// PauseQueue stops new pickups on a queue; running jobs finish normally.
func (s *Service) PauseQueue(ctx context.Context, name string) error {
	q, ok := s.queues[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownQueue, name)
	}
	return q.Pause(ctx)
}

// ResumeQueue re-enables pickups.
func (s *Service) ResumeQueue(ctx context.Context, name string) error {
	q, ok := s.queues[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownQueue, name)
	}
	return q.Resume(ctx)
}

// DrainQueue pauses a queue, removes every waiting and delayed job, then
// resumes. Individual removal failures are tolerated; a job that started
// between enumeration and removal simply is not counted.
func (s *Service) DrainQueue(ctx context.Context, name string) (int, error) {
	q, ok := s.queues[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownQueue, name)
	}

	if err := q.Pause(ctx); err != nil {
		return 0, fmt.Errorf("pause queue %q: %w", name, err)
	}
	defer func() {
		if err := q.Resume(ctx); err != nil {
			log.Error().Err(err).Str("queue", name).Msg("Failed to resume queue after drain")
		}
	}()

	var ids []string
	waiting, err := q.GetWaiting(ctx)
	if err != nil {
		return 0, fmt.Errorf("list waiting jobs: %w", err)
	}
	ids = append(ids, waiting...)

	delayed, err := q.GetDelayed(ctx)
	if err != nil {
		return 0, fmt.Errorf("list delayed jobs: %w", err)
	}
	ids = append(ids, delayed...)

	removed := 0
	for _, id := range ids {
		ok, rerr := q.Remove(ctx, id)
		if rerr != nil {
			log.Warn().Err(rerr).Str("queue", name).Str("jobID", id).Msg("Drain removal failed")
			continue
		}
		if ok {
			removed++
		}
	}

	log.Info().Str("queue", name).Int("removed", removed).Int("seen", len(ids)).Msg("Queue drained")
	return removed, nil
}

// cleanBatchLimit bounds one queue-state pruning pass.
const cleanBatchLimit = 1000

// CleanOldJobs deletes terminal store records older than the cutoff and
// prunes completed/failed queue entries of the same age. Queue-level errors
// are collected in the report rather than aborting the sweep.
func (s *Service) CleanOldJobs(ctx context.Context, olderThanDays int) (*model.CleanupReport, error) {
	if olderThanDays <= 0 {
		return nil, fmt.Errorf("invalid retention: %d days", olderThanDays)
	}

	maxAge := time.Duration(olderThanDays) * 24 * time.Hour
	cutoff := time.Now().Add(-maxAge)

	report := &model.CleanupReport{PrunedByQueue: make(map[string]int64)}

	deleted, err := s.store.DeleteTerminalJobsBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("delete terminal job records: %w", err)
	}
	report.DeletedRecords = deleted

	for _, name := range s.queueOrder {
		q := s.queues[name]
		for _, state := range []queue.JobState{queue.StateCompleted, queue.StateFailed} {
			pruned, err := q.Clean(ctx, maxAge, cleanBatchLimit, state)
			if err != nil {
				report.QueueErrors = append(report.QueueErrors,
					fmt.Sprintf("queue %s (%s): %v", name, state, err))
				continue
			}
			report.PrunedByQueue[name] += pruned
		}
	}

	log.Info().
		Int64("deletedRecords", report.DeletedRecords).
		Int("queueErrors", len(report.QueueErrors)).
		Msg("Retention sweep finished")

	return report, nil
}

// GetJobsByDocument lists every job for a document, newest first.
func (s *Service) GetJobsByDocument(ctx context.Context, documentID string) ([]*model.ProcessingJob, error) {
	return s.store.ListJobsByDocument(ctx, documentID)
}

// GetFailedJobs pages through failed job records for operator inspection.
func (s *Service) GetFailedJobs(ctx context.Context, limit, offset int) ([]*model.ProcessingJob, error) {
	return s.store.ListJobsByStatus(ctx, model.JobStatusFailed, limit, offset)
}
