package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"docflow/internal/database"
	"docflow/internal/model"
	"docflow/internal/processor"
	"docflow/internal/queue"
)

// fakeStore is an in-memory database.Store that applies the field updates
// the orchestrator issues, so follow-up reads see them.
type fakeStore struct {
	mu        sync.Mutex
	jobs      map[string]*model.ProcessingJob
	documents map[string]*model.Document

	deletedBefore []time.Time
	deleteCount   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:      make(map[string]*model.ProcessingJob),
		documents: make(map[string]*model.Document),
	}
}

func (s *fakeStore) Health(ctx context.Context) error { return nil }
func (s *fakeStore) Close(ctx context.Context) error  { return nil }

func (s *fakeStore) CreateJob(ctx context.Context, job *model.ProcessingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *fakeStore) GetJob(ctx context.Context, id string) (*model.ProcessingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, database.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *fakeStore) UpdateJob(ctx context.Context, id string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return database.ErrJobNotFound
	}

	for key, value := range fields {
		switch key {
		case "status":
			job.Status = value.(model.JobStatus)
		case "attempts":
			job.Attempts = value.(int)
		case "error_message":
			job.ErrorMessage = value.(string)
		case "error_category":
			job.ErrorCategory = value.(string)
		case "error_stack":
			job.ErrorStack = value.(string)
		case "started_at":
			t := value.(time.Time)
			job.StartedAt = &t
		case "completed_at":
			if value == nil {
				job.CompletedAt = nil
			} else {
				t := value.(time.Time)
				job.CompletedAt = &t
			}
		case "output_data":
			if value == nil {
				job.OutputData = nil
			} else {
				job.OutputData = value.(map[string]interface{})
			}
		}
	}
	return nil
}

func (s *fakeStore) ListJobsByDocument(ctx context.Context, documentID string) ([]*model.ProcessingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.ProcessingJob
	for _, job := range s.jobs {
		if job.DocumentID == documentID {
			copied := *job
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeStore) ListJobsByStatus(ctx context.Context, status model.JobStatus, limit, offset int) ([]*model.ProcessingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.ProcessingJob
	for _, job := range s.jobs {
		if job.Status == status {
			copied := *job
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeStore) FindActiveJob(ctx context.Context, documentID string, jobType model.JobType) (*model.ProcessingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.DocumentID == documentID && job.Type == jobType &&
			(job.Status == model.JobStatusPending || job.Status == model.JobStatusRunning) {
			copied := *job
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletedBefore = append(s.deletedBefore, cutoff)
	return s.deleteCount, nil
}

func (s *fakeStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, database.ErrDocumentNotFound
	}
	copied := *doc
	return &copied, nil
}

func (s *fakeStore) UpdateDocument(ctx context.Context, id string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return database.ErrDocumentNotFound
	}
	for key, value := range fields {
		switch key {
		case "processing_status":
			doc.ProcessingStatus = value.(model.ProcessingStatus)
		case "extracted_text":
			doc.ExtractedText = value.(string)
		}
	}
	return nil
}

func (s *fakeStore) jobByID(id string) *model.ProcessingJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

func (s *fakeStore) jobsOfType(jobType model.JobType) []*model.ProcessingJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.ProcessingJob
	for _, job := range s.jobs {
		if job.Type == jobType {
			out = append(out, job)
		}
	}
	return out
}

type addedEntry struct {
	kind    string
	payload []byte
	opts    queue.AddOptions
}

// fakeQueue is an in-memory queue.Queue recording the orchestrator's calls.
type fakeQueue struct {
	mu      sync.Mutex
	name    string
	added   []addedEntry
	jobs    map[string]*queue.Job
	waiting []string
	delayed []string
	removed []string
	paused  bool
	pauses  int
	resumes int

	counts   model.QueueCounts
	cleaned  map[queue.JobState]int64
	cleanErr error
}

func newFakeQueue(name string) *fakeQueue {
	return &fakeQueue{
		name:    name,
		jobs:    make(map[string]*queue.Job),
		cleaned: make(map[queue.JobState]int64),
	}
}

func (q *fakeQueue) Name() string { return q.name }

func (q *fakeQueue) Add(ctx context.Context, kind string, payload []byte, opts queue.AddOptions) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.added = append(q.added, addedEntry{kind: kind, payload: payload, opts: opts})
	q.jobs[opts.JobID] = &queue.Job{
		ID:          opts.JobID,
		Kind:        kind,
		Payload:     payload,
		Priority:    opts.Priority,
		MaxAttempts: opts.MaxAttempts,
		State:       queue.StateWaiting,
	}
	q.waiting = append(q.waiting, opts.JobID)
	return opts.JobID, nil
}

func (q *fakeQueue) GetJob(ctx context.Context, id string) (*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, queue.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (q *fakeQueue) GetWaiting(ctx context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.waiting...), nil
}

func (q *fakeQueue) GetDelayed(ctx context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.delayed...), nil
}

func (q *fakeQueue) Remove(ctx context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	found := false
	for i, w := range q.waiting {
		if w == id {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		for i, d := range q.delayed {
			if d == id {
				q.delayed = append(q.delayed[:i], q.delayed[i+1:]...)
				found = true
				break
			}
		}
	}
	if found {
		q.removed = append(q.removed, id)
		delete(q.jobs, id)
	}
	return found, nil
}

func (q *fakeQueue) Pause(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
	q.pauses++
	return nil
}

func (q *fakeQueue) Resume(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = false
	q.resumes++
	return nil
}

func (q *fakeQueue) IsPaused(ctx context.Context) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused, nil
}

func (q *fakeQueue) Counts(ctx context.Context) (model.QueueCounts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.counts, nil
}

func (q *fakeQueue) Clean(ctx context.Context, maxAge time.Duration, limit int64, state queue.JobState) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cleanErr != nil {
		return 0, q.cleanErr
	}
	return q.cleaned[state], nil
}

// fakeEmitter records lifecycle events in order.
type fakeEmitter struct {
	mu     sync.Mutex
	events []string
}

func (e *fakeEmitter) add(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *fakeEmitter) JobStarted(job *model.ProcessingJob) {
	e.add("started:" + job.ID)
}

func (e *fakeEmitter) JobProgress(job *model.ProcessingJob, progress int) {
	e.add(fmt.Sprintf("progress:%s:%d", job.ID, progress))
}

func (e *fakeEmitter) JobCompleted(job *model.ProcessingJob, output map[string]interface{}) {
	e.add("completed:" + job.ID)
}

func (e *fakeEmitter) JobFailed(job *model.ProcessingJob, errMessage string) {
	e.add("failed:" + job.ID)
}

func (e *fakeEmitter) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

// fakeProcessor returns a canned result or error.
type fakeProcessor struct {
	name   string
	output map[string]interface{}
	err    error
	calls  int
}

func (p *fakeProcessor) Name() string { return p.name }

func (p *fakeProcessor) Process(ctx context.Context, job *model.ProcessingJob, progress processor.ProgressFunc) (map[string]interface{}, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	progress(50)
	return p.output, nil
}
