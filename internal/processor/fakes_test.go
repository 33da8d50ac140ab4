package processor

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"docflow/internal/aws"
	"docflow/internal/database"
	"docflow/internal/model"
)

// fakeStore is an in-memory database.Store for processor tests.
type fakeStore struct {
	mu        sync.Mutex
	jobs      map[string]*model.ProcessingJob
	documents map[string]*model.Document

	jobUpdates map[string][]map[string]interface{}
	docUpdates map[string][]map[string]interface{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:       make(map[string]*model.ProcessingJob),
		documents:  make(map[string]*model.Document),
		jobUpdates: make(map[string][]map[string]interface{}),
		docUpdates: make(map[string][]map[string]interface{}),
	}
}

func (s *fakeStore) Health(ctx context.Context) error { return nil }
func (s *fakeStore) Close(ctx context.Context) error  { return nil }

func (s *fakeStore) CreateJob(ctx context.Context, job *model.ProcessingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
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
	s.jobUpdates[id] = append(s.jobUpdates[id], fields)
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
	return 0, nil
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
	s.docUpdates[id] = append(s.docUpdates[id], fields)
	return nil
}

// lastDocUpdate returns the most recent field update applied to a document.
func (s *fakeStore) lastDocUpdate(id string) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	updates := s.docUpdates[id]
	if len(updates) == 0 {
		return nil
	}
	return updates[len(updates)-1]
}

// fakeObjects is an in-memory aws.ObjectStore.
type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte)}
}

func (f *fakeObjects) Bucket() string { return "test-bucket" }

func (f *fakeObjects) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	data, err := f.GetObjectBytes(ctx, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeObjects) GetObjectBytes(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, aws.ErrObjectNotFound
	}
	return data, nil
}

func (f *fakeObjects) UploadBuffer(ctx context.Context, key string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeObjects) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[srcKey]
	if !ok {
		return aws.ErrObjectNotFound
	}
	f.objects[dstKey] = data
	return nil
}

func (f *fakeObjects) DeleteObject(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeObjects) HeadObject(ctx context.Context, key string) (*aws.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, aws.ErrObjectNotFound
	}
	return &aws.ObjectInfo{Key: key, SizeBytes: int64(len(data))}, nil
}

func (f *fakeObjects) GetPresignedUploadURL(ctx context.Context, key, contentType string) (string, error) {
	return "https://example.com/upload/" + key, nil
}

func (f *fakeObjects) GetPresignedDownloadURL(ctx context.Context, key string) (string, error) {
	return "https://example.com/download/" + key, nil
}

func (f *fakeObjects) TestConnection(ctx context.Context) error { return nil }

// progressRecorder captures reported percentages for monotonicity checks.
type progressRecorder struct {
	mu   sync.Mutex
	pcts []int
}

func (r *progressRecorder) record(pct int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pcts = append(r.pcts, pct)
}

func (r *progressRecorder) monotonic() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 1; i < len(r.pcts); i++ {
		if r.pcts[i] < r.pcts[i-1] {
			return false
		}
	}
	return true
}
