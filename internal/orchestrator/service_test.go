package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docflow/internal/config"
	"docflow/internal/model"
	"docflow/internal/queue"
)

type serviceFixture struct {
	service *Service
	store   *fakeStore
	emitter *fakeEmitter
	queues  map[string]*fakeQueue
	legacy  *fakeQueue
}

func newServiceFixture() *serviceFixture {
	store := newFakeStore()
	store.documents["doc-1"] = &model.Document{
		ID:             "doc-1",
		OrganizationID: "org-1",
		S3Key:          "org-1/documents/doc-1",
		MimeType:       "application/pdf",
	}

	emitter := &fakeEmitter{}
	service := NewService(store, NewRegistry(), emitter)

	queues := make(map[string]*fakeQueue)
	for _, name := range []string{QueueOCR, QueueThumbnail, QueueEmbedding, QueueAIClassify, QueuePDF} {
		fq := newFakeQueue(name)
		queues[name] = fq
		service.AttachQueue(fq, config.QueueConfig{Name: name, MaxAttempts: 3, BackoffBaseMs: 2000})
	}

	legacy := newFakeQueue("document-processing")
	service.AttachLegacyQueue(legacy)

	return &serviceFixture{service: service, store: store, emitter: emitter, queues: queues, legacy: legacy}
}

func TestAddJob_CreatesRecordAndEnqueues(t *testing.T) {
	fx := newServiceFixture()

	result, err := fx.service.AddJob(context.Background(), "doc-1", "org-1", model.JobTypeOCR, map[string]interface{}{"forceAsync": true})
	require.NoError(t, err)

	assert.Equal(t, QueueOCR, result.QueueName)
	assert.Equal(t, result.JobID, result.QueueJobID)

	record := fx.store.jobByID(result.JobID)
	require.NotNil(t, record)
	assert.Equal(t, model.JobStatusPending, record.Status)
	assert.Equal(t, 3, record.MaxAttempts)
	assert.Equal(t, 0, record.Attempts)

	doc, err := fx.store.GetDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.ProcessingPending, doc.ProcessingStatus)

	oq := fx.queues[QueueOCR]
	require.Len(t, oq.added, 1)
	assert.Equal(t, "ocr-document", oq.added[0].kind)
	assert.Equal(t, result.JobID, oq.added[0].opts.JobID)
	assert.Equal(t, PriorityNormal, oq.added[0].opts.Priority)

	var payload model.JobPayload
	require.NoError(t, json.Unmarshal(oq.added[0].payload, &payload))
	assert.Equal(t, result.JobID, payload.JobID)
	assert.Equal(t, "org-1/documents/doc-1", payload.S3Key)
	assert.Equal(t, true, payload.Options["forceAsync"])
}

func TestAddJob_ReusesActiveJob(t *testing.T) {
	fx := newServiceFixture()

	first, err := fx.service.AddJob(context.Background(), "doc-1", "org-1", model.JobTypeEmbedding, nil)
	require.NoError(t, err)

	second, err := fx.service.AddJob(context.Background(), "doc-1", "org-1", model.JobTypeEmbedding, nil)
	require.NoError(t, err)

	assert.Equal(t, first.JobID, second.JobID)
	assert.Len(t, fx.queues[QueueEmbedding].added, 1)
}

func TestAddJob_UnknownTypeAndMissingDocument(t *testing.T) {
	fx := newServiceFixture()

	_, err := fx.service.AddJob(context.Background(), "doc-1", "org-1", model.JobType("carve-stone-tablet"), nil)
	assert.ErrorIs(t, err, ErrUnknownJobType)

	_, err = fx.service.AddJob(context.Background(), "doc-missing", "org-1", model.JobTypeOCR, nil)
	assert.Error(t, err)
}

func TestAddJob_RoutesPDFOperationsToSharedQueue(t *testing.T) {
	fx := newServiceFixture()

	docs := []string{"doc-a", "doc-b", "doc-c"}
	types := []model.JobType{model.JobTypePDFSplit, model.JobTypePDFWatermark, model.JobTypePDFMetadata}
	for i, jobType := range types {
		fx.store.documents[docs[i]] = &model.Document{ID: docs[i], OrganizationID: "org-1", S3Key: "k"}
		result, err := fx.service.AddJob(context.Background(), docs[i], "org-1", jobType, map[string]interface{}{"text": "x", "pages": "1"})
		require.NoError(t, err)
		assert.Equal(t, QueuePDF, result.QueueName)
	}

	assert.Len(t, fx.queues[QueuePDF].added, 3)
}

func TestHandler_SuccessPath(t *testing.T) {
	fx := newServiceFixture()
	proc := &fakeProcessor{name: "thumbnail", output: map[string]interface{}{"thumbnailKey": "k"}}
	fx.service.registry.Register(proc, model.JobTypeThumbnail)

	result, err := fx.service.AddJob(context.Background(), "doc-1", "org-1", model.JobTypeThumbnail, nil)
	require.NoError(t, err)

	qjob, err := fx.queues[QueueThumbnail].GetJob(context.Background(), result.JobID)
	require.NoError(t, err)

	require.NoError(t, fx.service.Handler()(context.Background(), qjob))

	record := fx.store.jobByID(result.JobID)
	assert.Equal(t, model.JobStatusCompleted, record.Status)
	assert.Equal(t, 1, record.Attempts)
	assert.NotNil(t, record.StartedAt)
	assert.NotNil(t, record.CompletedAt)
	assert.Equal(t, "k", record.OutputData["thumbnailKey"])

	events := fx.emitter.all()
	assert.Contains(t, events, "started:"+result.JobID)
	assert.Contains(t, events, "progress:"+result.JobID+":100")
	assert.Contains(t, events, "completed:"+result.JobID)
}

func TestHandler_PermanentFailureMarksDocumentFailed(t *testing.T) {
	fx := newServiceFixture()
	proc := &fakeProcessor{name: "thumbnail", err: errors.New("unsupported or corrupt image")}
	fx.service.registry.Register(proc, model.JobTypeThumbnail)

	result, err := fx.service.AddJob(context.Background(), "doc-1", "org-1", model.JobTypeThumbnail, nil)
	require.NoError(t, err)

	qjob, _ := fx.queues[QueueThumbnail].GetJob(context.Background(), result.JobID)
	require.Error(t, fx.service.Handler()(context.Background(), qjob))

	record := fx.store.jobByID(result.JobID)
	assert.Equal(t, model.JobStatusFailed, record.Status)
	assert.Equal(t, "permanent", record.ErrorCategory)
	assert.NotNil(t, record.CompletedAt)

	doc, _ := fx.store.GetDocument(context.Background(), "doc-1")
	assert.Equal(t, model.ProcessingFailed, doc.ProcessingStatus)
	assert.Contains(t, fx.emitter.all(), "failed:"+result.JobID)
}

func TestHandler_TransientFailureStaysPending(t *testing.T) {
	fx := newServiceFixture()
	proc := &fakeProcessor{name: "ocr", err: errors.New("connection reset by peer")}
	fx.service.registry.Register(proc, model.JobTypeOCR)

	result, err := fx.service.AddJob(context.Background(), "doc-1", "org-1", model.JobTypeOCR, nil)
	require.NoError(t, err)

	qjob, _ := fx.queues[QueueOCR].GetJob(context.Background(), result.JobID)
	require.Error(t, fx.service.Handler()(context.Background(), qjob))

	record := fx.store.jobByID(result.JobID)
	assert.Equal(t, model.JobStatusPending, record.Status)
	assert.Equal(t, "transient", record.ErrorCategory)
	assert.Equal(t, 1, record.Attempts)
	assert.Nil(t, record.CompletedAt)

	// The document stays untouched until attempts run out.
	doc, _ := fx.store.GetDocument(context.Background(), "doc-1")
	assert.NotEqual(t, model.ProcessingFailed, doc.ProcessingStatus)
}

func TestHandler_TransientFailureExhaustsAttempts(t *testing.T) {
	fx := newServiceFixture()
	proc := &fakeProcessor{name: "ocr", err: errors.New("request timeout")}
	fx.service.registry.Register(proc, model.JobTypeOCR)

	result, err := fx.service.AddJob(context.Background(), "doc-1", "org-1", model.JobTypeOCR, nil)
	require.NoError(t, err)

	qjob, _ := fx.queues[QueueOCR].GetJob(context.Background(), result.JobID)
	qjob.Attempts = 2 // two deliveries already failed; this is the third and last

	require.Error(t, fx.service.Handler()(context.Background(), qjob))

	record := fx.store.jobByID(result.JobID)
	assert.Equal(t, model.JobStatusFailed, record.Status)
	assert.Equal(t, 3, record.Attempts)

	doc, _ := fx.store.GetDocument(context.Background(), "doc-1")
	assert.Equal(t, model.ProcessingFailed, doc.ProcessingStatus)
}

func TestHandler_DropsTerminalDelivery(t *testing.T) {
	fx := newServiceFixture()
	proc := &fakeProcessor{name: "ocr", output: map[string]interface{}{}}
	fx.service.registry.Register(proc, model.JobTypeOCR)

	result, err := fx.service.AddJob(context.Background(), "doc-1", "org-1", model.JobTypeOCR, nil)
	require.NoError(t, err)
	qjob, _ := fx.queues[QueueOCR].GetJob(context.Background(), result.JobID)

	require.NoError(t, fx.store.UpdateJob(context.Background(), result.JobID, map[string]interface{}{
		"status": model.JobStatusCancelled,
	}))

	require.NoError(t, fx.service.Handler()(context.Background(), qjob))
	assert.Equal(t, 0, proc.calls)
}

func TestChaining_AfterOCRWithText(t *testing.T) {
	fx := newServiceFixture()
	proc := &fakeProcessor{name: "ocr", output: map[string]interface{}{"characterCount": 12}}
	fx.service.registry.Register(proc, model.JobTypeOCR)

	result, err := fx.service.AddJob(context.Background(), "doc-1", "org-1", model.JobTypeOCR, nil)
	require.NoError(t, err)

	// Simulate the processor having persisted extracted text.
	require.NoError(t, fx.store.UpdateDocument(context.Background(), "doc-1", map[string]interface{}{
		"extracted_text": "hello world",
	}))

	qjob, _ := fx.queues[QueueOCR].GetJob(context.Background(), result.JobID)
	require.NoError(t, fx.service.Handler()(context.Background(), qjob))

	assert.Len(t, fx.store.jobsOfType(model.JobTypeEmbedding), 1)
	assert.Len(t, fx.store.jobsOfType(model.JobTypeAIClassify), 1)
	assert.Len(t, fx.queues[QueueEmbedding].added, 1)
	assert.Len(t, fx.queues[QueueAIClassify].added, 1)
}

func TestChaining_IsIdempotent(t *testing.T) {
	fx := newServiceFixture()
	proc := &fakeProcessor{name: "ocr", output: map[string]interface{}{}}
	fx.service.registry.Register(proc, model.JobTypeOCR)

	require.NoError(t, fx.store.UpdateDocument(context.Background(), "doc-1", map[string]interface{}{
		"extracted_text": "hello world",
	}))

	first, err := fx.service.AddJob(context.Background(), "doc-1", "org-1", model.JobTypeOCR, nil)
	require.NoError(t, err)
	qjob, _ := fx.queues[QueueOCR].GetJob(context.Background(), first.JobID)
	require.NoError(t, fx.service.Handler()(context.Background(), qjob))

	// A second OCR run for the same document must not duplicate the
	// downstream jobs while they are still pending.
	second, err := fx.service.AddJob(context.Background(), "doc-1", "org-1", model.JobTypeOCR, nil)
	require.NoError(t, err)
	qjob2, _ := fx.queues[QueueOCR].GetJob(context.Background(), second.JobID)
	require.NoError(t, fx.service.Handler()(context.Background(), qjob2))

	assert.Len(t, fx.store.jobsOfType(model.JobTypeEmbedding), 1)
	assert.Len(t, fx.store.jobsOfType(model.JobTypeAIClassify), 1)
}

func TestChaining_SkippedWithoutText(t *testing.T) {
	fx := newServiceFixture()
	proc := &fakeProcessor{name: "ocr", output: map[string]interface{}{}}
	fx.service.registry.Register(proc, model.JobTypeOCR)

	result, err := fx.service.AddJob(context.Background(), "doc-1", "org-1", model.JobTypeOCR, nil)
	require.NoError(t, err)

	qjob, _ := fx.queues[QueueOCR].GetJob(context.Background(), result.JobID)
	require.NoError(t, fx.service.Handler()(context.Background(), qjob))

	assert.Empty(t, fx.store.jobsOfType(model.JobTypeEmbedding))
	assert.Empty(t, fx.store.jobsOfType(model.JobTypeAIClassify))
}

func TestRetryJob_Validations(t *testing.T) {
	fx := newServiceFixture()

	result, err := fx.service.AddJob(context.Background(), "doc-1", "org-1", model.JobTypeOCR, nil)
	require.NoError(t, err)

	// Pending jobs cannot be retried.
	_, err = fx.service.RetryJob(context.Background(), result.JobID)
	assert.ErrorContains(t, err, "only failed jobs")

	// Exhausted jobs cannot be retried either.
	require.NoError(t, fx.store.UpdateJob(context.Background(), result.JobID, map[string]interface{}{
		"status":   model.JobStatusFailed,
		"attempts": 3,
	}))
	_, err = fx.service.RetryJob(context.Background(), result.JobID)
	assert.ErrorContains(t, err, "attempts")
}

func TestRetryJob_ResetsAndReenqueues(t *testing.T) {
	fx := newServiceFixture()

	result, err := fx.service.AddJob(context.Background(), "doc-1", "org-1", model.JobTypeOCR, nil)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, fx.store.UpdateJob(context.Background(), result.JobID, map[string]interface{}{
		"status":         model.JobStatusFailed,
		"attempts":       1,
		"error_message":  "request timeout",
		"error_category": "transient",
		"completed_at":   now,
	}))
	fx.queues[QueueOCR].Remove(context.Background(), result.JobID)

	retried, err := fx.service.RetryJob(context.Background(), result.JobID)
	require.NoError(t, err)
	assert.Equal(t, result.JobID, retried.JobID)

	record := fx.store.jobByID(result.JobID)
	assert.Equal(t, model.JobStatusPending, record.Status)
	assert.Equal(t, 2, record.Attempts)
	assert.Empty(t, record.ErrorMessage)
	assert.Empty(t, record.ErrorCategory)
	assert.Nil(t, record.CompletedAt)

	doc, _ := fx.store.GetDocument(context.Background(), "doc-1")
	assert.Equal(t, model.ProcessingPending, doc.ProcessingStatus)

	// Re-enqueued under the same id so history stays on one record.
	assert.Len(t, fx.queues[QueueOCR].added, 2)
	assert.Equal(t, result.JobID, fx.queues[QueueOCR].added[1].opts.JobID)
}

func TestCancelJob_OnlyPending(t *testing.T) {
	fx := newServiceFixture()

	result, err := fx.service.AddJob(context.Background(), "doc-1", "org-1", model.JobTypeOCR, nil)
	require.NoError(t, err)

	require.NoError(t, fx.service.CancelJob(context.Background(), result.JobID))

	record := fx.store.jobByID(result.JobID)
	assert.Equal(t, model.JobStatusCancelled, record.Status)
	assert.Contains(t, fx.queues[QueueOCR].removed, result.JobID)

	// Running jobs cannot be cancelled.
	second, err := fx.service.AddJob(context.Background(), "doc-1", "org-1", model.JobTypeThumbnail, nil)
	require.NoError(t, err)
	require.NoError(t, fx.store.UpdateJob(context.Background(), second.JobID, map[string]interface{}{
		"status": model.JobStatusRunning,
	}))
	err = fx.service.CancelJob(context.Background(), second.JobID)
	assert.ErrorContains(t, err, "only pending jobs")
}

func TestGetJobStatus_LegacyQueueFallback(t *testing.T) {
	fx := newServiceFixture()

	result, err := fx.service.AddJob(context.Background(), "doc-1", "org-1", model.JobTypeOCR, nil)
	require.NoError(t, err)

	// Move the queue entry to the legacy queue, as for jobs enqueued by the
	// previous deployment.
	fx.queues[QueueOCR].Remove(context.Background(), result.JobID)
	fx.legacy.jobs[result.JobID] = &queue.Job{ID: result.JobID, State: queue.StateDelayed, Attempts: 2}

	status, err := fx.service.GetJobStatus(context.Background(), result.JobID)
	require.NoError(t, err)
	assert.Equal(t, queue.StateDelayed, status.QueueState)
	assert.Equal(t, 2, status.QueueAttempts)
}

func TestGetQueueStats_SumsTotals(t *testing.T) {
	fx := newServiceFixture()

	n := int64(1)
	for _, name := range []string{QueueOCR, QueueThumbnail, QueueEmbedding, QueueAIClassify, QueuePDF} {
		fx.queues[name].counts = model.QueueCounts{
			Waiting:   5 * n,
			Active:    2 * n,
			Completed: 100 * n,
			Failed:    3 * n,
			Delayed:   n,
		}
		n++
	}

	stats, err := fx.service.GetQueueStats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats.Queues, 5)

	// Multipliers 1..5 sum to 15.
	assert.Equal(t, int64(5*15), stats.Totals.Waiting)
	assert.Equal(t, int64(2*15), stats.Totals.Active)
	assert.Equal(t, int64(100*15), stats.Totals.Completed)
	assert.Equal(t, int64(3*15), stats.Totals.Failed)
	assert.Equal(t, int64(15), stats.Totals.Delayed)

	single, err := fx.service.GetQueueStatsByName(context.Background(), QueueOCR)
	require.NoError(t, err)
	assert.Equal(t, int64(5), single.Counts.Waiting)

	_, err = fx.service.GetQueueStatsByName(context.Background(), "nonexistent")
	assert.Error(t, err)
}

func TestDrainQueue_RemovesWaitingAndDelayedThenResumes(t *testing.T) {
	fx := newServiceFixture()

	first, err := fx.service.AddJob(context.Background(), "doc-1", "org-1", model.JobTypeOCR, nil)
	require.NoError(t, err)

	dq := fx.queues[QueueOCR]
	dq.delayed = append(dq.delayed, "delayed-job-1")
	dq.jobs["delayed-job-1"] = &queue.Job{ID: "delayed-job-1", State: queue.StateDelayed}

	removed, err := fx.service.DrainQueue(context.Background(), QueueOCR)
	require.NoError(t, err)

	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, dq.pauses)
	assert.Equal(t, 1, dq.resumes)
	assert.False(t, dq.paused)
	assert.Contains(t, dq.removed, first.JobID)
	assert.Contains(t, dq.removed, "delayed-job-1")
}

func TestCleanOldJobs_CollectsQueueErrors(t *testing.T) {
	fx := newServiceFixture()
	fx.store.deleteCount = 42
	fx.queues[QueueOCR].cleaned[queue.StateCompleted] = 10
	fx.queues[QueueOCR].cleaned[queue.StateFailed] = 2
	fx.queues[QueuePDF].cleanErr = errors.New("redis connection refused")

	report, err := fx.service.CleanOldJobs(context.Background(), 30)
	require.NoError(t, err)

	assert.Equal(t, int64(42), report.DeletedRecords)
	assert.Equal(t, int64(12), report.PrunedByQueue[QueueOCR])

	// The failing queue contributes errors for both pruned states but does
	// not abort the sweep.
	require.Len(t, report.QueueErrors, 2)
	assert.Contains(t, report.QueueErrors[0], QueuePDF)

	require.Len(t, fx.store.deletedBefore, 1)
	wantCutoff := time.Now().Add(-30 * 24 * time.Hour)
	assert.WithinDuration(t, wantCutoff, fx.store.deletedBefore[0], time.Minute)

	_, err = fx.service.CleanOldJobs(context.Background(), 0)
	assert.Error(t, err)
}

func TestGetFailedJobs(t *testing.T) {
	fx := newServiceFixture()

	result, err := fx.service.AddJob(context.Background(), "doc-1", "org-1", model.JobTypeOCR, nil)
	require.NoError(t, err)
	require.NoError(t, fx.store.UpdateJob(context.Background(), result.JobID, map[string]interface{}{
		"status": model.JobStatusFailed,
	}))

	failed, err := fx.service.GetFailedJobs(context.Background(), 50, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, result.JobID, failed[0].ID)
}
