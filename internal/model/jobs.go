package model

import (
	"time"
)

// JobStatus represents the current state of a processing job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusStalled   JobStatus = "stalled"
)

// IsTerminal reports whether a job in this status will never run again
// without an explicit retry.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobType identifies the kind of work a processing job performs
type JobType string

const (
	JobTypeOCR        JobType = "ocr"
	JobTypeThumbnail  JobType = "thumbnail"
	JobTypeEmbedding  JobType = "embedding"
	JobTypeAIClassify JobType = "ai_classify"

	JobTypePDFSplit        JobType = "pdf_split"
	JobTypePDFMerge        JobType = "pdf_merge"
	JobTypePDFWatermark    JobType = "pdf_watermark"
	JobTypePDFCompress     JobType = "pdf_compress"
	JobTypePDFExtractPages JobType = "pdf_extract_pages"
	JobTypePDFRenderPage   JobType = "pdf_render_page"
	JobTypePDFMetadata     JobType = "pdf_metadata"
)

// AllJobTypes lists every job type the pipeline knows about.
var AllJobTypes = []JobType{
	JobTypeOCR,
	JobTypeThumbnail,
	JobTypeEmbedding,
	JobTypeAIClassify,
	JobTypePDFSplit,
	JobTypePDFMerge,
	JobTypePDFWatermark,
	JobTypePDFCompress,
	JobTypePDFExtractPages,
	JobTypePDFRenderPage,
	JobTypePDFMetadata,
}

// IsPDFOperation reports whether the job type belongs to the shared PDF queue.
func (t JobType) IsPDFOperation() bool {
	switch t {
	case JobTypePDFSplit, JobTypePDFMerge, JobTypePDFWatermark, JobTypePDFCompress,
		JobTypePDFExtractPages, JobTypePDFRenderPage, JobTypePDFMetadata:
		return true
	}
	return false
}

// ProcessingJob is the durable record for one unit of pipeline work.
// Its ID doubles as the queue-native job key so the store and the queue
// backend stay correlated.
type ProcessingJob struct {
	ID             string                 `bson:"_id" json:"id"`
	DocumentID     string                 `bson:"document_id" json:"documentId"`
	OrganizationID string                 `bson:"organization_id" json:"organizationId"`
	Type           JobType                `bson:"type" json:"type"`
	Status         JobStatus              `bson:"status" json:"status"`
	Attempts       int                    `bson:"attempts" json:"attempts"`
	MaxAttempts    int                    `bson:"max_attempts" json:"maxAttempts"`
	InputParams    map[string]interface{} `bson:"input_params,omitempty" json:"inputParams,omitempty"`
	OutputData     map[string]interface{} `bson:"output_data,omitempty" json:"outputData,omitempty"`
	ErrorMessage   string                 `bson:"error_message,omitempty" json:"errorMessage,omitempty"`
	ErrorCategory  string                 `bson:"error_category,omitempty" json:"errorCategory,omitempty"`
	ErrorStack     string                 `bson:"error_stack,omitempty" json:"errorStack,omitempty"`
	CreatedAt      time.Time              `bson:"created_at" json:"createdAt"`
	StartedAt      *time.Time             `bson:"started_at,omitempty" json:"startedAt,omitempty"`
	CompletedAt    *time.Time             `bson:"completed_at,omitempty" json:"completedAt,omitempty"`
}

// JobPayload is what travels through the queue backend. The durable record
// in the store remains the source of truth; the payload carries just enough
// for a worker to load it and execute.
type JobPayload struct {
	JobID          string                 `json:"jobId"`
	DocumentID     string                 `json:"documentId"`
	OrganizationID string                 `json:"organizationId"`
	S3Key          string                 `json:"s3Key"`
	Type           JobType                `json:"type"`
	Options        map[string]interface{} `json:"options,omitempty"`
}

// QueueCounts mirrors the queue backend's per-state counters.
type QueueCounts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Paused    bool  `json:"paused"`
}

// QueueStats is the per-queue view returned by the orchestrator.
type QueueStats struct {
	Name   string      `json:"name"`
	Counts QueueCounts `json:"counts"`
}

// PipelineStats aggregates counts across every queue.
type PipelineStats struct {
	Queues []QueueStats `json:"queues"`
	Totals QueueCounts  `json:"totals"`
}

// AddJobResult is returned by the orchestrator when a job is accepted.
type AddJobResult struct {
	JobID      string `json:"jobId"`
	QueueJobID string `json:"queueJobId"`
	QueueName  string `json:"queueName"`
}

// CleanupReport summarizes a retention sweep. Queue-level pruning errors are
// collected rather than aborting the sweep.
type CleanupReport struct {
	DeletedRecords int64            `json:"deletedRecords"`
	PrunedByQueue  map[string]int64 `json:"prunedByQueue"`
	QueueErrors    []string         `json:"queueErrors,omitempty"`
}
