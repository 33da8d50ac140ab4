// Package orchestrator owns the job lifecycle: routing new jobs onto
// queues, executing claimed jobs through the registered processors,
// chaining downstream work, and exposing the operational surface
// (retry, cancel, stats, pause, drain, cleanup).
package orchestrator

import (
	"errors"

	"docflow/internal/model"
)

// Queue names. Every pdf_* operation shares one queue so PDF transforms
// compete for the same worker budget.
const (
	QueueOCR        = "ocr"
	QueueThumbnail  = "thumbnail"
	QueueEmbedding  = "embedding"
	QueueAIClassify = "ai-classify"
	QueuePDF        = "pdf"
)

// Claim priorities. Lower values pop first.
const (
	PriorityHigh   = 1
	PriorityNormal = 2
	PriorityLow    = 3
)

// ErrUnknownJobType is returned for job types no route exists for.
var ErrUnknownJobType = errors.New("unknown job type")

// QueueFor maps a job type to the queue that carries it.
func QueueFor(t model.JobType) (string, error) {
	switch t {
	case model.JobTypeOCR:
		return QueueOCR, nil
	case model.JobTypeThumbnail:
		return QueueThumbnail, nil
	case model.JobTypeEmbedding:
		return QueueEmbedding, nil
	case model.JobTypeAIClassify:
		return QueueAIClassify, nil
	}
	if t.IsPDFOperation() {
		return QueuePDF, nil
	}
	return "", ErrUnknownJobType
}

// PriorityFor ranks job types within their queue. Thumbnails are cheap and
// user-visible, so they jump ahead; interactive PDF lookups (render, metadata)
// beat bulk transforms on the shared PDF queue.
func PriorityFor(t model.JobType) int {
	switch t {
	case model.JobTypeThumbnail:
		return PriorityHigh
	case model.JobTypeOCR, model.JobTypeAIClassify,
		model.JobTypePDFRenderPage, model.JobTypePDFMetadata:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// KindFor labels the queue entry for logs and monitoring.
func KindFor(t model.JobType) string {
	switch t {
	case model.JobTypeOCR:
		return "ocr-document"
	case model.JobTypeThumbnail:
		return "generate-thumbnail"
	case model.JobTypeEmbedding:
		return "generate-embedding"
	case model.JobTypeAIClassify:
		return "classify-document"
	default:
		return "pdf-operation"
	}
}
