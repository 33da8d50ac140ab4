package model

import (
	"time"
)

// ProcessingStatus is the document-level pipeline stage, distinct from the
// per-job status. It is the only lifecycle field the pipeline owns on the
// document record.
type ProcessingStatus string

const (
	ProcessingPending   ProcessingStatus = "pending"
	ProcessingRunning   ProcessingStatus = "running"
	ProcessingCompleted ProcessingStatus = "completed"
	ProcessingFailed    ProcessingStatus = "failed"
)

// Document is the narrow view of the document record the pipeline reads and
// mutates. Identity, naming and folder fields belong to the document service
// and are never touched here.
type Document struct {
	ID               string                 `bson:"_id" json:"id"`
	OrganizationID   string                 `bson:"organization_id" json:"organizationId"`
	S3Key            string                 `bson:"s3_key" json:"s3Key"`
	MimeType         string                 `bson:"mime_type" json:"mimeType"`
	SizeBytes        int64                  `bson:"size_bytes" json:"sizeBytes"`
	ProcessingStatus ProcessingStatus       `bson:"processing_status" json:"processingStatus"`
	ExtractedText    string                 `bson:"extracted_text,omitempty" json:"extractedText,omitempty"`
	ThumbnailKey     string                 `bson:"thumbnail_key,omitempty" json:"thumbnailKey,omitempty"`
	Metadata         map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`
	UpdatedAt        time.Time              `bson:"updated_at" json:"updatedAt"`
}

// OCRMetadata is the summary persisted under metadata.ocr. Writes replace
// the whole sub-object so a retried job never double-appends.
type OCRMetadata struct {
	Pages          int       `bson:"pages" json:"pages"`
	Confidence     float64   `bson:"confidence" json:"confidence"`
	TableCount     int       `bson:"table_count" json:"tableCount"`
	FormFieldCount int       `bson:"form_field_count" json:"formFieldCount"`
	SignatureCount int       `bson:"signature_count" json:"signatureCount"`
	CharacterCount int       `bson:"character_count" json:"characterCount"`
	Mode           string    `bson:"mode" json:"mode"` // "sync", "async" or "native"
	ProcessedAt    time.Time `bson:"processed_at" json:"processedAt"`
}

// EmbeddingMetadata is the summary persisted under metadata.embedding.
// The vector itself is stored alongside; chunk stats explain how it was built.
type EmbeddingMetadata struct {
	Model       string    `bson:"model" json:"model"`
	Dimensions  int       `bson:"dimensions" json:"dimensions"`
	ChunkCount  int       `bson:"chunk_count" json:"chunkCount"`
	Aggregated  bool      `bson:"aggregated" json:"aggregated"`
	Truncated   bool      `bson:"truncated" json:"truncated"`
	TokenCount  int       `bson:"token_count" json:"tokenCount"`
	ProcessedAt time.Time `bson:"processed_at" json:"processedAt"`
}

// ClassificationMetadata is the summary persisted under metadata.aiClassification.
type ClassificationMetadata struct {
	Category    string    `bson:"category" json:"category"`
	Confidence  float64   `bson:"confidence" json:"confidence"`
	Tags        []string  `bson:"tags,omitempty" json:"tags,omitempty"`
	Summary     string    `bson:"summary,omitempty" json:"summary,omitempty"`
	Model       string    `bson:"model" json:"model"`
	ProcessedAt time.Time `bson:"processed_at" json:"processedAt"`
}
