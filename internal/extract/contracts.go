// Package extract wraps the external OCR service. The pipeline only sees
// the Client interface; the Textract adapter implements it and tests plug
// in fakes.
package extract

import (
	"context"
)

// AnalysisStatus is the coarse state of an asynchronous OCR analysis.
type AnalysisStatus string

const (
	AnalysisInProgress AnalysisStatus = "in_progress"
	AnalysisSucceeded  AnalysisStatus = "succeeded"
	AnalysisFailed     AnalysisStatus = "failed"
)

// Result is the OCR output: full text plus structural summaries the
// document metadata keeps.
type Result struct {
	Text           string
	Pages          int
	Confidence     float64
	TableCount     int
	FormFieldCount int
	SignatureCount int
}

// Client is the OCR collaborator. Sync extraction suits small single-page
// class documents; the async pair handles large multi-page ones.
type Client interface {
	// DetectSync runs a single-call text detection.
	DetectSync(ctx context.Context, bucket, key string) (*Result, error)

	// StartAnalysis begins an asynchronous analysis job and returns the
	// external job id to poll with.
	StartAnalysis(ctx context.Context, bucket, key string) (string, error)

	// GetAnalysis polls an analysis job. The result is non-nil only when
	// the status is AnalysisSucceeded.
	GetAnalysis(ctx context.Context, externalJobID string) (AnalysisStatus, *Result, error)
}
