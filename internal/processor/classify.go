package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"docflow/internal/database"
	"docflow/internal/faults"
	"docflow/internal/llm"
	"docflow/internal/model"
)

// ClassifyProcessor assigns an AI category to a document from its extracted
// text and persists the result under metadata.aiClassification.
type ClassifyProcessor struct {
	store      database.Store
	classifier llm.Classifier
}

func NewClassifyProcessor(store database.Store, classifier llm.Classifier) *ClassifyProcessor {
	return &ClassifyProcessor{store: store, classifier: classifier}
}

func (p *ClassifyProcessor) Name() string {
	return "ai-classify"
}

func (p *ClassifyProcessor) Process(ctx context.Context, job *model.ProcessingJob, progress ProgressFunc) (map[string]interface{}, error) {
	doc, err := p.store.GetDocument(ctx, job.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", job.DocumentID, err)
	}

	text := strings.TrimSpace(doc.ExtractedText)
	if text == "" {
		return nil, faults.Permanentf("document %s has no extracted text to classify", doc.ID)
	}
	progress(15)

	result, err := p.classifier.ClassifyDocument(ctx, text)
	if err != nil {
		return nil, err
	}
	progress(70)

	meta := model.ClassificationMetadata{
		Category:    result.Category,
		Confidence:  result.Confidence,
		Tags:        result.Tags,
		Summary:     result.Summary,
		Model:       p.classifier.Model(),
		ProcessedAt: time.Now().UTC(),
	}

	err = p.store.UpdateDocument(ctx, doc.ID, map[string]interface{}{
		"metadata.aiClassification": meta,
	})
	if err != nil {
		return nil, fmt.Errorf("persist classification for document %s: %w", doc.ID, err)
	}
	progress(95)

	log.Info().
		Str("jobID", job.ID).
		Str("documentID", doc.ID).
		Str("category", result.Category).
		Float64("confidence", result.Confidence).
		Msg("Document classified")

	return map[string]interface{}{
		"category":   result.Category,
		"confidence": result.Confidence,
		"tags":       result.Tags,
		"summary":    result.Summary,
		"model":      meta.Model,
	}, nil
}
