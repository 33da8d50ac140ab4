package orchestrator

import (
	"context"

	"github.com/rs/zerolog/log"

	"docflow/internal/model"
)

// chainedAfterOCR lists the jobs created once OCR produces text.
var chainedAfterOCR = []model.JobType{
	model.JobTypeEmbedding,
	model.JobTypeAIClassify,
}

// chainDownstream enqueues follow-up jobs after a completed OCR run with
// non-empty extracted text. The active-job existence check is what keeps an
// OCR retry from multiplying downstream work; chaining itself is best-effort
// and never fails the completed job.
func (s *Service) chainDownstream(ctx context.Context, record *model.ProcessingJob) {
	if record.Type != model.JobTypeOCR {
		return
	}

	doc, err := s.store.GetDocument(ctx, record.DocumentID)
	if err != nil {
		log.Warn().Err(err).Str("documentID", record.DocumentID).Msg("Skipping downstream chaining, document unavailable")
		return
	}
	if doc.ExtractedText == "" {
		log.Debug().Str("documentID", doc.ID).Msg("No extracted text, nothing to chain")
		return
	}

	for _, jobType := range chainedAfterOCR {
		active, err := s.store.FindActiveJob(ctx, record.DocumentID, jobType)
		if err != nil {
			log.Warn().Err(err).Str("type", string(jobType)).Msg("Chaining existence check failed")
			continue
		}
		if active != nil {
			log.Debug().
				Str("jobID", active.ID).
				Str("type", string(jobType)).
				Msg("Downstream job already active, not chaining")
			continue
		}

		result, err := s.AddJob(ctx, record.DocumentID, record.OrganizationID, jobType, nil)
		if err != nil {
			log.Warn().Err(err).
				Str("documentID", record.DocumentID).
				Str("type", string(jobType)).
				Msg("Failed to chain downstream job")
			continue
		}

		log.Info().
			Str("jobID", result.JobID).
			Str("documentID", record.DocumentID).
			Str("type", string(jobType)).
			Str("after", record.ID).
			Msg("Chained downstream job")
	}
}
