package processor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	pdfr "github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"

	"docflow/internal/aws"
	"docflow/internal/config"
	"docflow/internal/database"
	"docflow/internal/extract"
	"docflow/internal/model"
)

// nativeTextMin is the extracted-character threshold below which a PDF is
// assumed to be scanned and handed to the external OCR service.
const nativeTextMin = 200

// syncMimeTypes are the single-page-class formats the external service
// accepts in one synchronous call.
var syncMimeTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// OCRProcessor extracts document text. PDFs with an embedded text layer are
// read directly; everything else goes through the external analysis service,
// synchronously for small images and as a polled async job otherwise.
type OCRProcessor struct {
	store     database.Store
	objects   aws.ObjectStore
	extractor extract.Client
	cfg       config.OCRConfig
}

func NewOCRProcessor(store database.Store, objects aws.ObjectStore, extractor extract.Client, cfg config.OCRConfig) *OCRProcessor {
	return &OCRProcessor{store: store, objects: objects, extractor: extractor, cfg: cfg}
}

func (p *OCRProcessor) Name() string {
	return "ocr"
}

func (p *OCRProcessor) Process(ctx context.Context, job *model.ProcessingJob, progress ProgressFunc) (map[string]interface{}, error) {
	doc, err := p.store.GetDocument(ctx, job.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", job.DocumentID, err)
	}

	s3Key := stringParam(job.InputParams, "s3Key")
	if s3Key == "" {
		s3Key = doc.S3Key
	}
	mimeType := stringParam(job.InputParams, "mimeType")
	if mimeType == "" {
		mimeType = doc.MimeType
	}
	progress(5)

	if mimeType == "application/pdf" {
		if result, ok := p.tryNativeText(ctx, s3Key); ok {
			progress(80)
			if err := p.persistResult(ctx, job, doc, result, "native"); err != nil {
				return nil, err
			}
			progress(95)
			return outputSummary(result, "native"), nil
		}
	}

	mode := "async"
	if syncMimeTypes[mimeType] && doc.SizeBytes <= p.cfg.SyncMaxBytes && !boolParam(job.InputParams, "forceAsync", false) {
		mode = "sync"
	}

	log.Info().
		Str("jobID", job.ID).
		Str("documentID", job.DocumentID).
		Str("mimeType", mimeType).
		Str("mode", mode).
		Msg("Starting text extraction")

	var result *extract.Result
	if mode == "sync" {
		progress(20)
		result, err = p.extractor.DetectSync(ctx, p.objects.Bucket(), s3Key)
		if err != nil {
			return nil, err
		}
		progress(80)
	} else {
		result, err = p.runAsync(ctx, job, s3Key, progress)
		if err != nil {
			return nil, err
		}
		progress(80)
	}

	if err := p.persistResult(ctx, job, doc, result, mode); err != nil {
		return nil, err
	}
	progress(95)

	return outputSummary(result, mode), nil
}

// tryNativeText reads the PDF's embedded text layer. A short result means a
// scanned document, which falls through to real OCR. Failures here are never
// fatal.
func (p *OCRProcessor) tryNativeText(ctx context.Context, s3Key string) (*extract.Result, bool) {
	data, err := p.objects.GetObjectBytes(ctx, s3Key)
	if err != nil {
		log.Warn().Err(err).Str("key", s3Key).Msg("Could not download PDF for native text check")
		return nil, false
	}

	reader, err := pdfr.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, false
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return nil, false
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return nil, false
	}

	text := strings.TrimSpace(string(raw))
	if len(text) < nativeTextMin {
		return nil, false
	}

	return &extract.Result{
		Text:       text,
		Pages:      reader.NumPage(),
		Confidence: 100,
	}, true
}

// runAsync starts an external analysis job and polls it with backoff. The
// poll interval grows by 1.5x per attempt up to a cap; exceeding the overall
// wait budget fails the job with a timeout the classifier treats as transient.
func (p *OCRProcessor) runAsync(ctx context.Context, job *model.ProcessingJob, s3Key string, progress ProgressFunc) (*extract.Result, error) {
	externalID, err := p.extractor.StartAnalysis(ctx, p.objects.Bucket(), s3Key)
	if err != nil {
		return nil, err
	}

	// The external id survives on the job record so a stalled-job
	// investigation can find the upstream analysis.
	if err := p.store.UpdateJob(ctx, job.ID, map[string]interface{}{
		"input_params.extractJobId": externalID,
	}); err != nil {
		log.Warn().Err(err).Str("jobID", job.ID).Msg("Failed to persist external analysis id")
	}
	progress(20)

	start := time.Now()
	interval := p.cfg.PollInterval()

	for pollCount := 1; ; pollCount++ {
		if time.Since(start) > p.cfg.MaxWait() {
			return nil, fmt.Errorf("ocr polling timeout after %s (external job %s)", p.cfg.MaxWait(), externalID)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		status, result, err := p.extractor.GetAnalysis(ctx, externalID)
		if err != nil {
			return nil, err
		}

		switch status {
		case extract.AnalysisSucceeded:
			return result, nil
		case extract.AnalysisInProgress:
			pct := 20 + pollCount*5
			if pct > 70 {
				pct = 70
			}
			progress(pct)

			interval = interval * 3 / 2
			if max := p.cfg.PollMaxInterval(); interval > max {
				interval = max
			}
		}
	}
}

// persistResult writes the extracted text and the metadata.ocr summary. The
// sub-object is replaced wholesale so retries cannot double-append.
func (p *OCRProcessor) persistResult(ctx context.Context, job *model.ProcessingJob, doc *model.Document, result *extract.Result, mode string) error {
	meta := model.OCRMetadata{
		Pages:          result.Pages,
		Confidence:     result.Confidence,
		TableCount:     result.TableCount,
		FormFieldCount: result.FormFieldCount,
		SignatureCount: result.SignatureCount,
		CharacterCount: len(result.Text),
		Mode:           mode,
		ProcessedAt:    time.Now().UTC(),
	}

	err := p.store.UpdateDocument(ctx, doc.ID, map[string]interface{}{
		"extracted_text":    result.Text,
		"metadata.ocr":      meta,
		"processing_status": model.ProcessingCompleted,
	})
	if err != nil {
		return fmt.Errorf("persist ocr result for document %s: %w", doc.ID, err)
	}

	log.Info().
		Str("jobID", job.ID).
		Str("documentID", doc.ID).
		Int("chars", len(result.Text)).
		Int("pages", result.Pages).
		Str("mode", mode).
		Msg("Text extraction complete")

	return nil
}

func outputSummary(result *extract.Result, mode string) map[string]interface{} {
	return map[string]interface{}{
		"characterCount": len(result.Text),
		"pages":          result.Pages,
		"confidence":     result.Confidence,
		"tableCount":     result.TableCount,
		"formFieldCount": result.FormFieldCount,
		"signatureCount": result.SignatureCount,
		"mode":           mode,
	}
}
