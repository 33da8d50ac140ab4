package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"docflow/internal/aws"
	"docflow/internal/database"
	"docflow/internal/faults"
	"docflow/internal/model"
	"docflow/internal/pdf"
)

// PDFProcessor handles every pdf_* job type against the shared transform
// engine. Derived artifacts land under {org}/derived/{documentID}/ with
// deterministic names so retries overwrite.
type PDFProcessor struct {
	store   database.Store
	objects aws.ObjectStore
	engine  pdf.Engine
}

func NewPDFProcessor(store database.Store, objects aws.ObjectStore, engine pdf.Engine) *PDFProcessor {
	return &PDFProcessor{store: store, objects: objects, engine: engine}
}

func (p *PDFProcessor) Name() string {
	return "pdf"
}

func (p *PDFProcessor) Process(ctx context.Context, job *model.ProcessingJob, progress ProgressFunc) (map[string]interface{}, error) {
	doc, err := p.store.GetDocument(ctx, job.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", job.DocumentID, err)
	}

	// Merge reads multiple sources; every other operation reads one.
	if job.Type == model.JobTypePDFMerge {
		return p.merge(ctx, job, progress)
	}

	s3Key := stringParam(job.InputParams, "s3Key")
	if s3Key == "" {
		s3Key = doc.S3Key
	}

	data, err := p.objects.GetObjectBytes(ctx, s3Key)
	if err != nil {
		return nil, fmt.Errorf("download source %s: %w", s3Key, err)
	}
	progress(20)

	switch job.Type {
	case model.JobTypePDFSplit:
		return p.split(ctx, job, data, progress)
	case model.JobTypePDFWatermark:
		return p.watermark(ctx, job, data, progress)
	case model.JobTypePDFCompress:
		return p.compress(ctx, job, data, progress)
	case model.JobTypePDFExtractPages:
		return p.extractPages(ctx, job, data, progress)
	case model.JobTypePDFRenderPage:
		return p.renderPage(ctx, job, data, progress)
	case model.JobTypePDFMetadata:
		return p.metadata(ctx, job, doc, data, progress)
	default:
		return nil, faults.Permanentf("unsupported pdf operation %q", job.Type)
	}
}

func (p *PDFProcessor) split(ctx context.Context, job *model.ProcessingJob, data []byte, progress ProgressFunc) (map[string]interface{}, error) {
	pages, err := p.engine.Split(ctx, data)
	if err != nil {
		return nil, err
	}
	progress(50)

	keys := make([]string, 0, len(pages))
	for i, page := range pages {
		key := derivedKey(job.OrganizationID, job.DocumentID, fmt.Sprintf("split/page_%d.pdf", i+1))
		if err := p.objects.UploadBuffer(ctx, key, page, "application/pdf"); err != nil {
			return nil, fmt.Errorf("upload split page %d: %w", i+1, err)
		}
		keys = append(keys, key)

		pct := 50 + 45*(i+1)/len(pages)
		progress(pct)
	}

	log.Info().
		Str("jobID", job.ID).
		Str("documentID", job.DocumentID).
		Int("pages", len(pages)).
		Msg("Document split")

	return map[string]interface{}{
		"pageCount": len(pages),
		"keys":      keys,
	}, nil
}

func (p *PDFProcessor) merge(ctx context.Context, job *model.ProcessingJob, progress ProgressFunc) (map[string]interface{}, error) {
	sourceKeys := stringSliceParam(job.InputParams, "sourceKeys")
	if len(sourceKeys) < 2 {
		return nil, faults.Permanentf("invalid merge request: need at least 2 sourceKeys, got %d", len(sourceKeys))
	}

	parts := make([][]byte, 0, len(sourceKeys))
	for i, key := range sourceKeys {
		data, err := p.objects.GetObjectBytes(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("download merge source %s: %w", key, err)
		}
		parts = append(parts, data)

		pct := 10 + 30*(i+1)/len(sourceKeys)
		progress(pct)
	}

	merged, err := p.engine.Merge(ctx, parts)
	if err != nil {
		return nil, err
	}
	progress(70)

	key := derivedKey(job.OrganizationID, job.DocumentID, "merged.pdf")
	if err := p.objects.UploadBuffer(ctx, key, merged, "application/pdf"); err != nil {
		return nil, fmt.Errorf("upload merged document: %w", err)
	}
	progress(95)

	return map[string]interface{}{
		"key":         key,
		"sourceCount": len(sourceKeys),
		"bytes":       len(merged),
	}, nil
}

func (p *PDFProcessor) watermark(ctx context.Context, job *model.ProcessingJob, data []byte, progress ProgressFunc) (map[string]interface{}, error) {
	text := stringParam(job.InputParams, "text")
	if text == "" {
		return nil, faults.Permanentf("invalid watermark request: text is required")
	}

	out, err := p.engine.Watermark(ctx, data, text)
	if err != nil {
		return nil, err
	}
	progress(70)

	key := derivedKey(job.OrganizationID, job.DocumentID, "watermarked.pdf")
	if err := p.objects.UploadBuffer(ctx, key, out, "application/pdf"); err != nil {
		return nil, fmt.Errorf("upload watermarked document: %w", err)
	}
	progress(95)

	return map[string]interface{}{
		"key":   key,
		"text":  text,
		"bytes": len(out),
	}, nil
}

func (p *PDFProcessor) compress(ctx context.Context, job *model.ProcessingJob, data []byte, progress ProgressFunc) (map[string]interface{}, error) {
	out, err := p.engine.Compress(ctx, data)
	if err != nil {
		return nil, err
	}
	progress(70)

	key := derivedKey(job.OrganizationID, job.DocumentID, "compressed.pdf")
	if err := p.objects.UploadBuffer(ctx, key, out, "application/pdf"); err != nil {
		return nil, fmt.Errorf("upload compressed document: %w", err)
	}
	progress(95)

	ratio := 1.0
	if len(data) > 0 {
		ratio = float64(len(out)) / float64(len(data))
	}

	return map[string]interface{}{
		"key":             key,
		"originalBytes":   len(data),
		"compressedBytes": len(out),
		"ratio":           ratio,
	}, nil
}

func (p *PDFProcessor) extractPages(ctx context.Context, job *model.ProcessingJob, data []byte, progress ProgressFunc) (map[string]interface{}, error) {
	pages := stringSliceParam(job.InputParams, "pages")
	if len(pages) == 0 {
		return nil, faults.Permanentf("invalid extract request: pages selection is required")
	}

	out, err := p.engine.ExtractPages(ctx, data, pages)
	if err != nil {
		return nil, err
	}
	progress(70)

	key := derivedKey(job.OrganizationID, job.DocumentID, "extract.pdf")
	if err := p.objects.UploadBuffer(ctx, key, out, "application/pdf"); err != nil {
		return nil, fmt.Errorf("upload extracted pages: %w", err)
	}
	progress(95)

	return map[string]interface{}{
		"key":   key,
		"pages": pages,
		"bytes": len(out),
	}, nil
}

func (p *PDFProcessor) renderPage(ctx context.Context, job *model.ProcessingJob, data []byte, progress ProgressFunc) (map[string]interface{}, error) {
	page := intParam(job.InputParams, "page", 1)
	if page < 1 {
		return nil, faults.Permanentf("invalid render request: page %d", page)
	}

	out, err := p.engine.SinglePage(ctx, data, page)
	if err != nil {
		return nil, err
	}
	progress(70)

	key := derivedKey(job.OrganizationID, job.DocumentID, fmt.Sprintf("page_%d.pdf", page))
	if err := p.objects.UploadBuffer(ctx, key, out, "application/pdf"); err != nil {
		return nil, fmt.Errorf("upload rendered page: %w", err)
	}
	progress(95)

	return map[string]interface{}{
		"key":   key,
		"page":  page,
		"bytes": len(out),
	}, nil
}

func (p *PDFProcessor) metadata(ctx context.Context, job *model.ProcessingJob, doc *model.Document, data []byte, progress ProgressFunc) (map[string]interface{}, error) {
	info, err := p.engine.Info(ctx, data)
	if err != nil {
		return nil, err
	}
	progress(70)

	err = p.store.UpdateDocument(ctx, doc.ID, map[string]interface{}{
		"metadata.pdf": info,
	})
	if err != nil {
		return nil, fmt.Errorf("persist pdf metadata for document %s: %w", doc.ID, err)
	}
	progress(95)

	return map[string]interface{}{
		"pageCount":   info.PageCount,
		"version":     info.Version,
		"title":       info.Title,
		"author":      info.Author,
		"encrypted":   info.Encrypted,
		"extractedAt": time.Now().UTC(),
	}, nil
}
