package processor

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"docflow/internal/config"
	"docflow/internal/database"
	"docflow/internal/faults"
	"docflow/internal/llm"
	"docflow/internal/model"
)

// charsPerToken approximates the tokenizer: roughly four characters per
// token for western text. Estimates only gate chunking, never billing.
const charsPerToken = 4

// EmbeddingProcessor turns a document's extracted text into a single
// unit-length vector. Oversized texts are chunked on sentence boundaries,
// embedded in batches, then averaged and renormalized.
type EmbeddingProcessor struct {
	store    database.Store
	embedder llm.Embedder
	cfg      config.EmbeddingConfig
}

func NewEmbeddingProcessor(store database.Store, embedder llm.Embedder, cfg config.EmbeddingConfig) *EmbeddingProcessor {
	return &EmbeddingProcessor{store: store, embedder: embedder, cfg: cfg}
}

func (p *EmbeddingProcessor) Name() string {
	return "embedding"
}

func (p *EmbeddingProcessor) Process(ctx context.Context, job *model.ProcessingJob, progress ProgressFunc) (map[string]interface{}, error) {
	doc, err := p.store.GetDocument(ctx, job.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", job.DocumentID, err)
	}

	text := strings.TrimSpace(doc.ExtractedText)
	if text == "" {
		return nil, faults.Permanentf("document %s has no extracted text to embed", doc.ID)
	}
	progress(10)

	aggregate := boolParam(job.InputParams, "aggregate", true)
	tokens := EstimateTokens(text)

	var (
		vector    []float32
		chunkN    = 1
		truncated bool
	)

	switch {
	case tokens <= p.cfg.MaxTokens:
		vectors, err := p.embedAll(ctx, []string{text}, progress)
		if err != nil {
			return nil, err
		}
		vector = vectors[0]

	case aggregate:
		chunks := BuildChunks(text, p.cfg.MaxTokens)
		chunkN = len(chunks)
		log.Debug().
			Str("documentID", doc.ID).
			Int("tokens", tokens).
			Int("chunks", chunkN).
			Msg("Chunking oversized text for embedding")

		vectors, err := p.embedAll(ctx, chunks, progress)
		if err != nil {
			return nil, err
		}
		vector = AverageAndNormalize(vectors)

	default:
		text, truncated = TruncateAtWordBoundary(text, p.cfg.MaxTokens)
		vectors, err := p.embedAll(ctx, []string{text}, progress)
		if err != nil {
			return nil, err
		}
		vector = vectors[0]
	}

	progress(80)

	meta := model.EmbeddingMetadata{
		Model:       p.embedder.Model(),
		Dimensions:  len(vector),
		ChunkCount:  chunkN,
		Aggregated:  chunkN > 1,
		Truncated:   truncated,
		TokenCount:  tokens,
		ProcessedAt: time.Now().UTC(),
	}

	err = p.store.UpdateDocument(ctx, doc.ID, map[string]interface{}{
		"embedding":          vector,
		"metadata.embedding": meta,
	})
	if err != nil {
		return nil, fmt.Errorf("persist embedding for document %s: %w", doc.ID, err)
	}
	progress(95)

	return map[string]interface{}{
		"model":      meta.Model,
		"dimensions": meta.Dimensions,
		"chunkCount": meta.ChunkCount,
		"aggregated": meta.Aggregated,
		"truncated":  meta.Truncated,
		"tokenCount": meta.TokenCount,
	}, nil
}

// embedAll sends inputs in batches no larger than the provider limit,
// preserving input order across calls.
func (p *EmbeddingProcessor) embedAll(ctx context.Context, inputs []string, progress ProgressFunc) ([][]float32, error) {
	vectors := make([][]float32, 0, len(inputs))

	for start := 0; start < len(inputs); start += p.cfg.MaxBatchSize {
		end := start + p.cfg.MaxBatchSize
		if end > len(inputs) {
			end = len(inputs)
		}

		batch, err := p.embedder.EmbedBatch(ctx, inputs[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)

		pct := 20 + 60*end/len(inputs)
		progress(pct)
	}

	return vectors, nil
}

// EstimateTokens approximates token count as ceil(len/charsPerToken).
func EstimateTokens(text string) int {
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// BuildChunks splits text into pieces that each fit the token budget.
// Sentence boundaries are preferred; a single sentence over budget is split
// on word boundaries, and a single word over budget is cut hard.
func BuildChunks(text string, budgetTokens int) []string {
	budgetChars := budgetTokens * charsPerToken

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, sentence := range SplitSentences(text) {
		if len(sentence) > budgetChars {
			flush()
			chunks = append(chunks, splitOversized(sentence, budgetChars)...)
			continue
		}

		if current.Len() > 0 && current.Len()+1+len(sentence) > budgetChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
	}
	flush()

	return chunks
}

// SplitSentences breaks text on terminal punctuation followed by
// whitespace, keeping the punctuation with its sentence.
func SplitSentences(text string) []string {
	var sentences []string
	start := 0

	for i := 0; i < len(text)-1; i++ {
		c := text[i]
		if (c == '.' || c == '!' || c == '?') && isSpace(text[i+1]) {
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				sentences = append(sentences, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}

	return sentences
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// splitOversized word-splits a sentence that alone exceeds the chunk
// budget, hard-cutting any single word longer than the budget.
func splitOversized(sentence string, budgetChars int) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, word := range strings.Fields(sentence) {
		for len(word) > budgetChars {
			flush()
			chunks = append(chunks, word[:budgetChars])
			word = word[budgetChars:]
		}
		if word == "" {
			continue
		}

		if current.Len() > 0 && current.Len()+1+len(word) > budgetChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	flush()

	return chunks
}

// TruncateAtWordBoundary cuts text to the token budget at the nearest word
// boundary, provided that boundary keeps at least 80% of the limit;
// otherwise it cuts hard. Returns whether anything was removed.
func TruncateAtWordBoundary(text string, budgetTokens int) (string, bool) {
	limit := budgetTokens * charsPerToken
	if len(text) <= limit {
		return text, false
	}

	cut := strings.LastIndexByte(text[:limit], ' ')
	if cut < limit*80/100 {
		cut = limit
	}
	return strings.TrimSpace(text[:cut]), true
}

// AverageAndNormalize averages vectors element-wise and rescales the result
// to unit magnitude. The renormalization step is required: a raw average of
// unit vectors is shorter than unit length, which skews cosine-similarity
// ranking downstream.
func AverageAndNormalize(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	if len(vectors) == 1 {
		return vectors[0]
	}

	dims := len(vectors[0])
	sum := make([]float64, dims)
	for _, vec := range vectors {
		for i, v := range vec {
			sum[i] += float64(v)
		}
	}

	n := float64(len(vectors))
	var magnitude float64
	for i := range sum {
		sum[i] /= n
		magnitude += sum[i] * sum[i]
	}
	magnitude = math.Sqrt(magnitude)

	out := make([]float32, dims)
	if magnitude == 0 {
		return out
	}
	for i := range sum {
		out[i] = float32(sum[i] / magnitude)
	}
	return out
}
