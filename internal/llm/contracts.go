// Package llm talks to the embedding and classification APIs. Both are
// plain HTTP JSON services behind narrow interfaces so processors can be
// tested without network access.
package llm

import (
	"context"
	"time"
)

// Embedder turns text into vectors. Implementations must return one vector
// per input, in input order, even when the upstream API answers out of
// order.
type Embedder interface {
	// EmbedBatch embeds up to the provider's batch limit of inputs in one
	// call.
	EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error)

	// Model names the embedding model in use.
	Model() string
}

// Classification is the structured result of AI document classification.
type Classification struct {
	Category   string   `json:"category"`
	Confidence float64  `json:"confidence"`
	Tags       []string `json:"tags,omitempty"`
	Summary    string   `json:"summary,omitempty"`
}

// Classifier assigns a document category from its extracted text.
type Classifier interface {
	ClassifyDocument(ctx context.Context, text string) (*Classification, error)
	Model() string
}

// apiError carries the HTTP status through to fault classification; a 429
// additionally carries the provider's retry-after hint.
type apiError struct {
	status     int
	body       string
	retryAfter time.Duration
}

func (e *apiError) Error() string {
	if e.body != "" {
		return e.body
	}
	return "api error"
}

// RetryAfter implements the classifier's retry-after hint for 429 responses.
func (e *apiError) RetryAfter() time.Duration {
	return e.retryAfter
}
