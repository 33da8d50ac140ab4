package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"docflow/internal/cache"
)

// CachedEmbedder wraps an Embedder with a Redis-backed vector cache keyed
// by SHA-256 of (model, text). Retried jobs re-embedding identical chunks
// hit the cache instead of re-billing the API.
type CachedEmbedder struct {
	inner Embedder
	cache cache.Cache
	ttl   time.Duration
}

func NewCachedEmbedder(inner Embedder, c cache.Cache, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: c, ttl: ttl}
}

func (e *CachedEmbedder) Model() string { return e.inner.Model() }

func (e *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(e.inner.Model() + "\x00" + text))
	return "embedding:" + hex.EncodeToString(sum[:])
}

// EmbedBatch serves what it can from the cache and forwards only the
// misses to the underlying embedder.
func (e *CachedEmbedder) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	vectors := make([][]float32, len(inputs))
	var missIdx []int
	var missInputs []string

	for i, text := range inputs {
		data, err := e.cache.Get(ctx, e.cacheKey(text))
		if err != nil {
			if !errors.Is(err, cache.ErrCacheMiss) {
				log.Warn().Err(err).Msg("Embedding cache read failed")
			}
			missIdx = append(missIdx, i)
			missInputs = append(missInputs, text)
			continue
		}

		var vec []float32
		if err := json.Unmarshal(data, &vec); err != nil {
			missIdx = append(missIdx, i)
			missInputs = append(missInputs, text)
			continue
		}
		vectors[i] = vec
	}

	if len(missInputs) == 0 {
		return vectors, nil
	}

	fresh, err := e.inner.EmbedBatch(ctx, missInputs)
	if err != nil {
		return nil, err
	}

	for j, vec := range fresh {
		vectors[missIdx[j]] = vec

		data, err := json.Marshal(vec)
		if err != nil {
			continue
		}
		if err := e.cache.Set(ctx, e.cacheKey(missInputs[j]), data, e.ttl); err != nil {
			log.Warn().Err(err).Msg("Embedding cache write failed")
		}
	}

	log.Debug().
		Int("total", len(inputs)).
		Int("misses", len(missInputs)).
		Msg("Embedding batch served")

	return vectors, nil
}
