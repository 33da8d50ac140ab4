package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"docflow/internal/config"
)

// sendJSON posts a JSON body and returns the raw response. Non-2xx
// responses become apiErrors; a 429 status produces a message the fault
// classifier maps to the rate-limited category.
func sendJSON(ctx context.Context, client *http.Client, url, apiKey string, body, out interface{}) error {
	bs, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		log.Error().Err(err).Str("url", url).Msg("LLM request failed")
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	log.Debug().
		Str("url", url).
		Int("status", resp.StatusCode).
		Int("bytes", len(raw)).
		Dur("elapsed", time.Since(start)).
		Msg("LLM response")

	if resp.StatusCode/100 != 2 {
		apiErr := &apiError{
			status: resp.StatusCode,
			body:   fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(raw), 500)),
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			apiErr.retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// OpenAIEmbedder implements Embedder against an OpenAI-compatible
// /embeddings endpoint.
type OpenAIEmbedder struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

func NewOpenAIEmbedder(cfg config.EmbeddingConfig) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		client:  &http.Client{Timeout: 60 * time.Second},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

func (e *OpenAIEmbedder) Model() string { return e.model }

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingItem struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type embeddingResponse struct {
	Data []embeddingItem `json:"data"`
}

// EmbedBatch embeds inputs in one call. The batch API may answer out of
// order, so items are re-sorted by their original index before returning.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	var resp embeddingResponse
	err := sendJSON(ctx, e.client, e.baseURL+"/embeddings", e.apiKey, embeddingRequest{
		Model: e.model,
		Input: inputs,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("embed batch of %d: %w", len(inputs), err)
	}

	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(inputs), len(resp.Data))
	}

	sort.Slice(resp.Data, func(i, j int) bool {
		return resp.Data[i].Index < resp.Data[j].Index
	})

	vectors := make([][]float32, len(resp.Data))
	for i, item := range resp.Data {
		vectors[i] = item.Embedding
	}

	return vectors, nil
}

// OpenAIClassifier implements Classifier against an OpenAI-compatible
// /chat/completions endpoint with a JSON response format.
type OpenAIClassifier struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

func NewOpenAIClassifier(cfg config.AIConfig) *OpenAIClassifier {
	return &OpenAIClassifier{
		client:  &http.Client{Timeout: 60 * time.Second},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

func (c *OpenAIClassifier) Model() string { return c.model }

const classifyPrompt = `You are a document classification service. ` +
	`Given document text, respond with a JSON object containing: ` +
	`"category" (one of: invoice, contract, report, correspondence, form, identification, financial_statement, other), ` +
	`"confidence" (0.0-1.0), "tags" (up to 5 short strings), "summary" (one sentence).`

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
	Temperature    float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// classifyInputLimit keeps the prompt affordable; classification rarely
// benefits from more than the opening of a document.
const classifyInputLimit = 24000

func (c *OpenAIClassifier) ClassifyDocument(ctx context.Context, text string) (*Classification, error) {
	var resp chatResponse
	err := sendJSON(ctx, c.client, c.baseURL+"/chat/completions", c.apiKey, chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: classifyPrompt},
			{Role: "user", Content: truncate(text, classifyInputLimit)},
		},
		ResponseFormat: &respFormat{Type: "json_object"},
		Temperature:    0,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("classify document: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("classify document: empty response")
	}

	var result Classification
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &result); err != nil {
		return nil, fmt.Errorf("classify document: invalid JSON from model: %w", err)
	}

	return &result, nil
}
