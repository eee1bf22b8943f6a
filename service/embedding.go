package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"
)

var (
	ErrEmbeddingProvider  = errors.New("embedding provider failure")
	ErrGenerationProvider = errors.New("generation provider failure")
)

const (
	embeddingAPI   = "https://generativelanguage.googleapis.com/v1beta/models/gemini-embedding-001:embedContent"
	generationAPI  = "https://generativelanguage.googleapis.com/v1beta/models/gemini-3-pro-preview:generateContent"
	maxRetries     = 3
	initialBackoff = time.Second

	embeddingProviderTag = "gemini-embedding-001"
	defaultEmbeddingDim  = 768
)

// EmbeddingRequest represents an embedding API request
type EmbeddingRequest struct {
	Model                string       `json:"model"`
	Content              ContentInput `json:"content"`
	TaskType             string       `json:"task_type,omitempty"`
	OutputDimensionality int          `json:"output_dimensionality,omitempty"`
}

// ContentInput represents content for embedding
type ContentInput struct {
	Parts []PartInput `json:"parts"`
}

// PartInput represents a part of content
type PartInput struct {
	Text string `json:"text"`
}

// EmbeddingResponse represents an embedding API response
type EmbeddingResponse struct {
	Embedding EmbeddingData `json:"embedding"`
}

// EmbeddingData contains the embedding values
type EmbeddingData struct {
	Values []float64 `json:"values"`
}

// GeminiEmbedder embeds queries via the Gemini embedding API. Vectors
// are normalized to unit length so ranking can use plain dot products.
type GeminiEmbedder struct {
	apiKey string
	client *http.Client
}

// NewGeminiEmbedder creates an embedder reading GEMINI_API_KEY from the
// environment
func NewGeminiEmbedder() *GeminiEmbedder {
	return &GeminiEmbedder{
		apiKey: os.Getenv("GEMINI_API_KEY"),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Embed generates a retrieval-query embedding. Failures are typed
// provider errors so callers can distinguish "try again" from unusable
// output.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string, dim int) ([]float64, string, error) {
	if e.apiKey == "" {
		return nil, "", fmt.Errorf("GEMINI_API_KEY not set: %w", ErrEmbeddingProvider)
	}
	if dim <= 0 {
		dim = defaultEmbeddingDim
	}

	reqBody := EmbeddingRequest{
		Model: "models/gemini-embedding-001",
		Content: ContentInput{
			Parts: []PartInput{{Text: text}},
		},
		TaskType:             "RETRIEVAL_QUERY",
		OutputDimensionality: dim,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request: %w", err)
	}

	backoff := initialBackoff
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, "POST", embeddingAPI, bytes.NewBuffer(jsonData))
		if err != nil {
			return nil, "", fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", e.apiKey)

		resp, err := e.client.Do(req)
		if err != nil {
			if attempt == maxRetries-1 {
				return nil, "", fmt.Errorf("embedding request failed after %d attempts: %v: %w", maxRetries, err, ErrEmbeddingProvider)
			}
			continue
		}

		if resp.StatusCode == http.StatusOK {
			var apiResp EmbeddingResponse
			decodeErr := json.NewDecoder(resp.Body).Decode(&apiResp)
			resp.Body.Close()
			if decodeErr != nil {
				if attempt == maxRetries-1 {
					return nil, "", fmt.Errorf("failed to decode embedding response: %v: %w", decodeErr, ErrEmbeddingProvider)
				}
				continue
			}
			return normalizeVector(apiResp.Embedding.Values), embeddingProviderTag, nil
		}

		resp.Body.Close()

		// Don't retry on 400 or 401 errors
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			return nil, "", fmt.Errorf("embedding API error %d: %w", resp.StatusCode, ErrEmbeddingProvider)
		}

		if attempt == maxRetries-1 {
			return nil, "", fmt.Errorf("embedding API error %d after %d attempts: %w", resp.StatusCode, maxRetries, ErrEmbeddingProvider)
		}
	}

	return nil, "", ErrEmbeddingProvider
}

func normalizeVector(v []float64) []float64 {
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
	return v
}
