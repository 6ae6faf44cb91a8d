// Package embedding provides a pluggable interface for text embedding providers.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// ErrShape is returned when a provider answers with the wrong number of vectors.
var ErrShape = errors.New("embedding: unexpected response shape")

// Embedder generates one embedding vector per input text, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([]Vector, error)
}

// CosineSimilarity computes cosine similarity between two vectors. It returns
// 0 for empty, zero-norm or mismatched vectors.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// --- Ollama Provider ---

// OllamaEmbedder uses a local Ollama instance for embeddings.
type OllamaEmbedder struct {
	baseURL string
	model   string
	client  *http.Client
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewOllamaEmbedder creates an embedder using Ollama's API.
// Default model: nomic-embed-text.
func NewOllamaEmbedder(baseURL, model string, timeout time.Duration) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OllamaEmbedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

// Embed calls the single-prompt endpoint once per text.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, 0, len(texts))
	for _, text := range texts {
		body, _ := json.Marshal(ollamaRequest{Model: e.model, Prompt: text})
		var result ollamaResponse
		if err := postJSON(ctx, e.client, e.baseURL+"/api/embeddings", "", body, &result); err != nil {
			return nil, fmt.Errorf("ollama: %w", err)
		}
		if len(result.Embedding) == 0 {
			return nil, ErrShape
		}
		out = append(out, result.Embedding)
	}
	return out, nil
}

// --- OpenAI-compatible Provider ---

// OpenAIEmbedder uses any OpenAI-compatible embedding API.
type OpenAIEmbedder struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

type openaiEmbedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewOpenAIEmbedder creates an embedder using an OpenAI-compatible API.
func NewOpenAIEmbedder(baseURL, apiKey, model string, timeout time.Duration) *OpenAIEmbedder {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIEmbedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

// Embed sends all texts in one batch request.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([]Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, _ := json.Marshal(openaiEmbedRequest{Input: texts, Model: e.model})
	var result openaiEmbedResponse
	if err := postJSON(ctx, e.client, e.baseURL+"/embeddings", e.apiKey, body, &result); err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(result.Data) != len(texts) {
		return nil, ErrShape
	}
	out := make([]Vector, len(texts))
	for i, d := range result.Data {
		idx := d.Index
		if idx < 0 || idx >= len(out) || out[idx] != nil {
			idx = i
		}
		out[idx] = d.Embedding
	}
	return out, nil
}

func postJSON(ctx context.Context, client *http.Client, url, apiKey string, body []byte, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(into)
}

// --- Factory ---

// Config selects and configures a provider.
type Config struct {
	Provider string        `mapstructure:"provider"` // "openai" | "ollama" | "" (disabled)
	Model    string        `mapstructure:"model"`
	URL      string        `mapstructure:"url"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// New creates an embedder from config. It returns nil when embeddings are
// disabled.
func New(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "ollama":
		return NewOllamaEmbedder(cfg.URL, cfg.Model, cfg.Timeout), nil
	case "openai":
		return NewOpenAIEmbedder(cfg.URL, cfg.APIKey, cfg.Model, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
