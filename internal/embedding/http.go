package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// dimensionCache records the vector dimension seen in the first successful
// response, which may differ from the configured default.
type dimensionCache struct {
	once sync.Once
	dim  int
	def  int
}

func (c *dimensionCache) record(vectors [][]float32) {
	if len(vectors) > 0 && len(vectors[0]) > 0 {
		c.once.Do(func() { c.dim = len(vectors[0]) })
	}
}

func (c *dimensionCache) value() int {
	if c.dim > 0 {
		return c.dim
	}
	return c.def
}

// APIProvider talks to an OpenAI-compatible embeddings endpoint.
type APIProvider struct {
	endpoint string
	model    string
	apiKey   string
	dims     dimensionCache
}

// NewAPIProvider creates a new APIProvider from the given Config.
func NewAPIProvider(cfg Config) *APIProvider {
	p := &APIProvider{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
	}
	p.dims.def = cfg.Dimension
	return p
}

// Embed sends all texts in one batch request.
func (p *APIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	payload := struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}{Model: p.model, Input: texts}

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := postJSON(ctx, p.endpoint+"/embeddings", headers, payload, &result); err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(result.Data))
	for i, d := range result.Data {
		embeddings[i] = d.Embedding
	}
	p.dims.record(embeddings)
	return embeddings, nil
}

// Dimension returns the embedding vector dimension.
func (p *APIProvider) Dimension() int {
	return p.dims.value()
}

// LocalProvider talks to an Ollama-compatible embeddings endpoint, which
// only accepts one prompt per request.
type LocalProvider struct {
	endpoint string
	model    string
	dims     dimensionCache
}

// NewLocalProvider creates a new LocalProvider from the given Config.
func NewLocalProvider(cfg Config) *LocalProvider {
	p := &LocalProvider{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
	}
	p.dims.def = cfg.Dimension
	return p
}

// Embed sends each text to the endpoint in turn.
func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, 0, len(texts))
	for _, text := range texts {
		payload := struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}{Model: p.model, Prompt: text}

		var result struct {
			Embedding []float32 `json:"embedding"`
		}
		if err := postJSON(ctx, p.endpoint+"/api/embeddings", nil, payload, &result); err != nil {
			return nil, err
		}
		embeddings = append(embeddings, result.Embedding)
	}
	p.dims.record(embeddings)
	return embeddings, nil
}

// Dimension returns the embedding vector dimension.
func (p *LocalProvider) Dimension() int {
	return p.dims.value()
}

func postJSON(ctx context.Context, url string, headers map[string]string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("embedding: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("embedding: API returned status %d: %s", resp.StatusCode, string(respBody))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("embedding: decode response: %w", err)
	}
	return nil
}
