// Package similarity provides the optional embeddings-backed similarity
// capability consumed by essay grading. Absence of a configured backend
// is a valid deployment; grading then falls back to keyword scoring.
package similarity

import (
	"context"
	"fmt"
	"math"

	openai "github.com/sashabaranov/go-openai"
)

// Client computes text similarity with an OpenAI-compatible embeddings API.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a backend client. baseURL may point at any
// OpenAI-compatible server; an empty model selects a small embedding model.
func New(baseURL, apiKey, model string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: model,
	}
}

// Similarity embeds both texts in one request and returns their cosine
// similarity clamped to [0,1]. The call honors ctx cancellation.
func (c *Client) Similarity(ctx context.Context, text, reference string) (float64, error) {
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text, reference},
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return 0, fmt.Errorf("embeddings API call: %w", err)
	}
	if len(resp.Data) != 2 {
		return 0, fmt.Errorf("embeddings API returned %d vectors, want 2", len(resp.Data))
	}
	sim := cosine(resp.Data[0].Embedding, resp.Data[1].Embedding)
	if sim < 0 {
		sim = 0
	}
	if sim > 1 {
		sim = 1
	}
	return sim, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
