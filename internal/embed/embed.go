// Package embed adapts a genkit embedder to the memory engine's
// collaborator interface.
package embed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// DefaultDimension matches the vector(768) columns in the schema.
const DefaultDimension int32 = 768

// Service wraps an ai.Embedder with a fixed output dimensionality and
// optional client-side rate limiting. It implements memory.Embedder.
type Service struct {
	embedder ai.Embedder
	dim      int32
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// New creates an embedding service. A non-positive dim falls back to the
// default; limiter may be nil to disable rate limiting.
func New(embedder ai.Embedder, dim int32, limiter *rate.Limiter, logger *slog.Logger) (*Service, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if dim <= 0 {
		dim = DefaultDimension
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{embedder: embedder, dim: dim, limiter: limiter, logger: logger}, nil
}

// Encode returns one vector per input text, in order.
func (s *Service) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	docs := make([]*ai.Document, len(texts))
	for i, text := range texts {
		docs[i] = ai.DocumentFromText(text, nil)
	}

	dim := s.dim
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   docs,
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding %d texts: %w", len(texts), err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if len(e.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding at position %d", i)
		}
		out[i] = e.Embedding
	}
	return out, nil
}
