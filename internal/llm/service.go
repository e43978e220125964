// Package llm implements the memory decision service on genkit. Each
// method sends one nonce-delimited prompt and parses a strict JSON reply;
// malformed model output degrades to a safe default instead of an error,
// so callers only see failures when the model itself is unreachable.
package llm

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"
)

// maxResponseBytes caps any decision response before JSON parsing (16 KB).
const maxResponseBytes = 16 * 1024

// Service is the genkit-backed implementation of memory.Decider.
type Service struct {
	g       *genkit.Genkit
	model   string
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a decision service. limiter may be nil to disable
// client-side rate limiting.
func New(g *genkit.Genkit, model string, limiter *rate.Limiter, logger *slog.Logger) (*Service, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{g: g, model: model, limiter: limiter, logger: logger}, nil
}

// generate runs one prompt through the model and returns the cleaned
// response body.
func (s *Service) generate(ctx context.Context, prompt string) (string, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}
	}

	opts := []ai.GenerateOption{ai.WithPrompt(prompt)}
	if s.model != "" {
		opts = append(opts, ai.WithModelName(s.model))
	}

	resp, err := genkit.Generate(ctx, s.g, opts...)
	if err != nil {
		return "", fmt.Errorf("generating: %w", err)
	}

	raw := resp.Text()
	if len(raw) > maxResponseBytes {
		return "", fmt.Errorf("response too large: %d bytes", len(raw))
	}
	return stripCodeFences(strings.TrimSpace(raw)), nil
}

// delimiterRe matches runs of 3+ '=' that could mimic the nonce-based
// ===SECTION_xxx=== prompt delimiters.
var delimiterRe = regexp.MustCompile(`={3,}`)

// sanitizeDelimiters replaces runs of 3+ '=' so memory content cannot
// mimic prompt boundaries. The nonce is the primary protection; this is
// defense-in-depth.
func sanitizeDelimiters(s string) string {
	return delimiterRe.ReplaceAllString(s, "--")
}

// stripCodeFences removes ```json ... ``` wrapping from model output.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}

// truncate shortens s to at most n bytes for logging.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// generateNonce returns a random 16-byte hex string for prompt delimiters.
func generateNonce() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
