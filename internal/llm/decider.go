package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/koopa0/recall/internal/memory"
)

// DecideWrite implements memory.Decider. A malformed model reply degrades
// to "do not write".
func (s *Service) DecideWrite(ctx context.Context, turns []memory.Turn) (memory.WriteDecision, error) {
	if len(turns) == 0 {
		return memory.WriteDecision{}, nil
	}

	nonce, err := generateNonce()
	if err != nil {
		return memory.WriteDecision{}, fmt.Errorf("generating nonce: %w", err)
	}

	prompt := fmt.Sprintf(writePrompt, maxRecordsPerWrite,
		nonce, formatTurns(turns), nonce)

	text, err := s.generate(ctx, prompt)
	if err != nil {
		return memory.WriteDecision{}, fmt.Errorf("write decision: %w", err)
	}

	var out memory.WriteDecision
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		s.logger.Warn("malformed write decision, skipping write",
			"error", err, "raw", truncate(text, 200))
		return memory.WriteDecision{}, nil
	}

	// Drop empty records; cap the batch.
	records := out.Records[:0]
	for _, r := range out.Records {
		if strings.TrimSpace(r) != "" {
			records = append(records, r)
		}
	}
	if len(records) > maxRecordsPerWrite {
		records = records[:maxRecordsPerWrite]
	}
	out.Records = records
	if len(out.Records) == 0 {
		out.Write = false
	}
	return out, nil
}

// MergeText implements memory.Decider. A malformed reply returns a zero
// value; the merge executor falls back to concatenation.
func (s *Service) MergeText(ctx context.Context, a, b memory.Record) (memory.MergeText, error) {
	nonce, err := generateNonce()
	if err != nil {
		return memory.MergeText{}, fmt.Errorf("generating nonce: %w", err)
	}

	prompt := fmt.Sprintf(mergePrompt,
		nonce, sanitizeDelimiters(a.Text), nonce,
		nonce, sanitizeDelimiters(b.Text), nonce)

	text, err := s.generate(ctx, prompt)
	if err != nil {
		return memory.MergeText{}, fmt.Errorf("merge text: %w", err)
	}

	var out memory.MergeText
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		s.logger.Warn("malformed merge text, caller will concatenate",
			"error", err, "raw", truncate(text, 200))
		return memory.MergeText{}, nil
	}
	return out, nil
}

// SeparateText implements memory.Decider. A malformed reply returns a
// zero value; the separation executor then leaves both texts unchanged.
func (s *Service) SeparateText(ctx context.Context, a, b memory.Record) (memory.SeparateText, error) {
	nonce, err := generateNonce()
	if err != nil {
		return memory.SeparateText{}, fmt.Errorf("generating nonce: %w", err)
	}

	prompt := fmt.Sprintf(separatePrompt,
		nonce, sanitizeDelimiters(a.Text), nonce,
		nonce, sanitizeDelimiters(b.Text), nonce)

	text, err := s.generate(ctx, prompt)
	if err != nil {
		return memory.SeparateText{}, fmt.Errorf("separate text: %w", err)
	}

	var out memory.SeparateText
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		s.logger.Warn("malformed separation text, leaving pair unchanged",
			"error", err, "raw", truncate(text, 200))
		return memory.SeparateText{}, nil
	}
	return out, nil
}

// ExtractFacts implements memory.Decider. A malformed reply degrades to
// "no facts".
func (s *Service) ExtractFacts(ctx context.Context, rec memory.Record) (memory.FactExtraction, error) {
	if rec.Text == "" {
		return memory.FactExtraction{}, nil
	}

	nonce, err := generateNonce()
	if err != nil {
		return memory.FactExtraction{}, fmt.Errorf("generating nonce: %w", err)
	}

	prompt := fmt.Sprintf(factsPrompt, maxFactsPerExtraction,
		nonce, sanitizeDelimiters(rec.Text), nonce)

	text, err := s.generate(ctx, prompt)
	if err != nil {
		return memory.FactExtraction{}, fmt.Errorf("fact extraction: %w", err)
	}

	var out memory.FactExtraction
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		s.logger.Warn("malformed fact extraction, skipping",
			"error", err, "raw", truncate(text, 200))
		return memory.FactExtraction{}, nil
	}

	facts := out.Facts[:0]
	for _, f := range out.Facts {
		if strings.TrimSpace(f) != "" {
			facts = append(facts, f)
		}
	}
	if len(facts) > maxFactsPerExtraction {
		facts = facts[:maxFactsPerExtraction]
	}
	out.Facts = facts
	if len(out.Facts) == 0 {
		out.Write = false
	}
	return out, nil
}

// JudgeUsed implements memory.Decider. It returns indices into
// usage.Episodic; out-of-range values are filtered here so callers only
// see valid positions. A malformed reply degrades to "nothing used".
func (s *Service) JudgeUsed(ctx context.Context, usage memory.UsageContext) ([]int, error) {
	if len(usage.Episodic) == 0 {
		return nil, nil
	}

	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	prompt := fmt.Sprintf(judgePrompt,
		nonce, formatUsage(usage), nonce,
		nonce, formatCandidates(usage.Episodic), nonce)

	text, err := s.generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("usage judgment: %w", err)
	}

	var indices []int
	if err := json.Unmarshal([]byte(text), &indices); err != nil {
		s.logger.Warn("malformed usage judgment, treating as unused",
			"error", err, "raw", truncate(text, 200))
		return nil, nil
	}

	valid := indices[:0]
	for _, idx := range indices {
		if idx >= 0 && idx < len(usage.Episodic) {
			valid = append(valid, idx)
		}
	}
	return valid, nil
}

// formatTurns renders a conversation exchange for prompting.
func formatTurns(turns []memory.Turn) string {
	var b strings.Builder
	for i, turn := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(turn.Role)
		b.WriteString(": ")
		b.WriteString(sanitizeDelimiters(turn.Content))
	}
	return b.String()
}

// formatUsage renders the exchange plus the reply it produced.
func formatUsage(usage memory.UsageContext) string {
	var b strings.Builder
	if usage.SystemPrompt != "" {
		b.WriteString("system: ")
		b.WriteString(sanitizeDelimiters(usage.SystemPrompt))
		b.WriteByte('\n')
	}
	b.WriteString(formatTurns(usage.History))
	b.WriteString("\nassistant (final reply): ")
	b.WriteString(sanitizeDelimiters(usage.Reply))
	return b.String()
}

// formatCandidates numbers the episodic candidates for index-based answers.
func formatCandidates(records []memory.Record) string {
	var b strings.Builder
	for i, rec := range records {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d: %s", i, sanitizeDelimiters(rec.Text))
	}
	return b.String()
}
