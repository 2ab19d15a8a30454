// Package planner chooses which field to ask about next and words the
// questions.
//
// Fallback is deterministic and never fails. Generative asks a text
// generator and falls back to Fallback whenever the generator errors or its
// output is unusable, so callers always get an answer.
package planner

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ashureev/briefsmith/internal/domain"
	"github.com/ashureev/briefsmith/internal/llm"
	"github.com/ashureev/briefsmith/internal/prompts"
	"github.com/ashureev/briefsmith/internal/session"
)

// Planner decides the order and wording of collection questions.
type Planner interface {
	// NextField returns the next key to ask about, or ok=false when no
	// field is pending.
	NextField(ctx context.Context, s *session.Session) (key string, ok bool)
	// Question returns the question text for key.
	Question(ctx context.Context, key string, collected domain.Record) string
	// FollowUp returns a follow-up after an unsatisfactory answer.
	FollowUp(ctx context.Context, prior, answer, key string) string
}

// Fallback asks fields in catalog order using fixed wording.
type Fallback struct{}

// NextField returns the first pending field in catalog order.
func (Fallback) NextField(_ context.Context, s *session.Session) (string, bool) {
	pending := s.Pending()
	if len(pending) == 0 {
		return "", false
	}
	return pending[0], true
}

// Question returns the catalog question for key.
func (Fallback) Question(_ context.Context, key string, _ domain.Record) string {
	return domain.FallbackQuestion(key)
}

// FollowUp returns the generic follow-up for key.
func (Fallback) FollowUp(_ context.Context, _, _, key string) string {
	return domain.FallbackFollowUp(key)
}

// Generative plans with a text generator.
type Generative struct {
	gen      llm.Generator
	prompts  *prompts.Set
	fallback Fallback
	logger   *slog.Logger
}

// NewGenerative creates a generator-backed planner.
func NewGenerative(gen llm.Generator, set *prompts.Set, logger *slog.Logger) *Generative {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generative{gen: gen, prompts: set, logger: logger}
}

// NextField asks the generator to pick among the pending fields. Answers
// that are not one of the pending keys fall back to catalog order.
func (g *Generative) NextField(ctx context.Context, s *session.Session) (string, bool) {
	pending := s.Pending()
	if len(pending) == 0 {
		return "", false
	}
	if len(pending) == 1 {
		return pending[0], true
	}

	remaining := make([]domain.Field, 0, len(pending))
	for _, key := range pending {
		f, _ := domain.LookupField(key)
		remaining = append(remaining, f)
	}

	text, err := g.generate(ctx, prompts.NextField, prompts.NextFieldData{
		Collected: prompts.FieldValues(s.Collected(), true),
		Remaining: remaining,
	})
	if err != nil {
		return g.fallback.NextField(ctx, s)
	}

	key := firstToken(text)
	for _, candidate := range pending {
		if candidate == key {
			return key, true
		}
	}
	g.logger.Debug("Generator suggested an invalid field, using catalog order",
		"session_id", s.ID, "suggested", key)
	return g.fallback.NextField(ctx, s)
}

// Question words the question for key.
func (g *Generative) Question(ctx context.Context, key string, collected domain.Record) string {
	f, ok := domain.LookupField(key)
	if !ok {
		return g.fallback.Question(ctx, key, collected)
	}
	text, err := g.generate(ctx, prompts.Question, prompts.QuestionData{
		Field:     f,
		Collected: prompts.FieldValues(collected, true),
	})
	if err != nil {
		return g.fallback.Question(ctx, key, collected)
	}
	if q := unquote(text); q != "" {
		return q
	}
	return g.fallback.Question(ctx, key, collected)
}

// FollowUp words a follow-up question.
func (g *Generative) FollowUp(ctx context.Context, prior, answer, key string) string {
	text, err := g.generate(ctx, prompts.FollowUp, prompts.AnswerData{
		Question: prior,
		Answer:   answer,
		Field:    key,
	})
	if err != nil {
		return g.fallback.FollowUp(ctx, prior, answer, key)
	}
	if q := unquote(text); q != "" {
		return q
	}
	return g.fallback.FollowUp(ctx, prior, answer, key)
}

func (g *Generative) generate(ctx context.Context, label string, data any) (string, error) {
	req, err := g.prompts.Request(label, data)
	if err != nil {
		g.logger.Error("Failed to render prompt", "label", label, "error", err)
		return "", err
	}
	text, err := g.gen.Generate(ctx, req)
	if err != nil {
		g.logger.Debug("Planner generator call failed, using fallback", "label", label, "error", err)
		return "", err
	}
	return text, nil
}

// firstToken returns the first whitespace-separated token with surrounding
// quotes, backticks, and trailing punctuation removed.
func firstToken(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], "\"'`.,:;")
}

// unquote trims whitespace and one layer of matching quotes.
func unquote(text string) string {
	text = strings.TrimSpace(text)
	if len(text) >= 2 {
		first, last := text[0], text[len(text)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			text = strings.TrimSpace(text[1 : len(text)-1])
		}
	}
	return text
}
