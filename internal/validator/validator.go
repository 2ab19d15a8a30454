// Package validator judges whether an answer is specific enough to keep.
package validator

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ashureev/briefsmith/internal/decode"
	"github.com/ashureev/briefsmith/internal/llm"
	"github.com/ashureev/briefsmith/internal/prompts"
)

// Judgment is the outcome of validating one answer.
type Judgment struct {
	Satisfactory bool
	// FollowUp is a suggested follow-up question, empty when none.
	FollowUp string
}

// Accept is the judgment used whenever validation cannot be performed.
var Accept = Judgment{Satisfactory: true}

// Validator judges answers.
type Validator interface {
	Judge(ctx context.Context, question, answer, key string) (Judgment, error)
}

// AcceptAll accepts every answer.
type AcceptAll struct{}

// Judge implements Validator.
func (AcceptAll) Judge(context.Context, string, string, string) (Judgment, error) {
	return Accept, nil
}

// Generative validates answers with a text generator. It fails open: any
// generator or decode failure yields Accept.
type Generative struct {
	gen     llm.Generator
	prompts *prompts.Set
	logger  *slog.Logger
}

// NewGenerative creates a generator-backed validator.
func NewGenerative(gen llm.Generator, set *prompts.Set, logger *slog.Logger) *Generative {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generative{gen: gen, prompts: set, logger: logger}
}

type verdict struct {
	Satisfactory *bool   `json:"satisfactory"`
	FollowUp     *string `json:"follow_up"`
	FollowUpAlt  *string `json:"followUp"`
}

// Judge implements Validator. It never returns an error.
func (g *Generative) Judge(ctx context.Context, question, answer, key string) (Judgment, error) {
	req, err := g.prompts.Request(prompts.Validate, prompts.AnswerData{
		Question: question,
		Answer:   answer,
		Field:    key,
	})
	if err != nil {
		g.logger.Error("Failed to render validation prompt", "field", key, "error", err)
		return Accept, nil
	}

	text, err := g.gen.Generate(ctx, req)
	if err != nil {
		g.logger.Debug("Validation call failed, accepting answer", "field", key, "error", err)
		return Accept, nil
	}

	var v verdict
	if err := decode.Into(text, &v); err != nil {
		g.logger.Debug("Validation output not decodable, accepting answer", "field", key, "error", err)
		return Accept, nil
	}
	if v.Satisfactory == nil {
		return Accept, nil
	}

	j := Judgment{Satisfactory: *v.Satisfactory}
	if !j.Satisfactory {
		switch {
		case v.FollowUp != nil:
			j.FollowUp = strings.TrimSpace(*v.FollowUp)
		case v.FollowUpAlt != nil:
			j.FollowUp = strings.TrimSpace(*v.FollowUpAlt)
		}
	}
	return j, nil
}
