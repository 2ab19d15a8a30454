// Package llm provides the text generators used by the planner, the answer
// validator, and the document pipeline.
//
// Every provider is reached through its official SDK and exposed behind the
// single Generator interface, so callers never see provider types.
package llm

import (
	"context"
	"strings"
)

// Request is a single prompt/response exchange.
type Request struct {
	// Label names the call site ("next_field", "stage_b_trd") for logs
	// and metrics.
	Label       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Generator produces a raw text completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Func adapts a plain function to the Generator interface.
type Func func(ctx context.Context, req Request) (string, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Named is implemented by generators that can report their provider name.
type Named interface {
	Provider() string
}

// ProviderName returns g's provider name, or "custom".
func ProviderName(g Generator) string {
	if n, ok := g.(Named); ok {
		return n.Provider()
	}
	return "custom"
}

func defaultMaxTokens(n int) int {
	if n <= 0 {
		return 1024
	}
	return n
}

// checkText turns an empty completion into a classified error.
func checkText(provider, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", NewError(ErrorTypeEmptyResponse, provider+" returned no text")
	}
	return text, nil
}
