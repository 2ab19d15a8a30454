// Package prompts loads the prompt set and renders generator requests.
package prompts

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/tiktoken-go/tokenizer"
	"gopkg.in/yaml.v3"

	"github.com/ashureev/briefsmith/internal/llm"
)

// Prompt labels.
const (
	NextField              = "next_field"
	Question               = "question"
	FollowUp               = "follow_up"
	Validate               = "validate"
	FunctionalRequirements = "functional_requirements"
	TRD                    = "trd"
	TimeEstimate           = "time_estimate"
	CostEstimate           = "cost_estimate"
	TaskBreakdown          = "task_breakdown"
	CursorRules            = "cursor_rules"
)

var requiredLabels = []string{
	NextField, Question, FollowUp, Validate,
	FunctionalRequirements, TRD, TimeEstimate, CostEstimate, TaskBreakdown, CursorRules,
}

//go:embed prompts.yaml
var defaultYAML []byte

// Definition is one entry of the prompt file.
type Definition struct {
	System      string  `yaml:"system"`
	Prompt      string  `yaml:"prompt"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type entry struct {
	def  Definition
	tmpl *template.Template
}

// Set is a parsed, ready-to-render prompt set.
type Set struct {
	entries map[string]entry
	codec   tokenizer.Codec
}

// Default returns the embedded prompt set.
func Default() (*Set, error) {
	return Parse(defaultYAML)
}

// Parse decodes a YAML prompt file. Every known label must be present.
func Parse(data []byte) (*Set, error) {
	var defs map[string]Definition
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("prompts: decode yaml: %w", err)
	}

	for _, label := range requiredLabels {
		if _, ok := defs[label]; !ok {
			return nil, fmt.Errorf("prompts: missing %q", label)
		}
	}

	set := &Set{entries: make(map[string]entry, len(defs))}
	for label, def := range defs {
		if strings.TrimSpace(def.Prompt) == "" {
			return nil, fmt.Errorf("prompts: %q has an empty prompt", label)
		}
		tmpl, err := template.New(label).Option("missingkey=error").Parse(def.Prompt)
		if err != nil {
			return nil, fmt.Errorf("prompts: parse %q: %w", label, err)
		}
		set.entries[label] = entry{def: def, tmpl: tmpl}
	}

	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("prompts: load tokenizer: %w", err)
	}
	set.codec = codec

	return set, nil
}

// Labels returns the labels in the set, sorted.
func (s *Set) Labels() []string {
	labels := make([]string, 0, len(s.entries))
	for l := range s.entries {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// Request renders label with data into a generator request.
func (s *Set) Request(label string, data any) (llm.Request, error) {
	e, ok := s.entries[label]
	if !ok {
		return llm.Request{}, fmt.Errorf("prompts: unknown label %q", label)
	}
	var sb strings.Builder
	if err := e.tmpl.Execute(&sb, data); err != nil {
		return llm.Request{}, fmt.Errorf("prompts: render %q: %w", label, err)
	}
	return llm.Request{
		Label:       label,
		System:      strings.TrimSpace(e.def.System),
		Prompt:      strings.TrimSpace(sb.String()),
		MaxTokens:   e.def.MaxTokens,
		Temperature: e.def.Temperature,
	}, nil
}

// CountTokens returns the cl100k token count of text, or a four characters
// per token estimate if encoding fails.
func (s *Set) CountTokens(text string) int {
	n, err := s.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// Truncate cuts text to at most limit tokens, appending "..." when it cut.
func (s *Set) Truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	ids, _, err := s.codec.Encode(text)
	if err != nil {
		runes := []rune(text)
		if len(runes) <= limit*4 {
			return text
		}
		return string(runes[:limit*4]) + "..."
	}
	if len(ids) <= limit {
		return text
	}
	out, err := s.codec.Decode(ids[:limit])
	if err != nil {
		return text
	}
	return strings.TrimSpace(out) + "..."
}
