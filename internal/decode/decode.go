// Package decode turns loosely formatted generator output into structured
// records.
//
// Generators frequently wrap JSON in markdown fences, surround it with prose,
// leave trailing commas, or use single quotes. Decode runs an ordered list of
// repairs, attempting a parse after each one, and stops at the first success.
package decode

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	previewLimit = 200
	contextWidth = 40
)

// Error describes input the decoder could not recover.
type Error struct {
	// Preview is the leading part of the raw input.
	Preview string
	// Offset is the byte offset of the syntax error in the last attempted
	// candidate, or -1 when unknown.
	Offset int64
	// Context is the text around Offset.
	Context string
	Err     error
}

func (e *Error) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("decode structured output: %v at offset %d near %q (input: %q)", e.Err, e.Offset, e.Context, e.Preview)
	}
	return fmt.Sprintf("decode structured output: %v (input: %q)", e.Err, e.Preview)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrNoObject is returned when the input contains no JSON object at all.
var ErrNoObject = errors.New("no JSON object found")

// Repair is a single text transform. Repairs must be idempotent.
type Repair struct {
	Name  string
	Apply func(string) string
}

// Repairs is the ordered chain applied by Decode before the final fallback.
var Repairs = []Repair{
	{Name: "strip_fences", Apply: StripFences},
	{Name: "isolate_object", Apply: IsolateObject},
	{Name: "trailing_commas", Apply: RemoveTrailingCommas},
	{Name: "single_quotes", Apply: NormalizeQuotes},
}

// Decode parses raw into a JSON object, repairing it as needed.
func Decode(raw string) (map[string]any, error) {
	var out map[string]any
	if err := Into(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Into parses raw into v, which should point to a map or struct.
func Into(raw string, v any) error {
	candidate := raw
	lastErr := unmarshalObject(candidate, v)
	if lastErr == nil {
		return nil
	}

	for _, r := range Repairs {
		next := r.Apply(candidate)
		if next == candidate {
			continue
		}
		candidate = next
		if lastErr = unmarshalObject(candidate, v); lastErr == nil {
			return nil
		}
	}

	// Fallback: cut the raw text to its outermost braces and repeat the
	// syntax repairs, ignoring anything the fence stripper may have done.
	fallback := IsolateObject(raw)
	if strings.Contains(fallback, "{") {
		fallback = NormalizeQuotes(RemoveTrailingCommas(fallback))
		err := unmarshalObject(fallback, v)
		if err == nil {
			return nil
		}
		candidate, lastErr = fallback, err
	} else if !strings.Contains(candidate, "{") {
		lastErr = ErrNoObject
	}

	return newError(raw, candidate, lastErr)
}

func unmarshalObject(s string, v any) error {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		if s == "" {
			return ErrNoObject
		}
		var probe any
		if err := json.Unmarshal([]byte(s), &probe); err != nil {
			return err
		}
		return ErrNoObject
	}
	return json.Unmarshal([]byte(s), v)
}

func newError(raw, candidate string, err error) *Error {
	e := &Error{
		Preview: truncateRunes(raw, previewLimit),
		Offset:  -1,
		Err:     err,
	}
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		e.Offset = syn.Offset
		e.Context = around(strings.TrimSpace(candidate), int(syn.Offset), contextWidth)
	}
	return e
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

func around(s string, offset, width int) string {
	if offset < 0 {
		return ""
	}
	start := offset - width
	if start < 0 {
		start = 0
	}
	end := offset + width
	if end > len(s) {
		end = len(s)
	}
	if start > end {
		return ""
	}
	return strings.ToValidUTF8(s[start:end], "")
}

var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\\s*\\n?(.*?)\\s*```")

// StripFences returns the body of the first fenced code block, or the input
// unchanged when it has no complete fence. A lone leading or trailing fence
// is also removed.
func StripFences(s string) string {
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "```") {
		t = strings.TrimPrefix(t, "```")
		if i := strings.IndexByte(t, '\n'); i >= 0 && !strings.Contains(t[:i], "{") {
			t = t[i+1:]
		}
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	if t == strings.TrimSpace(s) {
		return s
	}
	return strings.TrimSpace(t)
}

// IsolateObject returns the span from the first '{' to the last '}'.
func IsolateObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

var trailingComma = regexp.MustCompile(`,(\s*[}\]])`)

// RemoveTrailingCommas drops commas that directly precede a closing brace or
// bracket.
func RemoveTrailingCommas(s string) string {
	for {
		next := trailingComma.ReplaceAllString(s, "$1")
		if next == s {
			return s
		}
		s = next
	}
}

var (
	singleQuotedKey   = regexp.MustCompile(`([{,]\s*)'([^'\\\n]*)'(\s*:)`)
	singleQuotedValue = regexp.MustCompile(`(:\s*)'([^'\\\n]*)'(\s*[,}\]])`)
	singleQuotedItem  = regexp.MustCompile(`([\[,]\s*)'([^'\\\n]*)'(\s*[,\]])`)
)

// NormalizeQuotes rewrites single-quoted keys, values, and array items to
// double quotes. It only acts when single quotes outnumber double quotes, so
// well-formed JSON containing apostrophes is left alone.
func NormalizeQuotes(s string) string {
	if strings.Count(s, `"`) >= strings.Count(s, `'`) {
		return s
	}
	out := s
	for i := 0; i < 8; i++ {
		next := singleQuotedKey.ReplaceAllStringFunc(out, requote(singleQuotedKey))
		next = singleQuotedValue.ReplaceAllStringFunc(next, requote(singleQuotedValue))
		next = singleQuotedItem.ReplaceAllStringFunc(next, requote(singleQuotedItem))
		if next == out {
			break
		}
		out = next
	}
	return out
}

// requote rebuilds a three-group match with the middle group double-quoted,
// escaping any double quotes inside it.
func requote(re *regexp.Regexp) func(string) string {
	return func(m string) string {
		g := re.FindStringSubmatch(m)
		body := strings.ReplaceAll(g[2], `"`, `\"`)
		return g[1] + `"` + body + `"` + g[3]
	}
}
