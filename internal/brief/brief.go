// Package brief renders and parses the markdown project brief, an offline
// alternative to the interactive collection conversation.
//
// A brief has one level-two heading per catalog field. The text under a
// heading, up to the next level-two heading, is the field's value.
package brief

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/ashureev/briefsmith/internal/domain"
)

// TemplateURI identifies the template when served as an MCP resource.
const TemplateURI = "project-brief://template"

// ErrEmptyBrief is returned when a document has no recognizable sections.
var ErrEmptyBrief = errors.New("brief has no recognizable sections")

// Result is a parsed brief.
type Result struct {
	Record domain.Record `json:"record"`
	// Missing lists required fields with no value.
	Missing []string `json:"missing"`
	// Unknown lists section headings that match no field.
	Unknown []string `json:"unknown,omitempty"`
}

// Complete reports whether every required field has a value.
func (r *Result) Complete() bool { return len(r.Missing) == 0 }

// Template returns an empty brief listing every field in catalog order.
func Template() string {
	var sb strings.Builder
	sb.WriteString("# Project Brief\n\n")
	sb.WriteString("Answer under each heading. Sections marked * are required; leave any other section empty to skip it.\n")
	for _, f := range domain.Catalog() {
		sb.WriteString("\n## ")
		sb.WriteString(f.Title)
		if f.Required {
			sb.WriteString(" *")
		}
		sb.WriteString("\n\n<!-- ")
		sb.WriteString(f.Question)
		sb.WriteString(" (")
		sb.WriteString(f.Description)
		sb.WriteString(") -->\n")
	}
	return sb.String()
}

// Parse reads a markdown brief. Headings are matched to fields by title or
// key, ignoring case and a trailing "*". HTML comments are ignored.
func Parse(markdown string) (*Result, error) {
	src := []byte(markdown)
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))

	values := make(map[string]string)
	var (
		unknown  []string
		current  string
		body     []string
		sections int
	)
	flush := func() {
		if current != "" {
			values[current] = strings.TrimSpace(strings.Join(body, "\n\n"))
		}
		body = nil
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok && h.Level <= 2 {
			flush()
			current = ""
			if h.Level < 2 {
				continue
			}
			title := headingTitle(h, src)
			if key, ok := fieldForTitle(title); ok {
				current = key
				sections++
			} else {
				unknown = append(unknown, title)
			}
			continue
		}
		if current == "" || n.Kind() == ast.KindHTMLBlock {
			continue
		}
		if raw := blockSource(n, src); raw != "" {
			body = append(body, raw)
		}
	}
	flush()

	if sections == 0 {
		return nil, ErrEmptyBrief
	}

	record := domain.RecordFrom(values)
	return &Result{
		Record:  record,
		Missing: record.MissingRequired(),
		Unknown: unknown,
	}, nil
}

// ParseComplete parses markdown and fails when a required field is empty.
func ParseComplete(markdown string) (domain.Record, error) {
	res, err := Parse(markdown)
	if err != nil {
		return nil, err
	}
	if !res.Complete() {
		return nil, fmt.Errorf("brief is missing required fields: %s", strings.Join(res.Missing, ", "))
	}
	return res.Record, nil
}

func headingTitle(h *ast.Heading, src []byte) string {
	title := strings.TrimSpace(string(h.Lines().Value(src)))
	title = strings.TrimSpace(strings.TrimSuffix(title, "*"))
	return title
}

func fieldForTitle(title string) (string, bool) {
	for _, f := range domain.Catalog() {
		if strings.EqualFold(title, f.Title) || strings.EqualFold(title, f.Key) {
			return f.Key, true
		}
	}
	return "", false
}

// blockSource returns the original source lines spanned by a block node,
// including list markers and other syntax the AST strips.
func blockSource(n ast.Node, src []byte) string {
	start, stop := -1, -1
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || c.Type() != ast.TypeBlock {
			return ast.WalkContinue, nil
		}
		lines := c.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			if start < 0 || seg.Start < start {
				start = seg.Start
			}
			if seg.Stop > stop {
				stop = seg.Stop
			}
		}
		return ast.WalkContinue, nil
	})
	if start < 0 {
		return ""
	}
	for start > 0 && src[start-1] != '\n' {
		start--
	}
	for stop < len(src) && src[stop] != '\n' {
		stop++
	}
	return strings.TrimSpace(string(src[start:stop]))
}
