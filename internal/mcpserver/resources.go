package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ashureev/briefsmith/internal/brief"
)

// ErrUnsupportedURI is returned for brief URIs that are neither the
// template nor a file.
var ErrUnsupportedURI = errors.New("unsupported brief URI")

// BriefReader resolves brief URIs to markdown.
type BriefReader struct {
	baseDir string
}

// NewBriefReader creates a reader that resolves relative file URIs against
// baseDir, or the working directory when baseDir is empty.
func NewBriefReader(baseDir string) *BriefReader {
	return &BriefReader{baseDir: baseDir}
}

// Read returns the markdown behind uri. Supported forms are
// project-brief://template, file:///abs/path, and file://rel/path.
func (b *BriefReader) Read(uri string) (string, error) {
	switch {
	case uri == brief.TemplateURI:
		return brief.Template(), nil
	case strings.HasPrefix(uri, "file://"):
		path := strings.TrimPrefix(uri, "file://")
		if path == "" {
			return "", fmt.Errorf("%w: %q has no path", ErrUnsupportedURI, uri)
		}
		if !filepath.IsAbs(path) && b.baseDir != "" {
			path = filepath.Join(b.baseDir, path)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", path, err)
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return "", fmt.Errorf("read brief: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedURI, uri)
	}
}

// TemplateResource describes the brief template resource.
func TemplateResource() mcp.Resource {
	return mcp.NewResource(
		brief.TemplateURI,
		"Project Brief Template",
		mcp.WithResourceDescription("Markdown template with every project question. Sections marked * are required."),
		mcp.WithMIMEType("text/markdown"),
	)
}

// HandleTemplate serves the brief template.
func HandleTemplate(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "text/markdown",
			Text:     brief.Template(),
		},
	}, nil
}
