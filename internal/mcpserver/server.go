// Package mcpserver exposes document generation as MCP tools over stdio.
package mcpserver

import (
	"context"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/ashureev/briefsmith/internal/domain"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Generator runs the pipeline as a whole or stage by stage.
type Generator interface {
	Run(ctx context.Context, record domain.Record) (*domain.Artifacts, error)
	FunctionalRequirements(ctx context.Context, record domain.Record) (string, error)
	TRD(ctx context.Context, functionalRequirements string) (string, error)
	Estimates(ctx context.Context, record domain.Record, trd string) (timeEst, costEst domain.Document, err error)
	GenerateTaskBreakdown(ctx context.Context, record domain.Record, trd string, totalHours float64) (domain.Document, error)
	GenerateCursorRules(ctx context.Context, record domain.Record, trd string, tasks domain.Document) (string, error)
}

// RunSaver persists finished runs.
type RunSaver interface {
	SaveRun(ctx context.Context, run *domain.Run) error
}

// Deps are the collaborators of the MCP server. Runs and Logger are
// optional.
type Deps struct {
	Generator Generator
	Briefs    *BriefReader
	Runs      RunSaver
	Logger    *slog.Logger
}

// New creates the MCP server with every tool and resource registered.
func New(deps Deps) *server.MCPServer {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Briefs == nil {
		deps.Briefs = NewBriefReader("")
	}

	s := server.NewMCPServer(
		"briefsmith",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	documents := NewDocumentsTool(deps.Generator, deps.Briefs, deps.Runs, deps.Logger)
	s.AddTool(documents.Definition(), documents.Handle)

	tasks := NewTaskBreakdownTool(deps.Generator, deps.Briefs, deps.Logger)
	s.AddTool(tasks.Definition(), tasks.Handle)

	rules := NewCursorRulesTool(deps.Generator, deps.Briefs, deps.Logger)
	s.AddTool(rules.Definition(), rules.Handle)

	s.AddResource(TemplateResource(), HandleTemplate)

	return s
}

// Serve runs s over the given streams until ctx is cancelled or in closes.
// Protocol errors go to logger; out carries only JSON-RPC frames.
func Serve(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	stdio := server.NewStdioServer(s)
	stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, in, out)
}

const instructions = `briefsmith turns a markdown project brief into planning documents.
Read project-brief://template, fill it in, save it, and pass its file:// URI
(or the markdown itself) to generate_project_documents. generate_task_breakdown
and generate_cursor_rules produce the individual artifacts.`
