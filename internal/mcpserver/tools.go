package mcpserver

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ashureev/briefsmith/internal/brief"
	"github.com/ashureev/briefsmith/internal/domain"
	"github.com/ashureev/briefsmith/internal/pipeline"
)

const saveTimeout = 5 * time.Second

// loadRecord reads a brief from uri or inline markdown and requires every
// required field to be filled.
func loadRecord(briefs *BriefReader, uri, markdown string) (domain.Record, *mcp.CallToolResult) {
	switch {
	case uri != "" && markdown != "":
		return nil, mcp.NewToolResultError("provide either brief_uri or brief_markdown, not both")
	case uri != "":
		text, err := briefs.Read(uri)
		if err != nil {
			return nil, mcp.NewToolResultErrorFromErr("failed to read brief", err)
		}
		markdown = text
	case markdown == "":
		return nil, mcp.NewToolResultError("brief_uri or brief_markdown is required")
	}

	res, err := brief.Parse(markdown)
	if err != nil {
		return nil, mcp.NewToolResultErrorFromErr("failed to parse brief", err)
	}
	if !res.Complete() {
		return nil, mcp.NewToolResultErrorf("brief is missing required fields: %s", strings.Join(res.Missing, ", "))
	}
	return res.Record, nil
}

// DocumentsTool runs the full pipeline for a brief.
type DocumentsTool struct {
	gen    Generator
	briefs *BriefReader
	runs   RunSaver
	logger *slog.Logger
}

// NewDocumentsTool creates the generate_project_documents tool. runs may be nil.
func NewDocumentsTool(gen Generator, briefs *BriefReader, runs RunSaver, logger *slog.Logger) *DocumentsTool {
	return &DocumentsTool{gen: gen, briefs: briefs, runs: runs, logger: logger}
}

// Definition returns the tool schema.
func (t *DocumentsTool) Definition() mcp.Tool {
	return mcp.NewTool("generate_project_documents",
		mcp.WithDescription("Generate the technical requirements document, time and cost estimates, task breakdown, and coding-assistant rules from a project brief."),
		mcp.WithString("brief_uri",
			mcp.Description("URI of a filled-in project brief, e.g. file:///path/to/brief.md"),
		),
		mcp.WithString("brief_markdown",
			mcp.Description("The project brief markdown itself, as an alternative to brief_uri"),
		),
	)
}

type documentsResult struct {
	RunID         string                `json:"run_id"`
	Success       bool                  `json:"success"`
	Error         string                `json:"error,omitempty"`
	Stage         string                `json:"stage,omitempty"`
	TRD           string                `json:"trd,omitempty"`
	TimeEstimate  domain.Document       `json:"time_estimate,omitempty"`
	CostEstimate  domain.Document       `json:"cost_estimate,omitempty"`
	TaskBreakdown domain.Document       `json:"task_breakdown,omitempty"`
	CursorRules   string                `json:"cursor_rules,omitempty"`
	BackendStatus domain.DeliveryStatus `json:"backend_status"`
}

// Handle runs the pipeline and reports its artifacts.
func (t *DocumentsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	record, errResult := loadRecord(t.briefs, req.GetString("brief_uri", ""), req.GetString("brief_markdown", ""))
	if errResult != nil {
		return errResult, nil
	}

	art, runErr := t.gen.Run(ctx, record)
	run := pipeline.NewRun(domain.SourceMCP, record, art, runErr)
	t.save(ctx, run)

	out := documentsResult{RunID: run.ID, Success: runErr == nil, Error: run.Error, Stage: run.Stage}
	if art != nil {
		out.TRD = art.TRD
		out.TimeEstimate = art.TimeEstimate
		out.CostEstimate = art.CostEstimate
		out.TaskBreakdown = art.TaskBreakdown
		out.CursorRules = art.CursorRules
		out.BackendStatus = art.BackendStatus
	}
	if runErr != nil {
		t.logger.Warn("Document generation failed", "error", runErr, "run_id", run.ID)
	}
	return mcp.NewToolResultJSON(out)
}

func (t *DocumentsTool) save(ctx context.Context, run *domain.Run) {
	if t.runs == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := t.runs.SaveRun(saveCtx, run); err != nil {
		t.logger.Error("Failed to save run", "error", err, "run_id", run.ID)
	}
}

// TaskBreakdownTool produces a phased task plan from a TRD or a brief.
type TaskBreakdownTool struct {
	gen    Generator
	briefs *BriefReader
	logger *slog.Logger
}

// NewTaskBreakdownTool creates the generate_task_breakdown tool.
func NewTaskBreakdownTool(gen Generator, briefs *BriefReader, logger *slog.Logger) *TaskBreakdownTool {
	return &TaskBreakdownTool{gen: gen, briefs: briefs, logger: logger}
}

// Definition returns the tool schema.
func (t *TaskBreakdownTool) Definition() mcp.Tool {
	return mcp.NewTool("generate_task_breakdown",
		mcp.WithDescription("Break a project into phases, milestones, and tasks. Pass an existing TRD, or a brief to generate one first."),
		mcp.WithString("trd",
			mcp.Description("Technical requirements document (optional if brief_uri is provided)"),
		),
		mcp.WithNumber("num_developers",
			mcp.Description("Team size, used with trd"),
			mcp.Min(1),
		),
		mcp.WithString("tech_stack",
			mcp.Description("Technology stack, used with trd"),
		),
		mcp.WithString("brief_uri",
			mcp.Description("URI of a filled-in project brief (optional if trd is provided)"),
		),
	)
}

// Handle generates the breakdown.
func (t *TaskBreakdownTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	trd := req.GetString("trd", "")
	uri := req.GetString("brief_uri", "")

	var (
		record     domain.Record
		totalHours float64
	)
	switch {
	case trd != "":
		values := map[string]string{"backendStack": req.GetString("tech_stack", "")}
		if n := req.GetInt("num_developers", 0); n > 0 {
			values["num_developers"] = strconv.Itoa(n)
		}
		record = domain.RecordFrom(values)
	case uri != "":
		var errResult *mcp.CallToolResult
		record, errResult = loadRecord(t.briefs, uri, "")
		if errResult != nil {
			return errResult, nil
		}
		var err error
		trd, totalHours, err = t.trdFor(ctx, record)
		if err != nil {
			return mcp.NewToolResultErrorFromErr("failed to generate TRD", err), nil
		}
	default:
		return mcp.NewToolResultError("either trd or brief_uri must be provided"), nil
	}

	tasks, err := t.gen.GenerateTaskBreakdown(ctx, record, trd, totalHours)
	if err != nil {
		t.logger.Warn("Task breakdown failed", "error", err)
		return mcp.NewToolResultErrorFromErr("failed to generate task breakdown", err), nil
	}
	return mcp.NewToolResultJSON(tasks)
}

func (t *TaskBreakdownTool) trdFor(ctx context.Context, record domain.Record) (string, float64, error) {
	fr, err := t.gen.FunctionalRequirements(ctx, record)
	if err != nil {
		return "", 0, err
	}
	trd, err := t.gen.TRD(ctx, fr)
	if err != nil {
		return "", 0, err
	}
	timeEst, _, err := t.gen.Estimates(ctx, record, trd)
	if err != nil {
		return "", 0, err
	}
	return trd, pipeline.TotalHours(timeEst), nil
}

// CursorRulesTool writes coding-assistant rules straight from a brief.
type CursorRulesTool struct {
	gen    Generator
	briefs *BriefReader
	logger *slog.Logger
}

// NewCursorRulesTool creates the generate_cursor_rules tool.
func NewCursorRulesTool(gen Generator, briefs *BriefReader, logger *slog.Logger) *CursorRulesTool {
	return &CursorRulesTool{gen: gen, briefs: briefs, logger: logger}
}

// Definition returns the tool schema.
func (t *CursorRulesTool) Definition() mcp.Tool {
	return mcp.NewTool("generate_cursor_rules",
		mcp.WithDescription("Generate a coding-assistant rules file for the project's technology stack."),
		mcp.WithString("brief_uri",
			mcp.Required(),
			mcp.Description("URI of a filled-in project brief"),
		),
	)
}

// Handle generates the rules.
func (t *CursorRulesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri, err := req.RequireString("brief_uri")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	record, errResult := loadRecord(t.briefs, uri, "")
	if errResult != nil {
		return errResult, nil
	}
	if !hasStack(record) {
		return mcp.NewToolResultError("at least one of frontendStack, backendStack, or programmingLanguage is required"), nil
	}

	rules, err := t.gen.GenerateCursorRules(ctx, record, "", nil)
	if err != nil {
		t.logger.Warn("Cursor rules generation failed", "error", err)
		return mcp.NewToolResultErrorFromErr("failed to generate cursor rules", err), nil
	}
	return mcp.NewToolResultText(rules), nil
}

func hasStack(record domain.Record) bool {
	for _, key := range []string{"frontendStack", "backendStack", "programmingLanguage"} {
		if strings.TrimSpace(record[key]) != "" {
			return true
		}
	}
	return false
}
