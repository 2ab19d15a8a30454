// Package pipeline turns a collected record into the generated project
// documents and hands them to the backend.
//
// Stages run in a fixed order: functional requirements, TRD, the time and
// cost estimates in parallel, the task breakdown, and the cursor rules.
// Any stage failure aborts the run. Delivery never does.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/briefsmith/internal/decode"
	"github.com/ashureev/briefsmith/internal/delivery"
	"github.com/ashureev/briefsmith/internal/domain"
	"github.com/ashureev/briefsmith/internal/llm"
	"github.com/ashureev/briefsmith/internal/metrics"
	"github.com/ashureev/briefsmith/internal/prompts"
)

// Stage names, used in errors, logs, and metrics.
const (
	StageFunctionalRequirements = "functional_requirements"
	StageTRD                    = "trd"
	StageTimeEstimate           = "time_estimate"
	StageCostEstimate           = "cost_estimate"
	StageTaskBreakdown          = "task_breakdown"
	StageCursorRules            = "cursor_rules"
)

// DefaultExcerptTokens bounds the TRD excerpt passed to the cursor rules stage.
const DefaultExcerptTokens = 500

// ErrMissingPhases is returned when the task breakdown has no "phases" key.
var ErrMissingPhases = errors.New("task breakdown has no phases")

// StageError reports which stage aborted a run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageOf returns the failed stage name carried by err, or "".
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Deliverer hands finished artifacts to the backend.
type Deliverer interface {
	Send(ctx context.Context, p delivery.Payload) domain.DeliveryStatus
}

// Orchestrator runs the generation stages.
type Orchestrator struct {
	chat          llm.Generator
	docs          llm.Generator
	prompts       *prompts.Set
	deliverer     Deliverer
	rec           *metrics.Recorder
	logger        *slog.Logger
	excerptTokens int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records stage durations on rec.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(o *Orchestrator) { o.rec = rec }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithExcerptTokens sets the TRD excerpt size for the cursor rules stage.
func WithExcerptTokens(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.excerptTokens = n
		}
	}
}

// New creates an Orchestrator. chat serves the functional requirements stage
// and docs serves every later stage. A nil deliverer skips delivery.
func New(chat, docs llm.Generator, set *prompts.Set, deliverer Deliverer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		chat:          chat,
		docs:          docs,
		prompts:       set,
		deliverer:     deliverer,
		logger:        slog.Default(),
		excerptTokens: DefaultExcerptTokens,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes every stage for record and delivers the result. On failure
// the returned error is a *StageError and the artifacts hold whatever the
// completed stages produced.
func (o *Orchestrator) Run(ctx context.Context, record domain.Record) (*domain.Artifacts, error) {
	start := time.Now()
	art := &domain.Artifacts{}

	fr, err := o.FunctionalRequirements(ctx, record)
	if err != nil {
		return art, err
	}
	art.FunctionalRequirements = fr

	trd, err := o.TRD(ctx, fr)
	if err != nil {
		return art, err
	}
	art.TRD = trd

	timeEst, costEst, err := o.Estimates(ctx, record, trd)
	if err != nil {
		return art, err
	}
	art.TimeEstimate = timeEst
	art.CostEstimate = costEst

	tasks, err := o.GenerateTaskBreakdown(ctx, record, trd, TotalHours(timeEst))
	if err != nil {
		return art, err
	}
	art.TaskBreakdown = tasks

	rules, err := o.GenerateCursorRules(ctx, record, trd, tasks)
	if err != nil {
		return art, err
	}
	art.CursorRules = rules

	art.BackendStatus = o.deliver(ctx, art)

	o.logger.Info("Generation run completed",
		"duration", time.Since(start),
		"delivered", art.BackendStatus.Sent)
	return art, nil
}

// FunctionalRequirements runs the first stage on the chat generator.
func (o *Orchestrator) FunctionalRequirements(ctx context.Context, record domain.Record) (string, error) {
	var out string
	err := o.stage(StageFunctionalRequirements, func() error {
		req, err := o.prompts.Request(prompts.FunctionalRequirements, prompts.RecordData{
			Fields: prompts.FieldValues(record, false),
		})
		if err != nil {
			return err
		}
		out, err = o.chat.Generate(ctx, req)
		return err
	})
	return out, err
}

// TRD expands functional requirements into the technical requirements
// document. A <PRD> wrapper around the reply is removed.
func (o *Orchestrator) TRD(ctx context.Context, functionalRequirements string) (string, error) {
	var out string
	err := o.stage(StageTRD, func() error {
		req, err := o.prompts.Request(prompts.TRD, prompts.TRDData{
			FunctionalRequirements: functionalRequirements,
		})
		if err != nil {
			return err
		}
		text, err := o.docs.Generate(ctx, req)
		if err != nil {
			return err
		}
		out = StripPRDTags(text)
		return nil
	})
	return out, err
}

// Estimates runs the time and cost stages concurrently on the same TRD and
// returns once both have finished. The first failure cancels the other.
func (o *Orchestrator) Estimates(ctx context.Context, record domain.Record, trd string) (timeEst, costEst domain.Document, err error) {
	data := prompts.EstimateData{
		TRD:        trd,
		Developers: record.Developers(),
		TechStack:  record.TechStack(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		timeEst, err = o.structured(gctx, StageTimeEstimate, prompts.TimeEstimate, data)
		return err
	})
	g.Go(func() error {
		var err error
		costEst, err = o.structured(gctx, StageCostEstimate, prompts.CostEstimate, data)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return timeEst, costEst, nil
}

// GenerateTaskBreakdown produces the phased task plan for trd. totalHours
// comes from the time estimate and is omitted from the prompt when zero.
func (o *Orchestrator) GenerateTaskBreakdown(ctx context.Context, record domain.Record, trd string, totalHours float64) (domain.Document, error) {
	doc, err := o.structured(ctx, StageTaskBreakdown, prompts.TaskBreakdown, prompts.TaskBreakdownData{
		TRD:        trd,
		TechStack:  record.TechStack(),
		Developers: record.Developers(),
		TotalHours: totalHours,
	})
	if err != nil {
		return nil, err
	}
	if _, ok := doc["phases"]; !ok {
		return nil, &StageError{Stage: StageTaskBreakdown, Err: ErrMissingPhases}
	}
	return doc, nil
}

// GenerateCursorRules writes the coding-assistant rules file. Code fences
// around the reply are removed.
func (o *Orchestrator) GenerateCursorRules(ctx context.Context, record domain.Record, trd string, tasks domain.Document) (string, error) {
	var out string
	err := o.stage(StageCursorRules, func() error {
		phases, taskCount, hours := Summarize(tasks)
		req, err := o.prompts.Request(prompts.CursorRules, prompts.CursorRulesData{
			AppName:    record["appName"],
			TechStack:  record.TechStack(),
			Context:    rulesContext(record),
			TRDExcerpt: o.prompts.Truncate(trd, o.excerptTokens),
			PhaseCount: phases,
			TaskCount:  taskCount,
			TotalHours: hours,
		})
		if err != nil {
			return err
		}
		text, err := o.docs.Generate(ctx, req)
		if err != nil {
			return err
		}
		out = StripCodeFences(text)
		return nil
	})
	return out, err
}

func (o *Orchestrator) structured(ctx context.Context, stage, label string, data any) (domain.Document, error) {
	var doc domain.Document
	err := o.stage(stage, func() error {
		req, err := o.prompts.Request(label, data)
		if err != nil {
			return err
		}
		text, err := o.docs.Generate(ctx, req)
		if err != nil {
			return err
		}
		m, err := decode.Decode(text)
		if err != nil {
			return err
		}
		doc = m
		return nil
	})
	return doc, err
}

// stage times fn and wraps its error.
func (o *Orchestrator) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	o.rec.ObserveStage(name, elapsed, err)
	if err != nil {
		o.logger.Error("Pipeline stage failed", "stage", name, "duration", elapsed, "error", err)
		return &StageError{Stage: name, Err: err}
	}
	o.logger.Debug("Pipeline stage completed", "stage", name, "duration", elapsed)
	return nil
}

func (o *Orchestrator) deliver(ctx context.Context, art *domain.Artifacts) domain.DeliveryStatus {
	if o.deliverer == nil {
		return domain.DeliveryStatus{Message: "Delivery disabled"}
	}
	status := o.deliverer.Send(ctx, delivery.Payload{
		TRD:           art.TRD,
		EstimatedTime: art.TimeEstimate,
		EstimatedCost: art.CostEstimate,
		TaskBreakdown: art.TaskBreakdown,
		CursorRules:   art.CursorRules,
	})
	o.rec.Delivery(status.Sent)
	return status
}

// rulesContext picks the record fields that shape coding conventions.
func rulesContext(record domain.Record) []prompts.FieldValue {
	keep := map[string]bool{
		"problemSolved":    true,
		"coreFeatures":     true,
		"apiIntegrations":  true,
		"authentication":   true,
		"rolesPermissions": true,
		"designStyle":      true,
		"theme":            true,
		"constraints":      true,
	}
	var out []prompts.FieldValue
	for _, fv := range prompts.FieldValues(record, true) {
		if keep[fv.Key] {
			out = append(out, fv)
		}
	}
	return out
}

// NewRun builds the persisted record of a finished pipeline run.
func NewRun(source string, record domain.Record, art *domain.Artifacts, runErr error) *domain.Run {
	run := &domain.Run{
		ID:        uuid.NewString(),
		Source:    source,
		Record:    record,
		Status:    domain.RunCompleted,
		Artifacts: art,
		CreatedAt: time.Now().UTC(),
	}
	if runErr != nil {
		run.Status = domain.RunFailed
		run.Stage = StageOf(runErr)
		run.Error = runErr.Error()
	}
	return run
}

// TotalHours reads total_project_hours from a time estimate.
func TotalHours(doc domain.Document) float64 {
	return number(doc["total_project_hours"])
}

// Summarize returns the phase count, task count, and total hours of a task
// breakdown. Missing counts are derived from the phases.
func Summarize(tasks domain.Document) (phases, taskCount int, hours float64) {
	list, _ := tasks["phases"].([]any)
	phases = len(list)
	taskCount = int(number(tasks["total_tasks"]))
	if taskCount == 0 {
		for _, p := range list {
			if m, ok := p.(map[string]any); ok {
				if ts, ok := m["tasks"].([]any); ok {
					taskCount += len(ts)
				}
			}
		}
	}
	return phases, taskCount, number(tasks["estimated_total_hours"])
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

// StripPRDTags returns the content between <PRD> and </PRD>, or the trimmed
// text when there is no wrapper.
func StripPRDTags(text string) string {
	t := strings.TrimSpace(text)
	if i := strings.Index(t, "<PRD>"); i >= 0 {
		t = t[i+len("<PRD>"):]
	}
	if i := strings.LastIndex(t, "</PRD>"); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSpace(t)
}

// StripCodeFences removes a leading ``` line and a trailing ``` from text.
func StripCodeFences(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = t[i+1:]
	} else {
		t = strings.TrimPrefix(t, "```")
	}
	t = strings.TrimSpace(t)
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}
