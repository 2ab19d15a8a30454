// Package collect runs the interactive collection conversation: it asks one
// question per catalog field, validates answers, and hands the finished
// record to the generation pipeline.
package collect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/briefsmith/internal/domain"
	"github.com/ashureev/briefsmith/internal/metrics"
	"github.com/ashureev/briefsmith/internal/pipeline"
	"github.com/ashureev/briefsmith/internal/planner"
	"github.com/ashureev/briefsmith/internal/session"
	"github.com/ashureev/briefsmith/internal/transcript"
	"github.com/ashureev/briefsmith/internal/validator"
)

const (
	defaultKeepalive = 30 * time.Second
	writeTimeout     = 10 * time.Second
	saveTimeout      = 5 * time.Second

	transcriptChannel = "collect"
)

// Session outcomes reported to metrics.
const (
	outcomeCompleted    = "completed"
	outcomeFailed       = "failed"
	outcomeCancelled    = "cancelled"
	outcomeDisconnected = "disconnected"
	outcomeError        = "error"
)

var (
	errCancelled   = errors.New("collection cancelled by client")
	errNoNextField = errors.New("no field left to ask")
)

// Conn carries raw frames for one connection.
type Conn interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
}

// Runner executes the generation pipeline.
type Runner interface {
	Run(ctx context.Context, record domain.Record) (*domain.Artifacts, error)
}

// RunSaver persists finished runs.
type RunSaver interface {
	SaveRun(ctx context.Context, run *domain.Run) error
}

// Deps are the collaborators of a Service. Sessions, Planner, Validator, and
// Runner are required.
type Deps struct {
	Sessions   *session.Store
	Planner    planner.Planner
	Validator  validator.Validator
	Runner     Runner
	Runs       RunSaver
	Transcript transcript.Logger
	Metrics    *metrics.Recorder
	Logger     *slog.Logger
	// Keepalive is the ping interval. Zero means 30 seconds.
	Keepalive time.Duration
}

// Service runs collection conversations.
type Service struct {
	deps Deps
}

// NewService creates a Service.
func NewService(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Transcript == nil {
		deps.Transcript = transcript.Noop{}
	}
	if deps.Keepalive <= 0 {
		deps.Keepalive = defaultKeepalive
	}
	return &Service{deps: deps}
}

type state int

const (
	stateAwaitingNextField state = iota
	stateAskingQuestion
	stateAwaitingAnswer
	stateComplete
)

// conversation is the state of one connection. It is owned by the Serve
// goroutine; only the writer is shared with the keepalive loop.
type conversation struct {
	svc     *Service
	out     *writer
	sess    *session.Session
	ownerID string
	logger  *slog.Logger
	// bg tracks goroutines that must finish before Serve returns.
	bg *sync.WaitGroup

	field    string
	question string
}

// writer serializes frames onto a Conn.
type writer struct {
	mu   sync.Mutex
	conn Conn
	log  func(ServerMessage)
}

func (w *writer) send(ctx context.Context, msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	w.mu.Lock()
	err = w.conn.WriteMessage(wctx, data)
	w.mu.Unlock()
	if err != nil {
		return &disconnectError{err: fmt.Errorf("write %s message: %w", msg.Type, err)}
	}
	if w.log != nil {
		w.log(msg)
	}
	return nil
}

// Serve runs one conversation on conn until it completes, the client
// cancels, or the connection fails. The session is removed on return.
func (s *Service) Serve(ctx context.Context, conn Conn, ownerID string) error {
	ctx, cancel := context.WithCancel(ctx)

	sess := s.deps.Sessions.Create()
	defer s.deps.Sessions.Delete(sess.ID)

	var wg sync.WaitGroup
	logger := s.deps.Logger.With("session_id", sess.ID, "owner_id", ownerID)
	c := &conversation{svc: s, sess: sess, ownerID: ownerID, logger: logger, bg: &wg}
	c.out = &writer{conn: conn, log: c.logOutbound}

	s.deps.Metrics.SessionOpened()
	logger.Info("Collection session started")

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.keepalive(ctx)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	outcome, err := c.run(ctx)
	s.deps.Metrics.SessionClosed(outcome)
	logger.Info("Collection session ended", "outcome", outcome, "error", err)
	return err
}

func (c *conversation) keepalive(ctx context.Context) {
	ticker := time.NewTicker(c.svc.deps.Keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.out.send(ctx, ServerMessage{Type: TypePing}); err != nil {
				c.logger.Debug("Keepalive ping failed", "error", err)
				return
			}
			c.touch()
		}
	}
}

// notify sends msg and only logs failures. Used on paths that are already
// reporting another problem.
func (c *conversation) notify(ctx context.Context, msg ServerMessage) {
	if err := c.out.send(ctx, msg); err != nil {
		c.logger.Debug("Failed to notify client", "type", msg.Type, "error", err)
	}
}

func (c *conversation) run(ctx context.Context) (string, error) {
	if err := c.out.send(ctx, ServerMessage{
		Type:      TypeSessionStarted,
		SessionID: c.sess.ID,
		Message:   "Welcome! I'll help you describe your project. Let's start!",
	}); err != nil {
		return outcomeDisconnected, nil
	}

	st := stateAwaitingNextField
	for {
		var err error
		switch st {
		case stateAwaitingNextField:
			st, err = c.pickField(ctx)
		case stateAskingQuestion:
			st, err = c.ask(ctx)
		case stateAwaitingAnswer:
			st, err = c.await(ctx)
		case stateComplete:
			return c.complete(ctx)
		}
		if err != nil {
			return c.fail(ctx, err)
		}
	}
}

// fail maps a terminal error to an outcome, telling the client when that
// still makes sense.
func (c *conversation) fail(ctx context.Context, err error) (string, error) {
	switch {
	case errors.Is(err, errCancelled):
		return outcomeCancelled, nil
	case isDisconnect(err):
		return outcomeDisconnected, nil
	case errors.Is(err, errNoNextField):
		c.notify(ctx, ServerMessage{Type: TypeError, Message: "Unable to determine the next question. Please try again."})
	default:
		c.notify(ctx, ServerMessage{Type: TypeError, Message: "An error occurred: " + err.Error()})
	}
	return outcomeError, err
}

func (c *conversation) pickField(ctx context.Context) (state, error) {
	if c.sess.IsComplete() {
		return stateComplete, nil
	}
	key, ok := c.svc.deps.Planner.NextField(ctx, c.sess)
	if !ok {
		return stateAwaitingNextField, errNoNextField
	}
	c.field = key
	return stateAskingQuestion, nil
}

func (c *conversation) ask(ctx context.Context) (state, error) {
	c.question = c.svc.deps.Planner.Question(ctx, c.field, c.sess.Collected())
	err := c.out.send(ctx, ServerMessage{
		Type:      TypeQuestion,
		Field:     c.field,
		Question:  c.question,
		SessionID: c.sess.ID,
	})
	return stateAwaitingAnswer, err
}

// await reads one client frame and applies it to the current field.
func (c *conversation) await(ctx context.Context) (state, error) {
	data, err := c.out.conn.ReadMessage(ctx)
	if err != nil {
		return stateAwaitingAnswer, &disconnectError{err: err}
	}
	c.touch()

	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logInbound("invalid", string(data))
		c.notify(ctx, ServerMessage{Type: TypeError, Message: "Invalid message format", Field: c.field})
		return stateAwaitingNextField, nil
	}
	c.logInbound(msg.Type, msg.Response)

	switch msg.Type {
	case TypeResponse, TypeAnswer:
		return c.answer(ctx, strings.TrimSpace(msg.Response))
	case TypeSkip:
		return c.skip(ctx)
	case TypeCancel:
		c.notify(ctx, ServerMessage{Type: TypeCancelled, Message: "Session cancelled."})
		return stateAwaitingAnswer, errCancelled
	case TypePong:
		return stateAwaitingAnswer, nil
	default:
		err := c.out.send(ctx, ServerMessage{
			Type:    TypeError,
			Field:   c.field,
			Message: fmt.Sprintf("Unknown message type %q", msg.Type),
		})
		return stateAwaitingAnswer, err
	}
}

func (c *conversation) answer(ctx context.Context, text string) (state, error) {
	if text == "" {
		return c.blank(ctx)
	}

	judgment, err := c.svc.deps.Validator.Judge(ctx, c.question, text, c.field)
	if err != nil {
		c.logger.Warn("Answer validation failed, accepting answer", "field", c.field, "error", err)
		judgment = validator.Accept
	}
	if judgment.Satisfactory {
		return c.accept(ctx, text, "Thank you! I've saved that information.")
	}

	n, err := c.svc.deps.Sessions.FollowUpCount(c.sess.ID, c.field)
	if err != nil {
		return stateAwaitingAnswer, err
	}
	if n >= session.MaxFollowUps {
		return c.accept(ctx, text, "Thank you! I've saved that information.")
	}

	followUp := judgment.FollowUp
	if followUp == "" {
		followUp = c.svc.deps.Planner.FollowUp(ctx, c.question, text, c.field)
	}
	return c.followUp(ctx, followUp, true)
}

// blank handles an empty answer like an unsatisfactory one. Optional fields
// are accepted empty once the follow-ups are used up; required fields keep
// being asked.
func (c *conversation) blank(ctx context.Context) (state, error) {
	n, err := c.svc.deps.Sessions.FollowUpCount(c.sess.ID, c.field)
	if err != nil {
		return stateAwaitingAnswer, err
	}
	followUp := c.svc.deps.Planner.FollowUp(ctx, c.question, "", c.field)
	if n < session.MaxFollowUps {
		return c.followUp(ctx, followUp, true)
	}
	if domain.IsRequired(c.field) {
		return c.followUp(ctx, followUp, false)
	}
	return c.accept(ctx, "", "Moving on to the next question.")
}

func (c *conversation) followUp(ctx context.Context, question string, count bool) (state, error) {
	if err := c.out.send(ctx, ServerMessage{
		Type:      TypeFollowUp,
		Field:     c.field,
		Question:  question,
		SessionID: c.sess.ID,
	}); err != nil {
		return stateAwaitingAnswer, err
	}
	if count {
		if _, err := c.svc.deps.Sessions.IncrementFollowUp(c.sess.ID, c.field); err != nil {
			return stateAwaitingAnswer, err
		}
		c.svc.deps.Metrics.FollowUp(c.field)
	}
	c.question = question
	return stateAwaitingAnswer, nil
}

func (c *conversation) accept(ctx context.Context, value, message string) (state, error) {
	if err := c.svc.deps.Sessions.SetField(c.sess.ID, c.field, value); err != nil {
		return stateAwaitingAnswer, err
	}
	err := c.out.send(ctx, ServerMessage{
		Type:      TypeAccepted,
		Field:     c.field,
		Message:   message,
		SessionID: c.sess.ID,
	})
	return stateAwaitingNextField, err
}

func (c *conversation) skip(ctx context.Context) (state, error) {
	if domain.IsRequired(c.field) {
		err := c.out.send(ctx, ServerMessage{
			Type:      TypeError,
			Field:     c.field,
			Message:   c.field + " is a required field and cannot be skipped. Please provide an answer.",
			SessionID: c.sess.ID,
		})
		return stateAwaitingAnswer, err
	}
	if err := c.svc.deps.Sessions.MarkSkipped(c.sess.ID, c.field); err != nil {
		return stateAwaitingAnswer, err
	}
	err := c.out.send(ctx, ServerMessage{
		Type:      TypeSkipped,
		Field:     c.field,
		Message:   "Skipped " + c.field + " as requested.",
		SessionID: c.sess.ID,
	})
	return stateAwaitingNextField, err
}

// complete exports the record, runs the pipeline, and reports the result.
func (c *conversation) complete(ctx context.Context) (string, error) {
	record := c.sess.Record()
	c.logger.Info("All fields collected, starting generation")

	if err := c.out.send(ctx, ServerMessage{
		Type:    TypeComplete,
		Message: "Thank you! I've collected all the necessary information. Now generating your project documents...",
		Data:    record,
	}); err != nil {
		return outcomeDisconnected, nil
	}
	if err := c.out.send(ctx, ServerMessage{Type: TypeWorkflowStarted, Message: "Starting workflow generation..."}); err != nil {
		return outcomeDisconnected, nil
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	c.watchDisconnect(ctx, stop)

	art, runErr := c.svc.deps.Runner.Run(runCtx, record)
	run := pipeline.NewRun(domain.SourceCollect, record, art, runErr)
	run.SessionID = c.sess.ID
	run.OwnerID = c.ownerID
	c.save(run)

	if runErr != nil && ctx.Err() == nil && runCtx.Err() != nil {
		c.logger.Info("Client disconnected during generation", "run_id", run.ID)
		return outcomeDisconnected, nil
	}
	if runErr != nil {
		c.notify(ctx, ServerMessage{
			Type:    TypeWorkflowError,
			Message: "Workflow generation failed: " + runErr.Error(),
			Error:   runErr.Error(),
			RunID:   run.ID,
		})
		return outcomeFailed, nil
	}

	status := art.BackendStatus
	c.notify(ctx, ServerMessage{
		Type:          TypeWorkflowComplete,
		Message:       "Workflow completed successfully!",
		RunID:         run.ID,
		TRD:           art.TRD,
		TimeEstimate:  art.TimeEstimate,
		CostEstimate:  art.CostEstimate,
		TaskBreakdown: art.TaskBreakdown,
		CursorRules:   art.CursorRules,
		BackendStatus: &status,
	})
	return outcomeCompleted, nil
}

// watchDisconnect drains client frames while the pipeline runs and calls
// stop once the connection fails. It exits when ctx is done.
func (c *conversation) watchDisconnect(ctx context.Context, stop context.CancelFunc) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		for {
			data, err := c.out.conn.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Debug("Connection lost during generation", "error", err)
				}
				stop()
				return
			}
			c.touch()
			c.logInbound("ignored", string(data))
		}
	}()
}

func (c *conversation) touch() {
	if err := c.svc.deps.Sessions.Touch(c.sess.ID); err != nil {
		c.logger.Debug("Failed to touch session", "error", err)
	}
}

func (c *conversation) save(run *domain.Run) {
	if c.svc.deps.Runs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := c.svc.deps.Runs.SaveRun(ctx, run); err != nil {
		c.logger.Warn("Failed to save run", "run_id", run.ID, "error", err)
	}
}

func (c *conversation) logOutbound(msg ServerMessage) {
	meta := map[string]any{}
	if msg.Field != "" {
		meta["field"] = msg.Field
	}
	if msg.RunID != "" {
		meta["run_id"] = msg.RunID
	}
	c.svc.deps.Transcript.Log(transcript.Event{
		OwnerID:    c.ownerID,
		SessionID:  c.sess.ID,
		Channel:    transcriptChannel,
		Direction:  transcript.Outbound,
		EventType:  msg.Type,
		ContentRaw: msg.text(),
		Meta:       meta,
	})
}

func (c *conversation) logInbound(kind, content string) {
	c.svc.deps.Transcript.Log(transcript.Event{
		OwnerID:    c.ownerID,
		SessionID:  c.sess.ID,
		Channel:    transcriptChannel,
		Direction:  transcript.Inbound,
		EventType:  kind,
		ContentRaw: content,
		Meta:       map[string]any{"field": c.field},
	})
}

// disconnectError marks a failed read or write; the client is gone and
// nothing more can be sent.
type disconnectError struct{ err error }

func (e *disconnectError) Error() string { return "connection lost: " + e.err.Error() }
func (e *disconnectError) Unwrap() error { return e.err }

func isDisconnect(err error) bool {
	var de *disconnectError
	return errors.As(err, &de) || errors.Is(err, context.Canceled)
}
