package collect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ashureev/briefsmith/internal/domain"
	"github.com/ashureev/briefsmith/internal/pipeline"
	"github.com/ashureev/briefsmith/internal/planner"
	"github.com/ashureev/briefsmith/internal/session"
	"github.com/ashureev/briefsmith/internal/validator"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// Started by the genai dependency of the pipeline package.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

type fakeConn struct {
	in  chan []byte
	out chan ServerMessage
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), out: make(chan ServerMessage, 256)}
}

func (c *fakeConn) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-c.in:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) WriteMessage(ctx context.Context, data []byte) error {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	select {
	case c.out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type fakeRunner struct {
	mu     sync.Mutex
	record domain.Record
	art    *domain.Artifacts
	err    error

	// started, when set, is closed on entry and Run blocks until ctx is done.
	started chan struct{}
	ctxErr  error
}

func (r *fakeRunner) Run(ctx context.Context, record domain.Record) (*domain.Artifacts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record = record
	if r.started != nil {
		close(r.started)
		<-ctx.Done()
		r.ctxErr = ctx.Err()
		return nil, ctx.Err()
	}
	if r.err != nil {
		return &domain.Artifacts{}, r.err
	}
	return r.art, nil
}

type fakeRuns struct {
	mu   sync.Mutex
	runs []*domain.Run
}

func (f *fakeRuns) SaveRun(_ context.Context, run *domain.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

type judgeFunc func(question, answer, key string) (validator.Judgment, error)

func (f judgeFunc) Judge(_ context.Context, question, answer, key string) (validator.Judgment, error) {
	return f(question, answer, key)
}

type harness struct {
	t         *testing.T
	conn      *fakeConn
	store     *session.Store
	runner    *fakeRunner
	runs      *fakeRuns
	done      chan error
	sessionID string
}

type options struct {
	validator validator.Validator
	runner    *fakeRunner
	keepalive time.Duration
}

func start(t *testing.T, opts options) *harness {
	t.Helper()
	if opts.validator == nil {
		opts.validator = validator.AcceptAll{}
	}
	if opts.runner == nil {
		opts.runner = &fakeRunner{art: &domain.Artifacts{
			TRD:           "# TRD",
			TimeEstimate:  domain.Document{"total_project_hours": float64(10)},
			CostEstimate:  domain.Document{"total_project_cost": float64(1000)},
			TaskBreakdown: domain.Document{"phases": []any{}},
			CursorRules:   "# Rules",
			BackendStatus: domain.DeliveryStatus{Message: "Delivery disabled"},
		}}
	}
	if opts.keepalive == 0 {
		opts.keepalive = time.Hour
	}

	h := &harness{
		t:      t,
		conn:   newFakeConn(),
		store:  session.NewStore(),
		runner: opts.runner,
		runs:   &fakeRuns{},
		done:   make(chan error, 1),
	}
	svc := NewService(Deps{
		Sessions:  h.store,
		Planner:   planner.Fallback{},
		Validator: opts.validator,
		Runner:    h.runner,
		Runs:      h.runs,
		Keepalive: opts.keepalive,
	})
	go func() {
		h.done <- svc.Serve(context.Background(), h.conn, "owner-1")
	}()
	t.Cleanup(func() {
		select {
		case <-h.done:
		default:
			close(h.conn.in)
			<-h.done
		}
	})

	started := h.expect(TypeSessionStarted)
	require.NotEmpty(t, started.SessionID)
	h.sessionID = started.SessionID
	return h
}

// session returns the live session. Only call it while Serve is blocked
// waiting for the next client frame.
func (h *harness) session() *session.Session {
	h.t.Helper()
	sess, err := h.store.Get(h.sessionID)
	require.NoError(h.t, err)
	return sess
}

// next returns the next non-ping message.
func (h *harness) next() ServerMessage {
	h.t.Helper()
	for {
		select {
		case msg := <-h.conn.out:
			if msg.Type == TypePing {
				continue
			}
			return msg
		case <-time.After(2 * time.Second):
			h.t.Fatal("timed out waiting for server message")
		}
	}
}

func (h *harness) expect(typ string) ServerMessage {
	h.t.Helper()
	msg := h.next()
	require.Equal(h.t, typ, msg.Type, "message: %+v", msg)
	return msg
}

func (h *harness) send(msg ClientMessage) {
	h.t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(h.t, err)
	h.conn.in <- data
}

func (h *harness) respond(text string) {
	h.t.Helper()
	h.send(ClientMessage{Type: TypeResponse, Response: text})
}

func (h *harness) wait() error {
	h.t.Helper()
	select {
	case err := <-h.done:
		h.done <- err
		return err
	case <-time.After(2 * time.Second):
		h.t.Fatal("Serve did not return")
		return nil
	}
}

// answerRequired answers the three required questions in catalog order.
func (h *harness) answerRequired() {
	h.t.Helper()
	for _, key := range domain.RequiredKeys() {
		q := h.expect(TypeQuestion)
		require.Equal(h.t, key, q.Field)
		h.respond("answer for " + key)
		h.expect(TypeAccepted)
	}
}

// skipOptional skips every optional question.
func (h *harness) skipOptional(except ...string) {
	h.t.Helper()
	for _, f := range domain.Catalog() {
		if f.Required || contains(except, f.Key) {
			continue
		}
		q := h.expect(TypeQuestion)
		require.Equal(h.t, f.Key, q.Field)
		h.send(ClientMessage{Type: TypeSkip})
		skipped := h.expect(TypeSkipped)
		assert.Equal(h.t, f.Key, skipped.Field)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestServeCompletesAndRunsPipeline(t *testing.T) {
	h := start(t, options{})

	h.answerRequired()
	h.skipOptional()

	complete := h.expect(TypeComplete)
	assert.Equal(t, "answer for appName", complete.Data["appName"])
	assert.Equal(t, "", complete.Data["database"])
	assert.Len(t, complete.Data, len(domain.Catalog()))

	h.expect(TypeWorkflowStarted)
	done := h.expect(TypeWorkflowComplete)
	assert.Equal(t, "# TRD", done.TRD)
	assert.Equal(t, "# Rules", done.CursorRules)
	assert.Contains(t, done.TaskBreakdown, "phases")
	require.NotNil(t, done.BackendStatus)
	assert.NotEmpty(t, done.RunID)

	require.NoError(t, h.wait())
	assert.Equal(t, 0, h.store.Len())

	assert.Equal(t, "answer for coreFeatures", h.runner.record["coreFeatures"])
	require.Len(t, h.runs.runs, 1)
	run := h.runs.runs[0]
	assert.Equal(t, done.RunID, run.ID)
	assert.Equal(t, "owner-1", run.OwnerID)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, domain.SourceCollect, run.Source)
}

func TestRequiredFieldCannotBeSkipped(t *testing.T) {
	h := start(t, options{})

	q := h.expect(TypeQuestion)
	require.Equal(t, "appName", q.Field)

	h.send(ClientMessage{Type: TypeSkip})
	errMsg := h.expect(TypeError)
	assert.Equal(t, "appName", errMsg.Field)
	assert.Contains(t, errMsg.Message, "required")

	h.respond("Habitual")
	accepted := h.expect(TypeAccepted)
	assert.Equal(t, "appName", accepted.Field)
	assert.Equal(t, "problemSolved", h.expect(TypeQuestion).Field)
}

func TestUnsatisfactoryAnswersAcceptedAfterTwoFollowUps(t *testing.T) {
	calls := 0
	v := judgeFunc(func(question, answer, key string) (validator.Judgment, error) {
		calls++
		return validator.Judgment{Satisfactory: false, FollowUp: "Could you be more specific?"}, nil
	})
	h := start(t, options{validator: v})

	h.expect(TypeQuestion)
	h.respond("idk")
	fu := h.expect(TypeFollowUp)
	assert.Equal(t, "Could you be more specific?", fu.Question)
	assert.Equal(t, "appName", fu.Field)

	h.respond("still idk")
	h.expect(TypeFollowUp)

	h.respond("whatever")
	accepted := h.expect(TypeAccepted)
	assert.Equal(t, "appName", accepted.Field)
	assert.Equal(t, 3, calls)
}

func TestFollowUpUsesPlannerWhenValidatorHasNone(t *testing.T) {
	v := judgeFunc(func(question, answer, key string) (validator.Judgment, error) {
		return validator.Judgment{Satisfactory: answer != "vague"}, nil
	})
	h := start(t, options{validator: v})

	h.expect(TypeQuestion)
	h.respond("vague")
	fu := h.expect(TypeFollowUp)
	assert.Equal(t, domain.FallbackFollowUp("appName"), fu.Question)

	h.respond("Habitual")
	h.expect(TypeAccepted)
}

func TestValidatorErrorAcceptsAnswer(t *testing.T) {
	v := judgeFunc(func(question, answer, key string) (validator.Judgment, error) {
		return validator.Judgment{}, errors.New("generator down")
	})
	h := start(t, options{validator: v})

	h.expect(TypeQuestion)
	h.respond("Habitual")
	assert.Equal(t, "appName", h.expect(TypeAccepted).Field)
}

func TestBlankRequiredAnswerIsNeverAccepted(t *testing.T) {
	h := start(t, options{})

	h.expect(TypeQuestion)
	for i := 0; i < 4; i++ {
		h.respond("   ")
		fu := h.expect(TypeFollowUp)
		assert.Equal(t, "appName", fu.Field)
	}

	h.respond("Habitual")
	assert.Equal(t, "appName", h.expect(TypeAccepted).Field)
}

func TestBlankOptionalAnswerAcceptedAfterCap(t *testing.T) {
	h := start(t, options{})
	h.answerRequired()

	q := h.expect(TypeQuestion)
	require.Equal(t, "num_developers", q.Field)
	h.respond("")
	h.expect(TypeFollowUp)
	h.respond("")
	h.expect(TypeFollowUp)
	h.respond("")
	accepted := h.expect(TypeAccepted)
	assert.Equal(t, "num_developers", accepted.Field)

	sess := h.session()
	assert.Equal(t, session.Answered, sess.State("num_developers"))
	assert.Equal(t, session.MaxFollowUps, sess.FollowUpCount("num_developers"))
	v, ok := sess.Value("num_developers")
	assert.True(t, ok)
	assert.Equal(t, "", v)
	assert.NotContains(t, sess.Skipped(), "num_developers")

	h.skipOptional("num_developers")
	complete := h.expect(TypeComplete)
	assert.Equal(t, "", complete.Data["num_developers"])
}

func TestMalformedFrameMovesOn(t *testing.T) {
	h := start(t, options{})

	h.expect(TypeQuestion)
	h.conn.in <- []byte("{not json")
	errMsg := h.expect(TypeError)
	assert.Equal(t, "Invalid message format", errMsg.Message)

	// The planner picks again; appName is still the first open field.
	q := h.expect(TypeQuestion)
	assert.Equal(t, "appName", q.Field)
}

func TestUnknownMessageTypeKeepsState(t *testing.T) {
	h := start(t, options{})

	h.expect(TypeQuestion)
	h.send(ClientMessage{Type: "dance"})
	errMsg := h.expect(TypeError)
	assert.Contains(t, errMsg.Message, "dance")

	h.send(ClientMessage{Type: TypePong})
	h.respond("Habitual")
	assert.Equal(t, "appName", h.expect(TypeAccepted).Field)
}

func TestCancelEndsSession(t *testing.T) {
	h := start(t, options{})

	h.expect(TypeQuestion)
	h.send(ClientMessage{Type: TypeCancel})
	h.expect(TypeCancelled)

	require.NoError(t, h.wait())
	assert.Equal(t, 0, h.store.Len())
	assert.Empty(t, h.runs.runs)
}

func TestPipelineFailureReported(t *testing.T) {
	runner := &fakeRunner{err: &pipeline.StageError{Stage: pipeline.StageTRD, Err: errors.New("boom")}}
	h := start(t, options{runner: runner})

	h.answerRequired()
	h.skipOptional()
	h.expect(TypeComplete)
	h.expect(TypeWorkflowStarted)

	wfErr := h.expect(TypeWorkflowError)
	assert.Contains(t, wfErr.Error, "trd stage failed")
	assert.Contains(t, wfErr.Message, "Workflow generation failed")

	require.NoError(t, h.wait())
	require.Len(t, h.runs.runs, 1)
	assert.Equal(t, domain.RunFailed, h.runs.runs[0].Status)
	assert.Equal(t, pipeline.StageTRD, h.runs.runs[0].Stage)
}

func TestDisconnectEndsSession(t *testing.T) {
	h := start(t, options{})

	h.expect(TypeQuestion)
	close(h.conn.in)

	require.NoError(t, h.wait())
	assert.Equal(t, 0, h.store.Len())
}

func TestKeepaliveSendsPings(t *testing.T) {
	h := start(t, options{keepalive: 10 * time.Millisecond})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-h.conn.out:
			if msg.Type == TypePing {
				h.send(ClientMessage{Type: TypeCancel})
				require.NoError(t, h.wait())
				return
			}
		case <-deadline:
			t.Fatal("no ping received")
		}
	}
}

func TestDisconnectDuringGenerationCancelsPipeline(t *testing.T) {
	runner := &fakeRunner{started: make(chan struct{})}
	h := start(t, options{runner: runner})

	h.answerRequired()
	h.skipOptional()
	h.expect(TypeComplete)
	h.expect(TypeWorkflowStarted)

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not start")
	}
	close(h.conn.in)

	require.NoError(t, h.wait())
	assert.ErrorIs(t, runner.ctxErr, context.Canceled)
	assert.Equal(t, 0, h.store.Len())
	require.Len(t, h.runs.runs, 1)
	assert.Equal(t, domain.RunFailed, h.runs.runs[0].Status)
}

func TestFramesDuringGenerationAreIgnored(t *testing.T) {
	runner := &fakeRunner{started: make(chan struct{})}
	h := start(t, options{runner: runner})

	h.answerRequired()
	h.skipOptional()
	h.expect(TypeComplete)
	h.expect(TypeWorkflowStarted)
	<-runner.started

	h.send(ClientMessage{Type: TypePong})
	h.respond("late answer")
	select {
	case msg := <-h.conn.out:
		t.Fatalf("unexpected message during generation: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, h.store.Len())
}

// TestRandomInterleavingCompletesExactlyWhenResolved drives sessions with
// random answer, skip, and blank frames and checks the server completes on
// exactly the frame that resolves the last open field.
func TestRandomInterleavingCompletesExactlyWhenResolved(t *testing.T) {
	for seed := int64(1); seed <= 30; seed++ {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			h := start(t, options{})

			values := map[string]string{}
			resolved := map[string]bool{}
			followUps := map[string]int{}
			isComplete := func() bool {
				for _, f := range domain.Catalog() {
					if !resolved[f.Key] {
						return false
					}
					if f.Required && values[f.Key] == "" {
						return false
					}
				}
				return true
			}
			firstOpen := func() string {
				for _, key := range domain.FieldKeys() {
					if !resolved[key] {
						return key
					}
				}
				return ""
			}

			q := h.expect(TypeQuestion)
			field := q.Field
			require.Equal(t, firstOpen(), field)

			for step := 0; ; step++ {
				require.Less(t, step, 500, "session did not converge")

				advanced := false
				switch rng.Intn(3) {
				case 0:
					answer := fmt.Sprintf("answer-%s-%d", field, step)
					h.respond(answer)
					assert.Equal(t, field, h.expect(TypeAccepted).Field)
					values[field] = answer
					resolved[field] = true
					advanced = true
				case 1:
					h.send(ClientMessage{Type: TypeSkip})
					if domain.IsRequired(field) {
						assert.Equal(t, field, h.expect(TypeError).Field)
						continue
					}
					assert.Equal(t, field, h.expect(TypeSkipped).Field)
					values[field] = ""
					resolved[field] = true
					advanced = true
				default:
					h.respond("  ")
					n := followUps[field]
					switch {
					case n < session.MaxFollowUps:
						assert.Equal(t, field, h.expect(TypeFollowUp).Field)
						followUps[field] = n + 1
					case domain.IsRequired(field):
						assert.Equal(t, field, h.expect(TypeFollowUp).Field)
					default:
						assert.Equal(t, field, h.expect(TypeAccepted).Field)
						values[field] = ""
						resolved[field] = true
						advanced = true
					}
				}
				if !advanced {
					continue
				}

				if isComplete() {
					complete := h.expect(TypeComplete)
					for _, key := range domain.FieldKeys() {
						assert.Equal(t, values[key], complete.Data[key], "field %s", key)
					}
					h.expect(TypeWorkflowStarted)
					h.expect(TypeWorkflowComplete)
					require.NoError(t, h.wait())
					return
				}
				q := h.expect(TypeQuestion)
				field = q.Field
				require.Equal(t, firstOpen(), field)
				assert.Equal(t, followUps[field], h.session().FollowUpCount(field))
			}
		})
	}
}
