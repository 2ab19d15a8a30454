//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/briefsmith/internal/domain"
	"github.com/ashureev/briefsmith/internal/identity"
	"github.com/ashureev/briefsmith/internal/pipeline"
)

type memRepo struct {
	mu      sync.Mutex
	runs    map[string]*domain.Run
	pingErr error
}

func newMemRepo() *memRepo { return &memRepo{runs: make(map[string]*domain.Run)} }

func (m *memRepo) SaveRun(_ context.Context, run *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}

func (m *memRepo) GetRun(_ context.Context, id string) (*domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[id], nil
}

func (m *memRepo) ListRuns(_ context.Context, ownerID string, limit int) ([]*domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Run
	for _, r := range m.runs {
		if r.OwnerID == ownerID {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) Ping(context.Context) error { return m.pingErr }
func (m *memRepo) Close() error               { return nil }

type stubRunner struct {
	err    error
	called int
	record domain.Record
}

func (s *stubRunner) Run(_ context.Context, record domain.Record) (*domain.Artifacts, error) {
	s.called++
	s.record = record
	art := &domain.Artifacts{TRD: "trd"}
	if s.err != nil {
		return art, s.err
	}
	art.CursorRules = "rules"
	return art, nil
}

const testOwner = "anon_0123456789abcdef0123456789abcdef"

func newTestServer(repo *memRepo, runner Runner) *httptest.Server {
	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	NewHandler(repo, runner, nil).RegisterRoutes(r)
	return httptest.NewServer(r)
}

func do(t *testing.T, srv *httptest.Server, method, path, contentType, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(identity.OwnerHeaderName, testOwner)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf strings.Builder
	_, err = io.Copy(&buf, resp.Body)
	require.NoError(t, err)
	return resp, []byte(buf.String())
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestCatalog(t *testing.T) {
	srv := newTestServer(newMemRepo(), nil)
	defer srv.Close()

	resp, body := do(t, srv, http.MethodGet, "/api/catalog", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Fields []domain.Field `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got.Fields, len(domain.Catalog()))
	assert.Equal(t, "appName", got.Fields[0].Key)
	assert.True(t, got.Fields[0].Required)
}

func TestBriefTemplate(t *testing.T) {
	srv := newTestServer(newMemRepo(), nil)
	defer srv.Close()

	resp, body := do(t, srv, http.MethodGet, "/api/brief/template", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/markdown")
	assert.Contains(t, string(body), "## App Name *")
}

const sampleBrief = `# Project Brief

## App Name *
Habitual

## Problem Solved *
People forget their habits.

## Core Features *
Streaks and reminders.
`

func TestParseBriefMarkdownAndJSON(t *testing.T) {
	srv := newTestServer(newMemRepo(), nil)
	defer srv.Close()

	resp, body := do(t, srv, http.MethodPost, "/api/brief/parse", "text/markdown", sampleBrief)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got struct {
		Record   domain.Record `json:"record"`
		Complete bool          `json:"complete"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "Habitual", got.Record["appName"])
	assert.True(t, got.Complete)

	payload, err := json.Marshal(map[string]string{"markdown": "## App Name\nOnly a name\n"})
	require.NoError(t, err)
	resp, body = do(t, srv, http.MethodPost, "/api/brief/parse", "application/json", string(payload))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var partial struct {
		Missing  []string `json:"missing"`
		Complete bool     `json:"complete"`
	}
	require.NoError(t, json.Unmarshal(body, &partial))
	assert.False(t, partial.Complete)
	assert.Equal(t, []string{"problemSolved", "coreFeatures"}, partial.Missing)
}

func TestParseBriefEmpty(t *testing.T) {
	srv := newTestServer(newMemRepo(), nil)
	defer srv.Close()

	resp, _ := do(t, srv, http.MethodPost, "/api/brief/parse", "text/markdown", "just prose, no sections")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestGenerateRecord(t *testing.T) {
	repo := newMemRepo()
	runner := &stubRunner{}
	srv := newTestServer(repo, runner)
	defer srv.Close()

	body := `{"record":{"appName":"Habitual","problemSolved":"forgetting","coreFeatures":"streaks","bogus":"x"}}`
	resp, data := do(t, srv, http.MethodPost, "/api/generate", "application/json", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var run domain.Run
	require.NoError(t, json.Unmarshal(data, &run))
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, domain.SourceAPI, run.Source)
	assert.Equal(t, testOwner, run.OwnerID)
	require.NotNil(t, run.Artifacts)
	assert.Equal(t, "rules", run.Artifacts.CursorRules)

	assert.Equal(t, 1, runner.called)
	_, hasBogus := runner.record["bogus"]
	assert.False(t, hasBogus)

	saved, err := repo.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, saved)
}

func TestGenerateBrief(t *testing.T) {
	runner := &stubRunner{}
	srv := newTestServer(newMemRepo(), runner)
	defer srv.Close()

	payload, err := json.Marshal(map[string]string{"brief": sampleBrief})
	require.NoError(t, err)
	resp, _ := do(t, srv, http.MethodPost, "/api/generate", "application/json", string(payload))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Streaks and reminders.", runner.record["coreFeatures"])
}

func TestGenerateMissingRequired(t *testing.T) {
	runner := &stubRunner{}
	srv := newTestServer(newMemRepo(), runner)
	defer srv.Close()

	resp, data := do(t, srv, http.MethodPost, "/api/generate", "application/json", `{"record":{"appName":"Habitual"}}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, string(data), "problemSolved")
	assert.Zero(t, runner.called)
}

func TestGenerateRejectsBadBodies(t *testing.T) {
	srv := newTestServer(newMemRepo(), &stubRunner{})
	defer srv.Close()

	resp, _ := do(t, srv, http.MethodPost, "/api/generate", "application/json", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/api/generate", "application/json", `{"record":{},"brief":"## App Name\nx"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGenerateFailurePersistsFailedRun(t *testing.T) {
	repo := newMemRepo()
	runner := &stubRunner{err: &pipeline.StageError{Stage: pipeline.StageTaskBreakdown, Err: errors.New("boom")}}
	srv := newTestServer(repo, runner)
	defer srv.Close()

	body := `{"record":{"appName":"a","problemSolved":"b","coreFeatures":"c"}}`
	resp, data := do(t, srv, http.MethodPost, "/api/generate", "application/json", body)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var run domain.Run
	require.NoError(t, json.Unmarshal(data, &run))
	assert.Equal(t, domain.RunFailed, run.Status)
	assert.Equal(t, pipeline.StageTaskBreakdown, run.Stage)
	require.NotNil(t, run.Artifacts)
	assert.Equal(t, "trd", run.Artifacts.TRD)

	saved, err := repo.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, domain.RunFailed, saved.Status)
}

func TestGenerateWithoutRunner(t *testing.T) {
	srv := newTestServer(newMemRepo(), nil)
	defer srv.Close()

	resp, _ := do(t, srv, http.MethodPost, "/api/generate", "application/json", `{"record":{}}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRunsAreScopedToOwner(t *testing.T) {
	repo := newMemRepo()
	mine := &domain.Run{ID: "run-mine", OwnerID: testOwner, Status: domain.RunCompleted, CreatedAt: time.Now()}
	theirs := &domain.Run{ID: "run-theirs", OwnerID: "anon_other", Status: domain.RunCompleted, CreatedAt: time.Now()}
	require.NoError(t, repo.SaveRun(context.Background(), mine))
	require.NoError(t, repo.SaveRun(context.Background(), theirs))

	srv := newTestServer(repo, nil)
	defer srv.Close()

	resp, data := do(t, srv, http.MethodGet, "/api/runs", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Runs []domain.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list.Runs, 1)
	assert.Equal(t, "run-mine", list.Runs[0].ID)

	resp, _ = do(t, srv, http.MethodGet, "/api/runs/run-mine", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodGet, "/api/runs/run-theirs", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodGet, "/api/runs/missing", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListRunsLimit(t *testing.T) {
	srv := newTestServer(newMemRepo(), nil)
	defer srv.Close()

	resp, _ := do(t, srv, http.MethodGet, "/api/runs?limit=abc", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodGet, "/api/runs?limit=5", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	repo := newMemRepo()
	h := NewHealthHandler(repo, time.Second)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)

	repo.pingErr = errors.New("disk gone")
	rec = httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"degraded"`)
}
