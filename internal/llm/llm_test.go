package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/briefsmith/internal/metrics"
)

func TestClassifyByStatus(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		status int
		want   ErrorType
	}{
		{429, ErrorTypeRateLimit},
		{401, ErrorTypeAuth},
		{403, ErrorTypeAuth},
		{400, ErrorTypeBadPrompt},
		{503, ErrorTypeTransient},
		{0, ErrorTypeUnknown},
	}
	for _, tt := range tests {
		err := classify("test", base, tt.status)
		assert.Equal(t, tt.want, TypeOf(err), "status %d", tt.status)
		assert.ErrorIs(t, err, base)
	}
}

func TestClassifyByMessage(t *testing.T) {
	assert.Equal(t, ErrorTypeRateLimit, TypeOf(classify("t", errors.New("Too Many Requests"), 0)))
	assert.Equal(t, ErrorTypeTransient, TypeOf(classify("t", errors.New("dial tcp: connection refused"), 0)))
	assert.Equal(t, ErrorTypeTransient, TypeOf(classify("t", context.DeadlineExceeded, 0)))
	assert.Equal(t, ErrorTypeRateLimit, TypeOf(classify("t", errors.New("unexpected status code: 429"), 0)))
}

func TestClassifyKeepsExistingClassification(t *testing.T) {
	orig := NewError(ErrorTypeEmptyResponse, "nothing")
	assert.Same(t, orig, classify("t", orig, 500))
}

func TestExtractStatusCode(t *testing.T) {
	assert.Equal(t, 429, extractStatusCode("POST failed with status code: 429 Too Many"))
	assert.Equal(t, 502, extractStatusCode("HTTP 502 bad gateway"))
	assert.Equal(t, 0, extractStatusCode("status: abc"))
	assert.Equal(t, 0, extractStatusCode("nothing here"))
}

func TestRetryOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	g := Func(func(ctx context.Context, req Request) (string, error) {
		if calls.Add(1) < 3 {
			return "", NewError(ErrorTypeRateLimit, "slow down")
		}
		return "ok", nil
	})

	text, err := WithRetry(g, RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond}).Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryGivesUp(t *testing.T) {
	var calls atomic.Int32
	g := Func(func(ctx context.Context, req Request) (string, error) {
		calls.Add(1)
		return "", NewError(ErrorTypeRateLimit, "slow down")
	})

	_, err := WithRetry(g, RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond}).Generate(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRetrySkipsOtherErrors(t *testing.T) {
	var calls atomic.Int32
	g := Func(func(ctx context.Context, req Request) (string, error) {
		calls.Add(1)
		return "", NewError(ErrorTypeAuth, "bad key")
	})

	_, err := WithRetry(g, DefaultRetryPolicy).Generate(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryDoesNotRetryTransientErrors(t *testing.T) {
	var calls atomic.Int32
	g := Func(func(ctx context.Context, req Request) (string, error) {
		calls.Add(1)
		return "", NewError(ErrorTypeTransient, "connection reset")
	})

	_, err := WithRetry(g, RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond}).Generate(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, Is(err, ErrorTypeTransient))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryHonorsContext(t *testing.T) {
	g := Func(func(ctx context.Context, req Request) (string, error) {
		return "", NewError(ErrorTypeRateLimit, "slow down")
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WithRetry(g, RetryPolicy{MaxAttempts: 3, InitialDelay: time.Hour}).Generate(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInstrumentPassesThrough(t *testing.T) {
	rec := metrics.New()
	g := Instrument(Func(func(ctx context.Context, req Request) (string, error) {
		return "hello " + req.Prompt, nil
	}), rec, nil)

	text, err := g.Generate(context.Background(), Request{Label: "test", Prompt: "there"})
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
	assert.Equal(t, "custom", ProviderName(g))
}

func TestOpenAIClientAgainstFakeServer(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel, _ = body["model"].(string)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-1","object":"chat.completion","created":0,"model":"gpt-4o",
			"choices":[{"index":0,"message":{"role":"assistant","content":"  appName  "},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	c, err := NewOpenAI("test-key", "gpt-4o", option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	require.NoError(t, err)

	text, err := c.Generate(context.Background(), Request{System: "sys", Prompt: "which field?"})
	require.NoError(t, err)
	assert.Equal(t, "appName", text)
	assert.Equal(t, "gpt-4o", gotModel)
	assert.Equal(t, "openai", c.Provider())
}

func TestOpenAIClientClassifiesRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited","type":"requests"}}`)
	}))
	defer srv.Close()

	c, err := NewOpenAI("test-key", "gpt-4o", option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, Is(err, ErrorTypeRateLimit), "got %v", err)
}

func TestAnthropicClientAgainstFakeServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude",
			"content":[{"type":"text","text":"<PRD>doc</PRD>"}],
			"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`)
	}))
	defer srv.Close()

	c, err := NewAnthropic("test-key", "claude", anthropicoption.WithBaseURL(srv.URL+"/"), anthropicoption.WithMaxRetries(0))
	require.NoError(t, err)

	text, err := c.Generate(context.Background(), Request{System: "sys", Prompt: "write"})
	require.NoError(t, err)
	assert.Equal(t, "<PRD>doc</PRD>", text)
}

func TestOllamaClientAgainstFakeServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"model":"llama3.1","message":{"role":"assistant","content":"What is your app name?"},"done":true}`)
	}))
	defer srv.Close()

	c, err := NewOllama(srv.URL, "llama3.1", srv.Client())
	require.NoError(t, err)

	text, err := c.Generate(context.Background(), Request{Prompt: "ask"})
	require.NoError(t, err)
	assert.Equal(t, "What is your app name?", text)
}

func TestEmptyCompletionIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"model":"llama3.1","message":{"role":"assistant","content":"   "},"done":true}`)
	}))
	defer srv.Close()

	c, err := NewOllama(srv.URL, "llama3.1", srv.Client())
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), Request{Prompt: "ask"})
	assert.True(t, Is(err, ErrorTypeEmptyResponse))
}

func TestConstructorsRequireKeys(t *testing.T) {
	_, err := NewOpenAI("", "gpt-4o")
	assert.Error(t, err)
	_, err = NewAnthropic("", "claude")
	assert.Error(t, err)
	_, err = NewAzureOpenAI("", "", "v", "d")
	assert.Error(t, err)
	_, err = NewGemini(context.Background(), "", "gemini")
	assert.Error(t, err)
}
