package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/briefsmith/internal/domain"
)

func TestSendNotConfigured(t *testing.T) {
	status := New("", time.Second, nil).Send(context.Background(), Payload{})
	assert.False(t, status.Sent)
	assert.Contains(t, status.Message, "BACKEND_ENDPOINT_URL")
}

func TestSendSuccess(t *testing.T) {
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/projects", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	status := c.Send(context.Background(), Payload{
		TRD:           "doc",
		EstimatedTime: domain.Document{"total_project_hours": 120.0},
		EstimatedCost: domain.Document{"total_project_cost": 9000.0},
	})

	assert.True(t, status.Sent)
	assert.Equal(t, http.StatusCreated, status.StatusCode)
	assert.Equal(t, "Successfully sent to backend", status.Message)
	assert.Equal(t, "doc", got.TRD)
	assert.Equal(t, 120.0, got.EstimatedTime["total_project_hours"])
}

func TestSendBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad payload", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	status := New(srv.URL, time.Second, nil).Send(context.Background(), Payload{TRD: "doc"})
	assert.False(t, status.Sent)
	assert.Equal(t, http.StatusUnprocessableEntity, status.StatusCode)
	assert.Contains(t, status.Message, "Backend returned error: bad payload")
}

func TestSendTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	status := New(srv.URL, 50*time.Millisecond, nil).Send(context.Background(), Payload{TRD: "doc"})
	assert.False(t, status.Sent)
	assert.Equal(t, "Backend request timed out", status.Message)
}

func TestSendUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	status := New(url, time.Second, nil).Send(context.Background(), Payload{})
	assert.False(t, status.Sent)
	assert.Contains(t, status.Message, "Error sending to backend")
}
