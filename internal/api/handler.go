// Package api provides HTTP handlers for the briefsmith API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/briefsmith/internal/domain"
	"github.com/ashureev/briefsmith/internal/store"
)

const maxBodyBytes = 1 << 20

// Runner executes the generation pipeline.
type Runner interface {
	Run(ctx context.Context, record domain.Record) (*domain.Artifacts, error)
}

// Handler serves the catalog, brief, generation, and run endpoints.
type Handler struct {
	repo   store.Repository
	runner Runner
	logger *slog.Logger
}

// NewHandler creates a new Handler. runner may be nil, in which case
// generation requests are rejected.
func NewHandler(repo store.Repository, runner Runner, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{repo: repo, runner: runner, logger: logger}
}

// RegisterRoutes registers the /api routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/catalog", h.Catalog)
		r.Get("/brief/template", h.BriefTemplate)
		r.Post("/brief/parse", h.ParseBrief)
		r.Post("/generate", h.Generate)
		r.Get("/runs", h.ListRuns)
		r.Get("/runs/{id}", h.GetRun)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeBody reads a size-limited JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
