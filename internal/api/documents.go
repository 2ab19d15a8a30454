package api

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/ashureev/briefsmith/internal/brief"
	"github.com/ashureev/briefsmith/internal/domain"
	"github.com/ashureev/briefsmith/internal/identity"
	"github.com/ashureev/briefsmith/internal/pipeline"
)

const saveTimeout = 5 * time.Second

// Catalog returns the field catalog in asking order.
func (h *Handler) Catalog(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{"fields": domain.Catalog()})
}

// BriefTemplate returns the markdown project brief template.
func (h *Handler) BriefTemplate(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, brief.Template()); err != nil {
		h.logger.Debug("Failed to write template", "error", err)
	}
}

type parseRequest struct {
	Markdown string `json:"markdown"`
}

// ParseBrief parses a markdown brief. The body is either raw markdown or a
// JSON object with a markdown member.
func (h *Handler) ParseBrief(w http.ResponseWriter, r *http.Request) {
	markdown, err := h.readMarkdown(w, r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := brief.Parse(markdown)
	if err != nil {
		if errors.Is(err, brief.ErrEmptyBrief) {
			Error(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"record":   result.Record,
		"missing":  result.Missing,
		"unknown":  result.Unknown,
		"complete": result.Complete(),
	})
}

func (h *Handler) readMarkdown(w http.ResponseWriter, r *http.Request) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req parseRequest
		if err := decodeBody(w, r, &req); err != nil {
			return "", err
		}
		return req.Markdown, nil
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return "", errors.New("failed to read request body")
	}
	return string(body), nil
}

type generateRequest struct {
	Record map[string]string `json:"record,omitempty"`
	Brief  string            `json:"brief,omitempty"`
}

// Generate runs the pipeline on a record supplied directly, either as a
// JSON map or as a markdown brief, and persists the run.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		Error(w, http.StatusServiceUnavailable, "generation is not configured")
		return
	}

	var req generateRequest
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	var record domain.Record
	switch {
	case req.Brief != "" && req.Record != nil:
		Error(w, http.StatusBadRequest, "provide either record or brief, not both")
		return
	case req.Brief != "":
		result, err := brief.Parse(req.Brief)
		if err != nil {
			Error(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		record = result.Record
	default:
		record = domain.RecordFrom(req.Record)
	}

	if missing := record.MissingRequired(); len(missing) > 0 {
		JSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":   "missing required fields",
			"missing": missing,
		})
		return
	}

	ownerID := identity.OwnerIDFromContext(r.Context())
	h.logger.Info("Generation requested", "owner_id", ownerID)

	art, runErr := h.runner.Run(r.Context(), record)
	run := pipeline.NewRun(domain.SourceAPI, record, art, runErr)
	run.OwnerID = ownerID

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), saveTimeout)
	defer cancel()
	if err := h.repo.SaveRun(saveCtx, run); err != nil {
		h.logger.Error("Failed to save run", "error", err, "run_id", run.ID)
	}

	if runErr != nil {
		h.logger.Warn("Generation failed", "error", runErr, "run_id", run.ID, "stage", run.Stage)
		JSON(w, http.StatusBadGateway, run)
		return
	}
	JSON(w, http.StatusOK, run)
}
