package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/briefsmith/internal/config"
	"github.com/ashureev/briefsmith/internal/delivery"
	"github.com/ashureev/briefsmith/internal/llm"
	"github.com/ashureev/briefsmith/internal/metrics"
	"github.com/ashureev/briefsmith/internal/pipeline"
	"github.com/ashureev/briefsmith/internal/prompts"
	"github.com/ashureev/briefsmith/internal/store"
)

// app holds the dependencies shared by every command.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	metrics      *metrics.Recorder
	prompts      *prompts.Set
	chat         llm.Generator
	docs         llm.Generator
	orchestrator *pipeline.Orchestrator
	repo         *store.SQLiteStore
}

// newApp loads configuration and builds generators, the pipeline, and the
// run store. rec may be nil.
func newApp(ctx context.Context, logger *slog.Logger, rec *metrics.Recorder) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	set, err := prompts.Default()
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	chat, err := llm.New(ctx, cfg.LLM.ChatProvider, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("chat generator: %w", err)
	}
	docs, err := llm.New(ctx, cfg.LLM.DocsProvider, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("docs generator: %w", err)
	}
	chat = llm.Instrument(chat, rec, logger)
	docs = llm.Instrument(docs, rec, logger)

	deliverer := delivery.New(cfg.BackendEndpointURL, cfg.DeliveryTimeout, logger)
	orchestrator := pipeline.New(
		llm.WithRetry(chat, llm.DefaultRetryPolicy),
		llm.WithRetry(docs, llm.DefaultRetryPolicy),
		set,
		deliverer,
		pipeline.WithMetrics(rec),
		pipeline.WithLogger(logger),
	)

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("database health check: %w", err)
	}

	logger.Info("Generators ready",
		"chat", llm.ProviderName(chat),
		"docs", llm.ProviderName(docs),
		"delivery", deliverer.Endpoint() != "")

	return &app{
		cfg:          cfg,
		logger:       logger,
		metrics:      rec,
		prompts:      set,
		chat:         chat,
		docs:         docs,
		orchestrator: orchestrator,
		repo:         repo,
	}, nil
}

func (a *app) Close() {
	if err := a.repo.Close(); err != nil {
		a.logger.Error("Failed to close repository", "error", err)
	}
}
