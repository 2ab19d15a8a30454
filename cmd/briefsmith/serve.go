package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/ashureev/briefsmith/internal/api"
	"github.com/ashureev/briefsmith/internal/collect"
	"github.com/ashureev/briefsmith/internal/identity"
	"github.com/ashureev/briefsmith/internal/metrics"
	"github.com/ashureev/briefsmith/internal/middleware"
	"github.com/ashureev/briefsmith/internal/planner"
	"github.com/ashureev/briefsmith/internal/session"
	"github.com/ashureev/briefsmith/internal/transcript"
	"github.com/ashureev/briefsmith/internal/validator"
	"github.com/ashureev/briefsmith/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	Long: `Serves the collection conversation on /ws/collect, the JSON API under
/api, Prometheus metrics on /metrics, and the embedded web client.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec := metrics.New()
	a, err := newApp(ctx, logger, rec)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	convLog, err := transcript.New(cfg.ConversationLog, logger)
	if err != nil {
		return fmt.Errorf("conversation logger: %w", err)
	}
	defer func() {
		if closeErr := convLog.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	sessions := session.NewStore()
	session.StartSweeper(ctx, sessions, cfg.SessionTTL)

	svc := collect.NewService(collect.Deps{
		Sessions:   sessions,
		Planner:    planner.NewGenerative(a.chat, a.prompts, logger),
		Validator:  validator.NewGenerative(a.chat, a.prompts, logger),
		Runner:     a.orchestrator,
		Runs:       a.repo,
		Transcript: convLog,
		Metrics:    rec,
		Logger:     logger,
		Keepalive:  cfg.KeepaliveInterval,
	})
	wsHandler := collect.NewHandler(svc, cfg.FrontendURL, cfg.IsDevelopment(), cfg.WSReadLimit)
	apiHandler := api.NewHandler(a.repo, a.orchestrator, logger)
	healthHandler := api.NewHealthHandler(a.repo, 5*time.Second)

	origins := []string{"*"}
	if cfg.FrontendURL != "" {
		origins = []string{cfg.FrontendURL}
	}

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(origins))

	healthHandler.RegisterHealth(r)
	if cfg.MetricsEnabled {
		r.Handle("/metrics", rec.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment()))
		apiHandler.RegisterRoutes(r)
		r.Get("/ws/collect", wsHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Generation runs inside the WebSocket and /api/generate handlers, so
	// there is no write timeout.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}
