package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ashureev/briefsmith/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the generation tools over MCP stdio",
	Long: `Runs a Model Context Protocol server on stdin/stdout exposing
generate_project_documents, generate_task_breakdown, generate_cursor_rules,
and the project-brief://template resource. Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := slog.Default()
		a, err := newApp(ctx, logger, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		s := mcpserver.New(mcpserver.Deps{
			Generator: a.orchestrator,
			Briefs:    mcpserver.NewBriefReader(""),
			Runs:      a.repo,
			Logger:    logger,
		})
		logger.Info("MCP server ready")
		if err := mcpserver.Serve(ctx, s, cmd.InOrStdin(), cmd.OutOrStdout(), logger); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
