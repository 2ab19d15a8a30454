package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/briefsmith/internal/brief"
	"github.com/ashureev/briefsmith/internal/domain"
	"github.com/ashureev/briefsmith/internal/pipeline"
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Print the markdown project brief template",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, err := io.WriteString(cmd.OutOrStdout(), brief.Template())
		return err
	},
}

var (
	briefPath string
	outPath   string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run the generation pipeline on a markdown brief",
	Long: `Parses a filled-in project brief, runs every generation stage, stores
the run, and writes it as JSON to stdout or --out.

Example:
  briefsmith template > brief.md
  briefsmith generate --brief brief.md --out run.json`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&briefPath, "brief", "", "path to the markdown brief (- for stdin)")
	generateCmd.Flags().StringVar(&outPath, "out", "", "write the run JSON to this file instead of stdout")
	_ = generateCmd.MarkFlagRequired("brief")
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	markdown, err := readBrief(cmd, briefPath)
	if err != nil {
		return err
	}
	record, err := brief.ParseComplete(markdown)
	if err != nil {
		return err
	}

	logger := slog.Default()
	a, err := newApp(cmd.Context(), logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	art, runErr := a.orchestrator.Run(cmd.Context(), record)
	run := pipeline.NewRun(domain.SourceCLI, record, art, runErr)

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 5*time.Second)
	defer cancel()
	if err := a.repo.SaveRun(saveCtx, run); err != nil {
		logger.Error("Failed to save run", "error", err, "run_id", run.ID)
	}

	if err := writeRun(cmd, run); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("generation failed: %w", runErr)
	}
	logger.Info("Generation complete", "run_id", run.ID, "delivered", art.BackendStatus.Sent)
	return nil
}

func readBrief(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read brief from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read brief: %w", err)
	}
	return string(data), nil
}

func writeRun(cmd *cobra.Command, run *domain.Run) error {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	data = append(data, '\n')

	if outPath == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}
	return nil
}
