package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/briefsmith/internal/metrics"
)

type instrumented struct {
	next     Generator
	provider string
	rec      *metrics.Recorder
	logger   *slog.Logger
}

// Instrument wraps g so every call is timed, counted, and logged.
func Instrument(g Generator, rec *metrics.Recorder, logger *slog.Logger) Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &instrumented{next: g, provider: ProviderName(g), rec: rec, logger: logger}
}

func (i *instrumented) Provider() string { return i.provider }

func (i *instrumented) Generate(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	text, err := i.next.Generate(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		errType := TypeOf(err).String()
		i.rec.ObserveGenerator(i.provider, req.Label, elapsed, errType)
		i.logger.Warn("Generator call failed",
			"provider", i.provider,
			"label", req.Label,
			"error_type", errType,
			"duration", elapsed,
			"error", err)
		return "", err
	}

	i.rec.ObserveGenerator(i.provider, req.Label, elapsed, "")
	i.logger.Debug("Generator call completed",
		"provider", i.provider,
		"label", req.Label,
		"duration", elapsed,
		"chars", len(text))
	return text, nil
}
