package session

import (
	"context"
	"log/slog"
	"time"
)

const sweepInterval = time.Minute

// StartSweeper removes sessions idle for longer than ttl until ctx is done.
// Sessions normally end with their connection; live connections touch their
// session on every frame and keepalive tick, so the sweeper only catches
// handlers that stopped making progress.
func StartSweeper(ctx context.Context, st *Store, ttl time.Duration) {
	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", sweepInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				if n := st.Expire(ttl); n > 0 {
					slog.Info("Session sweeper removed expired sessions", "count", n)
				}
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
