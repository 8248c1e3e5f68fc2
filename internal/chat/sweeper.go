package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/careerflow/internal/store"
)

// SweepConfig controls the background sweeper.
type SweepConfig struct {
	Interval      time.Duration
	IdleTTL       time.Duration
	TurnRetention time.Duration
}

// StartSweeper runs a background goroutine that periodically evicts idle sessions
// and prunes the turn log. repo may be nil.
func StartSweeper(ctx context.Context, sessions *Registry, repo store.Repository, cfg SweepConfig, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(cfg.Interval)
	go func() {
		defer ticker.Stop()
		logger.Info("Session sweeper started", "interval", cfg.Interval, "idle_ttl", cfg.IdleTTL, "turn_retention", cfg.TurnRetention)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, sessions, repo, cfg, logger)
			case <-ctx.Done():
				logger.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, sessions *Registry, repo store.Repository, cfg SweepConfig, logger *slog.Logger) {
	if cfg.IdleTTL > 0 {
		if n := sessions.EvictIdle(cfg.IdleTTL); n > 0 {
			logger.Info("Session sweeper evicted idle sessions", "count", n, "remaining", sessions.Len())
		}
	}

	if repo == nil || cfg.TurnRetention <= 0 {
		return
	}
	deleted, err := repo.CleanupExpiredTurns(ctx, cfg.TurnRetention)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("Session sweeper failed to prune turn log", "error", err)
		}
		return
	}
	if deleted > 0 {
		logger.Info("Session sweeper pruned turn log", "count", deleted)
	}
}
