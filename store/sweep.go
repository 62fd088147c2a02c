package store

import (
	"context"
	"log/slog"
	"time"
)

// Sweep evicts entries older than retention from c every interval until ctx
// is done. A sweep runs once immediately on start.
func Sweep(ctx context.Context, c DocumentCache, retention, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "cache_sweeper")

	sweepOnce := func() {
		n, err := c.EvictOlderThan(ctx, retention)
		if err != nil {
			logger.Warn("cache eviction sweep failed", "evicted", n, "error", err)
			return
		}
		if n > 0 {
			logger.Info("evicted expired documents", "evicted", n, "retention", retention.String())
		}
	}

	sweepOnce()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sweepOnce()
		case <-ctx.Done():
			return
		}
	}
}
