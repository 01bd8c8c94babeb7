package idempotency

import (
	"context"
	"log/slog"
	"time"
)

// DefaultRetention is how long records are kept before sweeping. Long enough
// for any sane client retry policy, short enough to bound storage.
const DefaultRetention = 24 * time.Hour

// Sweep removes records older than the retention period and returns how many
// were removed.
func Sweep(repo Repository, retention time.Duration) (int64, error) {
	deleted, err := repo.DeleteOlderThan(retention)
	if err != nil {
		slog.Error("idempotency sweep failed", "error", err)
		return 0, err
	}
	if deleted > 0 {
		slog.Info("swept expired idempotency records", "deleted", deleted, "older_than", retention)
	}
	return deleted, nil
}

// RunSweeper sweeps expired records at the given interval until ctx is
// cancelled. Blocks; run in a goroutine.
func RunSweeper(ctx context.Context, repo Repository, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			Sweep(repo, retention)
		case <-ctx.Done():
			return
		}
	}
}
