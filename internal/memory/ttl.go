package memory

import (
	"context"
	"log/slog"
	"time"
)

// Expirer drops conversations idle since a cutoff.
type Expirer interface {
	Expire(cutoff time.Time) int
}

// ttlWorkerInterval is how often idle conversations are swept.
const ttlWorkerInterval = time.Minute

// StartTTLWorker sweeps conversations idle for longer than ttl until ctx
// is done. The Redis backend expires keys itself and needs no worker.
func StartTTLWorker(ctx context.Context, store Expirer, ttl time.Duration) {
	interval := ttlWorkerInterval
	if ttl < interval {
		interval = ttl
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Conversation TTL worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case now := <-ticker.C:
				if n := store.Expire(now.Add(-ttl)); n > 0 {
					slog.Info("Conversation TTL worker expired conversations", "count", n)
				}
			case <-ctx.Done():
				slog.Info("Conversation TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
