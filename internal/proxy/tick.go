package proxy

import (
	"context"
	"fmt"
	"time"
)

// GenerateFunc produces one value for entityID and pushes it to the queue.
type GenerateFunc func(ctx context.Context, entityID string) error

// RunTicks is the shared Run loop for provider proxies.
//
// The first tick fires immediately, then every interval. Each tick takes a
// snapshot of the subscribed entities and calls generate for each one. A
// failing entity is logged and skipped; the remaining entities in the tick
// and all later ticks still run. Ticks never overlap because generation
// happens on the loop goroutine.
//
// Returns nil when ctx is cancelled.
func RunTicks(ctx context.Context, interval time.Duration, entities *Entities, generate GenerateFunc, logger Logger) error {
	if interval <= 0 {
		return fmt.Errorf("%w: tick interval must be positive, got %s", ErrProviderProxy, interval)
	}
	logger = orNop(logger)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, id := range entities.Subscribed() {
			if ctx.Err() != nil {
				return nil
			}
			if err := generate(ctx, id); err != nil {
				logger.Warn("signal generation failed", "entity_id", id, "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
