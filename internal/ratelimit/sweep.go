package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/oshokin/release-server/internal/logger"
)

// Sweeper drops expired state.
type Sweeper interface {
	Sweep() int
}

// ScheduleSweep registers a periodic sweep of store on c.
func ScheduleSweep(ctx context.Context, c *cron.Cron, store Sweeper, interval time.Duration) (cron.EntryID, error) {
	id, err := c.AddFunc("@every "+interval.String(), func() {
		if removed := store.Sweep(); removed > 0 {
			logger.DebugKV(ctx, "Expired rate-limit windows removed", "count", removed)
		}
	})
	if err != nil {
		return 0, fmt.Errorf("schedule rate-limit sweep: %w", err)
	}

	return id, nil
}
