package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRolloverSpec fires just after local midnight.
const DefaultRolloverSpec = "0 0 * * *"

// StartRollover re-broadcasts all snapshots on spec (store-local cron
// syntax) so live/upcoming buckets move when the date changes. The returned
// func stops the schedule and waits for a running job.
func StartRollover(ctx context.Context, h *Hub, spec string, loc *time.Location) (func(), error) {
	if spec == "" {
		spec = DefaultRolloverSpec
	}
	if loc == nil {
		loc = time.Local
	}
	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, func() {
		h.log.Info().Msg("day rollover refresh")
		h.Refresh(ctx)
	}); err != nil {
		return nil, fmt.Errorf("rollover schedule %q: %w", spec, err)
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}
