package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bowerhall/multiai/internal/logger"
)

// DefaultMaxAge matches the week-long retention of cached uploads.
const DefaultMaxAge = 7 * 24 * time.Hour

// cronParser is configured for standard 5-field cron expressions
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Evictor is the media cache operation the sweeper drives.
type Evictor interface {
	EvictOlderThan(ctx context.Context, maxAge time.Duration) int
}

// Sweeper evicts media older than MaxAge on a cron schedule.
type Sweeper struct {
	cache    Evictor
	schedule cron.Schedule
	spec     string
	maxAge   time.Duration
	now      func() time.Time
}

func New(cache Evictor, schedule string, maxAge time.Duration) (*Sweeper, error) {
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule: %w", err)
	}

	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	return &Sweeper{
		cache:    cache,
		schedule: sched,
		spec:     schedule,
		maxAge:   maxAge,
		now:      time.Now,
	}, nil
}

// Next returns the first sweep time after t.
func (s *Sweeper) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Sweep runs one eviction pass and returns the number of entries removed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	removed := s.cache.EvictOlderThan(ctx, s.maxAge)
	if removed > 0 {
		logger.Info("media sweep finished", "removed", removed, "max_age", s.maxAge)
	} else {
		logger.Debug("media sweep finished", "removed", 0)
	}
	return removed
}

// Run sweeps once at startup, then on every scheduled fire time until ctx
// is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.Sweep(ctx)

	for {
		next := s.Next(s.now())
		logger.Debug("next media sweep scheduled", "schedule", s.spec, "next", next)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Debug("media sweeper stopping")
			return
		case <-timer.C:
			s.Sweep(ctx)
		}
	}
}
