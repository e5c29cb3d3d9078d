package batch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/offsetpool/offsetpool/internal/model"
)

// Scheduler drives the monthly cycle without operator input: once the
// previous month has closed it first records a dry run, then — on a later
// tick, so an operator has a window to inspect the plan — runs live. The
// preflight gate stays in force; the scheduler never passes force.
type Scheduler struct {
	driver   *Driver
	interval time.Duration
	log      zerolog.Logger
}

// NewScheduler returns a scheduler ticking at the given interval (daily
// when zero).
func NewScheduler(d *Driver, interval time.Duration, log zerolog.Logger) *Scheduler {
	if interval == 0 {
		interval = 24 * time.Hour
	}
	return &Scheduler{driver: d, interval: interval, log: log.With().Str("component", "batch-scheduler").Logger()}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, creditType string) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, creditType)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, creditType string) {
	month := previousMonth(time.Now().UTC())
	execs := s.driver.store.ForMonth(month, creditType)
	var hasDry, hasLive bool
	for _, e := range execs {
		if e.Status != model.BatchSuccess {
			continue
		}
		if e.DryRun {
			hasDry = true
		} else {
			hasLive = true
		}
	}
	switch {
	case hasLive:
		return
	case !hasDry:
		if _, err := s.driver.Run(ctx, RunInput{Month: month, CreditType: creditType, DryRun: true}); err != nil {
			s.log.Error().Err(err).Str("month", month).Msg("scheduled dry run failed")
		}
	default:
		if _, err := s.driver.Run(ctx, RunInput{Month: month, CreditType: creditType}); err != nil {
			s.log.Error().Err(err).Str("month", month).Msg("scheduled live run failed")
		}
	}
}

func previousMonth(now time.Time) string {
	return now.AddDate(0, -1, -(now.Day() - 1)).Format("2006-01")
}
