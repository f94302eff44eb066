package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Reaper periodically ends conversation sessions that have been idle for
// longer than a cutoff, on a cron schedule.
type Reaper struct {
	sessions SessionStore
	schedule string
	idle     time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// ReaperOpts holds parameters for creating a Reaper.
type ReaperOpts struct {
	Sessions SessionStore
	Schedule string        // five-field cron expression
	Idle     time.Duration // sessions untouched for longer are ended
	Logger   *zerolog.Logger
}

// NewReaper creates a Reaper, rejecting invalid cron expressions.
func NewReaper(opts ReaperOpts) (*Reaper, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("relay: reaper: session store is required")
	}
	if _, err := cronParser.Parse(opts.Schedule); err != nil {
		return nil, fmt.Errorf("relay: reaper: invalid schedule %q: %w", opts.Schedule, err)
	}
	if opts.Idle <= 0 {
		return nil, fmt.Errorf("relay: reaper: idle timeout must be positive")
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "reaper").Logger()
	}
	return &Reaper{
		sessions: opts.Sessions,
		schedule: opts.Schedule,
		idle:     opts.Idle,
		now:      time.Now,
		log:      log,
	}, nil
}

// Run sweeps on every schedule tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	for {
		d := nextCronDuration(r.schedule, r.now())
		if d <= 0 {
			d = time.Minute
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep ends idle sessions once and returns how many were ended.
func (r *Reaper) Sweep(ctx context.Context) int64 {
	cutoff := r.now().Add(-r.idle)
	n, err := r.sessions.ExpireIdle(ctx, cutoff)
	if err != nil {
		r.log.Error().Err(err).Msg("expire idle sessions")
		return 0
	}
	if n > 0 {
		r.log.Info().Int64("expired", n).Msg("ended idle sessions")
	}
	return n
}
