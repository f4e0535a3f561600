package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Scheduler wakes on a fixed tick and triggers runs for active configs
// whose next run time has elapsed. Runs for different projects proceed
// concurrently; a project already running is skipped, not queued.
type Scheduler struct {
	runner  *Runner
	configs ConfigStore
	tick    time.Duration

	mu       sync.Mutex
	lastTick time.Time

	now func() time.Time
}

func NewScheduler(runner *Runner, configs ConfigStore, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = time.Minute
	}
	return &Scheduler{
		runner:  runner,
		configs: configs,
		tick:    tick,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start blocks, firing due runs each tick until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Dur("tick", s.tick).Msg("scheduler: starting")

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tickOnce(ctx)
		case <-ctx.Done():
			log.Info().Msg("scheduler: stopping (context cancelled)")
			return
		}
	}
}

// Tick returns the configured tick interval.
func (s *Scheduler) Tick() time.Duration {
	return s.tick
}

// LastTick returns when the scheduler last woke, zero before the first
// tick. Health checks use it to detect a stalled loop.
func (s *Scheduler) LastTick() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTick
}

// tickOnce queries due configs and fires a background run for each.
// Overdue configs (service downtime, past failures) are naturally picked
// up here; no separate catch-up pass is needed.
func (s *Scheduler) tickOnce(ctx context.Context) {
	s.mu.Lock()
	s.lastTick = s.now()
	s.mu.Unlock()

	due, err := s.configs.ListDue(ctx, s.now())
	if err != nil {
		log.Error().Err(err).Msg("scheduler: due-config query failed")
		return
	}

	for _, cfg := range due {
		if err := s.runner.TryRunAsync(cfg.ProjectID); err != nil {
			if errors.Is(err, ErrRunInProgress) {
				log.Debug().Int64("project_id", cfg.ProjectID).Msg("scheduler: run still in flight, skipping")
				continue
			}
			log.Error().Err(err).Int64("project_id", cfg.ProjectID).Msg("scheduler: trigger failed")
		}
	}
}
