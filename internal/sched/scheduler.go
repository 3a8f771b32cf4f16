// Package sched drives scan cycles: a single non-overlapping periodic
// loop with misfire grace and a manual fast-forward trigger.
package sched

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config tunes the driver.
type Config struct {
	Interval     time.Duration
	MisfireGrace time.Duration
}

// DefaultConfig runs a cycle every 5 minutes with a 30s misfire grace.
func DefaultConfig() Config {
	return Config{
		Interval:     5 * time.Minute,
		MisfireGrace: 30 * time.Second,
	}
}

// CycleFunc is one scan cycle.
type CycleFunc func(ctx context.Context)

// Scheduler executes the cycle function from a single goroutine, so at
// most one cycle is ever in flight. Ticks arriving while a cycle runs are
// coalesced by the ticker and executed right after, unless they are older
// than the misfire grace. Trigger fast-forwards the next run.
type Scheduler struct {
	cfg    Config
	fn     CycleFunc
	manual chan struct{}

	mu      sync.Mutex
	paused  bool
	running bool
	lastRun time.Time
}

// New creates a scheduler for fn.
func New(cfg Config, fn CycleFunc) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.MisfireGrace <= 0 {
		cfg.MisfireGrace = DefaultConfig().MisfireGrace
	}
	return &Scheduler{cfg: cfg, fn: fn, manual: make(chan struct{}, 1)}
}

// Run loops until ctx is cancelled. The first cycle runs immediately.
func (s *Scheduler) Run(ctx context.Context) {
	log.Info().Dur("interval", s.cfg.Interval).Dur("misfire_grace", s.cfg.MisfireGrace).
		Msg("scheduler starting")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.execute(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopped")
			return
		case tick := <-ticker.C:
			// A tick delivered long after it fired was missed during a slow
			// cycle; run it only within the grace window.
			if time.Since(tick) > s.cfg.Interval+s.cfg.MisfireGrace {
				log.Warn().Time("tick", tick).Msg("missed tick beyond misfire grace, skipping")
				continue
			}
			s.execute(ctx)
		case <-s.manual:
			s.execute(ctx)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context) {
	s.mu.Lock()
	if s.paused {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	start := time.Now()
	s.fn(ctx)

	s.mu.Lock()
	s.running = false
	s.lastRun = start
	s.mu.Unlock()
}

// Trigger requests a cycle as soon as the current one (if any) finishes.
// Multiple pending triggers coalesce into one run.
func (s *Scheduler) Trigger() {
	select {
	case s.manual <- struct{}{}:
	default:
	}
}

// Pause stops automatic and manual cycles until Resume.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	log.Info().Msg("scheduler paused")
}

// Resume re-enables cycles.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	log.Info().Msg("scheduler resumed")
}

// Paused reports whether cycles are currently disabled.
func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// LastRun returns the start time of the most recent completed cycle.
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}
