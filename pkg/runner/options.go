// Package runner provides the Scheduler, which orchestrates job creation,
// scheduling, execution, and the periodic maintenance sweeps.
package runner

import (
	"log/slog"
	"math/rand"
	"time"
)

// Scheduling and maintenance defaults.
const (
	// ManyFailures is the attempt count past which a job identity is
	// considered to be failing repeatedly: warnings are logged and retries
	// are deferred until the situation is manually resolved.
	ManyFailures = 5

	// DefaultRetention is how long completed jobs and quiet groups are
	// kept before the cleanup sweep removes them.
	DefaultRetention = 30 * 24 * time.Hour

	// DefaultRunBudget caps one scheduling pass so a huge backlog can't
	// monopolize the pass forever.
	DefaultRunBudget = 10 * time.Minute

	// DefaultStuckAfter is how long an in-progress job may go unmodified
	// before the daily report flags it.
	DefaultStuckAfter = 3 * 24 * time.Hour
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithImmediate marks the backend as immediate: scheduled jobs run without
// waiting for their scheduled start date. Used with backend.Immediate() in
// development and tests.
func WithImmediate() Option {
	return func(s *Scheduler) { s.immediate = true }
}

// WithJitter overrides the default scheduling jitter (random 5-30 s, which
// spaces out jobs submitted in quick succession). Tests pass a constant.
func WithJitter(fn func() time.Duration) Option {
	return func(s *Scheduler) { s.jitter = fn }
}

// WithRunBudget caps the wall-clock time of one scheduling pass.
func WithRunBudget(d time.Duration) Option {
	return func(s *Scheduler) { s.runBudget = d }
}

// WithRetention overrides how long finished work is kept before cleanup.
func WithRetention(d time.Duration) Option {
	return func(s *Scheduler) { s.retention = d }
}

// WithStuckAfter overrides the stuck-job reporting threshold.
func WithStuckAfter(d time.Duration) Option {
	return func(s *Scheduler) { s.stuckAfter = d }
}

func defaultJitter() time.Duration {
	return time.Duration(5+rand.Intn(25)) * time.Second
}
