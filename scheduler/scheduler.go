// Package scheduler drives Engine.FlushTracked on a cron schedule for hosts that want background
// delivery instead of flushing on their own events.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	outbox "github.com/velmie/outbox-sync"
)

// DefaultSpec flushes tracked workspaces every 30 seconds.
const DefaultSpec = "@every 30s"

var (
	// ErrFlusherRequired is returned when the scheduler is created without a flusher.
	ErrFlusherRequired = errors.New("outbox scheduler: flusher is required")
	// ErrInvalidSpec is returned for an unparsable cron spec.
	ErrInvalidSpec = errors.New("outbox scheduler: invalid spec")
)

// Flusher is the part of outbox.Engine the scheduler needs.
type Flusher interface {
	FlushTracked(ctx context.Context) (map[string]outbox.Stats, error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSpec sets the cron spec (standard five fields or descriptors such as "@every 1m").
func WithSpec(spec string) Option {
	return func(s *Scheduler) {
		s.spec = spec
	}
}

// WithLogger sets the logger.
func WithLogger(logger outbox.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// Scheduler runs flushes on a cron schedule. A run that starts while the previous one is still
// going is skipped.
type Scheduler struct {
	flusher  Flusher
	spec     string
	schedule cron.Schedule
	logger   outbox.Logger

	running atomic.Bool
}

// New parses the schedule and returns a Scheduler.
func New(flusher Flusher, opts ...Option) (*Scheduler, error) {
	if flusher == nil {
		return nil, ErrFlusherRequired
	}

	s := &Scheduler{flusher: flusher}
	for _, opt := range opts {
		opt(s)
	}
	if s.spec == "" {
		s.spec = DefaultSpec
	}
	if s.logger == nil {
		s.logger = outbox.NopLogger{}
	}

	schedule, err := cron.ParseStandard(s.spec)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidSpec, s.spec, err)
	}
	s.schedule = schedule

	return s, nil
}

// Next returns the next activation after from.
func (s *Scheduler) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}

// Run blocks until ctx is canceled, flushing on every activation. It waits for an active flush to
// finish before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithLogger(cronLogger{s.logger}))
	c.Schedule(s.schedule, cron.FuncJob(func() {
		s.RunOnce(ctx)
	}))

	s.logger.Info("outbox scheduler started", "spec", s.spec)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("outbox scheduler stopped")

	return ctx.Err()
}

// RunOnce flushes every tracked workspace unless a flush started by this scheduler is still running.
// It reports whether the flush ran.
func (s *Scheduler) RunOnce(ctx context.Context) (map[string]outbox.Stats, bool) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("outbox scheduler run skipped, previous run still active")

		return nil, false
	}
	defer s.running.Store(false)

	stats, err := s.flusher.FlushTracked(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("outbox scheduled flush failed", "err", err)
	}

	var processed int
	for _, st := range stats {
		processed += st.Processed
	}
	if processed > 0 {
		s.logger.Info("outbox scheduled flush completed", "workspaces", len(stats), "processed", processed)
	}

	return stats, true
}

type cronLogger struct {
	logger outbox.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
