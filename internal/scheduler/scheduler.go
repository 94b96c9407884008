// Package scheduler runs streamrelay's recurring maintenance jobs on cron
// schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/streamrelay/internal/observability"
)

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("scheduler already started")

// Job is a unit of recurring work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// EntryInfo describes a scheduled job.
type EntryInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
	Prev     time.Time `json:"prev,omitzero"`
}

type entry struct {
	id       cron.EntryID
	name     string
	schedule string
}

// Scheduler wraps a cron runner. Jobs receive a context that is canceled
// when the scheduler stops, and a job still running when its next tick
// arrives is skipped.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	parser  cron.Parser
	entries []entry

	ctx    context.Context
	cancel context.CancelFunc

	logger *slog.Logger
}

// NewScheduler creates a scheduler accepting standard five-field cron
// expressions, an optional leading seconds field, and descriptors such as
// "@every 1m" or "@daily".
func NewScheduler() *Scheduler {
	parser := cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	s := &Scheduler{
		parser: parser,
		logger: slog.Default().With(slog.String("component", "scheduler")),
	}
	cl := cronLogger{s: s}
	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return s
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// ValidateCron validates a cron expression.
func (s *Scheduler) ValidateCron(expr string) error {
	if _, err := s.parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// NextRun returns the next activation time of expr after from.
func (s *Scheduler) NextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule.Next(from), nil
}

// Add registers job on schedule. An empty schedule disables the job.
func (s *Scheduler) Add(schedule string, job Job) error {
	if schedule == "" {
		s.logger.Debug("job disabled", slog.String("job", job.Name()))
		return nil
	}
	if err := s.ValidateCron(schedule); err != nil {
		return fmt.Errorf("scheduling %s: %w", job.Name(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(schedule, func() { s.run(job) })
	if err != nil {
		return fmt.Errorf("scheduling %s: %w", job.Name(), err)
	}
	s.entries = append(s.entries, entry{id: id, name: job.Name(), schedule: schedule})
	return nil
}

func (s *Scheduler) run(job Job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	logger := s.logger.With(slog.String("job", job.Name()))
	var err error
	defer observability.TimedOperation(ctx, logger, job.Name(), &err)()
	err = job.Run(ctx)
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()

	s.logger.Info("scheduler started", slog.Int("jobs", len(s.entries)))
	return nil
}

// Stop cancels running jobs and waits for them to return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx == nil {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return fmt.Errorf("waiting for scheduled jobs: %w", ctx.Err())
	}

	s.logger.Info("scheduler stopped")
	return nil
}

// Entries returns the scheduled jobs with their next activation times.
func (s *Scheduler) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]EntryInfo, 0, len(s.entries))
	for _, e := range s.entries {
		ce := s.cron.Entry(e.id)
		infos = append(infos, EntryInfo{
			Name:     e.name,
			Schedule: e.schedule,
			Next:     ce.Next,
			Prev:     ce.Prev,
		})
	}
	return infos
}

// cronLogger adapts the scheduler's slog logger to cron.Logger.
type cronLogger struct {
	s *Scheduler
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.logger.Error("cron: "+msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
