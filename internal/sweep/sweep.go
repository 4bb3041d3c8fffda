// Package sweep runs the periodic maintenance jobs: visit reminders,
// queue-position updates, idle-session eviction and deferred post-sale
// surveys. Jobs are cron expressions checked on a short tick; each
// expression fires at most once per matching minute.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// Job is one scheduled maintenance task.
type Job struct {
	Name string
	Expr string
	Run  func(ctx context.Context)
}

// Scheduler ticks the registered jobs.
type Scheduler struct {
	jobs []Job
	gron *gronx.Gronx

	// Now is the clock, replaceable in tests.
	Now func() time.Time

	lastRun map[string]time.Time
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		gron:    gronx.New(),
		lastRun: map[string]time.Time{},
	}
}

// Register adds a job. Invalid expressions are rejected up front so a
// config typo surfaces at startup, not silently at runtime.
func (s *Scheduler) Register(name, expr string, run func(ctx context.Context)) error {
	if !s.gron.IsValid(expr) {
		return &InvalidExprError{Name: name, Expr: expr}
	}
	s.jobs = append(s.jobs, Job{Name: name, Expr: expr, Run: run})
	return nil
}

// InvalidExprError reports a malformed cron expression.
type InvalidExprError struct {
	Name string
	Expr string
}

func (e *InvalidExprError) Error() string {
	return "sweep " + e.Name + ": invalid cron expression " + e.Expr
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Start runs the scheduler until the context ends.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	slog.Info("sweep scheduler started", "jobs", len(s.jobs))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick checks every job against the current minute.
func (s *Scheduler) Tick(ctx context.Context) {
	minute := s.now().Truncate(time.Minute)
	for _, job := range s.jobs {
		if s.lastRun[job.Name].Equal(minute) {
			continue
		}
		due, err := s.gron.IsDue(job.Expr, minute)
		if err != nil || !due {
			continue
		}
		s.lastRun[job.Name] = minute
		start := time.Now()
		job.Run(ctx)
		slog.Debug("sweep ran", "job", job.Name, "took", time.Since(start))
	}
}
