// internal/tasks/tasks.go
//
// Periodic task scheduler.
//
/*
Context
--------
The beat schedule in the settings names tasks by their dotted identifier
(`doors.tasks.publish_door_names`).  Packages that implement a task
register a Handler under that identifier; the Scheduler matches schedule
entries to handlers and runs each one on its own ticker.

  • A schedule entry without a handler is logged at WARN and skipped.
  • A handler error is logged and counted; the ticker keeps going.
  • Runs of the same job never overlap.  A tick that arrives while the
    previous run is still busy is dropped.
  • Every job also runs once right after start.

The broker URL settings are carried for compatibility; jobs run in this
process.
*/
package tasks

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zamhaus/doorcommander/internal/config"
	"github.com/zamhaus/doorcommander/internal/metrics"
)

// Handler is the body of a task.
type Handler func(ctx context.Context) error

// Job is one scheduled task.
type Job struct {
	Name     string
	Task     string
	Interval time.Duration
	Run      Handler
}

// Scheduler runs jobs until its context ends.
type Scheduler struct {
	handlers map[string]Handler
	log      *zap.Logger
}

// NewScheduler returns an empty scheduler.
func NewScheduler(log *zap.Logger) *Scheduler {
	return &Scheduler{handlers: make(map[string]Handler), log: log.Named("tasks")}
}

// Register binds task to h.  A later registration replaces an earlier one.
func (s *Scheduler) Register(task string, h Handler) {
	s.handlers[task] = h
}

// Jobs resolves schedule entries against the registered handlers.
func (s *Scheduler) Jobs(schedule []config.ScheduleEntry) []Job {
	jobs := make([]Job, 0, len(schedule))
	for _, e := range schedule {
		h, ok := s.handlers[e.Task]
		if !ok {
			s.log.Warn("no handler for scheduled task", zap.String("name", e.Name), zap.String("task", e.Task))
			continue
		}
		jobs = append(jobs, Job{Name: e.Name, Task: e.Task, Interval: e.Interval, Run: h})
	}
	return jobs
}

// Run blocks until ctx ends.  It returns nil on cancellation.
func (s *Scheduler) Run(ctx context.Context, schedule []config.ScheduleEntry) error {
	jobs := s.Jobs(schedule)
	if len(jobs) == 0 {
		s.log.Info("no periodic tasks to run")
		<-ctx.Done()
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, j := range jobs {
		g.Go(func() error {
			s.loop(ctx, j)
			return nil
		})
	}
	s.log.Info("scheduler started", zap.Int("jobs", len(jobs)))
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	t := time.NewTicker(j.Interval)
	defer t.Stop()

	s.runOnce(ctx, j)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.runOnce(ctx, j)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, j Job) {
	start := time.Now()
	metrics.TaskRunsTotal.WithLabelValues(j.Name).Inc()

	err := j.Run(ctx)
	if err != nil && ctx.Err() == nil {
		metrics.TaskFailuresTotal.WithLabelValues(j.Name).Inc()
		s.log.Error("task failed", zap.String("name", j.Name), zap.Error(err), zap.Duration("took", time.Since(start)))
		return
	}
	s.log.Debug("task finished", zap.String("name", j.Name), zap.Duration("took", time.Since(start)))
}
