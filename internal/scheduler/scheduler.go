// Package scheduler triggers the import on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "icsimport/internal/log"
)

// Job is one scheduled unit of work. Its error is logged; the schedule
// keeps running.
type Job func(ctx context.Context) error

type Scheduler struct {
	spec     string
	schedule cron.Schedule
	loc      *time.Location
	job      Job
}

// New validates spec (standard five-field cron or a descriptor such as
// "@every 5m") evaluated in loc.
func New(spec string, loc *time.Location, job Job) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{spec: spec, schedule: schedule, loc: loc, job: job}, nil
}

// Next returns the first activation after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.loc))
}

// Run blocks until ctx is done. A tick that fires while the previous job is
// still running is skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() {
		start := time.Now()
		if err := s.job(ctx); err != nil {
			appLog.Error("scheduled job failed", err, "spec", s.spec, "took", time.Since(start).String())
			return
		}
		appLog.Debug("scheduled job finished", "spec", s.spec, "took", time.Since(start).String())
	}))

	appLog.Info("scheduler started", "spec", s.spec, "timezone", s.loc.String(), "next", s.Next(time.Now()).Format(time.RFC3339))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	appLog.Info("scheduler stopped")
	return nil
}

// cronLogger routes cron's own messages into the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
