// Package scheduler triggers poll cycles at a fixed interval.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Logger is the logging surface the scheduler needs.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Scheduler runs one job on a fixed interval. A run that overruns the
// interval delays the next one instead of overlapping it, and a panicking
// run is logged and does not stop the schedule.
type Scheduler struct {
	cron     *cron.Cron
	interval time.Duration
	job      func()
	logger   Logger
}

// New creates a scheduler running job every interval. The interval must be
// at least one second.
func New(interval time.Duration, job func(), logger Logger) (*Scheduler, error) {
	if interval < time.Second {
		return nil, fmt.Errorf("scheduler: interval %v is below 1s", interval)
	}
	if job == nil {
		return nil, fmt.Errorf("scheduler: job is required")
	}

	cl := cronLogger{logger: logger}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(
		cron.Recover(cl),
		cron.DelayIfStillRunning(cl),
	))

	s := &Scheduler{cron: c, interval: interval, job: job, logger: logger}
	c.Schedule(cron.Every(interval), cron.FuncJob(job))
	return s, nil
}

// Start begins scheduling. The first run happens one interval from now.
func (s *Scheduler) Start() {
	s.cron.Start()
	if s.logger != nil {
		s.logger.Info("scheduler started", "interval", s.interval)
	}
}

// Stop halts scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	if s.logger != nil {
		s.logger.Info("scheduler stopped")
	}
}

// cronLogger adapts Logger to cron.Logger.
type cronLogger struct {
	logger Logger
}

// Info drops cron's per-wakeup chatter.
func (cronLogger) Info(string, ...any) {}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	if l.logger == nil {
		return
	}
	l.logger.Error("scheduler: "+msg, append(keysAndValues, "error", err)...)
}
