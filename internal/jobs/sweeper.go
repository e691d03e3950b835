// Package jobs schedules periodic maintenance.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"pulseops.app/internal/obs"
)

// Task is one maintenance step. It returns how many items it removed.
type Task struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// Sweeper runs its tasks on a cron schedule.
type Sweeper struct {
	cron    *cron.Cron
	tasks   []Task
	timeout time.Duration
}

// NewSweeper validates spec (standard five-field or @every form) and
// registers tasks to run sequentially on each tick.
func NewSweeper(spec string, timeout time.Duration, tasks ...Task) (*Sweeper, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s := &Sweeper{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{}))),
		tasks:   tasks,
		timeout: timeout,
	}
	if _, err := s.cron.AddFunc(spec, s.RunOnce); err != nil {
		return nil, fmt.Errorf("jobs: invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts scheduling and waits for a running tick, bounded by ctx.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// RunOnce executes every task now.
func (s *Sweeper) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	log := obs.Logger()
	for _, task := range s.tasks {
		n, err := task.Run(ctx)
		if err != nil {
			obs.StoreError(task.Name, "sweep")
			log.WithError(err).WithField("task", task.Name).Warn("sweep_failed")
			continue
		}
		if n > 0 {
			log.WithFields(logrus.Fields{"task": task.Name, "removed": n}).Info("sweep_complete")
		}
	}
}

// cronLogger routes cron's own messages through logrus.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	obs.Logger().WithFields(kv(keysAndValues)).Debug(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	obs.Logger().WithFields(kv(keysAndValues)).WithError(err).Error(msg)
}

func kv(pairs []any) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(pairs); i += 2 {
		f[fmt.Sprint(pairs[i])] = pairs[i+1]
	}
	return f
}
