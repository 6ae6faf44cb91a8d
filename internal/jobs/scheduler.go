package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/rcliao/fact-memory/internal/logger"
)

// Job is one maintenance run.
type Job interface {
	Run(ctx context.Context) (Report, error)
}

// Scheduler triggers jobs on cron schedules. A trigger that fires while the
// same job is still running is skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler returns a stopped scheduler.
func NewScheduler(l *zap.Logger) *Scheduler {
	l = logger.OrNop(l).Named("scheduler")
	cl := cron.PrintfLogger(zap.NewStdLog(l))
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: l,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers job under name with a cron spec such as "@every 30m" or
// "0 */6 * * *".
func (s *Scheduler) Add(name, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		rep, err := job.Run(s.ctx)
		switch {
		case errors.Is(err, ErrBusy):
			s.logger.Debug("job still running, trigger skipped", zap.String("job", name))
		case err != nil:
			s.logger.Error("job failed", zap.String("job", name), zap.Error(err))
		default:
			s.logger.Info("job done", zap.String("job", name),
				zap.Int("users", rep.Users), zap.Int("changed", rep.Changed),
				zap.Int("facts", rep.Facts), zap.Int("failed", rep.Failed))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	s.logger.Info("job scheduled", zap.String("job", name), zap.String("spec", spec))
	return nil
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops triggering jobs, cancels running ones and waits for them.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	s.cancel()
	<-done.Done()
}
