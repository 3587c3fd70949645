package task

import (
	"context"
	"errors"
	"time"

	"linkboost-controlplane/pkg/config"
	pkgtask "linkboost-controlplane/pkg/task"
	"linkboost-controlplane/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultInterval = time.Minute

// Dispatcher enqueues sweep tasks. Duplicates within one interval collapse
// into a single queued task.
type Dispatcher struct {
	enqueuer pkgtask.Enqueuer
	interval time.Duration
}

func NewDispatcher(enqueuer pkgtask.Enqueuer, cfg *config.Config) *Dispatcher {
	interval := defaultInterval
	if cfg != nil && cfg.Sweeper.Interval > 0 {
		interval = cfg.Sweeper.Interval
	}
	return &Dispatcher{enqueuer: enqueuer, interval: interval}
}

// Dispatch enqueues one sweep. enqueued is false when a sweep is already
// waiting in the queue.
func (d *Dispatcher) Dispatch(ctx context.Context) (enqueued bool, err error) {
	_, err = d.enqueuer.Enqueue(ctx, asynq.NewTask(taskname.SubmissionSweep, nil),
		asynq.Queue(pkgtask.QueueDefault),
		asynq.Unique(d.interval),
		asynq.MaxRetry(0),
		asynq.Timeout(d.interval),
	)
	switch {
	case errors.Is(err, asynq.ErrDuplicateTask):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

type Scheduler struct {
	dispatcher *Dispatcher
}

func NewScheduler(d *Dispatcher) *Scheduler {
	return &Scheduler{dispatcher: d}
}

// StartScheduler starts the tick loop with the application and stops it on
// shutdown.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	interval := s.dispatcher.interval
	zap.L().Info("[Scheduler] started submission sweep scheduler", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.tick(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	enqueued, err := s.dispatcher.Dispatch(ctx)
	if err != nil {
		zap.L().Error("[Scheduler] failed to enqueue submission sweep", zap.Error(err))
		return
	}
	if enqueued {
		zap.L().Debug("[Scheduler] enqueued submission sweep")
	}
}
