package task

import (
	"linkboost-controlplane/pkg/taskname"
	"linkboost-controlplane/services/submission"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

// Module provides the sweeper and its dispatcher.
var Module = fx.Module("task.service",
	fx.Provide(
		NewService,
		NewDispatcher,
		func(s *submission.Service) Sweepable { return s },
		fx.Annotate(NewRedisLocker, fx.As(new(Locker))),
	),
)

// Worker registers the sweep handler and ticks the schedule.
var Worker = fx.Module("task.worker",
	fx.Provide(NewScheduler),
	fx.Invoke(registerHandlers, StartScheduler),
)

func registerHandlers(mux *asynq.ServeMux, s *Service) {
	mux.HandleFunc(taskname.SubmissionSweep, s.HandleSweepTask)
}
