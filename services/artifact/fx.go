package artifact

import (
	"linkboost-controlplane/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("artifact.service",
	fx.Provide(
		NewService,
		func(s *Service) Purger { return s },
	),
)

// Worker registers the purge handler on the worker's task mux.
var Worker = fx.Module("artifact.worker",
	fx.Invoke(registerHandlers),
)

func registerHandlers(mux *asynq.ServeMux, s *Service) {
	mux.HandleFunc(taskname.ArtifactPurge, s.HandlePurgeTask)
}
