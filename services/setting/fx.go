package setting

import "go.uber.org/fx"

var Module = fx.Module("setting.service",
	fx.Provide(
		NewService,
		func(s *Service) Provider { return s },
	),
)
