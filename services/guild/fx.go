package guild

import "go.uber.org/fx"

var Module = fx.Module("guild.service",
	fx.Provide(NewService),
)
