package submission

import (
	"linkboost-controlplane/services/campaign"

	"go.uber.org/fx"
)

var Module = fx.Module("submission.service",
	fx.Provide(
		NewService,
		func(s *Service) campaign.DependentPurger { return s },
	),
)
