package license

import (
	"licensing-controlplane/services/entitlement"

	"go.uber.org/fx"
)

var Module = fx.Module("license.module",
	fx.Provide(
		NewService,
		fx.Annotate(
			func(s *Service) *Service { return s },
			fx.As(new(entitlement.LicenseSource)),
		),
	),
)
