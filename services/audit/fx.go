package audit

import (
	"licensing-controlplane/services/license"

	"go.uber.org/fx"
)

var Module = fx.Module("audit.module",
	fx.Provide(
		NewService,
		fx.Annotate(
			func(s *license.Service) *license.Service { return s },
			fx.As(new(ExpiringSource)),
		),
	),
)

// SchedulerModule runs the daily expiry scan trigger. Only one process
// type needs it; the queue deduplicates the rest.
var SchedulerModule = fx.Module("audit.scheduler",
	fx.Provide(NewScheduler),
	fx.Invoke(StartScheduler),
)
