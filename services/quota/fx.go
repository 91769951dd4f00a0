package quota

import (
	"licensing-controlplane/services/entitlement"

	"go.uber.org/fx"
)

var Module = fx.Module("quota.module",
	fx.Provide(
		NewReader,
		fx.Annotate(
			func(r *Reader) *Reader { return r },
			fx.As(new(entitlement.UsageReader)),
		),
		NewLedger,
	),
)
