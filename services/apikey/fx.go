package apikey

import "go.uber.org/fx"

var Module = fx.Module("apikey.module",
	fx.Provide(NewService),
)
