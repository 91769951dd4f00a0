package bootstrap

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("bootstrap",
	fx.Provide(
		NewService,
	),
)

// MigrateModule runs the schema migration before the servers start.
var MigrateModule = fx.Module("bootstrap.migrate",
	fx.Invoke(runMigrations),
)

func runMigrations(lc fx.Lifecycle, db *gorm.DB) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := Migrate(db); err != nil {
				zap.L().Error("[bootstrap] migration failed", zap.Error(err))
				return err
			}
			zap.L().Info("[bootstrap] schema up to date")
			return nil
		},
	})
}
