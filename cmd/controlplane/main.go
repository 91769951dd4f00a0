package main

import (
	"log"
	"os"

	"licensing-controlplane/internal/httpapi"
	"licensing-controlplane/pkg/accesscontrol"
	"licensing-controlplane/pkg/config"
	"licensing-controlplane/pkg/credential"
	"licensing-controlplane/pkg/db"
	"licensing-controlplane/pkg/featureflags"
	"licensing-controlplane/pkg/hashistack/secretmanager"
	"licensing-controlplane/pkg/hashistack/servicediscover"
	"licensing-controlplane/pkg/health"
	pkghttpapi "licensing-controlplane/pkg/httpapi"
	"licensing-controlplane/pkg/logger"
	"licensing-controlplane/pkg/otelcol"
	"licensing-controlplane/pkg/profiling"
	"licensing-controlplane/pkg/redis"
	"licensing-controlplane/pkg/sequence"
	"licensing-controlplane/pkg/server"
	"licensing-controlplane/pkg/signature"
	"licensing-controlplane/pkg/task"
	"licensing-controlplane/services/activation"
	"licensing-controlplane/services/apikey"
	"licensing-controlplane/services/audit"
	"licensing-controlplane/services/bootstrap"
	"licensing-controlplane/services/entitlement"
	"licensing-controlplane/services/license"
	"licensing-controlplane/services/quota"
	"licensing-controlplane/services/tenant"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		bootstrap.MigrateModule,
		redis.Module,
		task.Client,
		sequence.Module,
		otelcol.Module,
		profiling.Module,
		fx.Provide(provideSnowflakeNode),
		signature.Module,
		credential.Module,
		accesscontrol.Module,
		featureflags.Module,
		tenant.Module,
		entitlement.Module,
		license.Module,
		activation.Module,
		quota.Module,
		apikey.Module,
		audit.Module,
		audit.SchedulerModule,
		health.Module,
		health.GRPCModule,
		pkghttpapi.Module,
		httpapi.Module,
		server.ProvideGRPCServer,
		server.ProvideHTTPServer,
		servicediscover.Module,
		fxLogger,
	}

	if os.Getenv("VAULT_ADDR") != "" {
		opts = append(opts, secretmanager.Module)
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "development" {
		return &fxevent.ZapLogger{Logger: logger}
	}
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
