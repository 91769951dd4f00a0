package main

import (
	"log"
	"os"

	"licensing-controlplane/pkg/config"
	"licensing-controlplane/pkg/db"
	"licensing-controlplane/pkg/hashistack/secretmanager"
	"licensing-controlplane/pkg/logger"
	"licensing-controlplane/pkg/otelcol"
	"licensing-controlplane/pkg/redis"
	"licensing-controlplane/pkg/sequence"
	"licensing-controlplane/pkg/signature"
	"licensing-controlplane/pkg/task"
	"licensing-controlplane/pkg/taskname"
	"licensing-controlplane/services/audit"
	"licensing-controlplane/services/entitlement"
	"licensing-controlplane/services/license"
	"licensing-controlplane/services/tenant"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		sequence.Module,
		otelcol.Module,
		fx.Provide(provideSnowflakeNode),
		signature.Module,
		tenant.Module,
		entitlement.Module,
		license.Module,
		audit.Module,
		task.Server,
		fx.Invoke(registerHandlers),
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
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(2)
}

func registerHandlers(mux *asynq.ServeMux, svc *audit.Service) {
	mux.HandleFunc(taskname.AuditRecord, svc.HandleAuditTask)
	mux.HandleFunc(taskname.LicenseExpiryScan, svc.HandleExpiryScan)
}
