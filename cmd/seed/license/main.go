// Command license seeds a demo tenant, an admin API key and a suspended
// license ready for activation.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"licensing-controlplane/pkg/config"
	"licensing-controlplane/pkg/db"
	"licensing-controlplane/pkg/hashistack/secretmanager"
	"licensing-controlplane/pkg/logger"
	"licensing-controlplane/pkg/redis"
	"licensing-controlplane/pkg/sequence"
	"licensing-controlplane/pkg/signature"
	"licensing-controlplane/services/apikey"
	"licensing-controlplane/services/bootstrap"
	"licensing-controlplane/services/entitlement"
	"licensing-controlplane/services/license"
	"licensing-controlplane/services/tenant"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	req := bootstrap.SeedRequest{}
	var modules, plan string
	flag.StringVar(&req.TenantName, "name", "Demo Clinic", "tenant name")
	flag.StringVar(&req.TaxID, "tax-id", "00000000000191", "tenant identifier used during activation")
	flag.StringVar(&plan, "plan", string(entitlement.PlanProfessional), "license plan")
	flag.StringVar(&modules, "modules", "patients,appointments,clinical,financial,ai", "comma separated modules")
	flag.IntVar(&req.UsersLimit, "users", 10, "users limit")
	flag.IntVar(&req.Months, "months", 12, "license duration in months")
	flag.Parse()

	req.Plan = entitlement.Plan(plan)
	req.Modules = strings.Split(modules, ",")

	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		sequence.Module,
		fx.Provide(func() (*snowflake.Node, error) { return snowflake.NewNode(3) }),
		signature.Module,
		tenant.Module,
		entitlement.Module,
		license.Module,
		apikey.Module,
		bootstrap.Module,
		fx.Invoke(func(lc fx.Lifecycle, sd fx.Shutdowner, svc *bootstrap.Service, database *gorm.DB) {
			lc.Append(fx.Hook{OnStart: func(ctx context.Context) error {
				return run(ctx, sd, svc, database, req)
			}})
		}),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	}

	if os.Getenv("VAULT_ADDR") != "" {
		opts = append(opts, secretmanager.Module)
	}

	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		log.Fatalf("seed setup failed: %v", err)
	}
	app.Run()
}

func run(ctx context.Context, sd fx.Shutdowner, svc *bootstrap.Service, database *gorm.DB, req bootstrap.SeedRequest) error {
	if err := bootstrap.Migrate(database); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	res, err := svc.Seed(ctx, req)
	if err != nil {
		zap.L().Error("seed failed", zap.Error(err))
		return err
	}

	fmt.Printf("tenant_id:      %s\n", res.Tenant.ID)
	fmt.Printf("tax_id:         %s\n", res.Tenant.TaxID)
	fmt.Printf("license_id:     %s\n", res.License.ID)
	fmt.Printf("activation_key: %s\n", res.License.ActivationKey)
	if res.APIKey != nil {
		fmt.Printf("admin_api_key:  %s\n", res.APIKey.Token)
	}

	return sd.Shutdown()
}
