package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/vault-client-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"
)

var Module = fx.Module("health", fx.Provide(ProvideHealth))

// GRPCModule serves grpc.health.v1 on the gRPC server, driven by the same
// dependency checks as the HTTP readiness probe.
var GRPCModule = fx.Module("health.grpc", fx.Invoke(RegisterGRPC))

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps"`
}

type HealthService interface {
	Liveness(c *gin.Context)
	Readiness(c *gin.Context)
	Check(ctx context.Context) *Health
}

type health struct {
	db    *gorm.DB
	redis *redis.Client
	vault *vault.Client
}

type HealthParams struct {
	fx.In
	DB    *gorm.DB      `optional:"true"`
	Redis *redis.Client `optional:"true"`
	Vault *vault.Client `optional:"true"`
}

func ProvideHealth(p HealthParams) HealthService {
	return &health{
		db:    p.DB,
		redis: p.Redis,
		vault: p.Vault,
	}
}

func (h *health) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, &Health{
		Status:  statusHealthy,
		Message: "OK",
	})
}

func (h *health) Readiness(c *gin.Context) {
	res := h.Check(c.Request.Context())
	code := http.StatusOK
	if res.Status != statusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, res)
}

func (h *health) Check(ctx context.Context) *Health {
	res := &Health{
		Status:  statusHealthy,
		Message: "OK",
		Deps:    make([]Dependency, 0, 3),
	}

	add := func(name string, err error) {
		dep := Dependency{Name: name, Status: statusHealthy, Message: "OK"}
		if err != nil {
			dep.Status = statusUnhealthy
			dep.Message = err.Error()
			res.Status = statusUnhealthy
			res.Message = name + " unavailable"
		}
		res.Deps = append(res.Deps, dep)
	}

	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		add(h.db.Name(), err)
	}

	if h.redis != nil {
		add("redis", h.redis.Ping(ctx).Err())
	}

	if h.vault != nil {
		_, err := h.vault.System.ReadHealthStatus(ctx)
		add("vault", err)
	}

	return res
}

const grpcCheckInterval = 10 * time.Second

func RegisterGRPC(lc fx.Lifecycle, srv *grpc.Server, h HealthService) {
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	ctx, cancel := context.WithCancel(context.Background())
	update := func() {
		status := healthpb.HealthCheckResponse_SERVING
		if res := h.Check(ctx); res.Status != statusHealthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			zap.L().Warn("readiness check failed", zap.String("message", res.Message))
		}
		hs.SetServingStatus("", status)
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			update()
			go func() {
				ticker := time.NewTicker(grpcCheckInterval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						update()
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			hs.Shutdown()
			return nil
		},
	})
}
