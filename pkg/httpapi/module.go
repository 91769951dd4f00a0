package httpapi

import (
	"net/http"

	"licensing-controlplane/pkg/config"
	"licensing-controlplane/pkg/health"
	"licensing-controlplane/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/fx"
)

// Module provides the gin engine shared by the API routes and the
// http.Handler the HTTP server serves.
var Module = fx.Module("httpapi",
	fx.Provide(
		NewEngine,
		ProvideHandler,
	),
	fx.Invoke(registerHealthEndpoint),
)

func NewEngine(cfg *config.Config) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger(), middleware.Error())
	return r
}

func ProvideHandler(cfg *config.Config, r *gin.Engine) http.Handler {
	return otelhttp.NewHandler(r, cfg.AppName,
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + req.URL.Path
		}),
	)
}

func registerHealthEndpoint(r *gin.Engine, h health.HealthService) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/liveness", h.Liveness)
	r.GET("/health/readiness", h.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
