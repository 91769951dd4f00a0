package entitlement

import (
	"context"
	"encoding/json"
	"time"

	"licensing-controlplane/pkg/config"
	"licensing-controlplane/pkg/rediskey"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{Name: "entitlement_cache_hits_total"})
	cacheMiss = promauto.NewCounter(prometheus.CounterOpts{Name: "entitlement_cache_miss_total"})
)

// Cache holds per-tenant snapshots of license terms and entitlements.
type Cache interface {
	Get(ctx context.Context, tenantID string) (*Snapshot, bool)
	Set(ctx context.Context, tenantID string, snap *Snapshot)
	Invalidate(ctx context.Context, tenantID string)
}

type CacheParams struct {
	fx.In
	Redis  *redis.Client `optional:"true"`
	Config *config.Config
}

func NewCache(p CacheParams) Cache {
	if p.Redis == nil {
		return noopCache{}
	}

	ttl := p.Config.License.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &redisCache{rdb: p.Redis, ttl: ttl}
}

type redisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func (c *redisCache) Get(ctx context.Context, tenantID string) (*Snapshot, bool) {
	raw, err := c.rdb.Get(ctx, rediskey.BuildTenantLicenseKey(tenantID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			zap.L().Warn("[Entitlement] cache read failed", zap.String("tenant_id", tenantID), zap.Error(err))
		}
		cacheMiss.Inc()
		return nil, false
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		cacheMiss.Inc()
		return nil, false
	}

	cacheHits.Inc()
	return &snap, true
}

func (c *redisCache) Set(ctx context.Context, tenantID string, snap *Snapshot) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, rediskey.BuildTenantLicenseKey(tenantID), raw, c.ttl).Err(); err != nil {
		zap.L().Warn("[Entitlement] cache write failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

func (c *redisCache) Invalidate(ctx context.Context, tenantID string) {
	if err := c.rdb.Del(ctx, rediskey.BuildTenantLicenseKey(tenantID)).Err(); err != nil {
		zap.L().Warn("[Entitlement] cache invalidate failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) (*Snapshot, bool) { return nil, false }
func (noopCache) Set(context.Context, string, *Snapshot)        {}
func (noopCache) Invalidate(context.Context, string)            {}
