package entitlement

import (
	"context"
	"time"

	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/pkg/logger"
	"licensing-controlplane/services/license/lifecycle"

	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("licensing-controlplane/services/entitlement")

// Terms are the license fields entitlement checks depend on.
type Terms struct {
	LicenseID string           `json:"license_id"`
	TenantID  string           `json:"tenant_id"`
	Plan      Plan             `json:"plan"`
	Modules   []string         `json:"modules"`
	Status    lifecycle.Status `json:"status"`
	StartAt   time.Time        `json:"start_at"`
	EndAt     time.Time        `json:"end_at"`
}

func (t *Terms) Evaluate(now time.Time) lifecycle.Evaluation {
	return lifecycle.Evaluate(t.Status, t.StartAt, t.EndAt, now)
}

type Snapshot struct {
	Terms        Terms                   `json:"terms"`
	Entitlements map[string]*Entitlement `json:"entitlements"`
}

// LicenseSource resolves the license currently governing a tenant.
type LicenseSource interface {
	TermsForTenant(ctx context.Context, tenantID string) (*Terms, error)
}

// UsageReader returns metered usage for the current period.
type UsageReader interface {
	PeriodUsage(ctx context.Context, licenseID, module string, now time.Time) (int64, error)
}

type Service struct {
	source LicenseSource
	store  *Store
	cache  Cache
	usage  UsageReader
	group  singleflight.Group
	now    func() time.Time
}

type ServiceParams struct {
	fx.In
	Source LicenseSource
	Store  *Store
	Cache  Cache
	Usage  UsageReader `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		source: p.Source,
		store:  p.Store,
		cache:  p.Cache,
		usage:  p.Usage,
		now:    time.Now,
	}
}

// Snapshot returns the tenant's license terms and entitlements, reading
// through the cache. Concurrent misses for one tenant share a single load.
func (s *Service) Snapshot(ctx context.Context, tenantID string) (*Snapshot, error) {
	if snap, ok := s.cache.Get(ctx, tenantID); ok {
		return snap, nil
	}

	v, err, _ := s.group.Do(tenantID, func() (any, error) {
		terms, err := s.source.TermsForTenant(ctx, tenantID)
		if err != nil {
			return nil, err
		}

		rows, err := s.store.List(ctx, nil, terms.LicenseID)
		if err != nil {
			return nil, errutil.Internal("failed to load entitlements", err)
		}

		snap := &Snapshot{
			Terms:        *terms,
			Entitlements: make(map[string]*Entitlement, len(rows)),
		}
		for _, r := range rows {
			snap.Entitlements[r.Module] = r
		}

		s.cache.Set(ctx, tenantID, snap)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*Snapshot), nil
}

func (s *Service) Invalidate(ctx context.Context, tenantID string) {
	s.cache.Invalidate(ctx, tenantID)
}

type QueryRequest struct {
	TenantID string
	Module   string
	Limit    string
	Usage    *int64
}

type QueryResult struct {
	Module        string `json:"module"`
	Enabled       bool   `json:"enabled"`
	LicenseActive bool   `json:"license_active"`
	Allowed       bool   `json:"allowed"`
	Metered       bool   `json:"metered"`
	LimitName     string `json:"limit_name"`
	Limit         any    `json:"limit"`
	Current       int64  `json:"current"`
	WithinLimit   bool   `json:"within_limit"`
	Remaining     int64  `json:"remaining"`
}

// Query answers whether a tenant may use a module and how much capacity is left.
// Remaining is -1 when the limit is unlimited or unset.
func (s *Service) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	ctx, span := tracer.Start(ctx, "entitlement.Query")
	defer span.End()

	module := NormalizeModule(req.Module)
	if !IsKnownModule(module) {
		return nil, errutil.ValidationFailed("unknown module", nil, errutil.WithDetails(errutil.Detail{Field: "module", Message: req.Module}))
	}

	snap, err := s.Snapshot(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	ent := snap.Entitlements[module]
	ev := snap.Terms.Evaluate(now)

	limitName := req.Limit
	if limitName == "" {
		limitName = DefaultLimitName(module)
	}
	meteredName, metered := MeteredLimit(module)
	metered = metered && meteredName == limitName

	res := &QueryResult{
		Module:        module,
		Enabled:       IsModuleEnabled(snap.Terms.Modules, ent, module),
		LicenseActive: ev.IsActive,
		Metered:       metered,
		LimitName:     limitName,
	}
	res.Allowed = res.Enabled && res.LicenseActive

	current := int64(0)
	switch {
	case req.Usage != nil:
		current = *req.Usage
	case metered && s.usage != nil:
		current, err = s.usage.PeriodUsage(ctx, snap.Terms.LicenseID, module, now)
		if err != nil {
			logger.FromContext(ctx).Error("failed to read period usage", zap.String("module", module), zap.Error(err))
			return nil, errutil.Internal("failed to read usage", err)
		}
	}
	res.Current = current

	if metered {
		explicit, _ := ent.NumericLimit(limitName)
		limit, _ := ResolveLimit(snap.Terms.Plan, limitName, explicit)
		res.Limit = limit
		// Monthly quotas treat any non-positive limit as unlimited.
		res.WithinLimit = limit <= 0 || current <= limit
		res.Remaining = Unlimited
		if limit > 0 {
			res.Remaining = max(limit-current, 0)
		}
		return res, nil
	}

	res.Limit = GetLimit(ent, limitName, nil)
	res.WithinLimit = IsWithinLimit(ent, limitName, current)
	res.Remaining = Remaining(ent, limitName, current)
	return res, nil
}
