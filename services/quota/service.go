package quota

import (
	"context"
	"fmt"
	"time"

	"licensing-controlplane/pkg/db/option"
	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/pkg/logger"
	"licensing-controlplane/pkg/repository"
	"licensing-controlplane/services/entitlement"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("licensing-controlplane/services/quota")

var (
	quotaRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quota_rejections_total",
		Help: "Metered requests refused because the monthly quota would be exceeded.",
	}, []string{"module"})
	quotaConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quota_consumed_total",
		Help: "Units recorded against metered modules.",
	}, []string{"module"})
)

// ExceededError carries the numbers behind a refused metered request.
type ExceededError struct {
	Module    string
	Limit     int64
	Current   int64
	Requested int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: %d used + %d requested > %d", e.Module, e.Current, e.Requested, e.Limit)
}

func (e *ExceededError) asError() error {
	return errutil.QuotaExceeded("monthly quota exceeded", e, errutil.WithDetails(
		errutil.Detail{Field: "module", Message: e.Module},
		errutil.Detail{Field: "limit", Message: fmt.Sprint(e.Limit)},
		errutil.Detail{Field: "current", Message: fmt.Sprint(e.Current)},
		errutil.Detail{Field: "requested", Message: fmt.Sprint(e.Requested)},
	))
}

// Reader serves current-period usage to entitlement queries.
type Reader struct {
	repo repository.Repository[Usage]
}

func NewReader(db *gorm.DB) *Reader {
	return &Reader{repo: repository.ProvideStore[Usage](db)}
}

func (r *Reader) PeriodUsage(ctx context.Context, licenseID, module string, now time.Time) (int64, error) {
	u, err := r.repo.FindOne(ctx, &Usage{LicenseID: licenseID, Module: module})
	if err != nil {
		return 0, err
	}
	return u.PeriodUsageAt(now), nil
}

func (r *Reader) get(ctx context.Context, licenseID, module string) (*Usage, error) {
	return r.repo.FindOne(ctx, &Usage{LicenseID: licenseID, Module: module})
}

type Ledger struct {
	db           *gorm.DB
	node         *snowflake.Node
	repo         repository.Repository[Usage]
	reader       *Reader
	entitlements *entitlement.Service
	now          func() time.Time
}

type LedgerParams struct {
	fx.In
	DB           *gorm.DB
	Node         *snowflake.Node
	Reader       *Reader
	Entitlements *entitlement.Service
}

func NewLedger(p LedgerParams) *Ledger {
	return &Ledger{
		db:           p.DB,
		node:         p.Node,
		repo:         repository.ProvideStore[Usage](p.DB),
		reader:       p.Reader,
		entitlements: p.Entitlements,
		now:          time.Now,
	}
}

type Decision struct {
	Module    string `json:"module"`
	LimitName string `json:"limit_name"`
	Limit     int64  `json:"limit"`
	Current   int64  `json:"current"`
	Requested int64  `json:"requested"`
	Remaining int64  `json:"remaining"`
}

type meter struct {
	licenseID string
	module    string
	limitName string
	limit     int64
}

// lookup finds the license and monthly limit that meter module for a tenant.
// It does not look at license validity or whether the module is enabled.
func (l *Ledger) lookup(ctx context.Context, tenantID, module string) (*meter, *entitlement.Snapshot, error) {
	module = entitlement.NormalizeModule(module)
	limitName, ok := entitlement.MeteredLimit(module)
	if !ok {
		return nil, nil, errutil.ValidationFailed("module is not metered", nil,
			errutil.WithDetails(errutil.Detail{Field: "module", Message: module}))
	}

	snap, err := l.entitlements.Snapshot(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}

	explicit, _ := snap.Entitlements[module].NumericLimit(limitName)
	limit, _ := entitlement.ResolveLimit(snap.Terms.Plan, limitName, explicit)

	return &meter{
		licenseID: snap.Terms.LicenseID,
		module:    module,
		limitName: limitName,
		limit:     limit,
	}, snap, nil
}

// resolve is lookup plus the checks that gate new consumption: the license
// must be active and must grant module.
func (l *Ledger) resolve(ctx context.Context, tenantID, module string) (*meter, error) {
	m, snap, err := l.lookup(ctx, tenantID, module)
	if err != nil {
		return nil, err
	}

	if !snap.Terms.Evaluate(l.now()).IsActive {
		return nil, errutil.Forbidden("license is not active", nil)
	}

	if !entitlement.IsModuleEnabled(snap.Terms.Modules, snap.Entitlements[m.module], m.module) {
		return nil, errutil.Forbidden("module is not licensed", nil,
			errutil.WithDetails(errutil.Detail{Field: "module", Message: m.module}))
	}

	return m, nil
}

// Authorize is the gate callers check before running a metered operation.
func (l *Ledger) Authorize(ctx context.Context, tenantID, module string, amount int64) (*Decision, error) {
	ctx, span := tracer.Start(ctx, "quota.Authorize")
	defer span.End()

	if amount < 0 {
		return nil, errutil.ValidationFailed("amount must not be negative", nil)
	}

	m, err := l.resolve(ctx, tenantID, module)
	if err != nil {
		return nil, err
	}

	current, err := l.reader.PeriodUsage(ctx, m.licenseID, m.module, l.now())
	if err != nil {
		return nil, errutil.Internal("failed to read usage", err)
	}

	if !CanConsume(current, amount, m.limit) {
		quotaRejections.WithLabelValues(m.module).Inc()
		logger.FromContext(ctx).Info("metered request refused",
			zap.String("tenant_id", tenantID),
			zap.String("module", m.module),
			zap.Int64("limit", m.limit),
			zap.Int64("current", current),
			zap.Int64("requested", amount),
		)
		return nil, (&ExceededError{Module: m.module, Limit: m.limit, Current: current, Requested: amount}).asError()
	}

	return &Decision{
		Module:    m.module,
		LimitName: m.limitName,
		Limit:     m.limit,
		Current:   current,
		Requested: amount,
		Remaining: remaining(m.limit, current+amount),
	}, nil
}

type RecordRequest struct {
	Amount  int64         `json:"amount"`
	Latency time.Duration `json:"latency"`
	Success bool          `json:"success"`
}

// Record books a metered request. Usage is never refused after the fact, so
// only lookup applies here and the gate is Authorize. Failed operations
// should be recorded with a zero amount.
func (l *Ledger) Record(ctx context.Context, tenantID, module string, req RecordRequest) (*Usage, error) {
	ctx, span := tracer.Start(ctx, "quota.Record")
	defer span.End()

	if req.Amount < 0 {
		return nil, errutil.ValidationFailed("amount must not be negative", nil)
	}

	m, _, err := l.lookup(ctx, tenantID, module)
	if err != nil {
		return nil, err
	}

	u, err := l.record(ctx, m.licenseID, m.module, req)
	if err != nil {
		logger.FromContext(ctx).Error("failed to record usage", zap.String("module", m.module), zap.Error(err))
		return nil, errutil.Internal("failed to record usage", err)
	}

	quotaConsumed.WithLabelValues(m.module).Add(float64(req.Amount))
	return u, nil
}

// record applies req to the usage row under a row lock so concurrent
// requests of one tenant cannot lose increments.
func (l *Ledger) record(ctx context.Context, licenseID, module string, req RecordRequest) (*Usage, error) {
	now := l.now().UTC()

	var out *Usage
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := &Usage{
			ID:          l.node.Generate().String(),
			LicenseID:   licenseID,
			Module:      module,
			LastResetAt: now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "license_id"}, {Name: "module"}},
			DoNothing: true,
		}).Create(seed).Error; err != nil {
			return err
		}

		repo := l.repo.WithTrx(tx)
		u, err := repo.FindOne(ctx, &Usage{LicenseID: licenseID, Module: module}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if u == nil {
			return fmt.Errorf("usage row for %s/%s missing", licenseID, module)
		}

		u.Apply(req.Amount, req.Latency, req.Success, now)

		if err := repo.Update(ctx, u.ID, map[string]any{
			"total_amount":        u.TotalAmount,
			"period_amount":       u.PeriodAmount,
			"requests_count":      u.RequestsCount,
			"successful_requests": u.SuccessfulRequests,
			"failed_requests":     u.FailedRequests,
			"average_latency_ms":  u.AverageLatencyMs,
			"last_reset_at":       u.LastResetAt,
			"last_request_at":     u.LastRequestAt,
		}); err != nil {
			return err
		}

		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type UsageView struct {
	Module    string `json:"module"`
	LimitName string `json:"limit_name"`
	Limit     int64  `json:"limit"`
	Current   int64  `json:"current"`
	Remaining int64  `json:"remaining"`
	*Usage
}

func (l *Ledger) Usage(ctx context.Context, tenantID, module string) (*UsageView, error) {
	ctx, span := tracer.Start(ctx, "quota.Usage")
	defer span.End()

	m, err := l.resolve(ctx, tenantID, module)
	if err != nil {
		return nil, err
	}

	u, err := l.reader.get(ctx, m.licenseID, m.module)
	if err != nil {
		return nil, errutil.Internal("failed to read usage", err)
	}
	if u == nil {
		u = &Usage{LicenseID: m.licenseID, Module: m.module}
	}

	current := u.PeriodUsageAt(l.now())
	return &UsageView{
		Module:    m.module,
		LimitName: m.limitName,
		Limit:     m.limit,
		Current:   current,
		Remaining: remaining(m.limit, current),
		Usage:     u,
	}, nil
}

func remaining(limit, used int64) int64 {
	if limit <= 0 {
		return entitlement.Unlimited
	}
	return max(limit-used, 0)
}
