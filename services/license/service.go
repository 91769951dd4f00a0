package license

import (
	"context"
	"errors"
	"time"

	"licensing-controlplane/pkg/db/option"
	"licensing-controlplane/pkg/db/pagination"
	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/pkg/logger"
	"licensing-controlplane/pkg/repository"
	"licensing-controlplane/pkg/sequence"
	"licensing-controlplane/pkg/signature"
	"licensing-controlplane/pkg/task"
	"licensing-controlplane/pkg/taskname"
	"licensing-controlplane/services/entitlement"
	"licensing-controlplane/services/license/lifecycle"
	"licensing-controlplane/services/tenant"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("licensing-controlplane/services/license")

var (
	licensesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "licenses_issued_total",
		Help: "Licenses created and signed.",
	})
	signatureFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "license_signature_failures_total",
		Help: "License payloads that failed signature verification.",
	})
)

type Service struct {
	db           *gorm.DB
	node         *snowflake.Node
	seq          sequence.Generator
	validate     *validator.Validate
	repo         repository.Repository[License]
	tenants      *tenant.Service
	signer       signature.Signer
	entitlements *entitlement.Store
	cache        entitlement.Cache
	enqueuer     task.Enqueuer
	now          func() time.Time
}

type ServiceParams struct {
	fx.In
	DB           *gorm.DB
	Node         *snowflake.Node
	Seq          sequence.Generator
	Tenants      *tenant.Service
	Signer       signature.Signer
	Entitlements *entitlement.Store
	Cache        entitlement.Cache
	Enqueuer     task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:           p.DB,
		node:         p.Node,
		seq:          p.Seq,
		validate:     validator.New(),
		repo:         repository.ProvideStore[License](p.DB),
		tenants:      p.Tenants,
		signer:       p.Signer,
		entitlements: p.Entitlements,
		cache:        p.Cache,
		enqueuer:     p.Enqueuer,
		now:          time.Now,
	}
}

type CreateRequest struct {
	TenantID   string                    `json:"tenant_id" validate:"required"`
	Plan       entitlement.Plan          `json:"plan" validate:"required,oneof=basic professional enterprise custom"`
	Modules    []string                  `json:"modules" validate:"required,min=1"`
	UsersLimit int                       `json:"users_limit" validate:"required,min=1"`
	UnitsLimit *int                      `json:"units_limit" validate:"omitempty,min=0"`
	StartAt    time.Time                 `json:"start_at" validate:"required"`
	EndAt      time.Time                 `json:"end_at" validate:"required"`
	Limits     map[string]map[string]any `json:"limits"`
	Actor      string                    `json:"-"`
}

// Create issues a signed license in SUSPENDED state and seeds one entitlement
// per module. A tenant may hold at most one non-cancelled license.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*License, error) {
	ctx, span := tracer.Start(ctx, "license.Create")
	defer span.End()

	zapLog := logger.FromContext(ctx).With(zap.String("tenant_id", req.TenantID))

	if err := s.validate.Struct(req); err != nil {
		return nil, errutil.ValidationFailed("invalid license request", err)
	}

	startAt, endAt := truncate(req.StartAt), truncate(req.EndAt)
	if err := validateWindow(startAt, endAt); err != nil {
		return nil, err
	}

	modules, err := entitlement.NormalizeModules(req.Modules)
	if err != nil {
		return nil, errutil.ValidationFailed("invalid modules", err, errutil.WithDetails(errutil.Detail{Field: "modules", Message: err.Error()}))
	}

	limits, err := normalizeSeedLimits(req.Limits)
	if err != nil {
		return nil, err
	}

	code, err := s.seq.NextLicenseCode(ctx, req.TenantID)
	if err != nil {
		zapLog.Error("failed to generate license code", zap.Error(err))
		return nil, errutil.Internal("failed to create license", err)
	}

	lic := &License{
		ID:            s.node.Generate().String(),
		Code:          code,
		TenantID:      req.TenantID,
		ActivationKey: uuid.NewString(),
		Plan:          req.Plan,
		Modules:       datatypes.JSONSlice[string](modules),
		UsersLimit:    req.UsersLimit,
		UnitsLimit:    req.UnitsLimit,
		StartAt:       startAt,
		EndAt:         endAt,
		Status:        lifecycle.Suspended,
	}

	sig, err := s.signer.Sign(lic.Payload())
	if err != nil {
		zapLog.Error("failed to sign license", zap.Error(err))
		return nil, errutil.Internal("failed to sign license", err)
	}
	lic.Signature = sig

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.tenants.LockTenant(ctx, tx, req.TenantID); err != nil {
			return err
		}

		live, err := s.findLive(ctx, tx, req.TenantID)
		if err != nil {
			return errutil.Internal("failed to check existing license", err)
		}
		if live != nil {
			return errutil.Conflict("tenant already holds a live license", nil,
				errutil.WithDetails(errutil.Detail{Field: "license_id", Message: live.ID}))
		}

		dup, err := s.repo.WithTrx(tx).FindOne(ctx, &License{ActivationKey: lic.ActivationKey})
		if err != nil {
			return errutil.Internal("failed to check activation key", err)
		}
		if dup != nil {
			return errutil.Conflict("activation key already exists", nil)
		}

		if err := s.repo.WithTrx(tx).Create(ctx, lic); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errutil.Conflict("tenant already holds a live license", err)
			}
			return errutil.Internal("failed to create license", err)
		}

		if err := s.entitlements.Seed(ctx, tx, lic.ID, modules, limits); err != nil {
			return errutil.Internal("failed to seed entitlements", err)
		}

		return nil
	})
	if err != nil {
		zapLog.Warn("license creation failed", zap.Error(err))
		return nil, err
	}

	licensesIssued.Inc()
	s.cache.Invalidate(ctx, lic.TenantID)
	task.PublishAudit(ctx, s.enqueuer, task.AuditEvent{
		Action:    taskname.LicenseCreated,
		TenantID:  lic.TenantID,
		LicenseID: lic.ID,
		Actor:     req.Actor,
		Metadata:  map[string]any{"plan": lic.Plan, "modules": modules, "code": lic.Code},
	})

	zapLog.Info("license created", zap.String("license_id", lic.ID), zap.String("code", lic.Code))
	return lic, nil
}

func (s *Service) Get(ctx context.Context, id string) (*License, error) {
	ctx, span := tracer.Start(ctx, "license.Get")
	defer span.End()

	if id == "" {
		return nil, errutil.NotFound("license not found", nil)
	}

	lic, err := s.repo.FindOne(ctx, &License{ID: id})
	if err != nil {
		logger.FromContext(ctx).Error("failed query get license", zap.String("license_id", id), zap.Error(err))
		return nil, errutil.Internal("failed to get license", err)
	}
	if lic == nil {
		return nil, errutil.NotFound("license not found", nil)
	}

	return lic, nil
}

type ListRequest struct {
	TenantID string           `form:"tenant_id"`
	Status   lifecycle.Status `form:"status"`
	pagination.Pagination
}

func (s *Service) List(ctx context.Context, req ListRequest) ([]*License, *pagination.PageInfo, error) {
	ctx, span := tracer.Start(ctx, "license.List")
	defer span.End()

	if req.Status != "" && !req.Status.Valid() {
		return nil, nil, errutil.ValidationFailed("invalid status filter", nil,
			errutil.WithDetails(errutil.Detail{Field: "status", Message: string(req.Status)}))
	}

	licenses, err := s.repo.Find(ctx, &License{TenantID: req.TenantID, Status: req.Status}, option.ApplyPagination(req.Pagination))
	if err != nil {
		logger.FromContext(ctx).Error("failed to list licenses", zap.Error(err))
		return nil, nil, errutil.Internal("failed to list licenses", err)
	}

	licenses, info := pagination.BuildCursorPageInfo(licenses, pageLimit(req.Limit), func(l *License) string {
		cursor, _ := pagination.EncodeCursor(pagination.Cursor{ID: l.ID})
		return cursor
	})

	return licenses, info, nil
}

// UpdateRequest carries a partial change. Nil fields are left as they are.
type UpdateRequest struct {
	Plan       *entitlement.Plan `json:"plan" validate:"omitempty,oneof=basic professional enterprise custom"`
	Modules    []string          `json:"modules" validate:"omitempty,min=1"`
	UsersLimit *int              `json:"users_limit" validate:"omitempty,min=1"`
	UnitsLimit *int              `json:"units_limit" validate:"omitempty,min=0"`
	// ClearUnitsLimit removes the secondary seat limit.
	ClearUnitsLimit bool       `json:"clear_units_limit"`
	StartAt         *time.Time `json:"start_at"`
	EndAt           *time.Time `json:"end_at"`
	Actor           string     `json:"-"`
}

// Update applies req to the license. Any change to a signed field re-signs the
// license in the same transaction; module changes are mirrored onto the
// entitlement rows.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*License, error) {
	ctx, span := tracer.Start(ctx, "license.Update")
	defer span.End()

	zapLog := logger.FromContext(ctx).With(zap.String("license_id", id))

	if err := s.validate.Struct(req); err != nil {
		return nil, errutil.ValidationFailed("invalid license update", err)
	}

	var (
		updated *License
		changed []string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lic, err := s.lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if lic.Status == lifecycle.Cancelled {
			return errutil.UnprocessableEntity("cancelled license cannot be modified", nil)
		}

		next := *lic
		updates := map[string]any{}
		modulesChanged := false

		if req.Plan != nil && *req.Plan != lic.Plan {
			next.Plan = *req.Plan
			updates["plan"] = next.Plan
			changed = append(changed, "plan")
		}
		if req.Modules != nil {
			modules, err := entitlement.NormalizeModules(req.Modules)
			if err != nil {
				return errutil.ValidationFailed("invalid modules", err, errutil.WithDetails(errutil.Detail{Field: "modules", Message: err.Error()}))
			}
			if !equalModules(modules, lic.Modules) {
				next.Modules = datatypes.JSONSlice[string](modules)
				updates["modules"] = next.Modules
				modulesChanged = true
				changed = append(changed, "modules")
			}
		}
		if req.UsersLimit != nil && *req.UsersLimit != lic.UsersLimit {
			next.UsersLimit = *req.UsersLimit
			updates["users_limit"] = next.UsersLimit
			changed = append(changed, "users_limit")
		}
		switch {
		case req.ClearUnitsLimit:
			if lic.UnitsLimit != nil {
				next.UnitsLimit = nil
				updates["units_limit"] = nil
				changed = append(changed, "units_limit")
			}
		case req.UnitsLimit != nil && (lic.UnitsLimit == nil || *lic.UnitsLimit != *req.UnitsLimit):
			v := *req.UnitsLimit
			next.UnitsLimit = &v
			updates["units_limit"] = v
			changed = append(changed, "units_limit")
		}
		if req.StartAt != nil && !truncate(*req.StartAt).Equal(lic.StartAt) {
			next.StartAt = truncate(*req.StartAt)
			updates["start_at"] = next.StartAt
			changed = append(changed, "start_at")
		}
		if req.EndAt != nil && !truncate(*req.EndAt).Equal(lic.EndAt) {
			next.EndAt = truncate(*req.EndAt)
			updates["end_at"] = next.EndAt
			changed = append(changed, "end_at")
		}

		if len(updates) == 0 {
			updated = lic
			return nil
		}

		if err := validateWindow(next.StartAt, next.EndAt); err != nil {
			return err
		}

		sig, err := s.signer.Sign(next.Payload())
		if err != nil {
			zapLog.Error("failed to re-sign license", zap.Error(err))
			return errutil.Internal("failed to sign license", err)
		}
		updates["signature"] = sig

		if err := s.repo.WithTrx(tx).Update(ctx, id, updates); err != nil {
			return errutil.Internal("failed to update license", err)
		}

		if modulesChanged {
			if err := s.entitlements.Sync(ctx, tx, id, next.Modules); err != nil {
				return errutil.Internal("failed to sync entitlements", err)
			}
		}

		updated, err = s.repo.WithTrx(tx).FindOne(ctx, &License{ID: id})
		if err != nil {
			return errutil.Internal("failed to reload license", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(changed) > 0 {
		s.cache.Invalidate(ctx, updated.TenantID)
		task.PublishAudit(ctx, s.enqueuer, task.AuditEvent{
			Action:    taskname.LicenseUpdated,
			TenantID:  updated.TenantID,
			LicenseID: updated.ID,
			Actor:     req.Actor,
			Metadata:  map[string]any{"changed": changed},
		})
		zapLog.Info("license updated and re-signed", zap.Strings("changed", changed))
	}

	return updated, nil
}

// Cancel moves the license to CANCELLED. The transition is terminal.
func (s *Service) Cancel(ctx context.Context, id, actor string) (*License, error) {
	ctx, span := tracer.Start(ctx, "license.Cancel")
	defer span.End()

	var cancelled *License
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lic, err := s.lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if !lifecycle.CanTransition(lic.Status, lifecycle.Cancelled) {
			return errutil.UnprocessableEntity("license is already cancelled", nil)
		}

		now := s.now().UTC()
		if err := s.repo.WithTrx(tx).Update(ctx, id, map[string]any{
			"status":       lifecycle.Cancelled,
			"cancelled_at": now,
		}); err != nil {
			return errutil.Internal("failed to cancel license", err)
		}

		lic.Status = lifecycle.Cancelled
		lic.CancelledAt = &now
		cancelled = lic
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, cancelled.TenantID)
	task.PublishAudit(ctx, s.enqueuer, task.AuditEvent{
		Action:    taskname.LicenseCancelled,
		TenantID:  cancelled.TenantID,
		LicenseID: cancelled.ID,
		Actor:     actor,
	})

	logger.FromContext(ctx).Info("license cancelled", zap.String("license_id", id))
	return cancelled, nil
}

// SetEntitlement creates or updates the entitlement of one module.
func (s *Service) SetEntitlement(ctx context.Context, licenseID, module string, req entitlement.SetRequest, actor string) (*entitlement.Entitlement, error) {
	ctx, span := tracer.Start(ctx, "license.SetEntitlement")
	defer span.End()

	module = entitlement.NormalizeModule(module)
	if !entitlement.IsKnownModule(module) {
		return nil, errutil.ValidationFailed("unknown module", nil, errutil.WithDetails(errutil.Detail{Field: "module", Message: module}))
	}

	if err := entitlement.ValidateLimits(req.Limits); err != nil {
		var invalid *entitlement.InvalidLimitError
		if errors.As(err, &invalid) {
			return nil, errutil.ValidationFailed("invalid limit", err, errutil.WithDetails(errutil.Detail{Field: "limits." + invalid.Name, Message: err.Error()}))
		}
		return nil, errutil.ValidationFailed("invalid limit", err)
	}

	var (
		ent *entitlement.Entitlement
		lic *License
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		lic, err = s.lock(ctx, tx, licenseID)
		if err != nil {
			return err
		}
		if lic.Status == lifecycle.Cancelled {
			return errutil.UnprocessableEntity("cancelled license cannot be modified", nil)
		}

		ent, err = s.entitlements.Set(ctx, tx, licenseID, module, req)
		if err != nil {
			return errutil.Internal("failed to set entitlement", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, lic.TenantID)
	task.PublishAudit(ctx, s.enqueuer, task.AuditEvent{
		Action:     taskname.EntitlementSet,
		TenantID:   lic.TenantID,
		LicenseID:  lic.ID,
		ResourceID: ent.ID,
		Actor:      actor,
		Metadata:   map[string]any{"module": module, "enabled": ent.Enabled},
	})

	return ent, nil
}

func (s *Service) ListEntitlements(ctx context.Context, licenseID string) ([]*entitlement.Entitlement, error) {
	if _, err := s.Get(ctx, licenseID); err != nil {
		return nil, err
	}

	rows, err := s.entitlements.List(ctx, nil, licenseID)
	if err != nil {
		return nil, errutil.Internal("failed to list entitlements", err)
	}
	return rows, nil
}

// LockByActivationKey loads the license holding key FOR UPDATE inside tx.
func (s *Service) LockByActivationKey(ctx context.Context, tx *gorm.DB, key string) (*License, error) {
	if key == "" {
		return nil, errutil.NotFound("license not found", nil)
	}

	lic, err := s.repo.WithTrx(tx).FindOne(ctx, &License{ActivationKey: key}, option.WithLockingUpdate())
	if err != nil {
		return nil, errutil.Internal("failed to get license", err)
	}
	if lic == nil {
		return nil, errutil.NotFound("license not found", nil)
	}
	return lic, nil
}

// VerifySignature checks the stored signature against the license's current
// terms.
func (s *Service) VerifySignature(lic *License) bool {
	if s.signer.Verify(lic.Payload(), lic.Signature) {
		return true
	}
	signatureFailures.Inc()
	return false
}

// MarkActive moves the license to ACTIVE inside tx. It is a no-op for a
// license that is already active.
func (s *Service) MarkActive(ctx context.Context, tx *gorm.DB, lic *License) error {
	if lic.Status == lifecycle.Active {
		return nil
	}
	if !lifecycle.CanTransition(lic.Status, lifecycle.Active) {
		return errutil.UnprocessableEntity("license cannot be activated", nil,
			errutil.WithDetails(errutil.Detail{Field: "status", Message: string(lic.Status)}))
	}

	if err := s.repo.WithTrx(tx).Update(ctx, lic.ID, map[string]any{"status": lifecycle.Active}); err != nil {
		return errutil.Internal("failed to activate license", err)
	}
	lic.Status = lifecycle.Active
	return nil
}

// ForTenant returns the license governing a tenant: its non-cancelled license
// or, failing that, the license the tenant was last linked to.
func (s *Service) ForTenant(ctx context.Context, tenantID string) (*License, error) {
	ctx, span := tracer.Start(ctx, "license.ForTenant")
	defer span.End()

	live, err := s.findLive(ctx, nil, tenantID)
	if err != nil {
		return nil, errutil.Internal("failed to get license", err)
	}
	if live != nil {
		return live, nil
	}

	t, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if t.LicenseID != nil && *t.LicenseID != "" {
		return s.Get(ctx, *t.LicenseID)
	}

	return nil, errutil.NotFound("license not found", nil)
}

// TermsForTenant resolves the entitlement-relevant terms of a tenant's license.
func (s *Service) TermsForTenant(ctx context.Context, tenantID string) (*entitlement.Terms, error) {
	lic, err := s.ForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return lic.Terms(), nil
}

// MyLicense summarises the caller's license, falling back to the legacy
// columns on the tenant record when no signed license exists.
func (s *Service) MyLicense(ctx context.Context, tenantID string) (*MyLicense, error) {
	ctx, span := tracer.Start(ctx, "license.MyLicense")
	defer span.End()

	now := s.now()

	lic, err := s.ForTenant(ctx, tenantID)
	if err == nil {
		ev := lic.Evaluate(now)
		startAt, endAt := lic.StartAt, lic.EndAt
		return &MyLicense{
			LicenseID:       lic.ID,
			Code:            lic.Code,
			Plan:            lic.Plan,
			Status:          ev.Status,
			EffectiveStatus: ev.EffectiveStatus,
			Modules:         append([]string(nil), lic.Modules...),
			UsersLimit:      lic.UsersLimit,
			UnitsLimit:      lic.UnitsLimit,
			StartAt:         &startAt,
			EndAt:           &endAt,
			IsExpired:       ev.IsExpired,
			IsActive:        ev.IsActive,
			DaysUntilExpiry: ev.DaysUntilExpiry,
		}, nil
	}
	if !errutil.Is(err, errutil.StatusNotFound) {
		return nil, err
	}

	t, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !t.HasLegacyLicense() {
		return nil, errutil.NotFound("license not found", nil)
	}

	return legacyView(t, now), nil
}

func legacyView(t *tenant.Tenant, now time.Time) *MyLicense {
	status := lifecycle.Suspended
	if t.LegacyActive {
		status = lifecycle.Active
	}

	out := &MyLicense{
		Legacy:          true,
		Status:          status,
		EffectiveStatus: status,
		Modules:         append([]string{}, t.ActiveModules...),
		UsersLimit:      t.MaxUsers,
		IsActive:        t.LegacyActive,
	}

	if t.ExpirationDate != nil {
		ev := lifecycle.Evaluate(status, time.Time{}, *t.ExpirationDate, now)
		endAt := t.ExpirationDate.UTC()
		out.EndAt = &endAt
		out.EffectiveStatus = ev.EffectiveStatus
		out.IsExpired = ev.IsExpired
		out.IsActive = ev.IsActive
		out.DaysUntilExpiry = ev.DaysUntilExpiry
	}

	return out
}

// ListExpiring returns active licenses whose window closes within the next
// horizon.
func (s *Service) ListExpiring(ctx context.Context, now time.Time, horizon time.Duration) ([]*License, error) {
	ctx, span := tracer.Start(ctx, "license.ListExpiring")
	defer span.End()

	now = now.UTC()
	return s.repo.Find(ctx, &License{Status: lifecycle.Active},
		option.ApplyOperator(option.Condition{Field: "end_at", Operator: option.GTE, Value: now}),
		option.ApplyOperator(option.Condition{Field: "end_at", Operator: option.LTE, Value: now.Add(horizon)}),
	)
}

func (s *Service) lock(ctx context.Context, tx *gorm.DB, id string) (*License, error) {
	lic, err := s.repo.WithTrx(tx).FindOne(ctx, &License{ID: id}, option.WithLockingUpdate())
	if err != nil {
		return nil, errutil.Internal("failed to get license", err)
	}
	if lic == nil {
		return nil, errutil.NotFound("license not found", nil)
	}
	return lic, nil
}

func (s *Service) findLive(ctx context.Context, tx *gorm.DB, tenantID string) (*License, error) {
	return s.repo.WithTrx(tx).FindOne(ctx, &License{TenantID: tenantID},
		option.ApplyOperator(option.Condition{Field: "status", Operator: option.NEQ, Value: lifecycle.Cancelled}),
	)
}

func validateWindow(startAt, endAt time.Time) error {
	if !endAt.After(startAt) {
		return errutil.ValidationFailed("end_at must be after start_at", nil,
			errutil.WithDetails(errutil.Detail{Field: "end_at", Message: "must be after start_at"}))
	}
	return nil
}

func normalizeSeedLimits(in map[string]map[string]any) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any, len(in))
	for module, limits := range in {
		name := entitlement.NormalizeModule(module)
		if !entitlement.IsKnownModule(name) {
			return nil, errutil.ValidationFailed("unknown module in limits", nil,
				errutil.WithDetails(errutil.Detail{Field: "limits", Message: module}))
		}
		if err := entitlement.ValidateLimits(limits); err != nil {
			return nil, errutil.ValidationFailed("invalid limit", err,
				errutil.WithDetails(errutil.Detail{Field: "limits." + name, Message: err.Error()}))
		}
		out[name] = limits
	}
	return out, nil
}

func equalModules(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func pageLimit(limit int) int {
	if limit <= 0 {
		return 10
	}
	if limit > 250 {
		return 250
	}
	return limit
}
