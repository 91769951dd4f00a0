package activation

import (
	"context"
	"time"

	"licensing-controlplane/pkg/credential"
	"licensing-controlplane/pkg/db/option"
	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/pkg/logger"
	"licensing-controlplane/pkg/repository"
	"licensing-controlplane/pkg/task"
	"licensing-controlplane/pkg/taskname"
	"licensing-controlplane/services/entitlement"
	"licensing-controlplane/services/license"
	"licensing-controlplane/services/license/lifecycle"
	"licensing-controlplane/services/tenant"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("licensing-controlplane/services/activation")

var activationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "license_activations_total",
	Help: "Activation attempts by outcome.",
}, []string{"result"})

type Service struct {
	db           *gorm.DB
	node         *snowflake.Node
	validate     *validator.Validate
	repo         repository.Repository[Activation]
	tenants      *tenant.Service
	licenses     *license.Service
	entitlements *entitlement.Store
	cache        entitlement.Cache
	issuer       *credential.Issuer
	enqueuer     task.Enqueuer
	now          func() time.Time
}

type ServiceParams struct {
	fx.In
	DB           *gorm.DB
	Node         *snowflake.Node
	Tenants      *tenant.Service
	Licenses     *license.Service
	Entitlements *entitlement.Store
	Cache        entitlement.Cache
	Issuer       *credential.Issuer
	Enqueuer     task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:           p.DB,
		node:         p.Node,
		validate:     validator.New(),
		repo:         repository.ProvideStore[Activation](p.DB),
		tenants:      p.Tenants,
		licenses:     p.Licenses,
		entitlements: p.Entitlements,
		cache:        p.Cache,
		issuer:       p.Issuer,
		enqueuer:     p.Enqueuer,
		now:          time.Now,
	}
}

type ActivateRequest struct {
	ActivationKey    string         `json:"activation_key" validate:"required,max=64"`
	TenantIdentifier string         `json:"tenant_identifier" validate:"required,max=64"`
	AdminIdentifier  string         `json:"admin_identifier" validate:"required,max=255"`
	Fingerprint      string         `json:"fingerprint" validate:"omitempty,max=512"`
	DeviceInfo       map[string]any `json:"device_info"`
}

type ActivateResult struct {
	Activation       *Activation                `json:"activation"`
	License          *license.View              `json:"license"`
	Entitlements     []*entitlement.Entitlement `json:"entitlements"`
	Credential       *credential.Token          `json:"credential"`
	AlreadyActivated bool                       `json:"already_activated"`
}

// Activate binds the license identified by its activation key to the calling
// instance. Everything runs in one transaction: a failed lookup, signature
// check or insert leaves no trace. Repeating an activation from the same
// instance returns the existing binding.
func (s *Service) Activate(ctx context.Context, req ActivateRequest) (*ActivateResult, error) {
	ctx, span := tracer.Start(ctx, "activation.Activate")
	defer span.End()

	zapLog := logger.FromContext(ctx)

	if err := s.validate.Struct(req); err != nil {
		activationsTotal.WithLabelValues("invalid").Inc()
		return nil, errutil.ValidationFailed("invalid activation request", err)
	}

	tn, err := s.tenants.FindByIdentifier(ctx, req.TenantIdentifier)
	if err != nil {
		activationsTotal.WithLabelValues("tenant_not_found").Inc()
		return nil, err
	}

	zapLog = zapLog.With(zap.String("tenant_id", tn.ID))
	instanceID := InstanceID(req.Fingerprint, tenant.NormalizeIdentifier(req.TenantIdentifier), req.AdminIdentifier)

	var (
		result = &ActivateResult{}
		lic    *license.License
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lic, err = s.licenses.LockByActivationKey(ctx, tx, req.ActivationKey)
		if err != nil {
			return err
		}
		if lic.TenantID != tn.ID {
			zapLog.Warn("activation key presented by another tenant", zap.String("license_id", lic.ID))
			return errutil.NotFound("license not found", nil,
				errutil.WithDetails(errutil.Detail{Field: "tenant_identifier", Message: "does not match the activation key"}))
		}
		if !s.licenses.VerifySignature(lic) {
			zapLog.Error("license signature mismatch", zap.String("license_id", lic.ID))
			return errutil.InvalidSignature("invalid license signature", nil,
				errutil.WithDetails(errutil.Detail{Field: "license", Message: "license terms changed after issuance and must be re-signed"}))
		}
		if lic.Status == lifecycle.Cancelled {
			return errutil.UnprocessableEntity("license is cancelled", nil)
		}

		act, created, err := s.bind(ctx, tx, lic.ID, instanceID, req.DeviceInfo)
		if err != nil {
			return err
		}
		if act.Status != Active {
			return errutil.Forbidden("instance activation is no longer valid", nil,
				errutil.WithDetails(errutil.Detail{Field: "activation_status", Message: string(act.Status)}))
		}

		if err := s.licenses.MarkActive(ctx, tx, lic); err != nil {
			return err
		}
		if err := s.tenants.LinkLicense(ctx, tx, tn.ID, lic.ID); err != nil {
			return err
		}

		ents, err := s.entitlements.List(ctx, tx, lic.ID)
		if err != nil {
			return errutil.Internal("failed to load entitlements", err)
		}

		token, err := s.issuer.Issue(credential.Claims{
			Scope:        credential.ScopeActivation,
			TenantID:     tn.ID,
			LicenseID:    lic.ID,
			ActivationID: act.ID,
			InstanceID:   instanceID,
		})
		if err != nil {
			return errutil.Internal("failed to issue activation credential", err)
		}

		result.Activation = act
		result.AlreadyActivated = !created
		result.Entitlements = ents
		result.Credential = token
		return nil
	})
	if err != nil {
		activationsTotal.WithLabelValues(string(errutil.StatusOf(err))).Inc()
		return nil, err
	}

	result.License = license.NewView(lic, s.now())

	s.cache.Invalidate(ctx, tn.ID)
	if result.AlreadyActivated {
		activationsTotal.WithLabelValues("already_activated").Inc()
	} else {
		activationsTotal.WithLabelValues("activated").Inc()
		task.PublishAudit(ctx, s.enqueuer, task.AuditEvent{
			Action:     taskname.LicenseActivated,
			TenantID:   tn.ID,
			LicenseID:  lic.ID,
			ResourceID: result.Activation.ID,
			Actor:      req.AdminIdentifier,
			Metadata:   map[string]any{"instance_id": instanceID},
		})
	}

	zapLog.Info("license activated",
		zap.String("license_id", lic.ID),
		zap.String("activation_id", result.Activation.ID),
		zap.Bool("already_activated", result.AlreadyActivated),
	)
	return result, nil
}

// bind inserts the activation for (licenseID, instanceID) unless one exists
// and returns the stored row. created is false when the row already existed.
func (s *Service) bind(ctx context.Context, tx *gorm.DB, licenseID, instanceID string, device map[string]any) (*Activation, bool, error) {
	now := s.now().UTC()
	candidate := &Activation{
		ID:          s.node.Generate().String(),
		LicenseID:   licenseID,
		InstanceID:  instanceID,
		DeviceInfo:  datatypes.JSONMap(device),
		Status:      Active,
		ActivatedAt: now,
		LastCheckAt: now,
	}

	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "license_id"}, {Name: "instance_id"}},
			DoNothing: true,
		}).
		Create(candidate).Error
	if err != nil {
		return nil, false, errutil.Internal("failed to create activation", err)
	}

	repo := s.repo.WithTrx(tx)
	stored, err := repo.FindOne(ctx, &Activation{LicenseID: licenseID, InstanceID: instanceID})
	if err != nil {
		return nil, false, errutil.Internal("failed to load activation", err)
	}
	if stored == nil {
		return nil, false, errutil.Internal("activation vanished after insert", nil)
	}

	if stored.ID == candidate.ID {
		return stored, true, nil
	}

	if stored.Status == Active {
		if err := repo.Update(ctx, stored.ID, map[string]any{"last_check_at": now}); err != nil {
			return nil, false, errutil.Internal("failed to touch activation", err)
		}
		stored.LastCheckAt = now
	}
	return stored, false, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Activation, error) {
	act, err := s.repo.FindOne(ctx, &Activation{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to get activation", err)
	}
	if act == nil {
		return nil, errutil.NotFound("activation not found", nil)
	}
	return act, nil
}

var byActivatedAt = option.WithSortBy(option.QuerySortBy{
	SortBy:  "activated_at",
	OrderBy: "asc",
	Allow:   map[string]bool{"activated_at": true},
})

func (s *Service) List(ctx context.Context, licenseID string) ([]*Activation, error) {
	ctx, span := tracer.Start(ctx, "activation.List")
	defer span.End()

	if _, err := s.licenses.Get(ctx, licenseID); err != nil {
		return nil, err
	}

	out, err := s.repo.Find(ctx, &Activation{LicenseID: licenseID}, byActivatedAt)
	if err != nil {
		return nil, errutil.Internal("failed to list activations", err)
	}
	return out, nil
}

// Revoke marks the activation REVOKED. The license status is unaffected.
func (s *Service) Revoke(ctx context.Context, id, actor string) (*Activation, error) {
	ctx, span := tracer.Start(ctx, "activation.Revoke")
	defer span.End()

	return s.transition(ctx, id, Revoked, actor, taskname.ActivationRevoked)
}

// Migrate marks the activation MIGRATED when its instance has been superseded.
func (s *Service) Migrate(ctx context.Context, id, actor string) (*Activation, error) {
	ctx, span := tracer.Start(ctx, "activation.Migrate")
	defer span.End()

	return s.transition(ctx, id, Migrated, actor, taskname.ActivationMigrate)
}

func (s *Service) transition(ctx context.Context, id string, to Status, actor, action string) (*Activation, error) {
	var act *Activation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)

		var err error
		act, err = repo.FindOne(ctx, &Activation{ID: id}, option.WithLockingUpdate())
		if err != nil {
			return errutil.Internal("failed to get activation", err)
		}
		if act == nil {
			return errutil.NotFound("activation not found", nil)
		}
		if !CanTransition(act.Status, to) {
			return errutil.UnprocessableEntity("activation cannot move to "+string(to), nil,
				errutil.WithDetails(errutil.Detail{Field: "status", Message: string(act.Status)}))
		}

		if err := repo.Update(ctx, id, map[string]any{"status": to}); err != nil {
			return errutil.Internal("failed to update activation", err)
		}
		act.Status = to
		return nil
	})
	if err != nil {
		return nil, err
	}

	tenantID := ""
	if lic, err := s.licenses.Get(ctx, act.LicenseID); err == nil {
		tenantID = lic.TenantID
	}

	task.PublishAudit(ctx, s.enqueuer, task.AuditEvent{
		Action:     action,
		TenantID:   tenantID,
		LicenseID:  act.LicenseID,
		ResourceID: act.ID,
		Actor:      actor,
	})

	logger.FromContext(ctx).Info("activation updated", zap.String("activation_id", id), zap.String("status", string(to)))
	return act, nil
}
