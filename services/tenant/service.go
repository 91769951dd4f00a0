package tenant

import (
	"context"
	"errors"
	"strings"

	"licensing-controlplane/pkg/db/option"
	"licensing-controlplane/pkg/db/pagination"
	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/pkg/logger"
	"licensing-controlplane/pkg/repository"
	"licensing-controlplane/pkg/sequence"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/gosimple/slug"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("licensing-controlplane/services/tenant")

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	seq      sequence.Generator
	validate *validator.Validate
	repo     repository.Repository[Tenant]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
	Seq  sequence.Generator
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		seq:      p.Seq,
		validate: validator.New(),
		repo:     repository.ProvideStore[Tenant](p.DB),
	}
}

type CreateTenantRequest struct {
	Name        string     `json:"name" validate:"required,max=255"`
	Slug        string     `json:"slug" validate:"omitempty,max=191"`
	TaxID       string     `json:"tax_id" validate:"required,max=64"`
	Type        TenantType `json:"type" validate:"omitempty,oneof=personal company"`
	CountryCode string     `json:"country_code" validate:"omitempty,max=8"`
	Timezone    string     `json:"timezone" validate:"omitempty,max=64"`
}

func (s *Service) ListTenants(ctx context.Context, page pagination.Pagination) ([]*Tenant, *pagination.PageInfo, error) {
	ctx, span := tracer.Start(ctx, "tenant.ListTenants")
	defer span.End()

	zapLog := logger.FromContext(ctx)

	tenants, err := s.repo.Find(ctx, &Tenant{}, option.ApplyPagination(page))
	if err != nil {
		zapLog.Error("failed to list tenants", zap.Error(err))
		return nil, nil, errutil.Internal("failed to list tenants", err)
	}

	tenants, info := pagination.BuildCursorPageInfo(tenants, normalizeLimit(page.Limit), func(t *Tenant) string {
		cursor, _ := pagination.EncodeCursor(pagination.Cursor{ID: t.ID})
		return cursor
	})

	return tenants, info, nil
}

func (s *Service) CreateTenant(ctx context.Context, req CreateTenantRequest) (*Tenant, error) {
	ctx, span := tracer.Start(ctx, "tenant.CreateTenant")
	defer span.End()

	zapLog := logger.FromContext(ctx)

	req.TaxID = NormalizeIdentifier(req.TaxID)
	if err := s.validate.Struct(req); err != nil {
		return nil, errutil.ValidationFailed("invalid tenant request", err)
	}

	slugName := req.Slug
	if slugName == "" {
		slugName = slug.Make(req.Name)
	}

	exist, err := s.repo.FindOne(ctx, &Tenant{
		Slug: slugName,
	})
	if err != nil {
		zapLog.Error("failed query get tenant by slug", zap.Error(err))
		return nil, errutil.Internal("failed to check existing tenant", err)
	}

	if exist != nil {
		zapLog.Warn("tenant already exists", zap.String("slug", slugName))
		return nil, errutil.Conflict("tenant already exists", nil)
	}

	tenantCode, err := s.seq.NextTenantCode(ctx)
	if err != nil {
		zapLog.Error("failed to generate tenant code", zap.Error(err))
		return nil, errutil.Internal("failed create tenant", err)
	}

	tenantType := req.Type
	if tenantType == "" {
		tenantType = Company
	}

	tenant := &Tenant{
		ID:          s.node.Generate().String(),
		Code:        tenantCode,
		Type:        tenantType,
		Name:        req.Name,
		Slug:        slugName,
		TaxID:       req.TaxID,
		CountryCode: req.CountryCode,
		Timezone:    req.Timezone,
		Status:      Active,
	}

	if err := s.repo.Create(ctx, tenant); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("tenant identifier already registered", err)
		}
		zapLog.Error("failed to create tenant", zap.Error(err))
		return nil, errutil.Internal("failed create tenant", err)
	}

	zapLog.Info("tenant created", zap.String("tenant_id", tenant.ID), zap.String("code", tenant.Code))
	return tenant, nil
}

func (s *Service) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	ctx, span := tracer.Start(ctx, "tenant.GetTenant")
	defer span.End()

	zapLog := logger.FromContext(ctx)

	if tenantID == "" {
		return nil, errutil.NotFound("tenant not found", nil)
	}

	tenant, err := s.repo.FindOne(ctx, &Tenant{
		ID: tenantID,
	})
	if err != nil {
		zapLog.Error("failed query get tenant by id", zap.Error(err))
		return nil, errutil.Internal("failed to get tenant", err)
	}

	if tenant == nil {
		zapLog.Warn("failed get tenant, tenant not found", zap.String("tenant_id", tenantID))
		return nil, errutil.NotFound("tenant not found", nil)
	}

	return tenant, nil
}

// FindByIdentifier resolves a tenant by the identifier presented during activation.
func (s *Service) FindByIdentifier(ctx context.Context, identifier string) (*Tenant, error) {
	ctx, span := tracer.Start(ctx, "tenant.FindByIdentifier")
	defer span.End()

	identifier = NormalizeIdentifier(identifier)
	if identifier == "" {
		return nil, errutil.NotFound("tenant not found", nil)
	}

	tenant, err := s.repo.FindOne(ctx, &Tenant{TaxID: identifier})
	if err != nil {
		logger.FromContext(ctx).Error("failed query get tenant by identifier", zap.Error(err))
		return nil, errutil.Internal("failed to get tenant", err)
	}

	if tenant == nil {
		return nil, errutil.NotFound("tenant not found", nil)
	}

	return tenant, nil
}

// LockTenant loads the tenant row FOR UPDATE inside tx.
func (s *Service) LockTenant(ctx context.Context, tx *gorm.DB, tenantID string) (*Tenant, error) {
	if tenantID == "" {
		return nil, errutil.NotFound("tenant not found", nil)
	}

	tenant, err := s.repo.WithTrx(tx).FindOne(ctx, &Tenant{ID: tenantID}, option.WithLockingUpdate())
	if err != nil {
		return nil, errutil.Internal("failed to lock tenant", err)
	}
	if tenant == nil {
		return nil, errutil.NotFound("tenant not found", nil)
	}
	return tenant, nil
}

// LinkLicense points the tenant at licenseID inside tx.
func (s *Service) LinkLicense(ctx context.Context, tx *gorm.DB, tenantID, licenseID string) error {
	if err := s.repo.WithTrx(tx).Update(ctx, tenantID, map[string]any{
		"license_id": licenseID,
	}); err != nil {
		return errutil.Internal("failed to link license to tenant", err)
	}
	return nil
}

// NormalizeIdentifier strips formatting characters from a tax identifier so
// "12.345.678/0001-90" and "12345678000190" resolve to the same tenant.
func NormalizeIdentifier(identifier string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(identifier) {
		switch r {
		case '.', '-', '/', ' ':
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 10
	}
	if limit > 250 {
		return 250
	}
	return limit
}
