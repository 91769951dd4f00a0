package bootstrap

import (
	"context"
	"time"

	"licensing-controlplane/pkg/accesscontrol"
	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/services/activation"
	"licensing-controlplane/services/apikey"
	"licensing-controlplane/services/audit"
	"licensing-controlplane/services/entitlement"
	"licensing-controlplane/services/license"
	"licensing-controlplane/services/license/lifecycle"
	"licensing-controlplane/services/quota"
	"licensing-controlplane/services/tenant"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Migrate creates or updates every table the control plane owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&tenant.Tenant{},
		&entitlement.Entitlement{},
		&activation.Activation{},
		&quota.Usage{},
		&apikey.APIKey{},
		&audit.Log{},
		&audit.Job{},
	); err != nil {
		return err
	}
	return license.Migrate(db)
}

type Service struct {
	tenants  *tenant.Service
	licenses *license.Service
	keys     *apikey.Service
	now      func() time.Time
}

type ServiceParams struct {
	fx.In
	Tenants  *tenant.Service
	Licenses *license.Service
	Keys     *apikey.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		tenants:  p.Tenants,
		licenses: p.Licenses,
		keys:     p.Keys,
		now:      time.Now,
	}
}

type SeedRequest struct {
	TenantName string
	TaxID      string
	Plan       entitlement.Plan
	Modules    []string
	UsersLimit int
	Months     int
}

type SeedResult struct {
	Tenant  *tenant.Tenant
	License *license.License
	// APIKey is only set when a new admin key was minted.
	APIKey *apikey.CreateResult
}

// Seed creates a demo tenant with a suspended license ready for activation
// and an admin API key. Running it again reuses the tenant and its license.
func (s *Service) Seed(ctx context.Context, req SeedRequest) (*SeedResult, error) {
	log := zap.L().With(zap.String("tax_id", req.TaxID))

	tn, err := s.tenants.FindByIdentifier(ctx, req.TaxID)
	switch {
	case errutil.Is(err, errutil.StatusNotFound):
		tn, err = s.tenants.CreateTenant(ctx, tenant.CreateTenantRequest{
			Name:  req.TenantName,
			TaxID: req.TaxID,
			Type:  tenant.Company,
		})
		if err != nil {
			return nil, err
		}
		log.Info("[bootstrap] tenant created", zap.String("tenant_id", tn.ID))
	case err != nil:
		return nil, err
	}

	res := &SeedResult{Tenant: tn}

	lic, err := s.licenses.ForTenant(ctx, tn.ID)
	switch {
	case err == nil && lic.Status != lifecycle.Cancelled:
		log.Info("[bootstrap] tenant already licensed", zap.String("license_id", lic.ID))
		res.License = lic
		return res, nil
	case err != nil && !errutil.Is(err, errutil.StatusNotFound):
		return nil, err
	}

	months := req.Months
	if months <= 0 {
		months = 12
	}
	start := s.now().UTC().Truncate(24 * time.Hour)

	actor := "bootstrap"
	key, err := s.keys.Create(ctx, apikey.CreateRequest{
		Name:      "bootstrap admin",
		KeyType:   apikey.APIKeyTypeAdmin,
		Scopes:    []string{accesscontrol.ScopeAdmin},
		CreatedBy: &actor,
	})
	if err != nil {
		return nil, err
	}
	res.APIKey = key

	lic, err = s.licenses.Create(ctx, license.CreateRequest{
		TenantID:   tn.ID,
		Plan:       req.Plan,
		Modules:    req.Modules,
		UsersLimit: req.UsersLimit,
		StartAt:    start,
		EndAt:      start.AddDate(0, months, 0),
		Actor:      actor,
	})
	if err != nil {
		return nil, err
	}
	res.License = lic

	log.Info("[bootstrap] license issued", zap.String("license_id", lic.ID), zap.String("code", lic.Code))
	return res, nil
}
