// Package httpapi exposes the licensing control plane over HTTP under /v1.
package httpapi

import (
	"context"
	"time"

	"licensing-controlplane/pkg/accesscontrol"
	"licensing-controlplane/pkg/credential"
	"licensing-controlplane/pkg/db/pagination"
	"licensing-controlplane/pkg/featureflags"
	"licensing-controlplane/services/activation"
	"licensing-controlplane/services/apikey"
	"licensing-controlplane/services/audit"
	"licensing-controlplane/services/entitlement"
	"licensing-controlplane/services/license"
	"licensing-controlplane/services/quota"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi.v1",
	fx.Provide(
		func(s *license.Service) Licenses { return s },
		func(s *activation.Service) Activations { return s },
		func(s *entitlement.Service) Entitlements { return s },
		func(l *quota.Ledger) Quota { return l },
		func(s *apikey.Service) KeyAuthenticator { return s },
		func(s *audit.Service) AuditLog { return s },
		func(i *credential.Issuer) TokenVerifier { return i },
		NewHandler,
	),
	fx.Invoke(func(h *Handler, r *gin.Engine) { h.Register(r) }),
)

type Licenses interface {
	Create(ctx context.Context, req license.CreateRequest) (*license.License, error)
	Get(ctx context.Context, id string) (*license.License, error)
	List(ctx context.Context, req license.ListRequest) ([]*license.License, *pagination.PageInfo, error)
	Update(ctx context.Context, id string, req license.UpdateRequest) (*license.License, error)
	Cancel(ctx context.Context, id, actor string) (*license.License, error)
	SetEntitlement(ctx context.Context, licenseID, module string, req entitlement.SetRequest, actor string) (*entitlement.Entitlement, error)
	MyLicense(ctx context.Context, tenantID string) (*license.MyLicense, error)
}

type Activations interface {
	Activate(ctx context.Context, req activation.ActivateRequest) (*activation.ActivateResult, error)
	List(ctx context.Context, licenseID string) ([]*activation.Activation, error)
	Revoke(ctx context.Context, id, actor string) (*activation.Activation, error)
	Migrate(ctx context.Context, id, actor string) (*activation.Activation, error)
}

type Entitlements interface {
	Snapshot(ctx context.Context, tenantID string) (*entitlement.Snapshot, error)
	Query(ctx context.Context, req entitlement.QueryRequest) (*entitlement.QueryResult, error)
}

type Quota interface {
	Authorize(ctx context.Context, tenantID, module string, amount int64) (*quota.Decision, error)
	Record(ctx context.Context, tenantID, module string, req quota.RecordRequest) (*quota.Usage, error)
	Usage(ctx context.Context, tenantID, module string) (*quota.UsageView, error)
}

type KeyAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*apikey.APIKey, error)
}

type AuditLog interface {
	List(ctx context.Context, req audit.ListRequest) ([]*audit.Log, *pagination.PageInfo, error)
}

type TokenVerifier interface {
	Verify(raw string) (*credential.Claims, error)
}

type Handler struct {
	licenses     Licenses
	activations  Activations
	entitlements Entitlements
	quota        Quota
	keys         KeyAuthenticator
	audit        AuditLog
	tokens       TokenVerifier
	enforcer     *accesscontrol.Enforcer
	flags        featureflags.FeatureFlag
	now          func() time.Time
}

type Params struct {
	fx.In
	Licenses     Licenses
	Activations  Activations
	Entitlements Entitlements
	Quota        Quota
	Keys         KeyAuthenticator
	Audit        AuditLog
	Tokens       TokenVerifier
	Enforcer     *accesscontrol.Enforcer
	Flags        featureflags.FeatureFlag `optional:"true"`
}

func NewHandler(p Params) *Handler {
	return &Handler{
		licenses:     p.Licenses,
		activations:  p.Activations,
		entitlements: p.Entitlements,
		quota:        p.Quota,
		keys:         p.Keys,
		audit:        p.Audit,
		tokens:       p.Tokens,
		enforcer:     p.Enforcer,
		flags:        p.Flags,
		now:          time.Now,
	}
}

func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/v1")

	v1.POST("/licenses/activate", h.activate)

	admin := v1.Group("")
	admin.POST("/licenses", h.requireScope(accesscontrol.ObjectLicenses, accesscontrol.ActionWrite), h.createLicense)
	admin.GET("/licenses", h.requireScope(accesscontrol.ObjectLicenses, accesscontrol.ActionRead), h.listLicenses)
	admin.GET("/licenses/:id", h.requireScope(accesscontrol.ObjectLicenses, accesscontrol.ActionRead), h.getLicense)
	admin.PATCH("/licenses/:id", h.requireScope(accesscontrol.ObjectLicenses, accesscontrol.ActionWrite), h.updateLicense)
	admin.POST("/licenses/:id/cancel", h.requireScope(accesscontrol.ObjectLicenses, accesscontrol.ActionWrite), h.cancelLicense)
	admin.PUT("/licenses/:id/entitlements/:module", h.requireScope(accesscontrol.ObjectEntitlements, accesscontrol.ActionWrite), h.setEntitlement)
	admin.GET("/licenses/:id/activations", h.requireScope(accesscontrol.ObjectLicenses, accesscontrol.ActionRead), h.listActivations)
	admin.GET("/licenses/:id/audit", h.requireScope(accesscontrol.ObjectLicenses, accesscontrol.ActionRead), h.listAudit)
	admin.POST("/activations/:id/revoke", h.requireScope(accesscontrol.ObjectActivations, accesscontrol.ActionWrite), h.revokeActivation)
	admin.POST("/activations/:id/migrate", h.requireScope(accesscontrol.ObjectActivations, accesscontrol.ActionWrite), h.migrateActivation)

	me := v1.Group("/me", h.tenantContext())
	me.GET("/license", h.myLicense)
	me.GET("/entitlements", h.myEntitlements)
	me.GET("/entitlements/:module", h.queryEntitlement)
	me.POST("/usage/:module/authorize", h.moduleGate(), h.authorizeUsage)
	me.POST("/usage/:module", h.recordUsage)
	me.GET("/usage/:module", h.moduleGate(), h.getUsage)
}
