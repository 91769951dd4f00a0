package httpapi

import (
	"strings"

	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/pkg/featureflags"
	"licensing-controlplane/pkg/logger"
	"licensing-controlplane/services/apikey"
	"licensing-controlplane/services/entitlement"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	headerAPIKey   = "X-API-KEY"
	headerTenantID = "X-TENANT-ID"

	ctxAPIKey   = "httpapi.api_key"
	ctxTenantID = "httpapi.tenant_id"
)

func abort(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// requireScope authenticates the admin API key and checks that one of its
// scopes may perform act on obj.
func (h *Handler) requireScope(obj, act string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(headerAPIKey)
		if token == "" {
			abort(c, errutil.Unauthorized("missing api key", nil))
			return
		}

		key, err := h.keys.Authenticate(c.Request.Context(), token)
		if err != nil {
			abort(c, err)
			return
		}

		if !h.enforcer.Allowed(key.Scopes, obj, act) {
			logger.FromContext(c.Request.Context()).Warn("api key lacks scope",
				zap.String("key_id", key.KeyID), zap.String("object", obj), zap.String("action", act))
			abort(c, errutil.Forbidden("api key is not allowed to perform this action", nil))
			return
		}

		c.Set(ctxAPIKey, key)
		c.Next()
	}
}

// actor names the admin key behind the request for audit records.
func actor(c *gin.Context) string {
	v, ok := c.Get(ctxAPIKey)
	if !ok {
		return ""
	}
	key, ok := v.(*apikey.APIKey)
	if !ok {
		return ""
	}
	if key.CreatedBy != nil && *key.CreatedBy != "" {
		return key.KeyID + ":" + *key.CreatedBy
	}
	return key.KeyID
}

// tenantContext resolves the calling tenant from X-TENANT-ID or from an
// activation credential. When both are sent they must agree.
// X-TENANT-ID is not authenticated here; it must be set by a trusted upstream
// that strips client-supplied values.
func (h *Handler) tenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := strings.TrimSpace(c.GetHeader(headerTenantID))

		if raw, ok := bearer(c.GetHeader("Authorization")); ok {
			claims, err := h.tokens.Verify(raw)
			if err != nil {
				abort(c, errutil.Unauthorized("invalid activation credential", err))
				return
			}
			if tenantID != "" && tenantID != claims.TenantID {
				abort(c, errutil.Forbidden("tenant header does not match credential", nil))
				return
			}
			tenantID = claims.TenantID
		}

		if tenantID == "" {
			abort(c, errutil.Unauthorized("tenant context required", nil))
			return
		}

		c.Set(ctxTenantID, tenantID)
		c.Next()
	}
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func tenantID(c *gin.Context) string {
	return c.GetString(ctxTenantID)
}

// moduleGate refuses requests for modules the tenant's license does not
// currently allow. The license_enforcement flag can switch it to log-only
// per tenant.
func (h *Handler) moduleGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		tenant := tenantID(c)
		module := entitlement.NormalizeModule(c.Param("module"))

		res, err := h.entitlements.Query(ctx, entitlement.QueryRequest{TenantID: tenant, Module: module})
		if err != nil {
			abort(c, err)
			return
		}
		if res.Allowed {
			c.Next()
			return
		}

		if h.flags != nil && !h.flags.IsEnabled(ctx, tenant, featureflags.LicenseEnforcement, true) {
			logger.FromContext(ctx).Warn("module not licensed, enforcement disabled",
				zap.String("tenant_id", tenant), zap.String("module", module))
			c.Next()
			return
		}

		abort(c, errutil.Forbidden("module is not licensed", nil,
			errutil.WithDetails(errutil.Detail{Field: "module", Message: module})))
	}
}
