package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/services/entitlement"
	"licensing-controlplane/services/quota"

	"github.com/gin-gonic/gin"
)

func (h *Handler) myLicense(c *gin.Context) {
	lic, err := h.licenses.MyLicense(c.Request.Context(), tenantID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, lic)
}

func (h *Handler) myEntitlements(c *gin.Context) {
	snap, err := h.entitlements.Snapshot(c.Request.Context(), tenantID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	ev := snap.Terms.Evaluate(h.now())
	c.JSON(http.StatusOK, gin.H{
		"license_id":     snap.Terms.LicenseID,
		"plan":           snap.Terms.Plan,
		"modules":        snap.Terms.Modules,
		"license_active": ev.IsActive,
		"entitlements":   snap.Entitlements,
	})
}

func (h *Handler) queryEntitlement(c *gin.Context) {
	req := entitlement.QueryRequest{
		TenantID: tenantID(c),
		Module:   c.Param("module"),
		Limit:    c.Query("limit"),
	}
	if raw := c.Query("usage"); raw != "" {
		usage, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || usage < 0 {
			_ = c.Error(errutil.ValidationFailed("usage must be a non-negative integer", err))
			return
		}
		req.Usage = &usage
	}

	res, err := h.entitlements.Query(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type authorizeBody struct {
	Amount int64 `json:"amount"`
}

func (h *Handler) authorizeUsage(c *gin.Context) {
	body := authorizeBody{Amount: 1}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			_ = c.Error(bindError(err))
			return
		}
	}

	d, err := h.quota.Authorize(c.Request.Context(), tenantID(c), c.Param("module"), body.Amount)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, d)
}

type recordBody struct {
	Amount    int64 `json:"amount"`
	LatencyMS int64 `json:"latency_ms"`
	Success   *bool `json:"success"`
}

func (h *Handler) recordUsage(c *gin.Context) {
	var body recordBody
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(bindError(err))
		return
	}

	req := quota.RecordRequest{
		Amount:  body.Amount,
		Latency: time.Duration(body.LatencyMS) * time.Millisecond,
		Success: body.Success == nil || *body.Success,
	}
	u, err := h.quota.Record(c.Request.Context(), tenantID(c), c.Param("module"), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) getUsage(c *gin.Context) {
	v, err := h.quota.Usage(c.Request.Context(), tenantID(c), c.Param("module"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, v)
}
