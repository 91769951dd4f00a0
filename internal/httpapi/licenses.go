package httpapi

import (
	"net/http"

	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/services/activation"
	"licensing-controlplane/services/audit"
	"licensing-controlplane/services/entitlement"
	"licensing-controlplane/services/license"

	"github.com/gin-gonic/gin"
)

func bindError(err error) error {
	return errutil.BadRequest("invalid request body", err)
}

func (h *Handler) createLicense(c *gin.Context) {
	var req license.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}
	req.Actor = actor(c)

	lic, err := h.licenses.Create(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, license.NewView(lic, h.now()))
}

func (h *Handler) getLicense(c *gin.Context) {
	lic, err := h.licenses.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, license.NewView(lic, h.now()))
}

func (h *Handler) listLicenses(c *gin.Context) {
	var req license.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}

	rows, info, err := h.licenses.List(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	now := h.now()
	views := make([]*license.View, 0, len(rows))
	for _, l := range rows {
		views = append(views, license.NewView(l, now))
	}
	c.JSON(http.StatusOK, gin.H{"data": views, "page_info": info})
}

func (h *Handler) updateLicense(c *gin.Context) {
	var req license.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}
	req.Actor = actor(c)

	lic, err := h.licenses.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, license.NewView(lic, h.now()))
}

func (h *Handler) cancelLicense(c *gin.Context) {
	lic, err := h.licenses.Cancel(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, license.NewView(lic, h.now()))
}

func (h *Handler) setEntitlement(c *gin.Context) {
	var req entitlement.SetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}

	ent, err := h.licenses.SetEntitlement(c.Request.Context(), c.Param("id"), c.Param("module"), req, actor(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, ent)
}

func (h *Handler) activate(c *gin.Context) {
	var req activation.ActivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}

	res, err := h.activations.Activate(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	status := http.StatusCreated
	if res.AlreadyActivated {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (h *Handler) listActivations(c *gin.Context) {
	rows, err := h.activations.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

func (h *Handler) revokeActivation(c *gin.Context) {
	act, err := h.activations.Revoke(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, act)
}

func (h *Handler) migrateActivation(c *gin.Context) {
	act, err := h.activations.Migrate(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, act)
}

func (h *Handler) listAudit(c *gin.Context) {
	var req audit.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}
	req.LicenseID = c.Param("id")

	rows, info, err := h.audit.List(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "page_info": info})
}
