// Package handler handles HTTP requests for the offers module.
package handler

import (
	"net/http"
	"strconv"

	"cashoffer_backend/internal/offers/service"
	"cashoffer_backend/internal/offers/transport"
	"cashoffer_backend/platform/httpkit"
	"cashoffer_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidID        = "invalid id"
)

// Handler handles HTTP requests for offers.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new offers handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes registers the user-facing offer routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.Submit)
	rg.GET("", h.List)
	rg.GET("/:id", h.Get)
	rg.POST("/:id/accept", h.Accept)
	rg.POST("/:id/decline", h.Decline)
	rg.GET("/:id/history", h.PriceHistory)
}

// RegisterAdminRoutes registers the reviewer routes.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.GET("/offers/:id", h.AdminGet)
	rg.GET("/offers/:id/price-history", h.AdminPriceHistory)
	rg.POST("/offers/:id/price", h.OverridePrice)
	rg.GET("/escalations", h.ListEscalations)
	rg.POST("/escalations/:id/resolve", h.ResolveEscalation)
	rg.POST("/optimizer/run", h.RunOptimizer)
}

// Submit handles POST /api/v1/offers
func (h *Handler) Submit(c *gin.Context) {
	var req transport.SubmitOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	identity := httpkit.GetIdentity(c)
	result, err := h.svc.Submit(c.Request.Context(), identity.UserID(), c.ClientIP(), req)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.Created(c, result)
}

// List handles GET /api/v1/offers
func (h *Handler) List(c *gin.Context) {
	identity := httpkit.GetIdentity(c)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	result, err := h.svc.List(c.Request.Context(), identity.UserID(), limit)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, result)
}

// Get handles GET /api/v1/offers/:id
func (h *Handler) Get(c *gin.Context) {
	offerID, ok := pathID(c)
	if !ok {
		return
	}

	identity := httpkit.GetIdentity(c)
	result, err := h.svc.Get(c.Request.Context(), identity.UserID(), offerID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, result)
}

// Accept handles POST /api/v1/offers/:id/accept
func (h *Handler) Accept(c *gin.Context) {
	offerID, ok := pathID(c)
	if !ok {
		return
	}

	identity := httpkit.GetIdentity(c)
	result, err := h.svc.Accept(c.Request.Context(), identity.UserID(), offerID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, result)
}

// Decline handles POST /api/v1/offers/:id/decline
func (h *Handler) Decline(c *gin.Context) {
	offerID, ok := pathID(c)
	if !ok {
		return
	}

	identity := httpkit.GetIdentity(c)
	result, err := h.svc.Decline(c.Request.Context(), identity.UserID(), offerID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, result)
}

// PriceHistory handles GET /api/v1/offers/:id/history
func (h *Handler) PriceHistory(c *gin.Context) {
	offerID, ok := pathID(c)
	if !ok {
		return
	}

	identity := httpkit.GetIdentity(c)
	result, err := h.svc.PriceHistory(c.Request.Context(), identity.UserID(), offerID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, result)
}

// AdminGet handles GET /api/v1/admin/offers/:id
func (h *Handler) AdminGet(c *gin.Context) {
	offerID, ok := pathID(c)
	if !ok {
		return
	}

	result, err := h.svc.AdminGet(c.Request.Context(), offerID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, result)
}

// AdminPriceHistory handles GET /api/v1/admin/offers/:id/price-history
func (h *Handler) AdminPriceHistory(c *gin.Context) {
	offerID, ok := pathID(c)
	if !ok {
		return
	}

	result, err := h.svc.AdminPriceHistory(c.Request.Context(), offerID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, result)
}

// OverridePrice handles POST /api/v1/admin/offers/:id/price
func (h *Handler) OverridePrice(c *gin.Context) {
	offerID, ok := pathID(c)
	if !ok {
		return
	}

	var req transport.OverridePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	identity := httpkit.GetIdentity(c)
	if err := h.svc.OverridePrice(c.Request.Context(), identity.UserID(), offerID, req); httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"status": "ok"})
}

// ListEscalations handles GET /api/v1/admin/escalations
func (h *Handler) ListEscalations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	result, err := h.svc.ListEscalations(c.Request.Context(), limit)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, result)
}

// ResolveEscalation handles POST /api/v1/admin/escalations/:id/resolve
func (h *Handler) ResolveEscalation(c *gin.Context) {
	escalationID, ok := pathID(c)
	if !ok {
		return
	}

	var req transport.ResolveEscalationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	identity := httpkit.GetIdentity(c)
	result, err := h.svc.ResolveEscalation(c.Request.Context(), identity.UserID(), escalationID, req)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, result)
}

// RunOptimizer handles POST /api/v1/admin/optimizer/run?dryRun=true.
// The body is unused; an empty POST triggers a live run.
func (h *Handler) RunOptimizer(c *gin.Context) {
	dryRun := c.Query("dryRun") == "true"

	if err := h.svc.RunOptimizer(c.Request.Context(), dryRun); httpkit.HandleError(c, err) {
		return
	}

	httpkit.JSON(c, http.StatusAccepted, gin.H{"status": "queued", "dryRun": dryRun})
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return uuid.UUID{}, false
	}
	return id, true
}
