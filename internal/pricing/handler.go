package pricing

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ridepulse/dispatch/pkg/common"
	"github.com/ridepulse/dispatch/pkg/middleware"
)

// Handler handles admin HTTP requests for ride prices
type Handler struct {
	service ServiceInterface
}

// NewHandler creates a new pricing handler
func NewHandler(service ServiceInterface) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the admin pricing routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	prices := rg.Group("/ride-prices")
	{
		prices.GET("", h.GetPrices)
		prices.POST("", h.UpdatePrice)
	}
}

// GetPrices returns the effective per-km price for every vehicle type
func (h *Handler) GetPrices(c *gin.Context) {
	prices, err := h.service.GetPrices(c.Request.Context())
	if common.HandleServiceError(c, err, "failed to load ride prices") {
		return
	}
	common.SuccessResponse(c, prices)
}

// UpdatePrice sets the per-km price for one vehicle type
func (h *Handler) UpdatePrice(c *gin.Context) {
	var req UpdatePriceRequest
	if !common.BindJSON(c, &req) {
		return
	}

	updatedBy := "admin"
	if id, err := middleware.GetUserID(c); err == nil && id != uuid.Nil {
		updatedBy = id.String()
	}

	price, err := h.service.UpdatePrice(c.Request.Context(), &req, updatedBy)
	if common.HandleServiceError(c, err, "failed to update ride price") {
		return
	}
	common.SuccessResponse(c, price)
}
