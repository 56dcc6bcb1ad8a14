package auth

import (
	"github.com/gin-gonic/gin"

	"github.com/ridepulse/dispatch/pkg/common"
	"github.com/ridepulse/dispatch/pkg/models"
)

// Handler exposes the auth bootstrap over REST
type Handler struct {
	service ServiceInterface
}

// NewHandler creates a new auth handler
func NewHandler(service ServiceInterface) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the auth routes. These are the only
// unauthenticated endpoints besides health checks, so the caller should
// mount them behind the rate limiter.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	authGroup := rg.Group("/auth")
	{
		authGroup.POST("/request-driver-otp", h.RequestDriverOTP)
		authGroup.POST("/get-complete-driver-info", h.CompleteDriverInfo)
	}
}

// RequestDriverOTP handles POST /auth/request-driver-otp
func (h *Handler) RequestDriverOTP(c *gin.Context) {
	var req models.RequestDriverOTPRequest
	if !common.BindJSON(c, &req) {
		return
	}

	resp, err := h.service.RequestDriverOTP(c.Request.Context(), req.PhoneNumber)
	if common.HandleServiceError(c, err, "failed to request login code") {
		return
	}
	common.SuccessResponse(c, resp)
}

// CompleteDriverInfo handles POST /auth/get-complete-driver-info
func (h *Handler) CompleteDriverInfo(c *gin.Context) {
	var req models.CompleteDriverInfoRequest
	if !common.BindJSON(c, &req) {
		return
	}

	resp, err := h.service.CompleteDriverInfo(c.Request.Context(), req.PhoneNumber, req.OTP)
	if common.HandleServiceError(c, err, "failed to complete driver sign-in") {
		return
	}
	common.SuccessResponse(c, resp)
}
