package drivers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ridepulse/dispatch/pkg/common"
	"github.com/ridepulse/dispatch/pkg/middleware"
	"github.com/ridepulse/dispatch/pkg/models"
)

// Handler exposes driver profile routes
type Handler struct {
	service ServiceInterface
}

// NewHandler creates a new drivers handler
func NewHandler(service ServiceInterface) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers driver routes on the /drivers group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/:driverId", h.GetDriver)
	rg.PATCH("/:driverId/status", h.UpdateStatus)
	rg.POST("/fcm-token", h.UpdateFCMToken)
}

// GetDriver returns one driver record. Drivers read their own, admins
// anyone's.
func (h *Handler) GetDriver(c *gin.Context) {
	driverID, ok := h.authorizeDriverParam(c)
	if !ok {
		return
	}

	driver, err := h.service.GetDriver(c.Request.Context(), driverID)
	if common.HandleServiceError(c, err, "failed to load driver") {
		return
	}
	common.SuccessResponse(c, driver)
}

// UpdateStatus sets the driver's presence status
func (h *Handler) UpdateStatus(c *gin.Context) {
	driverID, ok := h.authorizeDriverParam(c)
	if !ok {
		return
	}

	var req models.UpdateDriverStatusRequest
	if !common.BindJSON(c, &req) {
		return
	}

	driver, err := h.service.UpdateStatus(c.Request.Context(), driverID, req.Status)
	if common.HandleServiceError(c, err, "failed to update status") {
		return
	}
	common.SuccessResponse(c, driver)
}

// UpdateFCMToken stores the push token for the calling driver. The body
// names a driver only for admin callers.
func (h *Handler) UpdateFCMToken(c *gin.Context) {
	var req models.UpdateFCMTokenRequest
	if !common.BindJSON(c, &req) {
		return
	}

	driverID, ok := h.resolveTarget(c, req.DriverID)
	if !ok {
		return
	}

	if err := h.service.UpdatePushToken(c.Request.Context(), driverID, req.FCMToken); common.HandleServiceError(c, err, "failed to update push token") {
		return
	}
	common.SuccessResponse(c, gin.H{"driver_id": driverID})
}

// authorizeDriverParam checks that the :driverId path parameter belongs
// to the caller, or that the caller is an admin.
func (h *Handler) authorizeDriverParam(c *gin.Context) (string, bool) {
	driverID := c.Param("driverId")
	if driverID == "" {
		common.ErrorResponse(c, http.StatusBadRequest, "driver ID is required")
		return "", false
	}

	role, err := middleware.GetUserRole(c)
	if err != nil {
		common.AppErrorResponse(c, common.NewUnauthorizedError("authentication required"))
		return "", false
	}
	if role != middleware.RoleAdmin {
		sessionDriverID, err := middleware.GetDriverID(c)
		if err != nil || sessionDriverID != driverID {
			common.AppErrorResponse(c, common.NewForbiddenError("not your driver record"))
			return "", false
		}
	}
	return driverID, true
}

// resolveTarget picks the acting driver. Drivers always act on
// themselves; admins name the driver in the body.
func (h *Handler) resolveTarget(c *gin.Context, bodyDriverID string) (string, bool) {
	role, err := middleware.GetUserRole(c)
	if err != nil {
		common.AppErrorResponse(c, common.NewUnauthorizedError("authentication required"))
		return "", false
	}
	switch role {
	case middleware.RoleDriver:
		driverID, err := middleware.GetDriverID(c)
		if err != nil || driverID == "" {
			common.AppErrorResponse(c, common.NewUnauthorizedError("driver session required"))
			return "", false
		}
		return driverID, true
	case middleware.RoleAdmin:
		if bodyDriverID == "" {
			common.AppErrorResponse(c, common.NewValidationError("driver_id is required"))
			return "", false
		}
		return bodyDriverID, true
	default:
		common.AppErrorResponse(c, common.NewForbiddenError("driver session required"))
		return "", false
	}
}
