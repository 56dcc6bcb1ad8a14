package workinghours

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/ridepulse/dispatch/pkg/common"
	"github.com/ridepulse/dispatch/pkg/middleware"
	"github.com/ridepulse/dispatch/pkg/models"
)

// Handler exposes the shift timer over REST
type Handler struct {
	service ServiceInterface
}

// NewHandler creates a new working-hours handler
func NewHandler(service ServiceInterface) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers working-hours routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	wh := rg.Group("/drivers/working-hours")
	{
		wh.POST("/start", h.Start)
		wh.POST("/stop", h.Stop)
		wh.POST("/pause", h.Pause)
		wh.POST("/resume", h.Resume)
		wh.POST("/extend", h.Extend)
		wh.POST("/add-half-time", h.AddHalfTime)
		wh.POST("/add-full-time", h.AddFullTime)
		wh.GET("/status/:driverId", h.Status)
	}
}

// Start takes the calling driver online. A fresh shift debits the flat
// start fee; a paused countdown resumes for free.
func (h *Handler) Start(c *gin.Context) {
	h.action(c, h.service.Start)
}

// Stop freezes the countdown and takes the driver offline.
func (h *Handler) Stop(c *gin.Context) {
	h.action(c, h.service.Stop)
}

// Pause freezes the countdown, same as Stop.
func (h *Handler) Pause(c *gin.Context) {
	h.action(c, h.service.Pause)
}

// Resume restarts a paused countdown without charging a new shift.
func (h *Handler) Resume(c *gin.Context) {
	h.action(c, h.service.Resume)
}

// AddHalfTime purchases half a shift of extra hours.
func (h *Handler) AddHalfTime(c *gin.Context) {
	h.action(c, h.service.AddHalfTime)
}

// AddFullTime purchases a full shift of extra hours.
func (h *Handler) AddFullTime(c *gin.Context) {
	h.action(c, h.service.AddFullTime)
}

// Extend purchases a caller-chosen number of extra hours.
func (h *Handler) Extend(c *gin.Context) {
	var req models.ExtendShiftRequest
	if !common.BindJSON(c, &req) {
		return
	}
	driverID, ok := h.shiftTarget(c, req.DriverID)
	if !ok {
		return
	}

	state, err := h.service.Extend(c.Request.Context(), driverID, req.AdditionalHours)
	if common.HandleServiceError(c, err, "failed to extend working hours") {
		return
	}
	common.SuccessResponse(c, state)
}

// Status returns the live shift view for one driver. Drivers may read
// their own, admins anyone's.
func (h *Handler) Status(c *gin.Context) {
	driverID := c.Param("driverId")

	role, err := middleware.GetUserRole(c)
	if err != nil {
		common.AppErrorResponse(c, common.NewUnauthorizedError("authentication required"))
		return
	}
	switch role {
	case middleware.RoleAdmin:
	case middleware.RoleDriver:
		sessionDriverID, err := middleware.GetDriverID(c)
		if err != nil || sessionDriverID != driverID {
			common.AppErrorResponse(c, common.NewForbiddenError("not your shift"))
			return
		}
	default:
		common.AppErrorResponse(c, common.NewForbiddenError("driver session required"))
		return
	}

	state, err := h.service.Status(c.Request.Context(), driverID)
	if common.HandleServiceError(c, err, "failed to load shift status") {
		return
	}
	common.SuccessResponse(c, state)
}

type shiftOp func(ctx context.Context, driverID string) (*models.ShiftState, error)

func (h *Handler) action(c *gin.Context, op shiftOp) {
	var req models.ShiftActionRequest
	if !bindAction(c, &req) {
		return
	}
	driverID, ok := h.shiftTarget(c, req.DriverID)
	if !ok {
		return
	}

	state, err := op(c.Request.Context(), driverID)
	if common.HandleServiceError(c, err, "failed to update shift") {
		return
	}
	common.SuccessResponse(c, state)
}

// shiftTarget resolves which driver a shift action applies to. Drivers
// always act on themselves; admins name the driver in the body.
func (h *Handler) shiftTarget(c *gin.Context, bodyDriverID string) (string, bool) {
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

// bindAction parses the optional action body. Driver sessions may POST
// with no body at all.
func bindAction(c *gin.Context, req interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return common.BindJSON(c, req)
}
