package rides

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/ridepulse/dispatch/pkg/common"
	"github.com/ridepulse/dispatch/pkg/middleware"
	"github.com/ridepulse/dispatch/pkg/models"
)

// BookingProvider runs the booking pipeline. Implemented by the dispatch
// engine; the handler only fronts it for the REST transport.
type BookingProvider interface {
	BookRide(ctx context.Context, req *models.BookRideRequest) (*models.BookingResult, error)
}

// Handler exposes the ride REST surface
type Handler struct {
	service ServiceInterface
	booking BookingProvider
}

// NewHandler creates a new rides handler
func NewHandler(service ServiceInterface, booking BookingProvider) *Handler {
	return &Handler{service: service, booking: booking}
}

// RegisterRoutes registers ride routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rides := rg.Group("/rides")
	{
		rides.POST("/book-ride-enhanced", h.BookRide)
		rides.GET("/:rideId", h.GetRide)
		rides.POST("/arrived", h.Arrived)
		rides.POST("/start", h.Start)
		rides.POST("/simple-complete", h.SimpleComplete)
		rides.POST("/cancel", h.Cancel)
	}
}

// BookRide books a ride over REST with the same pipeline as the socket
func (h *Handler) BookRide(c *gin.Context) {
	var req models.BookRideRequest
	if !common.BindJSON(c, &req) {
		return
	}

	result, err := h.booking.BookRide(c.Request.Context(), &req)
	if common.HandleServiceError(c, err, "failed to book ride") {
		return
	}

	common.SuccessResponse(c, result)
}

// GetRide returns a ride by raid id or internal id. The OTP is visible
// only to the passenger who owns the ride and to admins.
func (h *Handler) GetRide(c *gin.Context) {
	ride, err := h.service.GetRide(c.Request.Context(), c.Param("rideId"))
	if common.HandleServiceError(c, err, "failed to get ride") {
		return
	}

	role, _ := middleware.GetUserRole(c)
	switch role {
	case middleware.RoleAdmin:
	case middleware.RoleDriver:
		ride.OTP = ""
	default:
		if userID, err := middleware.GetUserID(c); err != nil || userID != ride.UserID {
			common.AppErrorResponse(c, common.NewForbiddenError("not your ride"))
			return
		}
	}

	common.SuccessResponse(c, ride)
}

// Arrived marks the driver as arrived at pickup
func (h *Handler) Arrived(c *gin.Context) {
	var req models.ArrivedRequest
	if !h.bindDriverRequest(c, &req, &req.DriverID) {
		return
	}

	ride, err := h.service.Arrived(c.Request.Context(), &req)
	if common.HandleServiceError(c, err, "failed to mark arrived") {
		return
	}

	common.SuccessResponse(c, ride)
}

// Start performs the OTP-gated start
func (h *Handler) Start(c *gin.Context) {
	var req models.StartRideRequest
	if !h.bindDriverRequest(c, &req, &req.DriverID) {
		return
	}

	ride, err := h.service.Start(c.Request.Context(), &req)
	if common.HandleServiceError(c, err, "failed to start ride") {
		return
	}

	common.SuccessResponse(c, ride)
}

// SimpleComplete completes a ride with the full completion ordering
func (h *Handler) SimpleComplete(c *gin.Context) {
	var req models.CompleteRideRequest
	if !h.bindDriverRequest(c, &req, &req.DriverID) {
		return
	}

	ride, err := h.service.Complete(c.Request.Context(), &req)
	if common.HandleServiceError(c, err, "failed to complete ride") {
		return
	}

	common.SuccessResponse(c, ride)
}

// Cancel cancels a ride. Passengers may cancel their own rides, drivers
// the rides assigned to them; a started ride settles as a completion.
func (h *Handler) Cancel(c *gin.Context) {
	var req models.CancelRideRequest
	if !common.BindJSON(c, &req) {
		return
	}

	role, err := middleware.GetUserRole(c)
	if err != nil {
		common.AppErrorResponse(c, common.NewUnauthorizedError("authentication required"))
		return
	}

	ride, err := h.service.GetRide(c.Request.Context(), req.RideID)
	if common.HandleServiceError(c, err, "failed to cancel ride") {
		return
	}

	switch role {
	case middleware.RoleAdmin:
		if req.CancelledBy == "" {
			req.CancelledBy = string(middleware.RoleAdmin)
		}
	case middleware.RoleDriver:
		driverID, err := middleware.GetDriverID(c)
		if err != nil || ride.DriverID == nil || *ride.DriverID != driverID {
			common.AppErrorResponse(c, common.NewForbiddenError("ride is assigned to another driver"))
			return
		}
		req.CancelledBy = string(middleware.RoleDriver)
	default:
		userID, err := middleware.GetUserID(c)
		if err != nil || userID != ride.UserID {
			common.AppErrorResponse(c, common.NewForbiddenError("not your ride"))
			return
		}
		req.CancelledBy = string(middleware.RolePassenger)
	}

	cancelled, err := h.service.Cancel(c.Request.Context(), &req)
	if common.HandleServiceError(c, err, "failed to cancel ride") {
		return
	}

	common.SuccessResponse(c, cancelled)
}

// bindDriverRequest binds the body and pins the driver id to the session
// for driver callers; admins may act on any driver's behalf.
func (h *Handler) bindDriverRequest(c *gin.Context, req interface{}, driverID *string) bool {
	role, err := middleware.GetUserRole(c)
	if err != nil {
		common.AppErrorResponse(c, common.NewUnauthorizedError("authentication required"))
		return false
	}
	if role != middleware.RoleDriver && role != middleware.RoleAdmin {
		common.AppErrorResponse(c, common.NewForbiddenError("driver session required"))
		return false
	}

	if !common.BindJSON(c, req) {
		return false
	}

	if role == middleware.RoleDriver {
		sessionDriverID, err := middleware.GetDriverID(c)
		if err != nil || sessionDriverID == "" {
			common.AppErrorResponse(c, common.NewUnauthorizedError("driver session required"))
			return false
		}
		*driverID = sessionDriverID
	}
	return true
}
