package wallet

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ridepulse/dispatch/pkg/common"
	"github.com/ridepulse/dispatch/pkg/middleware"
	"github.com/ridepulse/dispatch/pkg/pagination"
)

// Handler exposes the wallet REST surface
type Handler struct {
	service ServiceInterface
}

// NewHandler creates a new wallet handler
func NewHandler(service ServiceInterface) *Handler {
	return &Handler{service: service}
}

// RegisterAdminRoutes registers admin-only wallet routes
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.POST("/direct-wallet/:driverId", h.DirectWallet)
}

// RegisterDriverRoutes registers driver wallet routes
func (h *Handler) RegisterDriverRoutes(rg *gin.RouterGroup) {
	rg.GET("/:driverId/transactions", h.DriverTransactions)
}

// RegisterUserRoutes registers passenger wallet routes
func (h *Handler) RegisterUserRoutes(rg *gin.RouterGroup) {
	wallet := rg.Group("/wallet")
	{
		wallet.GET("/balance", h.Balance)
		wallet.POST("/add-money", h.AddMoney)
		wallet.POST("/payment", h.Payment)
		wallet.POST("/withdraw", h.Withdraw)
		wallet.POST("/credit-ride", h.CreditRide)
	}
}

// DirectWallet applies an admin credit or debit to a driver wallet
func (h *Handler) DirectWallet(c *gin.Context) {
	driverID := c.Param("driverId")
	if driverID == "" {
		common.ErrorResponse(c, http.StatusBadRequest, "driver ID is required")
		return
	}

	var req DirectWalletRequest
	if !common.BindJSON(c, &req) {
		return
	}

	txn, err := h.service.DirectAdjust(c.Request.Context(), driverID, &req)
	if common.HandleServiceError(c, err, "failed to adjust wallet") {
		return
	}

	common.SuccessResponse(c, txn)
}

// DriverTransactions returns a page of the driver's ledger history.
// Drivers may read only their own history; admins may read any.
func (h *Handler) DriverTransactions(c *gin.Context) {
	driverID := c.Param("driverId")
	if driverID == "" {
		common.ErrorResponse(c, http.StatusBadRequest, "driver ID is required")
		return
	}

	role, err := middleware.GetUserRole(c)
	if err != nil {
		common.AppErrorResponse(c, common.NewUnauthorizedError("authentication required"))
		return
	}
	if role != middleware.RoleAdmin {
		callerDriverID, err := middleware.GetDriverID(c)
		if err != nil || callerDriverID != driverID {
			common.AppErrorResponse(c, common.NewForbiddenError("cannot read another driver's transactions"))
			return
		}
	}

	params := pagination.ParseParams(c)
	txns, total, err := h.service.DriverTransactions(c.Request.Context(), driverID, params.Limit, params.Offset)
	if common.HandleServiceError(c, err, "failed to list transactions") {
		return
	}

	common.SuccessResponseWithMeta(c, txns, pagination.BuildMeta(params.Limit, params.Offset, total))
}

// Balance returns the authenticated passenger's wallet balance
func (h *Handler) Balance(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		common.AppErrorResponse(c, common.NewUnauthorizedError("authentication required"))
		return
	}

	balance, err := h.service.UserBalance(c.Request.Context(), userID)
	if common.HandleServiceError(c, err, "failed to read balance") {
		return
	}

	common.SuccessResponse(c, BalanceResponse{Balance: balance})
}

// AddMoney tops up the passenger wallet, via the payment provider when
// one is configured
func (h *Handler) AddMoney(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		common.AppErrorResponse(c, common.NewUnauthorizedError("authentication required"))
		return
	}

	var req TopUpRequest
	if !common.BindJSON(c, &req) {
		return
	}

	result, err := h.service.AddMoney(c.Request.Context(), userID, &req)
	if common.HandleServiceError(c, err, "failed to add money") {
		return
	}

	if result.Intent != nil {
		common.SuccessResponse(c, result.Intent)
		return
	}
	common.SuccessResponse(c, result.Transaction)
}

// Payment debits the passenger wallet for a ride payment
func (h *Handler) Payment(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		common.AppErrorResponse(c, common.NewUnauthorizedError("authentication required"))
		return
	}

	var req PaymentRequest
	if !common.BindJSON(c, &req) {
		return
	}

	txn, err := h.service.Payment(c.Request.Context(), userID, &req)
	if common.HandleServiceError(c, err, "failed to process payment") {
		return
	}

	common.SuccessResponse(c, txn)
}

// Withdraw debits the passenger wallet back out
func (h *Handler) Withdraw(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		common.AppErrorResponse(c, common.NewUnauthorizedError("authentication required"))
		return
	}

	var req WithdrawRequest
	if !common.BindJSON(c, &req) {
		return
	}

	txn, err := h.service.Withdraw(c.Request.Context(), userID, &req)
	if common.HandleServiceError(c, err, "failed to withdraw") {
		return
	}

	common.SuccessResponse(c, txn)
}

// CreditRide credits the passenger wallet with the fare of a completed
// driver-transfer ride
func (h *Handler) CreditRide(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		common.AppErrorResponse(c, common.NewUnauthorizedError("authentication required"))
		return
	}

	var req CreditRideRequest
	if !common.BindJSON(c, &req) {
		return
	}

	txn, err := h.service.CreditRide(c.Request.Context(), userID, &req)
	if common.HandleServiceError(c, err, "failed to credit ride") {
		return
	}

	common.SuccessResponse(c, txn)
}
