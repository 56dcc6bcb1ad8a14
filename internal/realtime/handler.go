package realtime

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ridepulse/dispatch/pkg/common"
	"github.com/ridepulse/dispatch/pkg/logger"
	"github.com/ridepulse/dispatch/pkg/middleware"
	ws "github.com/ridepulse/dispatch/pkg/websocket"
)

// Handler upgrades authenticated HTTP requests into hub sessions.
type Handler struct {
	hub     *ws.Hub
	gateway *Gateway
}

func NewHandler(hub *ws.Hub, gateway *Gateway) *Handler {
	return &Handler{hub: hub, gateway: gateway}
}

// RegisterRoutes registers the WebSocket endpoint. The auth middleware
// runs before the upgrade, so a bad token is rejected with plain HTTP.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades the connection and binds the session to the
// caller's identity. Drivers connect under their driver id, passengers
// under their user id, and each gets its identity room staged before
// registration so directed events can land from the first frame.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	role, err := middleware.GetUserRole(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "authentication required")
		return
	}

	var clientID string
	if role == middleware.RoleDriver {
		driverID, err := middleware.GetDriverID(c)
		if err != nil || driverID == "" {
			common.ErrorResponse(c, http.StatusUnauthorized, "driver session required")
			return
		}
		clientID = driverID
	} else {
		userID, err := middleware.GetUserID(c)
		if err != nil {
			common.ErrorResponse(c, http.StatusUnauthorized, "authentication required")
			return
		}
		clientID = userID.String()
	}

	conn, err := ws.Upgrade(c.Writer, c.Request)
	if err != nil {
		logger.Warn("websocket upgrade failed",
			zap.String("client_id", clientID),
			zap.Error(err),
		)
		return
	}

	client := ws.NewClient(clientID, conn, h.hub, string(role), logger.Get())
	if role == middleware.RoleDriver {
		client.StageRoom(DriverRoom(clientID))
	} else {
		client.StageRoom(clientID)
	}

	h.hub.Register <- client
	h.gateway.SendPrices(client)

	go client.WritePump()
	go func() {
		client.ReadPump()
		if role == middleware.RoleDriver {
			h.gateway.DriverDisconnected(clientID)
		}
	}()
}
