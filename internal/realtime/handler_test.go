package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridepulse/dispatch/pkg/middleware"
	"github.com/ridepulse/dispatch/pkg/models"
	ws "github.com/ridepulse/dispatch/pkg/websocket"
)

type wsSession struct {
	userID   uuid.UUID
	role     middleware.Role
	driverID string
}

func setupWSServer(t *testing.T, h *gatewayHarness, sess wsSession) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if sess.role != "" {
			c.Set("user_id", sess.userID)
			c.Set("user_role", sess.role)
			if sess.driverID != "" {
				c.Set("driver_id", sess.driverID)
			}
		}
		c.Next()
	})

	NewHandler(h.hub, h.gateway).RegisterRoutes(router.Group("/v1"))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) *ws.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg ws.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return &msg
}

// TestWebSocketDriverSessionOverWire exercises the full path: upgrade,
// price snapshot, register, ack, room membership.
func TestWebSocketDriverSessionOverWire(t *testing.T) {
	h := newGatewayHarness(t)
	srv := setupWSServer(t, h, wsSession{
		userID:   uuid.New(),
		role:     middleware.RoleDriver,
		driverID: "DR1001",
	})
	conn := dialWS(t, srv)

	first := readFrame(t, conn)
	assert.Equal(t, EventCurrentPrices, first.Type)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":   EventRegisterDriver,
		"ack_id": "r1",
		"data":   map[string]interface{}{"latitude": 17.4, "longitude": 78.3},
	}))

	ack := readFrame(t, conn)
	assert.Equal(t, ws.TypeAck, ack.Type)
	assert.Equal(t, "r1", ack.AckID)
	assert.Equal(t, true, ack.Data["success"])
	assert.Equal(t, "DR1001", ack.Data["driverId"])

	// identity room was staged before registration
	assert.Equal(t, 1, h.hub.RoomSize(DriverRoom("DR1001")))
	assert.Equal(t, 1, h.hub.RoomSize(FleetRoom("bike")))
}

func TestWebSocketPassengerBooksRideOverWire(t *testing.T) {
	h := newGatewayHarness(t)
	rideID := uuid.New()
	h.engine.bookResult = &models.BookingResult{
		RideID:       rideID,
		RaidID:       "RID000123",
		OTP:          "482913",
		Fare:         18500,
		VehicleType:  "bike",
		DriversFound: 2,
	}

	srv := setupWSServer(t, h, wsSession{
		userID: uuid.New(),
		role:   middleware.RolePassenger,
	})
	conn := dialWS(t, srv)

	first := readFrame(t, conn)
	assert.Equal(t, EventCurrentPrices, first.Type)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":   EventBookRide,
		"ack_id": "b1",
		"data": map[string]interface{}{
			"user":        "CUST42",
			"vehicleType": "bike",
			"pickup":      map[string]interface{}{"latitude": 17.4, "longitude": 78.3},
			"drop":        map[string]interface{}{"latitude": 17.45, "longitude": 78.5},
			"distance":    12.5,
		},
	}))

	ack := readFrame(t, conn)
	assert.Equal(t, ws.TypeAck, ack.Type)
	assert.Equal(t, "b1", ack.AckID)
	assert.Equal(t, true, ack.Data["success"])
	assert.Equal(t, rideID.String(), ack.Data["rideId"])
	assert.Equal(t, "482913", ack.Data["otp"])
	// JSON numbers come back as float64
	assert.Equal(t, float64(18500), ack.Data["fare"])
	assert.Equal(t, float64(2), ack.Data["driversFound"])
}

func TestWebSocketRejectsAnonymous(t *testing.T) {
	h := newGatewayHarness(t)
	srv := setupWSServer(t, h, wsSession{})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketDriverDisconnectMarksPresence(t *testing.T) {
	h := newGatewayHarness(t)
	srv := setupWSServer(t, h, wsSession{
		userID:   uuid.New(),
		role:     middleware.RoleDriver,
		driverID: "DR1001",
	})
	conn := dialWS(t, srv)
	readFrame(t, conn)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		ids := h.presence.disconnectedIDs()
		return len(ids) == 1 && ids[0] == "DR1001"
	}, 2*time.Second, 10*time.Millisecond)
}
