package realtime

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ridepulse/dispatch/pkg/common"
	"github.com/ridepulse/dispatch/pkg/logger"
	"github.com/ridepulse/dispatch/pkg/middleware"
	"github.com/ridepulse/dispatch/pkg/models"
	ws "github.com/ridepulse/dispatch/pkg/websocket"
)

const (
	// handlerTimeout bounds the store work one inbound event may do.
	handlerTimeout = 5 * time.Second

	defaultRadiusKm  = 5.0
	maxNearbyDrivers = 50
)

// Gateway routes inbound socket events to the domain services and shapes
// the results into acks. One Gateway serves every connection; ordering
// per connection comes from the client read pump.
type Gateway struct {
	hub      *ws.Hub
	presence PresenceService
	shifts   ShiftService
	prices   PriceSource
	engine   DispatchService
	rides    RideService
	tokens   TokenWriter
	users    UserBinder
}

// NewGateway wires the gateway to the hub and the domain services.
func NewGateway(hub *ws.Hub, presence PresenceService, shifts ShiftService, prices PriceSource, engine DispatchService, rides RideService, tokens TokenWriter, users UserBinder) *Gateway {
	return &Gateway{
		hub:      hub,
		presence: presence,
		shifts:   shifts,
		prices:   prices,
		engine:   engine,
		rides:    rides,
		tokens:   tokens,
		users:    users,
	}
}

// RegisterHandlers binds every inbound event type to its handler.
// otpVerified and driverStartedRide share one handler: the latter is the
// legacy name for the same OTP-gated start.
func (g *Gateway) RegisterHandlers() {
	g.hub.RegisterHandler(EventRegisterUser, g.handleRegisterUser)
	g.hub.RegisterHandler(EventRegisterDriver, g.handleRegisterDriver)
	g.hub.RegisterHandler(EventDriverGoOnline, g.handleDriverGoOnline)
	g.hub.RegisterHandler(EventDriverOffline, g.handleDriverOffline)
	g.hub.RegisterHandler(EventDriverHeartbeat, g.handleDriverHeartbeat)
	g.hub.RegisterHandler(EventDriverLocationUpdate, g.handleDriverLocationUpdate)
	g.hub.RegisterHandler(EventRequestDriverLocations, g.handleRequestDriverLocations)
	g.hub.RegisterHandler(EventRequestNearbyDrivers, g.handleRequestNearbyDrivers)
	g.hub.RegisterHandler(EventGetCurrentPrices, g.handleGetCurrentPrices)
	g.hub.RegisterHandler(EventBookRide, g.handleBookRide)
	g.hub.RegisterHandler(EventAcceptRide, g.handleAcceptRide)
	g.hub.RegisterHandler(EventRejectRide, g.handleRejectRide)
	g.hub.RegisterHandler(EventOTPVerified, g.handleStartRide)
	g.hub.RegisterHandler(EventDriverStartedRide, g.handleStartRide)
	g.hub.RegisterHandler(EventDriverCompletedRide, g.handleCompletedRide)
	g.hub.RegisterHandler(EventUserLocationUpdate, g.handleUserLocationUpdate)
	g.hub.RegisterHandler(EventUpdateFCMToken, g.handleUpdateFCMToken)
	g.hub.RegisterHandler(EventRequestRideOTP, g.handleRequestRideOTP)
}

// SendPrices pushes the current price snapshot to one session. Called at
// connect time so every fresh session can quote fares immediately.
func (g *Gateway) SendPrices(client *ws.Client) {
	client.SendMessage(g.pricesMessage())
}

// DriverDisconnected marks a driver's socket gone in the presence layer.
func (g *Gateway) DriverDisconnected(driverID string) {
	g.presence.DriverDisconnected(driverID)
}

func handlerContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), handlerTimeout)
}

func ackFail(client *ws.Client, msg *ws.Message, message string) {
	client.Ack(msg, map[string]interface{}{
		"success": false,
		"message": message,
	})
}

// ackError converts a service error into a failure ack. AppError codes
// ride along so clients can branch on RIDE_TAKEN or INVALID_OTP.
func ackError(client *ws.Client, msg *ws.Message, err error) {
	data := map[string]interface{}{
		"success": false,
		"message": "internal error",
	}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		data["message"] = appErr.Message
		if appErr.ErrorCode != "" {
			data["code"] = appErr.ErrorCode
		}
	}
	client.Ack(msg, data)
}

// driverSession enforces that the event came over a driver socket and
// returns the session's driver id. Payload driver ids never override the
// session.
func (g *Gateway) driverSession(client *ws.Client, msg *ws.Message) (string, bool) {
	if client.Role != string(middleware.RoleDriver) || client.ID == "" {
		ackFail(client, msg, "driver session required")
		return "", false
	}
	return client.ID, true
}

func (g *Gateway) handleRegisterUser(client *ws.Client, msg *ws.Message) {
	p := payload(msg.Data)
	customerID := p.str("user", "userId", "customerId")
	if customerID == "" {
		customerID = client.ID
	}

	ctx, cancel := handlerContext()
	defer cancel()

	user, err := g.users.GetOrCreateUserByCustomerID(ctx, customerID, p.str("userName", "name"), p.str("userMobile", "phone"))
	if err != nil {
		logger.Warn("failed to bind passenger session",
			zap.String("customer_id", customerID),
			zap.Error(err),
		)
		ackFail(client, msg, "user store unavailable")
		return
	}

	g.hub.JoinRoom(client.ID, user.ID.String())
	client.Ack(msg, map[string]interface{}{
		"success":    true,
		"userId":     user.ID.String(),
		"customerId": user.CustomerID,
	})
}

func (g *Gateway) handleRegisterDriver(client *ws.Client, msg *ws.Message) {
	driverID, ok := g.driverSession(client, msg)
	if !ok {
		return
	}
	p := payload(msg.Data)

	ctx, cancel := handlerContext()
	defer cancel()

	loc, err := g.presence.RegisterDriver(ctx, driverID, p.f64("latitude", "lat"), p.f64("longitude", "lng"))
	if err != nil {
		ackError(client, msg, err)
		return
	}

	g.hub.JoinRoom(client.ID, FleetRoom(loc.VehicleType))
	g.hub.JoinRoom(client.ID, DriverRoom(driverID))
	client.Ack(msg, map[string]interface{}{
		"success":     true,
		"driverId":    driverID,
		"vehicleType": loc.VehicleType,
		"status":      loc.Status,
	})
}

func (g *Gateway) handleDriverGoOnline(client *ws.Client, msg *ws.Message) {
	driverID, ok := g.driverSession(client, msg)
	if !ok {
		return
	}

	ctx, cancel := handlerContext()
	defer cancel()

	state, err := g.shifts.Start(ctx, driverID)
	if err != nil {
		ackError(client, msg, err)
		return
	}
	client.Ack(msg, shiftAck(state))
}

func (g *Gateway) handleDriverOffline(client *ws.Client, msg *ws.Message) {
	driverID, ok := g.driverSession(client, msg)
	if !ok {
		return
	}

	ctx, cancel := handlerContext()
	defer cancel()

	state, err := g.shifts.Stop(ctx, driverID)
	if err != nil {
		ackError(client, msg, err)
		return
	}
	client.Ack(msg, shiftAck(state))
}

func shiftAck(state *models.ShiftState) map[string]interface{} {
	return map[string]interface{}{
		"success":          true,
		"status":           string(state.Status),
		"timerActive":      state.TimerActive,
		"remainingSeconds": state.RemainingSeconds,
		"amountDeducted":   state.AmountDeducted,
		"resumed":          state.Resumed,
	}
}

func (g *Gateway) handleDriverHeartbeat(client *ws.Client, msg *ws.Message) {
	driverID, ok := g.driverSession(client, msg)
	if !ok {
		return
	}
	if !g.presence.Heartbeat(driverID) {
		ackFail(client, msg, "driver not registered")
		return
	}
	client.Ack(msg, map[string]interface{}{"success": true})
}

func (g *Gateway) handleDriverLocationUpdate(client *ws.Client, msg *ws.Message) {
	driverID, ok := g.driverSession(client, msg)
	if !ok {
		return
	}
	p := payload(msg.Data)

	ctx, cancel := handlerContext()
	defer cancel()

	if _, err := g.presence.UpdateDriverLocation(ctx, driverID, p.f64("latitude", "lat"), p.f64("longitude", "lng")); err != nil {
		ackError(client, msg, err)
		return
	}
	client.Ack(msg, map[string]interface{}{"success": true})
}

func (g *Gateway) handleRequestDriverLocations(client *ws.Client, msg *ws.Message) {
	p := payload(msg.Data)
	radius := p.f64("radius", "radiusKm")
	if radius <= 0 {
		radius = defaultRadiusKm
	}

	locations := g.presence.DriversNear(
		p.f64("latitude", "lat"),
		p.f64("longitude", "lng"),
		radius,
		strings.ToLower(p.str("vehicleType")),
		maxNearbyDrivers,
	)
	client.SendMessage(locationsMessage(locations))
	client.Ack(msg, map[string]interface{}{"success": true, "count": len(locations)})
}

func (g *Gateway) handleRequestNearbyDrivers(client *ws.Client, msg *ws.Message) {
	p := payload(msg.Data)
	radius := p.f64("radius", "radiusKm")
	if radius <= 0 {
		radius = defaultRadiusKm
	}

	ctx, cancel := handlerContext()
	defer cancel()

	locations, err := g.presence.NearbyDrivers(ctx,
		p.f64("latitude", "lat"),
		p.f64("longitude", "lng"),
		radius,
		strings.ToLower(p.str("vehicleType")),
		maxNearbyDrivers,
	)
	if err != nil {
		ackError(client, msg, err)
		return
	}
	client.SendMessage(locationsMessage(locations))
	client.Ack(msg, map[string]interface{}{"success": true, "count": len(locations)})
}

func locationsMessage(locations []models.DriverLocation) *ws.Message {
	drivers := make([]map[string]interface{}, 0, len(locations))
	for _, loc := range locations {
		drivers = append(drivers, map[string]interface{}{
			"driverId":    loc.DriverID,
			"name":        loc.Name,
			"vehicleType": loc.VehicleType,
			"latitude":    loc.Latitude,
			"longitude":   loc.Longitude,
			"status":      loc.Status,
			"lastUpdate":  loc.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return &ws.Message{
		Type:      EventDriverLocationsUpdate,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"drivers":   drivers,
			"count":     len(drivers),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}
}

func (g *Gateway) handleGetCurrentPrices(client *ws.Client, msg *ws.Message) {
	client.SendMessage(g.pricesMessage())
	client.Ack(msg, map[string]interface{}{"success": true})
}

func (g *Gateway) pricesMessage() *ws.Message {
	return &ws.Message{
		Type:      EventCurrentPrices,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"prices":    g.prices.CurrentPrices(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}
}

func (g *Gateway) handleBookRide(client *ws.Client, msg *ws.Message) {
	p := payload(msg.Data)
	req := &models.BookRideRequest{
		CustomerID:    p.str("user", "customerId", "userId"),
		UserName:      p.str("userName"),
		UserPhone:     p.str("userMobile", "userPhone"),
		Pickup:        p.point("pickup"),
		Drop:          p.point("drop"),
		VehicleType:   p.str("vehicleType"),
		DistanceKm:    p.f64("distance", "distanceKm"),
		TravelTimeMin: p.integer("travelTime", "travelTimeMin"),
		PaymentMethod: p.str("paymentMethod"),
		WantReturn:    p.boolean("wantReturn"),
	}
	if req.CustomerID == "" {
		req.CustomerID = client.ID
	}

	ctx, cancel := handlerContext()
	defer cancel()

	result, err := g.engine.BookRide(ctx, req)
	if err != nil {
		ackError(client, msg, err)
		return
	}

	if result.AlreadySent {
		client.Ack(msg, map[string]interface{}{
			"success":     true,
			"alreadySent": true,
			"rideId":      result.RideID.String(),
			"raidId":      result.RaidID,
		})
		return
	}
	client.Ack(msg, map[string]interface{}{
		"success":      true,
		"rideId":       result.RideID.String(),
		"raidId":       result.RaidID,
		"otp":          result.OTP,
		"fare":         result.Fare,
		"vehicleType":  result.VehicleType,
		"driversFound": result.DriversFound,
	})
}

func (g *Gateway) handleAcceptRide(client *ws.Client, msg *ws.Message) {
	driverID, ok := g.driverSession(client, msg)
	if !ok {
		return
	}
	p := payload(msg.Data)

	ctx, cancel := handlerContext()
	defer cancel()

	ride, err := g.engine.Accept(ctx, &models.AcceptRideRequest{
		RideID:      p.str("rideId", "raidId"),
		DriverID:    driverID,
		DriverName:  p.str("driverName"),
		DriverLat:   p.f64("driverLat", "latitude"),
		DriverLng:   p.f64("driverLng", "longitude"),
		VehicleType: p.str("vehicleType"),
	})
	if err != nil {
		ackError(client, msg, err)
		return
	}

	client.Ack(msg, map[string]interface{}{
		"success":       true,
		"rideId":        ride.ID.String(),
		"raidId":        ride.RaidID,
		"status":        string(ride.Status),
		"fare":          ride.Fare,
		"pickupAddress": ride.PickupAddress,
		"dropAddress":   ride.DropAddress,
	})
}

func (g *Gateway) handleRejectRide(client *ws.Client, msg *ws.Message) {
	driverID, ok := g.driverSession(client, msg)
	if !ok {
		return
	}
	p := payload(msg.Data)

	ctx, cancel := handlerContext()
	defer cancel()

	err := g.engine.Reject(ctx, &models.RejectRideRequest{
		RideID:   p.str("rideId", "raidId"),
		DriverID: driverID,
		Reason:   p.strPtr("reason"),
	})
	if err != nil {
		ackError(client, msg, err)
		return
	}
	client.Ack(msg, map[string]interface{}{"success": true})
}

// handleStartRide serves otpVerified and its legacy alias
// driverStartedRide. The state machine accepts a repeat start without
// checking the code again, which is what makes the alias idempotent.
func (g *Gateway) handleStartRide(client *ws.Client, msg *ws.Message) {
	driverID, ok := g.driverSession(client, msg)
	if !ok {
		return
	}
	p := payload(msg.Data)

	ctx, cancel := handlerContext()
	defer cancel()

	ride, err := g.rides.Start(ctx, &models.StartRideRequest{
		RideID:   p.str("rideId", "raidId"),
		DriverID: driverID,
		OTP:      p.str("otp"),
	})
	if err != nil {
		ackError(client, msg, err)
		return
	}

	client.Ack(msg, map[string]interface{}{
		"success": true,
		"rideId":  ride.ID.String(),
		"raidId":  ride.RaidID,
		"status":  string(ride.Status),
	})
}

func (g *Gateway) handleCompletedRide(client *ws.Client, msg *ws.Message) {
	driverID, ok := g.driverSession(client, msg)
	if !ok {
		return
	}
	p := payload(msg.Data)

	ctx, cancel := handlerContext()
	defer cancel()

	ride, err := g.rides.Complete(ctx, &models.CompleteRideRequest{
		RideID:       p.str("rideId", "raidId"),
		DriverID:     driverID,
		DistanceKm:   p.f64("distance", "distanceKm"),
		Fare:         int64(p.f64("fare")),
		ActualPickup: p.pointPtr("actualPickup"),
		ActualDrop:   p.pointPtr("actualDrop"),
	})
	if err != nil {
		ackError(client, msg, err)
		return
	}

	client.Ack(msg, map[string]interface{}{
		"success": true,
		"rideId":  ride.ID.String(),
		"raidId":  ride.RaidID,
		"status":  string(ride.Status),
		"fare":    ride.FinalFare(),
	})
}

func (g *Gateway) handleUserLocationUpdate(client *ws.Client, msg *ws.Message) {
	p := payload(msg.Data)
	userRef := p.str("userId", "user")
	if userRef == "" {
		userRef = client.ID
	}

	ctx, cancel := handlerContext()
	defer cancel()

	err := g.presence.UpdateUserLocation(ctx, userRef, p.str("rideId"), p.f64("latitude", "lat"), p.f64("longitude", "lng"))
	if err != nil {
		ackError(client, msg, err)
		return
	}
	client.Ack(msg, map[string]interface{}{"success": true})
}

func (g *Gateway) handleUpdateFCMToken(client *ws.Client, msg *ws.Message) {
	driverID, ok := g.driverSession(client, msg)
	if !ok {
		return
	}
	p := payload(msg.Data)

	ctx, cancel := handlerContext()
	defer cancel()

	if err := g.tokens.UpdatePushToken(ctx, driverID, p.str("fcmToken", "token")); err != nil {
		ackError(client, msg, err)
		return
	}
	client.Ack(msg, map[string]interface{}{"success": true})
}

// handleRequestRideOTP returns the ride code, but only to the session
// bound to the ride's passenger.
func (g *Gateway) handleRequestRideOTP(client *ws.Client, msg *ws.Message) {
	p := payload(msg.Data)

	ctx, cancel := handlerContext()
	defer cancel()

	ride, err := g.rides.GetRide(ctx, p.str("rideId", "raidId"))
	if err != nil {
		ackError(client, msg, err)
		return
	}

	passengerRoom := ride.UserID.String()
	if client.ID != passengerRoom && !client.InRoom(passengerRoom) {
		ackFail(client, msg, "not your ride")
		return
	}

	client.Ack(msg, map[string]interface{}{
		"success": true,
		"rideId":  ride.RaidID,
		"otp":     ride.OTP,
	})
}
