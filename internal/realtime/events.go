package realtime

// Inbound event types accepted from connected clients.
const (
	EventRegisterUser           = "registerUser"
	EventRegisterDriver         = "registerDriver"
	EventDriverGoOnline         = "driverGoOnline"
	EventDriverOffline          = "driverOffline"
	EventDriverLocationUpdate   = "driverLocationUpdate"
	EventDriverHeartbeat        = "driverHeartbeat"
	EventRequestDriverLocations = "requestDriverLocations"
	EventRequestNearbyDrivers   = "requestNearbyDrivers"
	EventGetCurrentPrices       = "getCurrentPrices"
	EventBookRide               = "bookRide"
	EventAcceptRide             = "acceptRide"
	EventRejectRide             = "rejectRide"
	EventDriverStartedRide      = "driverStartedRide"
	EventDriverCompletedRide    = "driverCompletedRide"
	EventUserLocationUpdate     = "userLocationUpdate"
	EventUpdateFCMToken         = "updateFCMToken"
	EventRequestRideOTP         = "requestRideOTP"
)

// Outbound event types. EventOTPVerified is both: drivers send it to start
// a ride, passengers receive it as confirmation.
const (
	EventCurrentPrices            = "currentPrices"
	EventPriceUpdate              = "priceUpdate"
	EventDriverLocationsUpdate    = "driverLocationsUpdate"
	EventDriverLiveLocationUpdate = "driverLiveLocationUpdate"
	EventUserLiveLocationUpdate   = "userLiveLocationUpdate"
	EventNewRideRequest           = "newRideRequest"
	EventRideAccepted             = "rideAccepted"
	EventRideAlreadyAccepted      = "rideAlreadyAccepted"
	EventDriverRejectedRide       = "driverRejectedRide"
	EventOTPVerified              = "otpVerified"
	EventRideStatusUpdate         = "rideStatusUpdate"
	EventBillAlert                = "billAlert"
	EventRideCompleted            = "rideCompleted"
	EventWalletUpdate             = "walletUpdate"
	EventWorkingHoursWarning      = "workingHoursWarning"
	EventAutoStop                 = "autoStop"
)

// FleetRoom is the room shared by every driver of one vehicle type. Ride
// requests fan out here.
func FleetRoom(vehicleType string) string {
	return "drivers_" + vehicleType
}

// DriverRoom is the per-driver room for targeted events. Driver sessions
// connect with their public driver ID as the client ID.
func DriverRoom(driverID string) string {
	return "driver_" + driverID
}
