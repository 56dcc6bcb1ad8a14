package models

// RequestDriverOTPRequest asks for a driver login code by phone.
type RequestDriverOTPRequest struct {
	PhoneNumber string `json:"phone_number" binding:"required"`
}

// DriverOTPResponse acknowledges a login-code request. The code itself
// travels by SMS, never in the response.
type DriverOTPResponse struct {
	DriverID         string `json:"driver_id"`
	ExpiresInSeconds int64  `json:"expires_in_seconds"`
}

// CompleteDriverInfoRequest exchanges a phone assertion for a session.
// OTP is optional: when present it is checked against the pending login
// code, when absent the phone assertion is trusted as externally
// verified.
type CompleteDriverInfoRequest struct {
	PhoneNumber string `json:"phone_number" binding:"required"`
	OTP         string `json:"otp"`
}

// DriverAuthResponse carries the session token and the full driver
// record.
type DriverAuthResponse struct {
	Token  string  `json:"token"`
	Driver *Driver `json:"driver"`
}
