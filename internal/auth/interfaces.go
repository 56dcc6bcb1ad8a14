package auth

import (
	"context"
	"time"

	"github.com/ridepulse/dispatch/pkg/models"
)

// RepositoryInterface defines the driver lookups the auth flow needs.
type RepositoryInterface interface {
	GetDriverByPhone(ctx context.Context, phone string) (*models.Driver, error)
}

// OTPStore holds pending login-code hashes with a TTL.
type OTPStore interface {
	SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	GetString(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) error
}

// SMSSender delivers the login code. A nil sender logs the code instead,
// which is how development environments run.
type SMSSender interface {
	SendSMS(to, body string) (string, error)
}

// ServiceInterface defines the auth bootstrap operations.
type ServiceInterface interface {
	RequestDriverOTP(ctx context.Context, phoneNumber string) (*models.DriverOTPResponse, error)
	CompleteDriverInfo(ctx context.Context, phoneNumber, otpCode string) (*models.DriverAuthResponse, error)
}
