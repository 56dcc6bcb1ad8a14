package auth

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	otplib "github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ridepulse/dispatch/pkg/common"
	"github.com/ridepulse/dispatch/pkg/jwtkeys"
	"github.com/ridepulse/dispatch/pkg/logger"
	"github.com/ridepulse/dispatch/pkg/middleware"
	"github.com/ridepulse/dispatch/pkg/models"
	"github.com/ridepulse/dispatch/pkg/tracing"
	"github.com/ridepulse/dispatch/pkg/validation"
)

const (
	tracerName = "auth-service"

	// Login codes live this long in Redis; the TOTP window matches so a
	// code is valid for exactly one window.
	otpTTL    = 10 * time.Minute
	otpPeriod = 600
)

func otpCacheKey(driverID string) string {
	return "auth:otp:driver:" + driverID
}

// Service handles the driver auth bootstrap: login-code issuance over
// SMS and the phone-to-session exchange.
type Service struct {
	repo       RepositoryInterface
	otpStore   OTPStore
	sms        SMSSender
	keyManager *jwtkeys.Manager
	jwtExpiry  int
}

// NewService creates a new auth service. sms may be nil, in which case
// login codes are logged instead of sent.
func NewService(repo RepositoryInterface, otpStore OTPStore, sms SMSSender, keyManager *jwtkeys.Manager, jwtExpiryHours int) *Service {
	return &Service{
		repo:       repo,
		otpStore:   otpStore,
		sms:        sms,
		keyManager: keyManager,
		jwtExpiry:  jwtExpiryHours,
	}
}

// RequestDriverOTP issues a time-based login code for the driver with
// this phone number, stores its bcrypt hash, and delivers it by SMS.
func (s *Service) RequestDriverOTP(ctx context.Context, phoneNumber string) (*models.DriverOTPResponse, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "auth.RequestDriverOTP")
	defer span.End()

	driver, err := s.lookupDriver(ctx, phoneNumber)
	if err != nil {
		return nil, err
	}
	tracing.AddSpanAttributes(ctx, tracing.DriverAttribute(driver.DriverID))

	code, err := generateLoginCode()
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, common.NewInternalError("failed to generate login code", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, common.NewInternalError("failed to protect login code", err)
	}
	if err := s.otpStore.SetWithExpiration(ctx, otpCacheKey(driver.DriverID), string(hash), otpTTL); err != nil {
		tracing.RecordError(ctx, err)
		return nil, common.NewServiceUnavailableError("login code store unavailable", err)
	}

	if s.sms == nil {
		// Development mode: no SMS provider, surface the code in the log.
		logger.Info("SMS disabled, login code issued",
			zap.String("driver_id", driver.DriverID),
			zap.String("code", code),
		)
	} else {
		body := fmt.Sprintf("Your driver login code is: %s. This code expires in 10 minutes.", code)
		if _, err := s.sms.SendSMS(driver.Phone, body); err != nil {
			tracing.RecordError(ctx, err)
			return nil, common.NewAppError(http.StatusServiceUnavailable, common.CodeExternalUnavailable, "failed to deliver login code", err)
		}
	}

	logger.InfoContext(ctx, "driver login code requested",
		zap.String("driver_id", driver.DriverID),
	)

	return &models.DriverOTPResponse{
		DriverID:         driver.DriverID,
		ExpiresInSeconds: int64(otpTTL.Seconds()),
	}, nil
}

// CompleteDriverInfo exchanges a phone assertion for a session token and
// the full driver record. A supplied code is checked against the pending
// login code and consumed; an absent code is trusted as externally
// verified.
func (s *Service) CompleteDriverInfo(ctx context.Context, phoneNumber, otpCode string) (*models.DriverAuthResponse, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "auth.CompleteDriverInfo")
	defer span.End()

	driver, err := s.lookupDriver(ctx, phoneNumber)
	if err != nil {
		return nil, err
	}
	tracing.AddSpanAttributes(ctx, tracing.DriverAttribute(driver.DriverID))

	if otpCode != "" {
		if err := s.verifyLoginCode(ctx, driver.DriverID, otpCode); err != nil {
			tracing.RecordError(ctx, err)
			return nil, err
		}
	}

	token, err := s.issueToken(ctx, driver)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, common.NewInternalError("failed to issue session token", err)
	}

	logger.InfoContext(ctx, "driver session issued",
		zap.String("driver_id", driver.DriverID),
		zap.Bool("otp_checked", otpCode != ""),
	)

	return &models.DriverAuthResponse{Token: token, Driver: driver}, nil
}

func (s *Service) lookupDriver(ctx context.Context, phoneNumber string) (*models.Driver, error) {
	if !validation.IsPhone(phoneNumber) {
		return nil, common.NewValidationError("phone number must be in E.164 format")
	}
	driver, err := s.repo.GetDriverByPhone(ctx, phoneNumber)
	if err != nil {
		tracing.RecordError(ctx, err)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("no driver with this phone number", err)
		}
		return nil, common.NewServiceUnavailableError("driver store unavailable", err)
	}
	return driver, nil
}

func (s *Service) verifyLoginCode(ctx context.Context, driverID, code string) error {
	key := otpCacheKey(driverID)

	hash, err := s.otpStore.GetString(ctx, key)
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return common.NewUnprocessableError(common.CodeInvalidOTP, "login code expired or never requested")
		}
		return common.NewServiceUnavailableError("login code store unavailable", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)); err != nil {
		return common.NewUnprocessableError(common.CodeInvalidOTP, "incorrect login code")
	}

	// Single use.
	if err := s.otpStore.Delete(ctx, key); err != nil {
		logger.Warn("failed to consume login code", zap.String("driver_id", driverID), zap.Error(err))
	}
	return nil
}

func (s *Service) issueToken(ctx context.Context, driver *models.Driver) (string, error) {
	if s.keyManager == nil {
		return "", fmt.Errorf("jwt key manager is not configured")
	}
	if err := s.keyManager.EnsureRotation(ctx); err != nil {
		return "", fmt.Errorf("failed to rotate signing key: %w", err)
	}
	key, err := s.keyManager.CurrentSigningKey()
	if err != nil {
		return "", fmt.Errorf("failed to retrieve signing key: %w", err)
	}
	secretBytes, err := key.SecretBytes()
	if err != nil {
		return "", fmt.Errorf("invalid signing key: %w", err)
	}

	claims := &middleware.Claims{
		UserID:   driver.ID,
		DriverID: driver.DriverID,
		Phone:    driver.Phone,
		Role:     middleware.RoleDriver,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour * time.Duration(s.jwtExpiry))),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = key.ID
	return token.SignedString(secretBytes)
}

// generateLoginCode derives a six-digit code from a one-shot random
// secret using the TOTP algorithm, so the code is bound to the current
// time window.
func generateLoginCode() (string, error) {
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	secret := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)

	return totp.GenerateCodeCustom(secret, time.Now(), totp.ValidateOpts{
		Period:    otpPeriod,
		Digits:    otplib.DigitsSix,
		Algorithm: otplib.AlgorithmSHA1,
	})
}
