package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ridepulse/dispatch/pkg/common"
	"github.com/ridepulse/dispatch/pkg/models"
)

type mockAuthService struct {
	mock.Mock
}

func (m *mockAuthService) RequestDriverOTP(ctx context.Context, phoneNumber string) (*models.DriverOTPResponse, error) {
	args := m.Called(ctx, phoneNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DriverOTPResponse), args.Error(1)
}

func (m *mockAuthService) CompleteDriverInfo(ctx context.Context, phoneNumber, otpCode string) (*models.DriverAuthResponse, error) {
	args := m.Called(ctx, phoneNumber, otpCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DriverAuthResponse), args.Error(1)
}

func setupAuthRouter(svc ServiceInterface) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(svc).RegisterRoutes(router.Group("/v1"))
	return router
}

func postJSON(t *testing.T, router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRequestDriverOTPEndpoint(t *testing.T) {
	svc := new(mockAuthService)
	router := setupAuthRouter(svc)

	svc.On("RequestDriverOTP", mock.Anything, "+919900112233").Return(&models.DriverOTPResponse{
		DriverID:         "DR1001",
		ExpiresInSeconds: 600,
	}, nil)

	w := postJSON(t, router, "/v1/auth/request-driver-otp", map[string]interface{}{
		"phone_number": "+919900112233",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp common.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "DR1001", data["driver_id"])
	assert.Equal(t, float64(600), data["expires_in_seconds"])
	svc.AssertExpectations(t)
}

func TestRequestDriverOTPRequiresPhone(t *testing.T) {
	svc := new(mockAuthService)
	router := setupAuthRouter(svc)

	w := postJSON(t, router, "/v1/auth/request-driver-otp", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "RequestDriverOTP")
}

func TestRequestDriverOTPUnknownPhonePropagates(t *testing.T) {
	svc := new(mockAuthService)
	router := setupAuthRouter(svc)

	svc.On("RequestDriverOTP", mock.Anything, "+910000000000").
		Return(nil, common.NewNotFoundError("no driver with this phone number", nil))

	w := postJSON(t, router, "/v1/auth/request-driver-otp", map[string]interface{}{
		"phone_number": "+910000000000",
	})
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp common.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, common.CodeNotFound, resp.Error.ErrorCode)
}

func TestCompleteDriverInfoEndpoint(t *testing.T) {
	svc := new(mockAuthService)
	router := setupAuthRouter(svc)

	svc.On("CompleteDriverInfo", mock.Anything, "+919900112233", "123456").Return(&models.DriverAuthResponse{
		Token:  "signed.jwt.token",
		Driver: authDriver(),
	}, nil)

	w := postJSON(t, router, "/v1/auth/get-complete-driver-info", map[string]interface{}{
		"phone_number": "+919900112233",
		"otp":          "123456",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp common.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "signed.jwt.token", data["token"])
	driver := data["driver"].(map[string]interface{})
	assert.Equal(t, "DR1001", driver["driver_id"])
	svc.AssertExpectations(t)
}

func TestCompleteDriverInfoOTPIsOptional(t *testing.T) {
	svc := new(mockAuthService)
	router := setupAuthRouter(svc)

	svc.On("CompleteDriverInfo", mock.Anything, "+919900112233", "").Return(&models.DriverAuthResponse{
		Token:  "signed.jwt.token",
		Driver: authDriver(),
	}, nil)

	w := postJSON(t, router, "/v1/auth/get-complete-driver-info", map[string]interface{}{
		"phone_number": "+919900112233",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestCompleteDriverInfoInvalidOTPPropagates(t *testing.T) {
	svc := new(mockAuthService)
	router := setupAuthRouter(svc)

	svc.On("CompleteDriverInfo", mock.Anything, "+919900112233", "000000").
		Return(nil, common.NewUnprocessableError(common.CodeInvalidOTP, "incorrect login code"))

	w := postJSON(t, router, "/v1/auth/get-complete-driver-info", map[string]interface{}{
		"phone_number": "+919900112233",
		"otp":          "000000",
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp common.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, common.CodeInvalidOTP, resp.Error.ErrorCode)
}
