package drivers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ridepulse/dispatch/pkg/common"
	"github.com/ridepulse/dispatch/pkg/middleware"
	"github.com/ridepulse/dispatch/pkg/models"
)

type mockDriverService struct {
	mock.Mock
}

func (m *mockDriverService) GetDriver(ctx context.Context, driverID string) (*models.Driver, error) {
	args := m.Called(ctx, driverID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Driver), args.Error(1)
}

func (m *mockDriverService) UpdateStatus(ctx context.Context, driverID, status string) (*models.Driver, error) {
	args := m.Called(ctx, driverID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Driver), args.Error(1)
}

func (m *mockDriverService) UpdatePushToken(ctx context.Context, driverID, token string) error {
	args := m.Called(ctx, driverID, token)
	return args.Error(0)
}

type session struct {
	userID   uuid.UUID
	role     middleware.Role
	driverID string
}

func setupRouter(svc ServiceInterface, sess *session) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if sess != nil {
			c.Set("user_id", sess.userID)
			c.Set("user_role", sess.role)
			if sess.driverID != "" {
				c.Set("driver_id", sess.driverID)
			}
		}
		c.Next()
	})

	NewHandler(svc).RegisterRoutes(router.Group("/v1/drivers"))
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func driverSession() *session {
	return &session{userID: uuid.New(), role: middleware.RoleDriver, driverID: "DR1001"}
}

func TestGetDriverEndpointOwnRecord(t *testing.T) {
	svc := new(mockDriverService)
	router := setupRouter(svc, driverSession())

	svc.On("GetDriver", mock.Anything, "DR1001").Return(sampleDriver(), nil)

	w := doJSON(t, router, http.MethodGet, "/v1/drivers/DR1001", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp common.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "DR1001", data["driver_id"])
	svc.AssertExpectations(t)
}

func TestGetDriverEndpointRejectsOtherDriver(t *testing.T) {
	svc := new(mockDriverService)
	router := setupRouter(svc, driverSession())

	w := doJSON(t, router, http.MethodGet, "/v1/drivers/DR2002", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	svc.AssertNotCalled(t, "GetDriver")
}

func TestGetDriverEndpointAdminReadsAnyone(t *testing.T) {
	svc := new(mockDriverService)
	router := setupRouter(svc, &session{userID: uuid.New(), role: middleware.RoleAdmin})

	driver := sampleDriver()
	driver.DriverID = "DR2002"
	svc.On("GetDriver", mock.Anything, "DR2002").Return(driver, nil)

	w := doJSON(t, router, http.MethodGet, "/v1/drivers/DR2002", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestGetDriverEndpointRequiresAuth(t *testing.T) {
	svc := new(mockDriverService)
	router := setupRouter(svc, nil)

	w := doJSON(t, router, http.MethodGet, "/v1/drivers/DR1001", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUpdateStatusEndpoint(t *testing.T) {
	svc := new(mockDriverService)
	router := setupRouter(svc, driverSession())

	updated := sampleDriver()
	updated.Status = models.DriverStatusLive
	svc.On("UpdateStatus", mock.Anything, "DR1001", "live").Return(updated, nil)

	w := doJSON(t, router, http.MethodPatch, "/v1/drivers/DR1001/status", map[string]interface{}{
		"status": "live",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp common.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "live", data["status"])
	svc.AssertExpectations(t)
}

func TestUpdateStatusEndpointRequiresBody(t *testing.T) {
	svc := new(mockDriverService)
	router := setupRouter(svc, driverSession())

	w := doJSON(t, router, http.MethodPatch, "/v1/drivers/DR1001/status", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "UpdateStatus")
}

func TestFCMTokenEndpointUsesSession(t *testing.T) {
	svc := new(mockDriverService)
	router := setupRouter(svc, driverSession())

	svc.On("UpdatePushToken", mock.Anything, "DR1001", "fcm-token-abc").Return(nil)

	// The body names another driver; the session wins.
	w := doJSON(t, router, http.MethodPost, "/v1/drivers/fcm-token", map[string]interface{}{
		"driver_id": "DR9999",
		"fcm_token": "fcm-token-abc",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp common.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "DR1001", data["driver_id"])
	svc.AssertExpectations(t)
}

func TestFCMTokenEndpointAdminNamesDriver(t *testing.T) {
	svc := new(mockDriverService)
	router := setupRouter(svc, &session{userID: uuid.New(), role: middleware.RoleAdmin})

	svc.On("UpdatePushToken", mock.Anything, "DR2002", "fcm-token-abc").Return(nil)

	w := doJSON(t, router, http.MethodPost, "/v1/drivers/fcm-token", map[string]interface{}{
		"driver_id": "DR2002",
		"fcm_token": "fcm-token-abc",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestFCMTokenEndpointRequiresToken(t *testing.T) {
	svc := new(mockDriverService)
	router := setupRouter(svc, driverSession())

	w := doJSON(t, router, http.MethodPost, "/v1/drivers/fcm-token", map[string]interface{}{
		"driver_id": "DR1001",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "UpdatePushToken")
}

func TestFCMTokenEndpointPassengerForbidden(t *testing.T) {
	svc := new(mockDriverService)
	router := setupRouter(svc, &session{userID: uuid.New(), role: middleware.RolePassenger})

	w := doJSON(t, router, http.MethodPost, "/v1/drivers/fcm-token", map[string]interface{}{
		"fcm_token": "fcm-token-abc",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	svc.AssertNotCalled(t, "UpdatePushToken")
}
