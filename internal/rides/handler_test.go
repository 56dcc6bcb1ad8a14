package rides

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

type mockRideService struct {
	mock.Mock
}

func (m *mockRideService) GetRide(ctx context.Context, rideRef string) (*models.Ride, error) {
	args := m.Called(ctx, rideRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ride), args.Error(1)
}

func (m *mockRideService) Arrived(ctx context.Context, req *models.ArrivedRequest) (*models.Ride, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ride), args.Error(1)
}

func (m *mockRideService) Start(ctx context.Context, req *models.StartRideRequest) (*models.Ride, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ride), args.Error(1)
}

func (m *mockRideService) Complete(ctx context.Context, req *models.CompleteRideRequest) (*models.Ride, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ride), args.Error(1)
}

func (m *mockRideService) Cancel(ctx context.Context, req *models.CancelRideRequest) (*models.Ride, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ride), args.Error(1)
}

type mockBooking struct {
	mock.Mock
}

func (m *mockBooking) BookRide(ctx context.Context, req *models.BookRideRequest) (*models.BookingResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BookingResult), args.Error(1)
}

type session struct {
	userID   uuid.UUID
	role     middleware.Role
	driverID string
}

func setupRouter(svc ServiceInterface, booking BookingProvider, sess *session) *gin.Engine {
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

	NewHandler(svc, booking).RegisterRoutes(router.Group("/v1"))
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

func dataField(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp common.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	return data
}

func TestBookRideEndpoint(t *testing.T) {
	svc := new(mockRideService)
	booking := new(mockBooking)
	router := setupRouter(svc, booking, &session{userID: uuid.New(), role: middleware.RolePassenger})

	result := &models.BookingResult{
		RideID:       uuid.New(),
		RaidID:       "RID100042",
		OTP:          "0065",
		Fare:         81,
		VehicleType:  "bike",
		DriversFound: 3,
	}
	booking.On("BookRide", mock.Anything, mock.MatchedBy(func(req *models.BookRideRequest) bool {
		return req.CustomerID == "CUS0065" && req.VehicleType == "bike"
	})).Return(result, nil)

	w := doJSON(t, router, http.MethodPost, "/v1/rides/book-ride-enhanced", gin.H{
		"customer_id":  "CUS0065",
		"vehicle_type": "bike",
		"pickup":       gin.H{"latitude": 17.38, "longitude": 78.48},
		"drop":         gin.H{"latitude": 17.44, "longitude": 78.35},
		"distance_km":  5.4,
	})

	assert.Equal(t, http.StatusOK, w.Code)
	data := dataField(t, w)
	assert.Equal(t, "RID100042", data["raid_id"])
	assert.Equal(t, float64(3), data["drivers_found"])
	booking.AssertExpectations(t)
}

func TestBookRideEndpointMissingCustomer(t *testing.T) {
	svc := new(mockRideService)
	booking := new(mockBooking)
	router := setupRouter(svc, booking, &session{userID: uuid.New(), role: middleware.RolePassenger})

	w := doJSON(t, router, http.MethodPost, "/v1/rides/book-ride-enhanced", gin.H{
		"vehicle_type": "bike",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	booking.AssertNotCalled(t, "BookRide")
}

func TestGetRideHidesOTPFromDriver(t *testing.T) {
	svc := new(mockRideService)
	router := setupRouter(svc, new(mockBooking), &session{userID: uuid.New(), role: middleware.RoleDriver, driverID: "DR1001"})

	ride := testRide(models.RideStatusAccepted, "DR1001")
	svc.On("GetRide", mock.Anything, "RID100042").Return(ride, nil)

	w := doJSON(t, router, http.MethodGet, "/v1/rides/RID100042", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	data := dataField(t, w)
	_, hasOTP := data["otp"]
	assert.False(t, hasOTP, "driver must not see the pickup OTP")
}

func TestGetRideOwnerSeesOTP(t *testing.T) {
	svc := new(mockRideService)
	ride := testRide(models.RideStatusAccepted, "DR1001")
	router := setupRouter(svc, new(mockBooking), &session{userID: ride.UserID, role: middleware.RolePassenger})

	svc.On("GetRide", mock.Anything, "RID100042").Return(ride, nil)

	w := doJSON(t, router, http.MethodGet, "/v1/rides/RID100042", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	data := dataField(t, w)
	assert.Equal(t, "0065", data["otp"])
}

func TestGetRideForeignPassenger(t *testing.T) {
	svc := new(mockRideService)
	router := setupRouter(svc, new(mockBooking), &session{userID: uuid.New(), role: middleware.RolePassenger})

	ride := testRide(models.RideStatusAccepted, "DR1001")
	svc.On("GetRide", mock.Anything, "RID100042").Return(ride, nil)

	w := doJSON(t, router, http.MethodGet, "/v1/rides/RID100042", nil)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestArrivedPinsDriverFromSession(t *testing.T) {
	svc := new(mockRideService)
	router := setupRouter(svc, new(mockBooking), &session{userID: uuid.New(), role: middleware.RoleDriver, driverID: "DR1001"})

	ride := testRide(models.RideStatusArrived, "DR1001")
	svc.On("Arrived", mock.Anything, mock.MatchedBy(func(req *models.ArrivedRequest) bool {
		return req.DriverID == "DR1001"
	})).Return(ride, nil)

	// The body claims another driver; the session wins.
	w := doJSON(t, router, http.MethodPost, "/v1/rides/arrived", gin.H{
		"ride_id":   "RID100042",
		"driver_id": "DR9999",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestArrivedRejectsPassengerSession(t *testing.T) {
	svc := new(mockRideService)
	router := setupRouter(svc, new(mockBooking), &session{userID: uuid.New(), role: middleware.RolePassenger})

	w := doJSON(t, router, http.MethodPost, "/v1/rides/arrived", gin.H{"ride_id": "RID100042"})

	assert.Equal(t, http.StatusForbidden, w.Code)
	svc.AssertNotCalled(t, "Arrived")
}

func TestStartEndpointInvalidOTP(t *testing.T) {
	svc := new(mockRideService)
	router := setupRouter(svc, new(mockBooking), &session{userID: uuid.New(), role: middleware.RoleDriver, driverID: "DR1001"})

	svc.On("Start", mock.Anything, mock.Anything).
		Return(nil, common.NewUnprocessableError(common.CodeInvalidOTP, "invalid OTP"))

	w := doJSON(t, router, http.MethodPost, "/v1/rides/start", gin.H{
		"ride_id": "RID100042",
		"otp":     "9999",
	})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var resp common.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
}

func TestSimpleCompleteEndpoint(t *testing.T) {
	svc := new(mockRideService)
	router := setupRouter(svc, new(mockBooking), &session{userID: uuid.New(), role: middleware.RoleDriver, driverID: "DR1001"})

	ride := testRide(models.RideStatusCompleted, "DR1001")
	svc.On("Complete", mock.Anything, mock.MatchedBy(func(req *models.CompleteRideRequest) bool {
		return req.DriverID == "DR1001" && req.DistanceKm == 6.2
	})).Return(ride, nil)

	w := doJSON(t, router, http.MethodPost, "/v1/rides/simple-complete", gin.H{
		"ride_id":     "RID100042",
		"distance_km": 6.2,
	})

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestCancelPassengerOverridesCancelledBy(t *testing.T) {
	svc := new(mockRideService)
	ride := testRide(models.RideStatusPending, "")
	router := setupRouter(svc, new(mockBooking), &session{userID: ride.UserID, role: middleware.RolePassenger})

	svc.On("GetRide", mock.Anything, "RID100042").Return(ride, nil)
	svc.On("Cancel", mock.Anything, mock.MatchedBy(func(req *models.CancelRideRequest) bool {
		return req.CancelledBy == "passenger"
	})).Return(ride, nil)

	w := doJSON(t, router, http.MethodPost, "/v1/rides/cancel", gin.H{
		"ride_id":      "RID100042",
		"cancelled_by": "driver", // spoof attempt
	})

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestCancelDriverMustBeAssigned(t *testing.T) {
	svc := new(mockRideService)
	router := setupRouter(svc, new(mockBooking), &session{userID: uuid.New(), role: middleware.RoleDriver, driverID: "DR2002"})

	ride := testRide(models.RideStatusAccepted, "DR1001")
	svc.On("GetRide", mock.Anything, "RID100042").Return(ride, nil)

	w := doJSON(t, router, http.MethodPost, "/v1/rides/cancel", gin.H{"ride_id": "RID100042"})

	assert.Equal(t, http.StatusForbidden, w.Code)
	svc.AssertNotCalled(t, "Cancel")
}

func TestCancelAdminDefaultsActor(t *testing.T) {
	svc := new(mockRideService)
	router := setupRouter(svc, new(mockBooking), &session{userID: uuid.New(), role: middleware.RoleAdmin})

	ride := testRide(models.RideStatusPending, "")
	svc.On("GetRide", mock.Anything, "RID100042").Return(ride, nil)
	svc.On("Cancel", mock.Anything, mock.MatchedBy(func(req *models.CancelRideRequest) bool {
		return req.CancelledBy == "admin"
	})).Return(ride, nil)

	w := doJSON(t, router, http.MethodPost, "/v1/rides/cancel", gin.H{"ride_id": "RID100042"})

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}
