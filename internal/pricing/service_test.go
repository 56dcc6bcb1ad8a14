package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ridepulse/dispatch/pkg/common"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) ListPrices(ctx context.Context) ([]*RidePrice, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*RidePrice), args.Error(1)
}

func (m *mockRepository) UpsertPrice(ctx context.Context, p *RidePrice) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

type captureBroadcaster struct {
	events []string
	data   []map[string]interface{}
}

func (b *captureBroadcaster) ToAll(event string, data map[string]interface{}) {
	b.events = append(b.events, event)
	b.data = append(b.data, data)
}

func TestServiceLoad(t *testing.T) {
	repo := new(mockRepository)
	repo.On("ListPrices", mock.Anything).Return([]*RidePrice{
		{VehicleType: "taxi", PricePerKm: 45},
	}, nil)

	svc := NewService(repo, NewCache(), nil, nil)
	require.NoError(t, svc.Load(context.Background()))

	assert.Equal(t, int64(90), svc.Fare("taxi", 2))
	assert.Equal(t, int64(15), svc.Fare("bike", 1))
	assert.Len(t, svc.CurrentPrices(), 3)
}

func TestServiceLoadStoreError(t *testing.T) {
	repo := new(mockRepository)
	repo.On("ListPrices", mock.Anything).Return(nil, errors.New("connection refused"))

	svc := NewService(repo, NewCache(), nil, nil)
	require.Error(t, svc.Load(context.Background()))

	// Defaults stay effective when the store is down
	assert.Equal(t, int64(40), svc.Fare("taxi", 1))
}

func TestGetPricesMergesDefaults(t *testing.T) {
	now := time.Now()
	repo := new(mockRepository)
	repo.On("ListPrices", mock.Anything).Return([]*RidePrice{
		{VehicleType: "taxi", PricePerKm: 45, UpdatedBy: "admin-1", UpdatedAt: &now},
	}, nil)

	svc := NewService(repo, NewCache(), nil, nil)
	prices, err := svc.GetPrices(context.Background())
	require.NoError(t, err)
	require.Len(t, prices, 3)

	byType := make(map[string]*RidePrice, len(prices))
	for _, p := range prices {
		byType[p.VehicleType] = p
	}

	assert.False(t, byType["taxi"].IsDefault)
	assert.Equal(t, int64(45), byType["taxi"].PricePerKm)
	assert.True(t, byType["bike"].IsDefault)
	assert.Equal(t, int64(15), byType["bike"].PricePerKm)
	assert.True(t, byType["port"].IsDefault)
	assert.Equal(t, int64(75), byType["port"].PricePerKm)
}

func TestGetPricesStoreError(t *testing.T) {
	repo := new(mockRepository)
	repo.On("ListPrices", mock.Anything).Return(nil, errors.New("connection refused"))

	svc := NewService(repo, NewCache(), nil, nil)
	_, err := svc.GetPrices(context.Background())

	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.CodeStoreUnavailable, appErr.ErrorCode)
}

func TestUpdatePrice(t *testing.T) {
	repo := new(mockRepository)
	repo.On("UpsertPrice", mock.Anything, mock.AnythingOfType("*pricing.RidePrice")).
		Run(func(args mock.Arguments) {
			now := time.Now()
			args.Get(1).(*RidePrice).UpdatedAt = &now
		}).
		Return(nil)

	broadcaster := &captureBroadcaster{}
	svc := NewService(repo, NewCache(), broadcaster, nil)

	price, err := svc.UpdatePrice(context.Background(), &UpdatePriceRequest{
		VehicleType: "taxi",
		PricePerKm:  50,
	}, "admin-1")
	require.NoError(t, err)

	assert.Equal(t, "taxi", price.VehicleType)
	assert.Equal(t, int64(50), price.PricePerKm)
	assert.Equal(t, "admin-1", price.UpdatedBy)

	// Cache swapped in the new price
	assert.Equal(t, int64(50), svc.Fare("taxi", 1))

	// Every connected session heard about it
	require.Len(t, broadcaster.events, 1)
	assert.Equal(t, "priceUpdate", broadcaster.events[0])
	assert.Equal(t, "taxi", broadcaster.data[0]["vehicleType"])
	assert.Equal(t, int64(50), broadcaster.data[0]["pricePerKm"])

	repo.AssertExpectations(t)
}

func TestUpdatePriceInvalidVehicleType(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, NewCache(), nil, nil)

	_, err := svc.UpdatePrice(context.Background(), &UpdatePriceRequest{
		VehicleType: "car",
		PricePerKm:  50,
	}, "admin-1")

	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.CodeInvalidInput, appErr.ErrorCode)
	repo.AssertNotCalled(t, "UpsertPrice")
}

func TestUpdatePriceNonPositive(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, NewCache(), nil, nil)

	_, err := svc.UpdatePrice(context.Background(), &UpdatePriceRequest{
		VehicleType: "taxi",
		PricePerKm:  0,
	}, "admin-1")

	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.CodeInvalidInput, appErr.ErrorCode)
}

func TestUpdatePriceStoreError(t *testing.T) {
	repo := new(mockRepository)
	repo.On("UpsertPrice", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	broadcaster := &captureBroadcaster{}
	svc := NewService(repo, NewCache(), broadcaster, nil)

	_, err := svc.UpdatePrice(context.Background(), &UpdatePriceRequest{
		VehicleType: "taxi",
		PricePerKm:  50,
	}, "admin-1")

	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.CodeStoreUnavailable, appErr.ErrorCode)

	// Nothing changed and nothing was announced
	assert.Equal(t, int64(40), svc.Fare("taxi", 1))
	assert.Empty(t, broadcaster.events)
}
