package pricing

import "context"

// RepositoryInterface defines the storage operations used by the service
type RepositoryInterface interface {
	ListPrices(ctx context.Context) ([]*RidePrice, error)
	UpsertPrice(ctx context.Context, p *RidePrice) error
}

// Broadcaster pushes an event to every connected realtime session
type Broadcaster interface {
	ToAll(event string, data map[string]interface{})
}

// ServiceInterface defines the pricing operations used by the HTTP handler
type ServiceInterface interface {
	GetPrices(ctx context.Context) ([]*RidePrice, error)
	UpdatePrice(ctx context.Context, req *UpdatePriceRequest, updatedBy string) (*RidePrice, error)
}
