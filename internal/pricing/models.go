package pricing

import (
	"time"

	"github.com/ridepulse/dispatch/pkg/models"
)

// DefaultPrices are the per-km prices applied when a vehicle type has no
// stored price. They also floor non-positive stored values.
var DefaultPrices = map[string]int64{
	models.VehicleTypeBike: 15,
	models.VehicleTypeTaxi: 40,
	models.VehicleTypePort: 75,
}

// RidePrice is the effective per-km price for one vehicle type.
// IsDefault marks entries that have never been written by an admin.
type RidePrice struct {
	VehicleType string     `json:"vehicle_type" db:"vehicle_type"`
	PricePerKm  int64      `json:"price_per_km" db:"price_per_km"`
	IsDefault   bool       `json:"is_default"`
	UpdatedBy   string     `json:"updated_by,omitempty" db:"updated_by"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// UpdatePriceRequest is the admin payload for changing a per-km price.
type UpdatePriceRequest struct {
	VehicleType string `json:"vehicle_type" binding:"required"`
	PricePerKm  int64  `json:"price_per_km" binding:"required,gt=0"`
}
