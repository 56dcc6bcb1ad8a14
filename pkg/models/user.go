package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a passenger account. Rows are materialized lazily the
// first time a customer id is seen on a booking or socket registration.
type User struct {
	ID         uuid.UUID `json:"id" db:"id"`
	CustomerID string    `json:"customer_id" db:"customer_id"`
	Name       string    `json:"name" db:"name"`
	Phone      string    `json:"phone" db:"phone"`
	Wallet     int64     `json:"wallet" db:"wallet"`
	PushToken  *string   `json:"push_token,omitempty" db:"push_token"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}
