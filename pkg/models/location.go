package models

import (
	"time"

	"github.com/google/uuid"
)

// SubjectKind distinguishes whose position a location sample records
type SubjectKind string

const (
	SubjectDriver SubjectKind = "driver"
	SubjectUser   SubjectKind = "user"
)

// LocationSample is an audit-trail row written by the background sampler.
// Samples are best effort and never block the live fan-out path.
type LocationSample struct {
	ID         int64       `json:"id" db:"id"`
	SubjectID  string      `json:"subject_id" db:"subject_id"`
	Kind       SubjectKind `json:"kind" db:"kind"`
	Latitude   float64     `json:"latitude" db:"latitude"`
	Longitude  float64     `json:"longitude" db:"longitude"`
	Status     string      `json:"status" db:"status"`
	RideID     *uuid.UUID  `json:"ride_id,omitempty" db:"ride_id"`
	RecordedAt time.Time   `json:"recorded_at" db:"recorded_at"`
}
