// Package geo provides the coordinate math behind fare estimates and
// nearby-driver filtering.
package geo

import "math"

const (
	earthRadiusKm   = 6371.0
	averageSpeedKmh = 40.0 // city traffic average
)

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// Haversine returns the great-circle distance in kilometres between two
// points, rounded to two decimals.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return math.Round(earthRadiusKm*c*100) / 100
}

// EstimateDuration converts a distance into whole travel minutes at the
// average city speed.
func EstimateDuration(distanceKm float64) int {
	return int(math.Round(distanceKm / averageSpeedKmh * 60))
}

// Bounds is a latitude/longitude bounding box.
type Bounds struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// BoundingBox returns a box that fully contains the circle of radiusKm
// around the given center. It is a cheap prefilter before an exact
// Haversine check, so it intentionally overshoots near the poles.
func BoundingBox(lat, lon, radiusKm float64) Bounds {
	latDelta := (radiusKm / earthRadiusKm) * 180.0 / math.Pi

	lonDelta := 180.0
	if cos := math.Cos(toRadians(lat)); cos > 1e-9 {
		lonDelta = latDelta / cos
	}

	return Bounds{
		MinLat: lat - latDelta,
		MaxLat: lat + latDelta,
		MinLon: lon - lonDelta,
		MaxLon: lon + lonDelta,
	}
}

// Contains reports whether the point lies inside the box.
func (b Bounds) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}
