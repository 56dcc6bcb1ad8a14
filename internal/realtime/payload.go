package realtime

import (
	"encoding/json"
	"strconv"

	"github.com/ridepulse/dispatch/pkg/models"
)

// payload reads loosely typed values out of an inbound message's data
// map. Older clients send a few fields under different names, so readers
// take key aliases in preference order.
type payload map[string]interface{}

func (p payload) str(keys ...string) string {
	for _, key := range keys {
		if s, ok := p[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func (p payload) f64(keys ...string) float64 {
	for _, key := range keys {
		v, ok := p[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		case int64:
			return float64(n)
		case json.Number:
			f, err := n.Float64()
			if err == nil {
				return f
			}
		case string:
			f, err := strconv.ParseFloat(n, 64)
			if err == nil {
				return f
			}
		}
	}
	return 0
}

func (p payload) integer(keys ...string) int {
	return int(p.f64(keys...))
}

func (p payload) boolean(keys ...string) bool {
	for _, key := range keys {
		if b, ok := p[key].(bool); ok {
			return b
		}
	}
	return false
}

// point reads a nested {latitude, longitude, address} object. lat and
// lng are accepted as aliases.
func (p payload) point(key string) models.GeoPoint {
	nested, ok := p[key].(map[string]interface{})
	if !ok {
		return models.GeoPoint{}
	}
	inner := payload(nested)
	return models.GeoPoint{
		Latitude:  inner.f64("latitude", "lat"),
		Longitude: inner.f64("longitude", "lng"),
		Address:   inner.str("address"),
	}
}

// pointPtr is point for optional fields: absent objects stay nil.
func (p payload) pointPtr(key string) *models.GeoPoint {
	if _, ok := p[key].(map[string]interface{}); !ok {
		return nil
	}
	pt := p.point(key)
	return &pt
}

func (p payload) strPtr(keys ...string) *string {
	if s := p.str(keys...); s != "" {
		return &s
	}
	return nil
}
