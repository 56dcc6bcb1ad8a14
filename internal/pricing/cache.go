package pricing

import (
	"math"
	"sync/atomic"
)

// Cache holds the effective per-km prices. Writers install a fresh map,
// readers always see a complete snapshot.
type Cache struct {
	prices atomic.Value // map[string]int64
}

// NewCache returns a cache seeded with the default prices.
func NewCache() *Cache {
	c := &Cache{}
	c.Replace(nil)
	return c
}

// Replace installs the given prices merged over the defaults. Non-positive
// entries are ignored.
func (c *Cache) Replace(prices map[string]int64) {
	merged := make(map[string]int64, len(DefaultPrices)+len(prices))
	for vt, p := range DefaultPrices {
		merged[vt] = p
	}
	for vt, p := range prices {
		if p > 0 {
			merged[vt] = p
		}
	}
	c.prices.Store(merged)
}

// Set updates the price for a single vehicle type.
func (c *Cache) Set(vehicleType string, pricePerKm int64) {
	if pricePerKm <= 0 {
		return
	}
	current := c.snapshot()
	next := make(map[string]int64, len(current)+1)
	for vt, p := range current {
		next[vt] = p
	}
	next[vehicleType] = pricePerKm
	c.prices.Store(next)
}

// Price returns the per-km price for a vehicle type, falling back to the
// default when no positive price is cached. Unknown vehicle types yield 0;
// callers validate the type first.
func (c *Cache) Price(vehicleType string) int64 {
	if p, ok := c.snapshot()[vehicleType]; ok && p > 0 {
		return p
	}
	return DefaultPrices[vehicleType]
}

// CalculateFare returns round(distanceKm * pricePerKm). Any positive
// distance yields a fare of at least 1.
func (c *Cache) CalculateFare(vehicleType string, distanceKm float64) int64 {
	if distanceKm <= 0 {
		return 0
	}
	fare := int64(math.Round(distanceKm * float64(c.Price(vehicleType))))
	if fare < 1 {
		return 1
	}
	return fare
}

// Snapshot returns a copy of the effective price map.
func (c *Cache) Snapshot() map[string]int64 {
	current := c.snapshot()
	out := make(map[string]int64, len(current))
	for vt, p := range current {
		out[vt] = p
	}
	return out
}

func (c *Cache) snapshot() map[string]int64 {
	m, _ := c.prices.Load().(map[string]int64)
	return m
}
