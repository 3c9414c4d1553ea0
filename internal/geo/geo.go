// Package geo provides great-circle distance helpers used by the feed and
// favorites views.
package geo

import (
	"errors"
	"math"
)

// EarthRadiusKm is the mean Earth radius used by Haversine.
const EarthRadiusKm = 6371.0

// ErrInvalidCoordinate is returned when a coordinate is missing or out of range.
var ErrInvalidCoordinate = errors.New("geo: invalid coordinate")

// Coordinate is a latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// NewCoordinate returns a coordinate when both components are present.
func NewCoordinate(lat, lng *float64) *Coordinate {
	if lat == nil || lng == nil {
		return nil
	}
	return &Coordinate{Lat: *lat, Lng: *lng}
}

// Valid reports whether c is non-nil and within range.
func (c *Coordinate) Valid() bool {
	if c == nil {
		return false
	}
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Haversine returns the distance in kilometers between a and b.
func Haversine(a, b *Coordinate) (float64, error) {
	if !a.Valid() || !b.Valid() {
		return 0, ErrInvalidCoordinate
	}

	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c, nil
}

// DistanceOr returns the Haversine distance, or fallback when either
// coordinate is unusable.
func DistanceOr(a, b *Coordinate, fallback float64) (float64, bool) {
	d, err := Haversine(a, b)
	if err != nil {
		return fallback, false
	}
	return d, true
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
