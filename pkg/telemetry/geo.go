package telemetry

import (
	"math"
	"time"

	"github.com/golang/geo/s2"
)

// EarthRadiusKm is the mean spherical earth radius used by default.
const EarthRadiusKm = 6371.0

// Sample is one reading from a GeoSampler.
type Sample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"` // metres, 0 when unknown
	Timestamp time.Time `json:"timestamp"`
}

// Valid reports whether the coordinates are finite and in range.
func (s Sample) Valid() bool {
	if math.IsNaN(s.Latitude) || math.IsNaN(s.Longitude) || math.IsInf(s.Latitude, 0) || math.IsInf(s.Longitude, 0) {
		return false
	}
	return s.Latitude >= -90 && s.Latitude <= 90 && s.Longitude >= -180 && s.Longitude <= 180
}

// HaversineKm returns the great-circle distance between two samples on a
// sphere of the given radius. s2.LatLng.Distance evaluates the haversine formula.
func HaversineKm(a, b Sample, radiusKm float64) float64 {
	p1 := s2.LatLngFromDegrees(a.Latitude, a.Longitude)
	p2 := s2.LatLngFromDegrees(b.Latitude, b.Longitude)
	return p1.Distance(p2).Radians() * radiusKm
}
