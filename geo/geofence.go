// Package geo provides pure geofence math. It has no dependencies and is safe
// to call on every position sample.
package geo

import "math"

// earthRadiusM is the mean Earth radius in meters.
const earthRadiusM = 6371000

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Distance returns the great-circle distance between a and b in meters,
// using the haversine formula.
func Distance(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// WithinRadius reports whether a and b are at most radiusM meters apart.
// The boundary is inclusive: exactly radiusM counts as within.
func WithinRadius(a, b Point, radiusM float64) bool {
	return Distance(a, b) <= radiusM
}

// SignificantMovement reports whether the position moved at least thresholdM
// meters since previous. A nil previous always counts as significant, so the
// first sample of a session is never filtered out.
func SignificantMovement(current Point, previous *Point, thresholdM float64) bool {
	if previous == nil {
		return true
	}
	return Distance(current, *previous) >= thresholdM
}
