package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	london = Point{Lat: 51.5074, Lng: -0.1278}
	paris  = Point{Lat: 48.8566, Lng: 2.3522}
	campus = Point{Lat: 59.3293, Lng: 18.0686}
)

func TestDistance_SamePoint(t *testing.T) {
	for _, p := range []Point{london, paris, campus, {Lat: 0, Lng: 0}, {Lat: -89.9, Lng: 179.9}} {
		assert.Zero(t, Distance(p, p))
	}
}

func TestDistance_Symmetric(t *testing.T) {
	assert.Equal(t, Distance(london, paris), Distance(paris, london))
	assert.Equal(t, Distance(campus, london), Distance(london, campus))
}

func TestDistance_KnownValue(t *testing.T) {
	// London to Paris is roughly 343 km great-circle.
	d := Distance(london, paris)
	assert.Greater(t, d, 340_000.0)
	assert.Less(t, d, 350_000.0)
}

func TestWithinRadius_InclusiveBoundary(t *testing.T) {
	// ~55 m north of campus.
	near := Point{Lat: campus.Lat + 0.0005, Lng: campus.Lng}
	d := Distance(campus, near)

	assert.True(t, WithinRadius(campus, near, d), "exact boundary must count as within")
	assert.True(t, WithinRadius(campus, near, d+1))
	assert.False(t, WithinRadius(campus, near, d-1))
}

func TestWithinRadius_DefaultCompletionRadius(t *testing.T) {
	// ~11 m away: inside the 50 m completion radius.
	inside := Point{Lat: campus.Lat + 0.0001, Lng: campus.Lng}
	assert.True(t, WithinRadius(campus, inside, 50))

	// ~111 m away: outside.
	outside := Point{Lat: campus.Lat + 0.001, Lng: campus.Lng}
	assert.False(t, WithinRadius(campus, outside, 50))
}

func TestSignificantMovement(t *testing.T) {
	prev := campus

	// No previous position: always significant.
	assert.True(t, SignificantMovement(campus, nil, 10))

	// ~1 m jitter: filtered.
	jitter := Point{Lat: campus.Lat + 0.00001, Lng: campus.Lng}
	assert.False(t, SignificantMovement(jitter, &prev, 10))

	// ~111 m: significant.
	moved := Point{Lat: campus.Lat + 0.001, Lng: campus.Lng}
	assert.True(t, SignificantMovement(moved, &prev, 10))
}
