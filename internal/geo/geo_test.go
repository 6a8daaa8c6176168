package geo

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadsight/viewer/pkg/core"
)

func TestMercator_Origin(t *testing.T) {
	x, y := Mercator(core.LatLng{Lat: 0, Lng: 0})
	assert.InDelta(t, 0, x, 1e-6)
	assert.InDelta(t, 0, y, 1e-6)
}

func TestMercator_KnownPoint(t *testing.T) {
	// 180° of longitude is half the Web Mercator world width.
	x, _ := Mercator(core.LatLng{Lat: 0, Lng: 180})
	assert.InDelta(t, 20037508.34, x, 0.01)
}

func TestMercatorPoint_HasCoordinates(t *testing.T) {
	p := MercatorPoint(core.LatLng{Lat: 37.5, Lng: 127.03})
	coords, ok := p.Coordinates()
	require.True(t, ok)
	assert.Greater(t, coords.X, 0.0)
	assert.Greater(t, coords.Y, 0.0)
}

func TestLatLngFromLonLat(t *testing.T) {
	ll, err := LatLngFromLonLat([]float64{127.03, 37.5})
	require.NoError(t, err)
	assert.Equal(t, core.LatLng{Lat: 37.5, Lng: 127.03}, ll)
}

func TestLatLngFromLonLat_Invalid(t *testing.T) {
	_, err := LatLngFromLonLat([]float64{127.03})
	assert.True(t, errors.Is(err, ErrInvalidCoordinates))

	_, err = LatLngFromLonLat([]float64{200, 37.5})
	assert.True(t, errors.Is(err, ErrInvalidCoordinates))
}

func TestValidLatLng(t *testing.T) {
	assert.True(t, ValidLatLng(core.LatLng{Lat: 90, Lng: -180}))
	assert.False(t, ValidLatLng(core.LatLng{Lat: 91, Lng: 0}))
	assert.False(t, ValidLatLng(core.LatLng{Lat: math.NaN(), Lng: 0}))
}
