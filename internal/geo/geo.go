package geo

import (
	"errors"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"

	"github.com/roadsight/viewer/pkg/core"
)

// Map surfaces work in Web Mercator (EPSG:3857) while the backend reports
// WGS84 (EPSG:4326). Conversions happen once, at the drawing boundary.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

var toMercator = wgs84.EPSG().Transform(4326, 3857)

// Mercator projects a WGS84 coordinate to Web Mercator meters.
func Mercator(ll core.LatLng) (x, y float64) {
	x, y, _ = toMercator(ll.Lng, ll.Lat, 0)
	return x, y
}

// MercatorPoint projects a WGS84 coordinate into a 3857 geom.Point.
func MercatorPoint(ll core.LatLng) geom.Point {
	x, y := Mercator(ll)
	return geom.NewPoint(
		geom.Coordinates{
			XY:   geom.XY{X: x, Y: y},
			Type: geom.DimXY,
		},
	)
}

// ValidLatLng reports whether ll lies within WGS84 bounds.
func ValidLatLng(ll core.LatLng) bool {
	return ll.Lat >= -90 && ll.Lat <= 90 && ll.Lng >= -180 && ll.Lng <= 180
}

// LatLngFromLonLat builds a LatLng from a GeoJSON ordered [lon, lat] pair.
func LatLngFromLonLat(coord []float64) (core.LatLng, error) {
	if len(coord) < 2 {
		return core.LatLng{}, ErrInvalidCoordinates
	}
	ll := core.LatLng{Lat: coord[1], Lng: coord[0]}
	if !ValidLatLng(ll) {
		return core.LatLng{}, ErrInvalidCoordinates
	}
	return ll, nil
}
