package geo

import (
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/roadsight/viewer/pkg/core"
)

// lineString builds a geom.LineString in lon/lat order.
func lineString(points []core.LatLng) geom.LineString {
	flatCoords := make([]float64, 0, len(points)*2)
	for _, p := range points {
		flatCoords = append(flatCoords, p.Lng, p.Lat)
	}
	return geom.NewLineString(geom.NewSequence(flatCoords, geom.DimXY))
}

// OpenRing strips the closing coordinate of a GeoJSON ring, so that
// [a b c d a] becomes [a b c d]. Open rings are returned unchanged.
func OpenRing(points []core.LatLng) []core.LatLng {
	if len(points) > 1 && points[0] == points[len(points)-1] {
		return points[:len(points)-1]
	}
	return points
}

// Ring validates an ordered polygon outline and returns it without the
// closing coordinate. The outline must have at least minCorners distinct
// corners and must not self-intersect.
func Ring(points []core.LatLng, minCorners int) ([]core.LatLng, error) {
	open := OpenRing(points)
	if len(open) < minCorners {
		return nil, fmt.Errorf("ring must have at least %d corners, got %d", minCorners, len(open))
	}
	for i, p := range open {
		if !ValidLatLng(p) {
			return nil, fmt.Errorf("corner %d: %w", i, ErrInvalidCoordinates)
		}
	}

	closed := make([]core.LatLng, 0, len(open)+1)
	closed = append(closed, open...)
	closed = append(closed, open[0])

	poly := geom.NewPolygon([]geom.LineString{lineString(closed)})
	if err := poly.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ring: %w", err)
	}
	return open, nil
}

// Footprint validates a vehicle's oriented rectangle.
func Footprint(points []core.LatLng) ([]core.LatLng, error) {
	corners, err := Ring(points, 4)
	if err != nil {
		return nil, err
	}
	if len(corners) != 4 {
		return nil, fmt.Errorf("footprint must have 4 corners, got %d", len(corners))
	}
	return corners, nil
}

// PathLength returns the planar length of a path in degrees, 0 for fewer
// than two points.
func PathLength(points []core.LatLng) float64 {
	if len(points) < 2 {
		return 0
	}
	return lineString(points).Length()
}
