package registry

import (
	"github.com/roadsight/viewer/internal/view"
	"github.com/roadsight/viewer/pkg/core"
)

// Class is a kind of keyed live entity.
type Class string

const (
	ClassVehicle   Class = "vehicle"
	ClassCollision Class = "collision"
)

// VehicleRender is the derived appearance of a vehicle for one snapshot.
type VehicleRender struct {
	Position core.LatLng
	Icon     view.Icon
	Title    string
	ZIndex   int
	Popup    string

	// Footprint is the open outline of the vehicle rectangle. Nil keeps the
	// previously drawn footprint, if any.
	Footprint      []core.LatLng
	FootprintStyle view.ShapeStyle
}

// PathRender is the derived appearance of a vehicle's paths. Empty paths
// leave the corresponding polyline as it was.
type PathRender struct {
	Actual         []core.LatLng
	ActualStyle    view.ShapeStyle
	Predicted      []core.LatLng
	PredictedStyle view.ShapeStyle
}

// CollisionRender is the derived appearance of a collision point.
type CollisionRender struct {
	Position core.LatLng
	Icon     view.Icon
	Title    string
	ZIndex   int
	Popup    string
}

// VehicleEntity is the live visual state of one vehicle. Handles other than
// Marker and Popup stay zero until first drawn.
type VehicleEntity struct {
	ID     core.VehicleID
	Render VehicleRender

	Marker        view.Handle
	Popup         view.Handle
	Footprint     view.Handle
	Path          view.Handle
	PredictedPath view.Handle

	PopupOpen bool
}

// handles returns every drawn handle, dependants first.
func (e *VehicleEntity) handles() []view.Handle {
	var hs []view.Handle
	for _, h := range []view.Handle{e.Popup, e.Footprint, e.Path, e.PredictedPath, e.Marker} {
		if h != 0 {
			hs = append(hs, h)
		}
	}
	return hs
}

// CollisionEntity is the live visual state of one collision point.
type CollisionEntity struct {
	ID     core.CollisionID
	Render CollisionRender

	Marker view.Handle
	Popup  view.Handle

	PopupOpen bool
}

func (e *CollisionEntity) handles() []view.Handle {
	return []view.Handle{e.Popup, e.Marker}
}
