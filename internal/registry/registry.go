// Package registry keeps the live visual entities drawn on the map, keyed
// per class, and owns their drawing handles.
package registry

import (
	"cmp"
	"slices"

	"github.com/roadsight/viewer/internal/view"
	"github.com/roadsight/viewer/pkg/core"
)

const (
	popupMaxWidth         = 200
	vehiclePopupBorder    = "#ccc"
	collisionPopupBorder  = "#f00"
	vehiclePopupBorderW   = 1
	collisionPopupBorderW = 2
)

// Registry stores live vehicles and collisions. It is not safe for
// concurrent use; the session loop is its only caller.
type Registry struct {
	surface    view.Surface
	vehicles   map[core.VehicleID]*VehicleEntity
	collisions map[core.CollisionID]*CollisionEntity
}

// New creates an empty Registry drawing on surface.
func New(surface view.Surface) *Registry {
	return &Registry{
		surface:    surface,
		vehicles:   make(map[core.VehicleID]*VehicleEntity),
		collisions: make(map[core.CollisionID]*CollisionEntity),
	}
}

// Vehicle returns the live entity for id.
func (r *Registry) Vehicle(id core.VehicleID) (*VehicleEntity, bool) {
	e, ok := r.vehicles[id]
	return e, ok
}

// Collision returns the live entity for id.
func (r *Registry) Collision(id core.CollisionID) (*CollisionEntity, bool) {
	e, ok := r.collisions[id]
	return e, ok
}

// Len returns the number of live entities of class c.
func (r *Registry) Len(c Class) int {
	switch c {
	case ClassVehicle:
		return len(r.vehicles)
	case ClassCollision:
		return len(r.collisions)
	default:
		return 0
	}
}

// VehicleIDs returns the live vehicle ids in ascending order.
func (r *Registry) VehicleIDs() []core.VehicleID {
	return sortedKeys(r.vehicles)
}

// CollisionIDs returns the live collision ids in ascending order.
func (r *Registry) CollisionIDs() []core.CollisionID {
	return sortedKeys(r.collisions)
}

// UpsertVehicle draws vehicle id if unseen, otherwise updates its existing
// handles in place.
func (r *Registry) UpsertVehicle(id core.VehicleID, rs VehicleRender) {
	e, ok := r.vehicles[id]
	if !ok {
		e = &VehicleEntity{ID: id, Render: rs}
		e.Marker = r.surface.DrawPoint(view.PointSpec{
			Position: rs.Position,
			Icon:     rs.Icon,
			Title:    rs.Title,
			ZIndex:   rs.ZIndex,
		})
		e.Popup = r.surface.ShowPopup(view.PopupSpec{
			Anchor:      e.Marker,
			Content:     rs.Popup,
			BorderColor: vehiclePopupBorder,
			BorderWidth: vehiclePopupBorderW,
			MaxWidth:    popupMaxWidth,
		})
		r.surface.OnClick(e.Marker, func() {
			e.PopupOpen = !e.PopupOpen
			r.surface.ToggleOverlayVisibility(e.Popup, e.PopupOpen)
		})
		r.vehicles[id] = e
		r.upsertFootprint(e, rs)
		return
	}

	prev := e.Render
	if prev.Position != rs.Position {
		r.surface.MovePoint(e.Marker, rs.Position)
	}
	if prev.Icon != rs.Icon {
		r.surface.SetIcon(e.Marker, rs.Icon)
	}
	if prev.Popup != rs.Popup {
		r.surface.UpdatePopupContent(e.Popup, rs.Popup)
	}
	r.upsertFootprint(e, rs)

	footprint, style := e.Render.Footprint, e.Render.FootprintStyle
	e.Render = rs
	if rs.Footprint == nil {
		e.Render.Footprint, e.Render.FootprintStyle = footprint, style
	}
}

func (r *Registry) upsertFootprint(e *VehicleEntity, rs VehicleRender) {
	if rs.Footprint == nil {
		return
	}
	if e.Footprint == 0 {
		e.Footprint = r.surface.DrawPolygon(view.PolygonSpec{
			Path:    rs.Footprint,
			Style:   rs.FootprintStyle,
			Visible: true,
		})
		return
	}
	if !slices.Equal(e.Render.Footprint, rs.Footprint) || e.Render.FootprintStyle != rs.FootprintStyle {
		r.surface.UpdatePolygonPath(e.Footprint, rs.Footprint, rs.FootprintStyle)
	}
}

// UpsertPath draws or updates the paths of a live vehicle. Paths are owned
// by their vehicle; it reports false when the vehicle is not live.
func (r *Registry) UpsertPath(id core.VehicleID, ps PathRender) bool {
	e, ok := r.vehicles[id]
	if !ok {
		return false
	}
	e.Path = r.upsertPolyline(e.Path, ps.Actual, ps.ActualStyle)
	e.PredictedPath = r.upsertPolyline(e.PredictedPath, ps.Predicted, ps.PredictedStyle)
	return true
}

func (r *Registry) upsertPolyline(h view.Handle, path []core.LatLng, style view.ShapeStyle) view.Handle {
	if len(path) == 0 {
		return h
	}
	if h == 0 {
		return r.surface.DrawPolyline(view.PolylineSpec{Path: path, Style: style})
	}
	r.surface.UpdatePolylinePath(h, path)
	return h
}

// UpsertCollision draws collision id if unseen, otherwise updates it in place.
func (r *Registry) UpsertCollision(id core.CollisionID, rs CollisionRender) {
	e, ok := r.collisions[id]
	if !ok {
		e = &CollisionEntity{ID: id, Render: rs}
		e.Marker = r.surface.DrawPoint(view.PointSpec{
			Position: rs.Position,
			Icon:     rs.Icon,
			Title:    rs.Title,
			ZIndex:   rs.ZIndex,
		})
		e.Popup = r.surface.ShowPopup(view.PopupSpec{
			Anchor:      e.Marker,
			Content:     rs.Popup,
			BorderColor: collisionPopupBorder,
			BorderWidth: collisionPopupBorderW,
			MaxWidth:    popupMaxWidth,
		})
		r.surface.OnClick(e.Marker, func() {
			e.PopupOpen = !e.PopupOpen
			r.surface.ToggleOverlayVisibility(e.Popup, e.PopupOpen)
		})
		r.collisions[id] = e
		return
	}

	if e.Render.Position != rs.Position {
		r.surface.MovePoint(e.Marker, rs.Position)
	}
	if e.Render.Icon != rs.Icon {
		r.surface.SetIcon(e.Marker, rs.Icon)
	}
	if e.Render.Popup != rs.Popup {
		r.surface.UpdatePopupContent(e.Popup, rs.Popup)
	}
	e.Render = rs
}

// RetireMissingVehicles releases every live vehicle not in present,
// together with its popup, footprint and paths. It returns the retired ids.
func (r *Registry) RetireMissingVehicles(present map[core.VehicleID]struct{}) []core.VehicleID {
	return retireMissing(r.vehicles, present, func(e *VehicleEntity) {
		r.release(e.handles())
	})
}

// RetireMissingCollisions releases every live collision not in present.
func (r *Registry) RetireMissingCollisions(present map[core.CollisionID]struct{}) []core.CollisionID {
	return retireMissing(r.collisions, present, func(e *CollisionEntity) {
		r.release(e.handles())
	})
}

// Clear retires every live entity.
func (r *Registry) Clear() {
	r.RetireMissingVehicles(nil)
	r.RetireMissingCollisions(nil)
}

func (r *Registry) release(hs []view.Handle) {
	for _, h := range hs {
		r.surface.RemoveDrawable(h)
	}
}

func retireMissing[K cmp.Ordered, E any](live map[K]E, present map[K]struct{}, release func(E)) []K {
	var retired []K
	for id, e := range live {
		if _, ok := present[id]; ok {
			continue
		}
		release(e)
		delete(live, id)
		retired = append(retired, id)
	}
	slices.Sort(retired)
	return retired
}

func sortedKeys[K cmp.Ordered, E any](m map[K]E) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
