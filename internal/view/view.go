// Package view defines the drawing capabilities the engine needs from a map
// surface. Implementations own the actual rendering; the engine only holds
// opaque handles.
package view

import "github.com/roadsight/viewer/pkg/core"

// Handle is an opaque reference to a drawn object. The zero Handle is never
// issued and marks "not drawn".
type Handle uint64

// IconKind selects the marker shape a surface rasterizes.
type IconKind string

const (
	IconVehicle   IconKind = "vehicle"
	IconCollision IconKind = "collision"
)

// Icon describes a marker icon. Rasterization is the surface's concern.
type Icon struct {
	Kind    IconKind `json:"kind"`
	Color   string   `json:"color"`
	Heading float64  `json:"heading"` // degrees, 0 = north
	Pulse   bool     `json:"pulse"`
	Size    int      `json:"size"` // pixels
}

// PointSpec describes a marker.
type PointSpec struct {
	Position core.LatLng
	Icon     Icon
	Title    string
	ZIndex   int
}

// ShapeStyle describes stroke and fill of polygons and polylines.
type ShapeStyle struct {
	StrokeColor   string  `json:"strokeColor"`
	StrokeWeight  int     `json:"strokeWeight"`
	StrokeOpacity float64 `json:"strokeOpacity"`
	Dashed        bool    `json:"dashed,omitempty"`
	FillColor     string  `json:"fillColor,omitempty"`
	FillOpacity   float64 `json:"fillOpacity,omitempty"`
}

// PolygonSpec describes a closed outline; Path is open (no repeated corner).
type PolygonSpec struct {
	Path    []core.LatLng
	Style   ShapeStyle
	Visible bool
}

// PolylineSpec describes an open line.
type PolylineSpec struct {
	Path  []core.LatLng
	Style ShapeStyle
}

// PopupSpec describes an info popup anchored to a point. Popups start closed.
type PopupSpec struct {
	Anchor      Handle
	Content     string
	BorderColor string
	BorderWidth int
	MaxWidth    int
}

// Surface is the drawing API the registry and overlay target.
//
// Every call is synchronous. Calls on a handle that was already removed (or
// never issued) are no-ops, so retrying after a race is always safe.
type Surface interface {
	DrawPoint(spec PointSpec) Handle
	MovePoint(h Handle, pos core.LatLng)
	SetIcon(h Handle, icon Icon)

	DrawPolygon(spec PolygonSpec) Handle
	UpdatePolygonPath(h Handle, path []core.LatLng, style ShapeStyle)

	DrawPolyline(spec PolylineSpec) Handle
	UpdatePolylinePath(h Handle, path []core.LatLng)

	ShowPopup(spec PopupSpec) Handle
	UpdatePopupContent(h Handle, content string)

	RemoveDrawable(h Handle)
	ToggleOverlayVisibility(h Handle, visible bool)

	// OnClick registers fn to run when h is clicked. Registering twice
	// replaces the previous callback.
	OnClick(h Handle, fn func())
}
