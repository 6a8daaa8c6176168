// Package overlay draws the camera frame outline on the map.
package overlay

import (
	"fmt"
	"slices"

	"github.com/roadsight/viewer/internal/geo"
	"github.com/roadsight/viewer/internal/view"
	"github.com/roadsight/viewer/pkg/core"
)

// Color of the outline.
const Color = "#FF7F00"

// Style is the outline drawing style.
var Style = view.ShapeStyle{
	StrokeColor:   Color,
	StrokeWeight:  2,
	StrokeOpacity: 0.8,
	FillColor:     Color,
	FillOpacity:   0.1,
}

// Overlay owns the single bounds polygon. It is not safe for concurrent use.
type Overlay struct {
	surface view.Surface
	handle  view.Handle
	drawn   bool
	visible bool
	corners []core.LatLng
}

// New creates an overlay that is visible by default and has nothing drawn.
func New(surface view.Surface) *Overlay {
	return &Overlay{surface: surface, visible: true}
}

// Apply draws the outline, or moves the existing one to corners. Invalid
// outlines are rejected and leave the current one in place.
func (o *Overlay) Apply(corners []core.LatLng) error {
	ring, err := geo.Ring(corners, 3)
	if err != nil {
		return fmt.Errorf("video bounds: %w", err)
	}
	if o.drawn && slices.Equal(ring, o.corners) {
		return nil
	}

	o.corners = slices.Clone(ring)
	if !o.drawn {
		o.handle = o.surface.DrawPolygon(view.PolygonSpec{
			Path:    o.corners,
			Style:   Style,
			Visible: o.visible,
		})
		o.drawn = true
		return nil
	}
	o.surface.UpdatePolygonPath(o.handle, o.corners, Style)
	return nil
}

// SetVisible shows or hides the outline. It reports true when the outline
// should be shown but nothing has been drawn yet, so the caller must fetch
// the bounds.
func (o *Overlay) SetVisible(visible bool) (needsFetch bool) {
	o.visible = visible
	if o.drawn {
		o.surface.ToggleOverlayVisibility(o.handle, visible)
		return false
	}
	return visible
}

// Visible reports the user's visibility choice.
func (o *Overlay) Visible() bool {
	return o.visible
}

// Drawn reports whether an outline exists.
func (o *Overlay) Drawn() bool {
	return o.drawn
}

// Corners returns the current outline, nil when nothing is drawn.
func (o *Overlay) Corners() []core.LatLng {
	return slices.Clone(o.corners)
}

// Handle returns the polygon handle; valid only when Drawn.
func (o *Overlay) Handle() view.Handle {
	return o.handle
}
