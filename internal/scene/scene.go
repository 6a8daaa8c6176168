// Package scene is the in-memory map surface served to viewer clients.
// Drawables carry both WGS84 and Web Mercator coordinates so clients can
// render without a projection library.
package scene

import (
	"cmp"
	"slices"
	"sync"

	"github.com/roadsight/viewer/internal/geo"
	"github.com/roadsight/viewer/internal/view"
	"github.com/roadsight/viewer/pkg/core"
)

// Kind of drawable.
type Kind string

const (
	KindPoint    Kind = "point"
	KindPolygon  Kind = "polygon"
	KindPolyline Kind = "polyline"
	KindPopup    Kind = "popup"
)

// XY is a Web Mercator position in meters.
type XY struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Drawable is one object on the map.
type Drawable struct {
	Handle  view.Handle `json:"handle"`
	Kind    Kind        `json:"kind"`
	Visible bool        `json:"visible"`
	ZIndex  int         `json:"zIndex"`

	Position *core.LatLng `json:"position,omitempty"`
	Mercator *XY          `json:"mercator,omitempty"`
	Icon     *view.Icon   `json:"icon,omitempty"`
	Title    string       `json:"title,omitempty"`

	Path         []core.LatLng    `json:"path,omitempty"`
	MercatorPath []XY             `json:"mercatorPath,omitempty"`
	Style        *view.ShapeStyle `json:"style,omitempty"`

	Anchor      view.Handle `json:"anchor,omitempty"`
	Content     string      `json:"content,omitempty"`
	BorderColor string      `json:"borderColor,omitempty"`
	BorderWidth int         `json:"borderWidth,omitempty"`
	MaxWidth    int         `json:"maxWidth,omitempty"`

	Clickable bool `json:"clickable"`
}

// View is a consistent copy of the scene.
type View struct {
	Version   uint64     `json:"version"`
	Drawables []Drawable `json:"drawables"`
}

// Scene implements view.Surface. Drawing calls come from the session loop
// while viewer requests read concurrently.
type Scene struct {
	mu      sync.RWMutex
	next    view.Handle
	version uint64
	items   map[view.Handle]*Drawable
	clicks  map[view.Handle]func()
}

// New creates an empty scene.
func New() *Scene {
	return &Scene{
		items:  make(map[view.Handle]*Drawable),
		clicks: make(map[view.Handle]func()),
	}
}

func project(ll core.LatLng) *XY {
	x, y := geo.Mercator(ll)
	return &XY{X: x, Y: y}
}

func projectPath(path []core.LatLng) []XY {
	out := make([]XY, len(path))
	for i, ll := range path {
		out[i] = *project(ll)
	}
	return out
}

func (s *Scene) add(d *Drawable) view.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.version++
	d.Handle = s.next
	s.items[d.Handle] = d
	return d.Handle
}

func (s *Scene) mutate(h view.Handle, fn func(d *Drawable)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.items[h]
	if !ok {
		return
	}
	fn(d)
	s.version++
}

func (s *Scene) DrawPoint(spec view.PointSpec) view.Handle {
	pos := spec.Position
	icon := spec.Icon
	return s.add(&Drawable{
		Kind:     KindPoint,
		Visible:  true,
		ZIndex:   spec.ZIndex,
		Position: &pos,
		Mercator: project(pos),
		Icon:     &icon,
		Title:    spec.Title,
	})
}

func (s *Scene) MovePoint(h view.Handle, pos core.LatLng) {
	s.mutate(h, func(d *Drawable) {
		d.Position = &pos
		d.Mercator = project(pos)
	})
}

func (s *Scene) SetIcon(h view.Handle, icon view.Icon) {
	s.mutate(h, func(d *Drawable) { d.Icon = &icon })
}

func (s *Scene) DrawPolygon(spec view.PolygonSpec) view.Handle {
	style := spec.Style
	return s.add(&Drawable{
		Kind:         KindPolygon,
		Visible:      spec.Visible,
		Path:         slices.Clone(spec.Path),
		MercatorPath: projectPath(spec.Path),
		Style:        &style,
	})
}

func (s *Scene) UpdatePolygonPath(h view.Handle, path []core.LatLng, style view.ShapeStyle) {
	s.mutate(h, func(d *Drawable) {
		d.Path = slices.Clone(path)
		d.MercatorPath = projectPath(path)
		d.Style = &style
	})
}

func (s *Scene) DrawPolyline(spec view.PolylineSpec) view.Handle {
	style := spec.Style
	return s.add(&Drawable{
		Kind:         KindPolyline,
		Visible:      true,
		Path:         slices.Clone(spec.Path),
		MercatorPath: projectPath(spec.Path),
		Style:        &style,
	})
}

func (s *Scene) UpdatePolylinePath(h view.Handle, path []core.LatLng) {
	s.mutate(h, func(d *Drawable) {
		d.Path = slices.Clone(path)
		d.MercatorPath = projectPath(path)
	})
}

func (s *Scene) ShowPopup(spec view.PopupSpec) view.Handle {
	return s.add(&Drawable{
		Kind:        KindPopup,
		Anchor:      spec.Anchor,
		Content:     spec.Content,
		BorderColor: spec.BorderColor,
		BorderWidth: spec.BorderWidth,
		MaxWidth:    spec.MaxWidth,
	})
}

func (s *Scene) UpdatePopupContent(h view.Handle, content string) {
	s.mutate(h, func(d *Drawable) { d.Content = content })
}

func (s *Scene) RemoveDrawable(h view.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[h]; !ok {
		return
	}
	delete(s.items, h)
	delete(s.clicks, h)
	s.version++
}

func (s *Scene) ToggleOverlayVisibility(h view.Handle, visible bool) {
	s.mutate(h, func(d *Drawable) { d.Visible = visible })
}

func (s *Scene) OnClick(h view.Handle, fn func()) {
	s.mutate(h, func(d *Drawable) {
		d.Clickable = true
		s.clicks[h] = fn
	})
}

// ClickHandler returns the click callback of h. Callbacks mutate engine
// state, so the caller must run them on the session loop.
func (s *Scene) ClickHandler(h view.Handle) (func(), bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.clicks[h]
	return fn, ok
}

// Len returns the number of drawables.
func (s *Scene) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Version increases with every change.
func (s *Scene) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Snapshot returns a copy of the scene ordered by z-index, then handle.
func (s *Scene) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := View{Version: s.version, Drawables: make([]Drawable, 0, len(s.items))}
	for _, d := range s.items {
		cp := *d
		cp.Path = slices.Clone(d.Path)
		cp.MercatorPath = slices.Clone(d.MercatorPath)
		out.Drawables = append(out.Drawables, cp)
	}
	slices.SortFunc(out.Drawables, func(a, b Drawable) int {
		return cmp.Or(cmp.Compare(a.ZIndex, b.ZIndex), cmp.Compare(a.Handle, b.Handle))
	})
	return out
}

// Get returns a copy of the drawable h.
func (s *Scene) Get(h view.Handle) (Drawable, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.items[h]
	if !ok {
		return Drawable{}, false
	}
	return *d, true
}

var _ view.Surface = (*Scene)(nil)
