// Package viewtest provides an in-memory view.Surface that records every
// call, for use in tests.
package viewtest

import (
	"fmt"
	"sync"

	"github.com/roadsight/viewer/internal/view"
	"github.com/roadsight/viewer/pkg/core"
)

// Kind of drawable created by the recorder.
type Kind string

const (
	KindPoint    Kind = "point"
	KindPolygon  Kind = "polygon"
	KindPolyline Kind = "polyline"
	KindPopup    Kind = "popup"
)

// Drawable is the recorder's view of one live handle.
type Drawable struct {
	Kind     Kind
	Position core.LatLng
	Path     []core.LatLng
	Icon     view.Icon
	Style    view.ShapeStyle
	Title    string
	ZIndex   int
	Content  string
	Anchor   view.Handle
	Visible  bool
}

// Recorder implements view.Surface.
type Recorder struct {
	mu       sync.Mutex
	next     view.Handle
	live     map[view.Handle]*Drawable
	removed  map[view.Handle]int
	clicks   map[view.Handle]func()
	calls    []string
	created  int
	mutateOn map[view.Handle]int
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		live:     make(map[view.Handle]*Drawable),
		removed:  make(map[view.Handle]int),
		clicks:   make(map[view.Handle]func()),
		mutateOn: make(map[view.Handle]int),
	}
}

func (r *Recorder) add(d *Drawable, call string) view.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.live[r.next] = d
	r.created++
	r.calls = append(r.calls, fmt.Sprintf("%s(%d)", call, r.next))
	return r.next
}

func (r *Recorder) mutate(h view.Handle, call string, fn func(d *Drawable)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("%s(%d)", call, h))
	d, ok := r.live[h]
	if !ok {
		return
	}
	r.mutateOn[h]++
	fn(d)
}

func (r *Recorder) DrawPoint(spec view.PointSpec) view.Handle {
	return r.add(&Drawable{
		Kind:     KindPoint,
		Position: spec.Position,
		Icon:     spec.Icon,
		Title:    spec.Title,
		ZIndex:   spec.ZIndex,
		Visible:  true,
	}, "DrawPoint")
}

func (r *Recorder) MovePoint(h view.Handle, pos core.LatLng) {
	r.mutate(h, "MovePoint", func(d *Drawable) { d.Position = pos })
}

func (r *Recorder) SetIcon(h view.Handle, icon view.Icon) {
	r.mutate(h, "SetIcon", func(d *Drawable) { d.Icon = icon })
}

func (r *Recorder) DrawPolygon(spec view.PolygonSpec) view.Handle {
	return r.add(&Drawable{
		Kind:    KindPolygon,
		Path:    append([]core.LatLng(nil), spec.Path...),
		Style:   spec.Style,
		Visible: spec.Visible,
	}, "DrawPolygon")
}

func (r *Recorder) UpdatePolygonPath(h view.Handle, path []core.LatLng, style view.ShapeStyle) {
	r.mutate(h, "UpdatePolygonPath", func(d *Drawable) {
		d.Path = append([]core.LatLng(nil), path...)
		d.Style = style
	})
}

func (r *Recorder) DrawPolyline(spec view.PolylineSpec) view.Handle {
	return r.add(&Drawable{
		Kind:    KindPolyline,
		Path:    append([]core.LatLng(nil), spec.Path...),
		Style:   spec.Style,
		Visible: true,
	}, "DrawPolyline")
}

func (r *Recorder) UpdatePolylinePath(h view.Handle, path []core.LatLng) {
	r.mutate(h, "UpdatePolylinePath", func(d *Drawable) {
		d.Path = append([]core.LatLng(nil), path...)
	})
}

func (r *Recorder) ShowPopup(spec view.PopupSpec) view.Handle {
	return r.add(&Drawable{
		Kind:    KindPopup,
		Content: spec.Content,
		Anchor:  spec.Anchor,
	}, "ShowPopup")
}

func (r *Recorder) UpdatePopupContent(h view.Handle, content string) {
	r.mutate(h, "UpdatePopupContent", func(d *Drawable) { d.Content = content })
}

func (r *Recorder) RemoveDrawable(h view.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("RemoveDrawable(%d)", h))
	if _, ok := r.live[h]; !ok {
		return
	}
	delete(r.live, h)
	delete(r.clicks, h)
	r.removed[h]++
}

func (r *Recorder) ToggleOverlayVisibility(h view.Handle, visible bool) {
	r.mutate(h, "ToggleOverlayVisibility", func(d *Drawable) { d.Visible = visible })
}

func (r *Recorder) OnClick(h view.Handle, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[h]; ok {
		r.clicks[h] = fn
	}
}

// Click invokes the click callback of h, reporting whether one ran.
func (r *Recorder) Click(h view.Handle) bool {
	r.mu.Lock()
	fn, ok := r.clicks[h]
	r.mu.Unlock()
	if ok {
		fn()
	}
	return ok
}

// Get returns a copy of the live drawable for h.
func (r *Recorder) Get(h view.Handle) (Drawable, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.live[h]
	if !ok {
		return Drawable{}, false
	}
	return *d, true
}

// Live reports whether h is currently drawn.
func (r *Recorder) Live(h view.Handle) bool {
	_, ok := r.Get(h)
	return ok
}

// LiveCount returns the number of live drawables, optionally of one kind.
func (r *Recorder) LiveCount(kinds ...Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(kinds) == 0 {
		return len(r.live)
	}
	n := 0
	for _, d := range r.live {
		for _, k := range kinds {
			if d.Kind == k {
				n++
			}
		}
	}
	return n
}

// Created returns the number of handles ever issued.
func (r *Recorder) Created() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.created
}

// RemoveCount returns how many times h was actually released.
func (r *Recorder) RemoveCount(h view.Handle) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removed[h]
}

// Mutations returns how many in-place updates reached the live handle h.
func (r *Recorder) Mutations(h view.Handle) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mutateOn[h]
}

// Calls returns the call log.
func (r *Recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// Reset clears the call log but keeps drawables.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

var _ view.Surface = (*Recorder)(nil)
