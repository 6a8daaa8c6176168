package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadsight/viewer/internal/view"
	"github.com/roadsight/viewer/internal/view/viewtest"
	"github.com/roadsight/viewer/pkg/core"
)

func vehicleRender(lat, lng float64, color string) VehicleRender {
	return VehicleRender{
		Position: core.LatLng{Lat: lat, Lng: lng},
		Icon:     view.Icon{Kind: view.IconVehicle, Color: color, Heading: 90},
		Title:    "Vehicle",
		ZIndex:   10,
		Popup:    "<b>Vehicle</b>",
	}
}

func square() []core.LatLng {
	return []core.LatLng{
		{Lat: 37.5, Lng: 127.0},
		{Lat: 37.5, Lng: 127.1},
		{Lat: 37.6, Lng: 127.1},
		{Lat: 37.6, Lng: 127.0},
	}
}

func TestRegistry_UpsertVehicle_Create(t *testing.T) {
	rec := viewtest.NewRecorder()
	reg := New(rec)

	reg.UpsertVehicle(1, vehicleRender(37.5, 127.03, "#4285F4"))

	e, ok := reg.Vehicle(1)
	require.True(t, ok)
	assert.NotZero(t, e.Marker)
	assert.NotZero(t, e.Popup)
	assert.Zero(t, e.Footprint, "no footprint supplied")
	assert.False(t, e.PopupOpen)
	assert.Equal(t, 1, reg.Len(ClassVehicle))

	marker, ok := rec.Get(e.Marker)
	require.True(t, ok)
	assert.Equal(t, viewtest.KindPoint, marker.Kind)
	assert.Equal(t, "#4285F4", marker.Icon.Color)

	popup, ok := rec.Get(e.Popup)
	require.True(t, ok)
	assert.Equal(t, e.Marker, popup.Anchor)
	assert.False(t, popup.Visible, "popups start closed")
}

func TestRegistry_UpsertVehicle_UpdatesInPlace(t *testing.T) {
	rec := viewtest.NewRecorder()
	reg := New(rec)

	reg.UpsertVehicle(1, vehicleRender(37.5, 127.03, "#4285F4"))
	first, _ := reg.Vehicle(1)
	marker := first.Marker
	created := rec.Created()

	rs := vehicleRender(37.51, 127.04, "#ff4444")
	rs.Popup = "<b>At risk</b>"
	reg.UpsertVehicle(1, rs)

	e, _ := reg.Vehicle(1)
	assert.Equal(t, marker, e.Marker, "handle must survive the update")
	assert.Equal(t, created, rec.Created(), "no new handles")

	d, _ := rec.Get(marker)
	assert.Equal(t, core.LatLng{Lat: 37.51, Lng: 127.04}, d.Position)
	assert.Equal(t, "#ff4444", d.Icon.Color)

	p, _ := rec.Get(e.Popup)
	assert.Equal(t, "<b>At risk</b>", p.Content)
}

func TestRegistry_UpsertVehicle_UnchangedIsSilent(t *testing.T) {
	rec := viewtest.NewRecorder()
	reg := New(rec)

	rs := vehicleRender(37.5, 127.03, "#4285F4")
	rs.Footprint = square()
	reg.UpsertVehicle(1, rs)
	rec.Reset()

	reg.UpsertVehicle(1, rs)

	assert.Empty(t, rec.Calls())
}

func TestRegistry_UpsertVehicle_Footprint(t *testing.T) {
	rec := viewtest.NewRecorder()
	reg := New(rec)

	rs := vehicleRender(37.5, 127.03, "#4285F4")
	reg.UpsertVehicle(1, rs)
	e, _ := reg.Vehicle(1)
	assert.Zero(t, e.Footprint)

	rs.Footprint = square()
	reg.UpsertVehicle(1, rs)
	require.NotZero(t, e.Footprint)
	footprint := e.Footprint

	// A frame without a rectangle keeps the previous outline.
	rs.Footprint = nil
	reg.UpsertVehicle(1, rs)
	assert.Equal(t, footprint, e.Footprint)
	assert.Equal(t, square(), e.Render.Footprint)
	assert.True(t, rec.Live(footprint))

	moved := square()
	moved[0].Lat = 37.55
	rs.Footprint = moved
	reg.UpsertVehicle(1, rs)
	d, _ := rec.Get(footprint)
	assert.Equal(t, moved, d.Path)
	assert.Equal(t, 1, rec.Mutations(footprint))
}

func TestRegistry_UpsertPath(t *testing.T) {
	rec := viewtest.NewRecorder()
	reg := New(rec)

	ok := reg.UpsertPath(7, PathRender{Actual: square()})
	assert.False(t, ok, "paths need a live vehicle")
	assert.Zero(t, rec.LiveCount(viewtest.KindPolyline))

	reg.UpsertVehicle(7, vehicleRender(37.5, 127.03, "#4285F4"))
	require.True(t, reg.UpsertPath(7, PathRender{Actual: square()[:2]}))

	e, _ := reg.Vehicle(7)
	assert.NotZero(t, e.Path)
	assert.Zero(t, e.PredictedPath)

	require.True(t, reg.UpsertPath(7, PathRender{Actual: square(), Predicted: square()[2:]}))
	assert.NotZero(t, e.PredictedPath)
	d, _ := rec.Get(e.Path)
	assert.Len(t, d.Path, 4)
	assert.Equal(t, 2, rec.LiveCount(viewtest.KindPolyline))
}

func TestRegistry_RetireMissingVehicles(t *testing.T) {
	rec := viewtest.NewRecorder()
	reg := New(rec)

	for _, id := range []core.VehicleID{3, 1, 2} {
		rs := vehicleRender(37.5, 127.03, "#4285F4")
		rs.Footprint = square()
		reg.UpsertVehicle(id, rs)
		reg.UpsertPath(id, PathRender{Actual: square(), Predicted: square()})
	}
	gone, _ := reg.Vehicle(1)
	handles := gone.handles()
	require.Len(t, handles, 5)

	retired := reg.RetireMissingVehicles(map[core.VehicleID]struct{}{2: {}})

	assert.Equal(t, []core.VehicleID{1, 3}, retired)
	assert.Equal(t, 1, reg.Len(ClassVehicle))
	_, ok := reg.Vehicle(1)
	assert.False(t, ok)
	for _, h := range handles {
		assert.Equal(t, 1, rec.RemoveCount(h), "handle %d released once", h)
	}

	// Retiring again releases nothing further.
	assert.Empty(t, reg.RetireMissingVehicles(map[core.VehicleID]struct{}{2: {}}))
	for _, h := range handles {
		assert.Equal(t, 1, rec.RemoveCount(h))
	}
	assert.Equal(t, 5, rec.LiveCount())
}

func TestRegistry_Collisions(t *testing.T) {
	rec := viewtest.NewRecorder()
	reg := New(rec)

	rs := CollisionRender{
		Position: core.LatLng{Lat: 37.5, Lng: 127.0},
		Icon:     view.Icon{Kind: view.IconCollision, Color: "#ff0000", Size: 32},
		ZIndex:   150,
		Popup:    "1.2s until collision",
	}
	reg.UpsertCollision("1_2", rs)
	e, ok := reg.Collision("1_2")
	require.True(t, ok)
	marker := e.Marker

	rs.Popup = "Colliding now!"
	rs.Icon.Pulse = true
	reg.UpsertCollision("1_2", rs)
	assert.Equal(t, marker, e.Marker)
	d, _ := rec.Get(marker)
	assert.True(t, d.Icon.Pulse)

	reg.UpsertCollision("3_4", rs)
	assert.Equal(t, []core.CollisionID{"1_2", "3_4"}, reg.CollisionIDs())

	retired := reg.RetireMissingCollisions(map[core.CollisionID]struct{}{"3_4": {}})
	assert.Equal(t, []core.CollisionID{"1_2"}, retired)
	assert.False(t, rec.Live(marker))
	assert.Equal(t, 1, reg.Len(ClassCollision))
}

func TestRegistry_ClickTogglesPopup(t *testing.T) {
	rec := viewtest.NewRecorder()
	reg := New(rec)

	reg.UpsertVehicle(1, vehicleRender(37.5, 127.03, "#4285F4"))
	e, _ := reg.Vehicle(1)

	require.True(t, rec.Click(e.Marker))
	assert.True(t, e.PopupOpen)
	p, _ := rec.Get(e.Popup)
	assert.True(t, p.Visible)

	// Updates keep the popup state and the original callback.
	reg.UpsertVehicle(1, vehicleRender(37.6, 127.03, "#ff4444"))
	assert.True(t, e.PopupOpen)

	require.True(t, rec.Click(e.Marker))
	assert.False(t, e.PopupOpen)
	p, _ = rec.Get(e.Popup)
	assert.False(t, p.Visible)
}

func TestRegistry_Clear(t *testing.T) {
	rec := viewtest.NewRecorder()
	reg := New(rec)

	reg.UpsertVehicle(1, vehicleRender(37.5, 127.03, "#4285F4"))
	reg.UpsertCollision("1_2", CollisionRender{})

	reg.Clear()

	assert.Zero(t, reg.Len(ClassVehicle))
	assert.Zero(t, reg.Len(ClassCollision))
	assert.Zero(t, rec.LiveCount())
	assert.Zero(t, reg.Len(Class("unknown")))
}
