package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roadsight/viewer/pkg/core"
)

func ptr(f float64) *float64 { return &f }

func TestTTCLabel(t *testing.T) {
	tests := []struct {
		ttc  float64
		want string
	}{
		{0, "Colliding now!"},
		{2.34, "2.3s until collision"},
		{0.9, "0.9s until collision"},
		{1.0, "1.0s until collision"},
		{12, "12.0s until collision"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TTCLabel(tt.ttc))
	}
}

func TestVehiclePopup(t *testing.T) {
	safe := VehiclePopup(core.VehicleSnapshot{ID: 1, SpeedKph: 40, Heading: 90.04})
	assert.Contains(t, safe, "Vehicle ID: 1")
	assert.Contains(t, safe, "Speed: 40.0 km/h")
	assert.Contains(t, safe, "Heading: 90.0°")
	assert.Contains(t, safe, "Safe")

	risk := VehiclePopup(core.VehicleSnapshot{ID: 2, IsCollisionRisk: true, TTC: ptr(0.84)})
	assert.Contains(t, risk, "0.8s until collision")
	assert.NotContains(t, risk, "Safe")

	now := VehiclePopup(core.VehicleSnapshot{ID: 2, IsCollisionRisk: true, TTC: ptr(0)})
	assert.Contains(t, now, CollidingNow)

	unknown := VehiclePopup(core.VehicleSnapshot{ID: 2, IsCollisionRisk: true})
	assert.Contains(t, unknown, "Collision risk")
}

func TestCollisionPopup(t *testing.T) {
	p := CollisionPopup(core.CollisionSnapshot{ID: "1_2", VehicleIDs: []core.VehicleID{1, 2}, TTC: 1.25})
	assert.Contains(t, p, "Vehicles: 1 &amp; 2")
	assert.Contains(t, p, "1.2s until collision")
}

func TestVehicleRender(t *testing.T) {
	footprint := []core.LatLng{{Lat: 1, Lng: 1}, {Lat: 1, Lng: 2}, {Lat: 2, Lng: 2}, {Lat: 2, Lng: 1}}

	normal := VehicleRender(core.VehicleSnapshot{ID: 1, Heading: 45, Footprint: footprint})
	assert.Equal(t, NormalColor, normal.Icon.Color)
	assert.Equal(t, 45.0, normal.Icon.Heading)
	assert.Equal(t, VehicleZIndex, normal.ZIndex)
	assert.Equal(t, NormalColor, normal.FootprintStyle.StrokeColor)
	assert.Equal(t, NormalFill, normal.FootprintStyle.FillColor)
	assert.Equal(t, "Vehicle ID: 1", normal.Title)

	risk := VehicleRender(core.VehicleSnapshot{ID: 1, IsCollisionRisk: true, TTC: ptr(0.5)})
	assert.Equal(t, RiskColor, risk.Icon.Color)
	assert.Equal(t, RiskVehicleZIndex, risk.ZIndex)
	assert.Nil(t, risk.Footprint)
}

func TestCollisionRender_Severity(t *testing.T) {
	assert.True(t, CollisionRender(core.CollisionSnapshot{TTC: 0.9}).Icon.Pulse)
	assert.True(t, CollisionRender(core.CollisionSnapshot{TTC: 0}).Icon.Pulse)
	assert.False(t, CollisionRender(core.CollisionSnapshot{TTC: 1.0}).Icon.Pulse)

	rs := CollisionRender(core.CollisionSnapshot{ID: "3_4", TTC: 2})
	assert.Equal(t, CollisionZIndex, rs.ZIndex)
	assert.Equal(t, CollisionIconSize, rs.Icon.Size)
	assert.Equal(t, "Collision point: 3_4", rs.Title)
}

func TestPathRender(t *testing.T) {
	rs := PathRender(core.PathSnapshot{VehicleID: 1})
	assert.False(t, rs.ActualStyle.Dashed)
	assert.True(t, rs.PredictedStyle.Dashed)
	assert.Equal(t, 3, rs.ActualStyle.StrokeWeight)
}
