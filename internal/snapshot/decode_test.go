package snapshot

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadsight/viewer/pkg/core"
)

func newTestDecoder() *Decoder {
	return NewDecoder(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

var receivedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

const fullPayload = `{
  "vehicles": [
    {
      "type": "Feature",
      "geometry": {"type": "Point", "coordinates": [127.03, 37.50]},
      "properties": {"id": 1, "type": "vehicle", "heading": 90.0, "speed": 11.1, "speed_kph": 40.0,
                     "timestamp": "2024-05-01T12:00:00", "is_collision_risk": true, "ttc": 0.8},
      "rectangle": {
        "type": "Feature",
        "geometry": {"type": "Polygon", "coordinates": [[[127.0, 37.5], [127.1, 37.5], [127.1, 37.6], [127.0, 37.6], [127.0, 37.5]]]}
      }
    },
    {
      "type": "Feature",
      "geometry": {"type": "Point", "coordinates": [127.04, 37.51]},
      "properties": {"id": "2.0", "heading": -90, "speed": 10, "is_collision_risk": false}
    }
  ],
  "paths": [
    {
      "type": "Feature",
      "geometry": {"type": "LineString", "coordinates": [[127.0, 37.5], [127.01, 37.5]]},
      "properties": {"id": "path_1", "vehicle_id": 1, "type": "path"},
      "predicted_path": {"type": "Feature", "geometry": {"type": "LineString", "coordinates": [[127.01, 37.5], [127.02, 37.5]]}}
    }
  ],
  "collisions": [
    {
      "type": "Feature",
      "geometry": {"type": "Point", "coordinates": [127.035, 37.505]},
      "properties": {"id": "1_2", "type": "collision", "vehicle_ids": [1, 2], "ttc": 0.8}
    }
  ],
  "video_boundary": {
    "type": "Feature",
    "geometry": {"type": "Polygon", "coordinates": [[127.0, 37.5], [127.1, 37.5], [127.1, 37.6], [127.0, 37.6]]},
    "properties": {"type": "camera_boundary"}
  }
}`

func TestDecode_Full(t *testing.T) {
	d := newTestDecoder()

	snap, stats, err := d.Decode([]byte(fullPayload), receivedAt)
	require.NoError(t, err)
	assert.Zero(t, stats.Skipped)
	assert.Equal(t, receivedAt, snap.ReceivedAt)

	require.Len(t, snap.Vehicles, 2)
	v1 := snap.Vehicles[0]
	assert.Equal(t, core.VehicleID(1), v1.ID)
	assert.Equal(t, core.LatLng{Lat: 37.50, Lng: 127.03}, v1.Position)
	assert.Equal(t, 40.0, v1.SpeedKph)
	assert.Equal(t, 90.0, v1.Heading)
	assert.True(t, v1.IsCollisionRisk)
	require.True(t, v1.HasTTC())
	assert.Equal(t, 0.8, *v1.TTC)
	require.Len(t, v1.Footprint, 4, "closing corner is stripped")
	assert.Equal(t, core.LatLng{Lat: 37.5, Lng: 127.0}, v1.Footprint[0])

	v2 := snap.Vehicles[1]
	assert.Equal(t, core.VehicleID(2), v2.ID)
	assert.Equal(t, 36.0, v2.SpeedKph, "derived from m/s")
	assert.Equal(t, 270.0, v2.Heading)
	assert.False(t, v2.HasTTC())
	assert.Nil(t, v2.Footprint)

	require.Len(t, snap.Paths, 1)
	assert.Equal(t, core.VehicleID(1), snap.Paths[0].VehicleID)
	assert.Len(t, snap.Paths[0].ActualPath, 2)
	assert.Len(t, snap.Paths[0].PredictedPath, 2)

	require.Len(t, snap.Collisions, 1)
	c := snap.Collisions[0]
	assert.Equal(t, core.CollisionID("1_2"), c.ID)
	assert.Equal(t, []core.VehicleID{1, 2}, c.VehicleIDs)
	assert.Equal(t, 0.8, c.TTC)

	assert.Len(t, snap.VideoBoundary, 4)
}

func TestDecode_StringEncoded(t *testing.T) {
	d := newTestDecoder()

	encoded, err := json.Marshal(fullPayload)
	require.NoError(t, err)

	snap, _, err := d.Decode(encoded, receivedAt)
	require.NoError(t, err)
	assert.Len(t, snap.Vehicles, 2)
	assert.Len(t, snap.Collisions, 1)
}

func TestDecode_MissingArraysAreEmpty(t *testing.T) {
	d := newTestDecoder()

	tests := []struct {
		name    string
		payload string
	}{
		{"empty object", `{}`},
		{"null collisions", `{"vehicles": [], "collisions": null}`},
		{"missing collisions", `{"vehicles": []}`},
		{"empty collisions", `{"vehicles": [], "collisions": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, stats, err := d.Decode([]byte(tt.payload), receivedAt)
			require.NoError(t, err)
			assert.Empty(t, snap.Vehicles)
			assert.Empty(t, snap.Collisions)
			assert.Zero(t, stats.Skipped)
		})
	}
}

func TestDecode_MalformedFieldIsEmpty(t *testing.T) {
	d := newTestDecoder()

	snap, stats, err := d.Decode([]byte(`{"vehicles": 5, "collisions": [{
		"type": "Feature", "geometry": {"type": "Point", "coordinates": [127, 37]},
		"properties": {"id": 12, "vehicle_ids": [3, "4"], "ttc": 0}}]}`), receivedAt)
	require.NoError(t, err)
	assert.Empty(t, snap.Vehicles)
	assert.Equal(t, 1, stats.Skipped)

	require.Len(t, snap.Collisions, 1)
	assert.Equal(t, core.CollisionID("12"), snap.Collisions[0].ID)
	assert.Equal(t, []core.VehicleID{3, 4}, snap.Collisions[0].VehicleIDs)
	assert.True(t, snap.Collisions[0].Colliding())
}

func TestDecode_SkipsBadFeatures(t *testing.T) {
	d := newTestDecoder()

	payload := `{"vehicles": [
		{"type": "Feature", "geometry": {"type": "Point", "coordinates": [127, 37]}, "properties": {}},
		{"type": "Feature", "geometry": {"type": "LineString", "coordinates": [[127, 37], [127, 38]]}, "properties": {"id": 3}},
		{"type": "Feature", "geometry": {"type": "Point", "coordinates": [127, 95]}, "properties": {"id": 4}},
		{"type": "Feature", "geometry": {"type": "Point", "coordinates": [127, 37]}, "properties": {"id": 5}}
	], "collisions": [
		{"type": "Feature", "geometry": {"type": "Point", "coordinates": [127, 37]}, "properties": {"id": "1_2"}}
	]}`

	snap, stats, err := d.Decode([]byte(payload), receivedAt)
	require.NoError(t, err)
	require.Len(t, snap.Vehicles, 1)
	assert.Equal(t, core.VehicleID(5), snap.Vehicles[0].ID)
	assert.Empty(t, snap.Collisions, "collision without ttc")
	assert.Equal(t, 4, stats.Skipped)
}

func TestDecode_BadRectangleKeepsVehicle(t *testing.T) {
	d := newTestDecoder()

	payload := `{"vehicles": [{"type": "Feature", "geometry": {"type": "Point", "coordinates": [127, 37]},
		"properties": {"id": 1},
		"rectangle": {"type": "Feature", "geometry": {"type": "Polygon", "coordinates": [[[127, 37], [127.1, 37], [127, 37]]]}}}]}`

	snap, stats, err := d.Decode([]byte(payload), receivedAt)
	require.NoError(t, err)
	require.Len(t, snap.Vehicles, 1)
	assert.Nil(t, snap.Vehicles[0].Footprint)
	assert.Zero(t, stats.Skipped)
}

func TestDecode_Errors(t *testing.T) {
	d := newTestDecoder()

	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{"empty", ``, ErrEmptyPayload},
		{"null", `null`, ErrEmptyPayload},
		{"string null", `"null"`, ErrEmptyPayload},
		{"array", `[1, 2]`, ErrNotObject},
		{"number string", `"42"`, ErrNotObject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := d.Decode([]byte(tt.payload), receivedAt)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, _, err := d.Decode([]byte(`{"vehicles": [`), receivedAt)
	assert.Error(t, err)
}

func TestVehicleID(t *testing.T) {
	tests := []struct {
		in      any
		want    core.VehicleID
		wantErr bool
	}{
		{float64(7), 7, false},
		{"7", 7, false},
		{"7.0", 7, false},
		{7.5, 0, true},
		{"x", 0, true},
		{nil, 0, true},
		{true, 0, true},
	}
	for _, tt := range tests {
		got, err := vehicleID(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %v", tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestNumber(t *testing.T) {
	tests := []struct {
		in     any
		want   float64
		wantOK bool
	}{
		{2.34, 2.34, true},
		{"2.34", 2.34, true},
		{"0", 0, true},
		{"NaN", 0, false},
		{"Inf", 0, false},
		{"-Infinity", 0, false},
		{"soon", 0, false},
		{true, 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := number(map[string]any{"ttc": tt.in}, "ttc")
		assert.Equal(t, tt.wantOK, ok, "input %v", tt.in)
		assert.Equal(t, tt.want, got, "input %v", tt.in)
	}
}

func TestDecode_NonFiniteTTCStringsRejected(t *testing.T) {
	d := newTestDecoder()

	payload := `{"vehicles": [
		{"type": "Feature", "geometry": {"type": "Point", "coordinates": [127, 37]}, "properties": {"id": 1, "ttc": "Inf"}}
	], "collisions": [
		{"type": "Feature", "geometry": {"type": "Point", "coordinates": [127, 37]}, "properties": {"id": "1_2", "ttc": "NaN"}}
	]}`

	snap, stats, err := d.Decode([]byte(payload), receivedAt)
	require.NoError(t, err)
	require.Len(t, snap.Vehicles, 1)
	assert.False(t, snap.Vehicles[0].HasTTC())
	assert.Empty(t, snap.Collisions)
	assert.Equal(t, 1, stats.Skipped)
}

func TestCollisionID(t *testing.T) {
	id, err := collisionID(float64(12))
	require.NoError(t, err)
	assert.Equal(t, core.CollisionID("12"), id)

	id, err = collisionID("3_7")
	require.NoError(t, err)
	assert.Equal(t, core.CollisionID("3_7"), id)

	_, err = collisionID("")
	assert.ErrorIs(t, err, ErrMissingID)
}
