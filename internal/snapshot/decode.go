// Package snapshot decodes the GeoJSON map updates pushed by the prediction
// backend into core.Snapshot values.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/roadsight/viewer/internal/geo"
	"github.com/roadsight/viewer/pkg/core"
)

var (
	// ErrEmptyPayload is returned for an empty or null map update.
	ErrEmptyPayload = errors.New("empty map update payload")
	// ErrNotObject is returned when the payload is not a JSON object.
	ErrNotObject = errors.New("map update payload is not an object")
	// ErrMissingID is returned for a feature without a usable id.
	ErrMissingID = errors.New("feature has no id")
	// ErrGeometry is returned for a feature with an unexpected geometry.
	ErrGeometry = errors.New("unexpected feature geometry")
)

// Stats describes what a Decode call had to drop.
type Stats struct {
	Skipped int
}

// Decoder turns raw map update payloads into snapshots. Individual features
// that cannot be used are skipped and logged; only a payload that is not a
// JSON object at all fails the whole frame.
type Decoder struct {
	logger *slog.Logger
}

// NewDecoder creates a Decoder logging skipped features to logger.
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{logger: logger}
}

// Decode decodes one map update. The payload is either the snapshot object
// itself or a JSON string containing it.
func (d *Decoder) Decode(payload []byte, receivedAt time.Time) (core.Snapshot, Stats, error) {
	var stats Stats

	body, err := unwrap(payload)
	if err != nil {
		return core.Snapshot{}, stats, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return core.Snapshot{}, stats, fmt.Errorf("decode map update: %w", err)
	}

	snap := core.Snapshot{ReceivedAt: receivedAt}

	for i, raw := range d.array(fields, "vehicles", &stats) {
		v, err := decodeVehicle(raw)
		if err != nil {
			d.skip("vehicle", i, err, &stats)
			continue
		}
		snap.Vehicles = append(snap.Vehicles, v)
	}

	for i, raw := range d.array(fields, "paths", &stats) {
		p, err := decodePath(raw)
		if err != nil {
			d.skip("path", i, err, &stats)
			continue
		}
		snap.Paths = append(snap.Paths, p)
	}

	for i, raw := range d.array(fields, "collisions", &stats) {
		c, err := decodeCollision(raw)
		if err != nil {
			d.skip("collision", i, err, &stats)
			continue
		}
		snap.Collisions = append(snap.Collisions, c)
	}

	if raw, ok := fields["video_boundary"]; ok && !isNull(raw) {
		boundary, err := decodeBoundary(raw)
		if err != nil {
			d.skip("video_boundary", 0, err, &stats)
		} else {
			snap.VideoBoundary = boundary
		}
	}

	return snap, stats, nil
}

// array returns the elements of an optional array field. A missing, null or
// malformed field yields no elements.
func (d *Decoder) array(fields map[string]json.RawMessage, key string, stats *Stats) []json.RawMessage {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return nil
	}
	var out []json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		d.logger.Warn("ignoring malformed map update field", "field", key, "error", err)
		stats.Skipped++
		return nil
	}
	return out
}

func (d *Decoder) skip(kind string, index int, err error, stats *Stats) {
	stats.Skipped++
	d.logger.Debug("skipping feature", "kind", kind, "index", index, "error", err)
}

// unwrap strips one level of JSON string encoding.
func unwrap(payload []byte) ([]byte, error) {
	body := bytes.TrimSpace(payload)
	if len(body) == 0 || isNull(body) {
		return nil, ErrEmptyPayload
	}
	if body[0] == '"' {
		var inner string
		if err := json.Unmarshal(body, &inner); err != nil {
			return nil, fmt.Errorf("decode map update string: %w", err)
		}
		body = bytes.TrimSpace([]byte(inner))
		if len(body) == 0 || isNull(body) {
			return nil, ErrEmptyPayload
		}
	}
	if body[0] != '{' {
		return nil, ErrNotObject
	}
	return body, nil
}

func isNull(raw []byte) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// extension holds the non-standard members the backend attaches to features.
type extension struct {
	Rectangle     json.RawMessage `json:"rectangle"`
	PredictedPath json.RawMessage `json:"predicted_path"`
}

func decodeVehicle(raw json.RawMessage) (core.VehicleSnapshot, error) {
	f, err := geojson.UnmarshalFeature(raw)
	if err != nil {
		return core.VehicleSnapshot{}, err
	}
	pt, ok := f.Geometry.(orb.Point)
	if !ok {
		return core.VehicleSnapshot{}, fmt.Errorf("vehicle: %w %T", ErrGeometry, f.Geometry)
	}
	pos, err := latLng(pt)
	if err != nil {
		return core.VehicleSnapshot{}, fmt.Errorf("vehicle position: %w", err)
	}
	id, err := vehicleID(f.Properties["id"])
	if err != nil {
		return core.VehicleSnapshot{}, err
	}

	v := core.VehicleSnapshot{
		ID:              id,
		Position:        pos,
		IsCollisionRisk: boolean(f.Properties, "is_collision_risk"),
	}
	if kph, ok := number(f.Properties, "speed_kph"); ok {
		v.SpeedKph = kph
	} else if mps, ok := number(f.Properties, "speed"); ok {
		v.SpeedKph = math.Round(mps*3.6*10) / 10
	}
	v.SpeedKph = math.Max(v.SpeedKph, 0)
	if h, ok := number(f.Properties, "heading"); ok {
		v.Heading = normalizeHeading(h)
	}
	if ttc, ok := number(f.Properties, "ttc"); ok {
		ttc = math.Max(ttc, 0)
		v.TTC = &ttc
	}

	var ext extension
	if err := json.Unmarshal(raw, &ext); err == nil && len(ext.Rectangle) > 0 && !isNull(ext.Rectangle) {
		// A bad rectangle drops the outline, not the vehicle.
		if footprint, err := decodeFootprint(ext.Rectangle); err == nil {
			v.Footprint = footprint
		}
	}
	return v, nil
}

func decodeFootprint(raw json.RawMessage) ([]core.LatLng, error) {
	f, err := geojson.UnmarshalFeature(raw)
	if err != nil {
		return nil, err
	}
	poly, ok := f.Geometry.(orb.Polygon)
	if !ok || len(poly) == 0 {
		return nil, fmt.Errorf("rectangle: %w %T", ErrGeometry, f.Geometry)
	}
	ring, err := latLngs(poly[0])
	if err != nil {
		return nil, err
	}
	return geo.Footprint(ring)
}

func decodePath(raw json.RawMessage) (core.PathSnapshot, error) {
	f, err := geojson.UnmarshalFeature(raw)
	if err != nil {
		return core.PathSnapshot{}, err
	}
	id, err := vehicleID(f.Properties["vehicle_id"])
	if err != nil {
		return core.PathSnapshot{}, err
	}
	line, ok := f.Geometry.(orb.LineString)
	if !ok {
		return core.PathSnapshot{}, fmt.Errorf("path: %w %T", ErrGeometry, f.Geometry)
	}
	actual, err := latLngs(line)
	if err != nil {
		return core.PathSnapshot{}, fmt.Errorf("path: %w", err)
	}
	p := core.PathSnapshot{VehicleID: id, ActualPath: actual}

	var ext extension
	if err := json.Unmarshal(raw, &ext); err == nil && len(ext.PredictedPath) > 0 && !isNull(ext.PredictedPath) {
		if predicted, err := decodeLine(ext.PredictedPath); err == nil {
			p.PredictedPath = predicted
		}
	}
	return p, nil
}

func decodeLine(raw json.RawMessage) ([]core.LatLng, error) {
	f, err := geojson.UnmarshalFeature(raw)
	if err != nil {
		return nil, err
	}
	line, ok := f.Geometry.(orb.LineString)
	if !ok {
		return nil, fmt.Errorf("predicted path: %w %T", ErrGeometry, f.Geometry)
	}
	return latLngs(line)
}

func decodeCollision(raw json.RawMessage) (core.CollisionSnapshot, error) {
	f, err := geojson.UnmarshalFeature(raw)
	if err != nil {
		return core.CollisionSnapshot{}, err
	}
	pt, ok := f.Geometry.(orb.Point)
	if !ok {
		return core.CollisionSnapshot{}, fmt.Errorf("collision: %w %T", ErrGeometry, f.Geometry)
	}
	pos, err := latLng(pt)
	if err != nil {
		return core.CollisionSnapshot{}, fmt.Errorf("collision position: %w", err)
	}
	id, err := collisionID(f.Properties["id"])
	if err != nil {
		return core.CollisionSnapshot{}, err
	}
	ttc, ok := number(f.Properties, "ttc")
	if !ok {
		return core.CollisionSnapshot{}, fmt.Errorf("collision %s: missing ttc", id)
	}
	return core.CollisionSnapshot{
		ID:         id,
		Position:   pos,
		VehicleIDs: vehicleIDs(f.Properties, "vehicle_ids"),
		TTC:        math.Max(ttc, 0),
	}, nil
}

// decodeBoundary reads the camera footprint polygon. The backend emits its
// coordinates either as a proper ring list or as a bare ring, so the
// geometry is read leniently instead of through orb.
func decodeBoundary(raw json.RawMessage) ([]core.LatLng, error) {
	var f struct {
		Geometry struct {
			Coordinates json.RawMessage `json:"coordinates"`
		} `json:"geometry"`
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}

	var coords [][]float64
	var rings [][][]float64
	if err := json.Unmarshal(f.Geometry.Coordinates, &rings); err == nil && len(rings) > 0 {
		coords = rings[0]
	} else if err := json.Unmarshal(f.Geometry.Coordinates, &coords); err != nil {
		return nil, fmt.Errorf("video boundary coordinates: %w", err)
	}

	points := make([]core.LatLng, 0, len(coords))
	for _, c := range coords {
		ll, err := geo.LatLngFromLonLat(c)
		if err != nil {
			return nil, err
		}
		points = append(points, ll)
	}
	return geo.Ring(points, 3)
}

func latLng(p orb.Point) (core.LatLng, error) {
	return geo.LatLngFromLonLat([]float64{p.Lon(), p.Lat()})
}

func latLngs[T ~[]orb.Point](points T) ([]core.LatLng, error) {
	out := make([]core.LatLng, 0, len(points))
	for i, p := range points {
		ll, err := latLng(p)
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		out = append(out, ll)
	}
	return out, nil
}
