package snapshot

import (
	"fmt"
	"math"
	"strconv"

	"github.com/paulmach/orb/geojson"

	"github.com/roadsight/viewer/pkg/core"
)

// parseIntFromFloat parses a string that may be an integer ("32") or a float
// ("32.0") into int64. The backend serializes numpy ids either way.
func parseIntFromFloat(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("parseIntFromFloat: %q is not a valid int64", s)
	}
	return int64(f), nil
}

// vehicleID coerces a JSON id (number or numeric string) to a VehicleID.
func vehicleID(v any) (core.VehicleID, error) {
	switch id := v.(type) {
	case float64:
		if id != math.Trunc(id) || math.IsInf(id, 0) {
			return 0, fmt.Errorf("vehicle id %v is not an integer", id)
		}
		return core.VehicleID(id), nil
	case string:
		n, err := parseIntFromFloat(id)
		if err != nil {
			return 0, fmt.Errorf("vehicle id %q: %w", id, err)
		}
		return core.VehicleID(n), nil
	case nil:
		return 0, ErrMissingID
	default:
		return 0, fmt.Errorf("vehicle id has unsupported type %T", v)
	}
}

// collisionID coerces a JSON id to a CollisionID. Numbers are formatted as
// plain decimals so that 12 and "12" name the same collision.
func collisionID(v any) (core.CollisionID, error) {
	switch id := v.(type) {
	case string:
		if id == "" {
			return "", ErrMissingID
		}
		return core.CollisionID(id), nil
	case float64:
		return core.CollisionID(strconv.FormatFloat(id, 'f', -1, 64)), nil
	case nil:
		return "", ErrMissingID
	default:
		return "", fmt.Errorf("collision id has unsupported type %T", v)
	}
}

// number reads a numeric property. Numeric strings are accepted.
func number(props geojson.Properties, key string) (float64, bool) {
	switch v := props[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// boolean reads a boolean property, treating anything else as false.
func boolean(props geojson.Properties, key string) bool {
	return props.MustBool(key, false)
}

// vehicleIDs reads a list of vehicle ids, dropping entries that cannot be
// coerced.
func vehicleIDs(props geojson.Properties, key string) []core.VehicleID {
	raw, ok := props[key].([]any)
	if !ok {
		return nil
	}
	ids := make([]core.VehicleID, 0, len(raw))
	for _, v := range raw {
		id, err := vehicleID(v)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// normalizeHeading maps any angle in degrees into [0, 360).
func normalizeHeading(deg float64) float64 {
	h := math.Mod(deg, 360)
	if h < 0 {
		h += 360
	}
	return h
}
