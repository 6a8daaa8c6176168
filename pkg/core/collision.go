package core

// CollisionID identifies one evolving collision event, e.g. "3_7".
type CollisionID string

// CollisionSnapshot is a predicted (or ongoing) collision between vehicles.
type CollisionSnapshot struct {
	ID         CollisionID
	Position   LatLng
	VehicleIDs []VehicleID
	TTC        float64 // seconds, 0 = colliding now
}

// Severity buckets a collision by urgency.
type Severity string

const (
	SeverityHigh     Severity = "danger"
	SeverityStandard Severity = "warning"
)

// HighSeverityTTC is the time-to-collision below which a collision is urgent.
const HighSeverityTTC = 1.0

// SeverityFor classifies a time-to-collision in seconds.
func SeverityFor(ttc float64) Severity {
	if ttc < HighSeverityTTC {
		return SeverityHigh
	}
	return SeverityStandard
}

// Severity returns the urgency bucket of the collision.
func (c CollisionSnapshot) Severity() Severity {
	return SeverityFor(c.TTC)
}

// Colliding reports whether the collision is happening now.
func (c CollisionSnapshot) Colliding() bool {
	return c.TTC == 0
}
