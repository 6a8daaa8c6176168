// pkg/core/vehicle.go
package core

// VehicleID identifies one physical vehicle for as long as it stays in
// observation. The backend reuses the same id across snapshots.
type VehicleID int64

// VehicleSnapshot is the observed state of a vehicle in one snapshot.
type VehicleSnapshot struct {
	ID              VehicleID
	Position        LatLng
	SpeedKph        float64
	Heading         float64 // degrees, 0 = north, clockwise
	IsCollisionRisk bool
	TTC             *float64 // seconds; set only when IsCollisionRisk
	Footprint       []LatLng // oriented rectangle corners, nil when unknown
}

// HasTTC reports whether a time-to-collision accompanies the vehicle.
func (v VehicleSnapshot) HasTTC() bool {
	return v.TTC != nil
}

// PathSnapshot carries the travelled and predicted path of a vehicle.
// VehicleID references VehicleSnapshot.ID.
type PathSnapshot struct {
	VehicleID     VehicleID
	ActualPath    []LatLng
	PredictedPath []LatLng
}
