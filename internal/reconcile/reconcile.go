// Package reconcile applies snapshots to the entity registry. Each Apply is
// a full-state replacement: whatever a snapshot does not mention is retired.
package reconcile

import (
	"github.com/roadsight/viewer/internal/registry"
	"github.com/roadsight/viewer/pkg/core"
)

// Result summarizes one Apply.
type Result struct {
	CreatedVehicles   int
	UpdatedVehicles   int
	CreatedCollisions int
	UpdatedCollisions int

	RetiredVehicles   []core.VehicleID
	RetiredCollisions []core.CollisionID

	// OrphanPaths counts paths whose vehicle is not in the snapshot.
	OrphanPaths int
}

// Reconciler diffs snapshots against a registry.
type Reconciler struct {
	reg *registry.Registry
}

// New creates a Reconciler mutating reg.
func New(reg *registry.Registry) *Reconciler {
	return &Reconciler{reg: reg}
}

// Registry returns the registry the reconciler mutates.
func (r *Reconciler) Registry() *registry.Registry {
	return r.reg
}

// Apply brings the registry in line with s. It runs to completion and must
// not be called concurrently.
func (r *Reconciler) Apply(s core.Snapshot) Result {
	var res Result

	for _, v := range s.Vehicles {
		if _, ok := r.reg.Vehicle(v.ID); ok {
			res.UpdatedVehicles++
		} else {
			res.CreatedVehicles++
		}
		r.reg.UpsertVehicle(v.ID, VehicleRender(v))
	}
	res.RetiredVehicles = r.reg.RetireMissingVehicles(s.VehicleIDs())

	// Paths belong to their vehicle, so they are applied after the vehicle
	// set is settled.
	for _, p := range s.Paths {
		if !r.reg.UpsertPath(p.VehicleID, PathRender(p)) {
			res.OrphanPaths++
		}
	}

	for _, c := range s.Collisions {
		if _, ok := r.reg.Collision(c.ID); ok {
			res.UpdatedCollisions++
		} else {
			res.CreatedCollisions++
		}
		r.reg.UpsertCollision(c.ID, CollisionRender(c))
	}
	res.RetiredCollisions = r.reg.RetireMissingCollisions(s.CollisionIDs())

	return res
}
