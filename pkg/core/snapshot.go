package core

import "time"

// LatLng is a WGS84 coordinate.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Snapshot is one complete report of everything currently observed.
// An id missing from a snapshot means the entity left observation.
type Snapshot struct {
	Vehicles   []VehicleSnapshot
	Paths      []PathSnapshot
	Collisions []CollisionSnapshot

	// VideoBoundary is the camera footprint reported alongside the data,
	// nil when the backend did not send one.
	VideoBoundary []LatLng

	ReceivedAt time.Time
}

// VehicleIDs returns the set of vehicle ids present in the snapshot.
func (s *Snapshot) VehicleIDs() map[VehicleID]struct{} {
	ids := make(map[VehicleID]struct{}, len(s.Vehicles))
	for _, v := range s.Vehicles {
		ids[v.ID] = struct{}{}
	}
	return ids
}

// CollisionIDs returns the set of collision ids present in the snapshot.
func (s *Snapshot) CollisionIDs() map[CollisionID]struct{} {
	ids := make(map[CollisionID]struct{}, len(s.Collisions))
	for _, c := range s.Collisions {
		ids[c.ID] = struct{}{}
	}
	return ids
}

// StatusResponse is the backend processing status.
type StatusResponse struct {
	IsProcessing   bool   `json:"is_processing"`
	ObjectCount    int    `json:"object_count"`
	CollisionCount int    `json:"collision_count"`
	VideoSource    string `json:"video_source"`
}

// CommandResponse is the backend reply to start/stop processing.
type CommandResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// VideoBounds is the camera frame footprint on the map.
type VideoBounds struct {
	Corners []LatLng
	Width   int
	Height  int
}
