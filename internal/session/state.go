package session

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/roadsight/viewer/internal/alerts"
	"github.com/roadsight/viewer/internal/control"
	"github.com/roadsight/viewer/internal/reconcile"
	"github.com/roadsight/viewer/internal/registry"
	"github.com/roadsight/viewer/pkg/core"
)

// ClockFormat is the layout of the wall clock shown next to the map.
const ClockFormat = "2006-01-02 15:04:05"

// alertTimeFormat is the layout of an alert's display time.
const alertTimeFormat = "15:04:05"

// ObjectRow is one line of the detected objects table.
type ObjectRow struct {
	ID   core.VehicleID `json:"id"`
	Lat  string         `json:"lat"`
	Lng  string         `json:"lng"`
	Kph  string         `json:"speed"`
	Risk bool           `json:"risk"`
}

func objectRows(vs []core.VehicleSnapshot) []ObjectRow {
	rows := make([]ObjectRow, len(vs))
	for i, v := range vs {
		rows[i] = ObjectRow{
			ID:   v.ID,
			Lat:  fmt.Sprintf("%.6f", v.Position.Lat),
			Lng:  fmt.Sprintf("%.6f", v.Position.Lng),
			Kph:  fmt.Sprintf("%.1f", v.SpeedKph),
			Risk: v.IsCollisionRisk,
		}
	}
	return rows
}

// AlertView is an alert feed entry as displayed.
type AlertView struct {
	alerts.Entry
	Time     string `json:"time"`
	Vehicles string `json:"vehicles"`
	TTCText  string `json:"ttcText"`
	Expires  string `json:"expiresAt"`
}

func alertViews(entries []alerts.Entry, window time.Duration) []AlertView {
	out := make([]AlertView, len(entries))
	for i, e := range entries {
		out[i] = AlertView{
			Entry:    e,
			Time:     e.DisplayedAt.Format(alertTimeFormat),
			Vehicles: reconcile.JoinVehicleIDs(e.VehicleIDs, " & "),
			TTCText:  reconcile.TTCLabel(e.TTC),
			Expires:  e.ExpiresAt(window).Format(time.RFC3339Nano),
		}
	}
	return out
}

// OverlayState is the video bounds outline as shown.
type OverlayState struct {
	Visible bool          `json:"visible"`
	Drawn   bool          `json:"drawn"`
	Corners []core.LatLng `json:"corners,omitempty"`
	Pending bool          `json:"pending"`
}

// State is a copy of everything the session displays besides the map.
type State struct {
	Alerts      []AlertView `json:"alerts"`
	Placeholder string      `json:"placeholder,omitempty"`

	Objects        []ObjectRow `json:"objects"`
	ObjectCount    int         `json:"objectCount"`
	CollisionCount int         `json:"collisionCount"`

	Vehicles   int `json:"vehicles"`
	Collisions int `json:"collisions"`

	Controls    control.State `json:"controls"`
	VideoSource string        `json:"videoSource,omitempty"`
	Overlay     OverlayState  `json:"overlay"`

	Snapshots    uint64    `json:"snapshots"`
	LastSnapshot time.Time `json:"lastSnapshot,omitzero"`
}

type stateBox struct {
	mu sync.RWMutex
	s  State
}

// publish copies the loop-owned state for readers on other goroutines.
func (s *Session) publish() {
	s.feed.Tick(s.clock.Now())
	st := State{
		Alerts:         alertViews(s.feed.Visible(), s.feed.Window()),
		Objects:        slices.Clone(s.objects),
		ObjectCount:    len(s.objects),
		CollisionCount: s.collisionCount,
		Vehicles:       s.reconciler.Registry().Len(registry.ClassVehicle),
		Collisions:     s.reconciler.Registry().Len(registry.ClassCollision),
		Controls:       s.controls,
		VideoSource:    s.videoSource,
		Overlay: OverlayState{
			Visible: s.overlay.Visible(),
			Drawn:   s.overlay.Drawn(),
			Corners: s.overlay.Corners(),
			Pending: s.fetching > 0,
		},
		Snapshots:    s.snapshots,
		LastSnapshot: s.lastSnapshot,
	}
	if s.feed.Placeholder() {
		st.Placeholder = alerts.Placeholder
	}
	if st.Objects == nil {
		st.Objects = []ObjectRow{}
	}

	s.published.mu.Lock()
	s.published.s = st
	s.published.mu.Unlock()
}

// State returns the most recently published state. Safe for concurrent use.
func (s *Session) State() State {
	s.published.mu.RLock()
	defer s.published.mu.RUnlock()
	return s.published.s
}
