// Package alerts keeps the time-bounded collision notification list shown
// next to the map. It is independent of the map visuals: an alert outlives
// the collision marker it was raised for.
package alerts

import (
	"slices"
	"time"

	"github.com/roadsight/viewer/pkg/core"
)

// Window is how long an alert stays visible once shown.
const Window = 5 * time.Second

// Placeholder is the text shown while the feed is empty.
const Placeholder = "No collisions detected"

// Entry is one displayed collision alert.
type Entry struct {
	CollisionID core.CollisionID `json:"collisionId"`
	DisplayedAt time.Time        `json:"displayedAt"`
	VehicleIDs  []core.VehicleID `json:"vehicleIds"`
	TTC         float64          `json:"ttc"`
	Severity    core.Severity    `json:"severity"`
}

// ExpiresAt returns the instant the entry leaves the feed.
func (e Entry) ExpiresAt(window time.Duration) time.Time {
	return e.DisplayedAt.Add(window)
}

// Option configures a Feed.
type Option func(*Feed)

// WithWindow overrides the display window.
func WithWindow(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.window = d
		}
	}
}

// Feed is the de-duplicated alert list, newest first. It is not safe for
// concurrent use.
type Feed struct {
	window  time.Duration
	entries []Entry
	live    map[core.CollisionID]struct{}
}

// NewFeed creates an empty feed showing the placeholder.
func NewFeed(opts ...Option) *Feed {
	f := &Feed{
		window: Window,
		live:   make(map[core.CollisionID]struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Window returns the configured display window.
func (f *Feed) Window() time.Duration {
	return f.window
}

// OnCollisions shows an alert for every collision without a live entry and
// returns the entries created. Existing entries keep their timestamp.
// Entries that expired by now are swept first, so a collision id whose
// window elapsed is shown again.
func (f *Feed) OnCollisions(collisions []core.CollisionSnapshot, now time.Time) []Entry {
	f.sweep(now)

	var added []Entry
	for _, c := range collisions {
		if _, ok := f.live[c.ID]; ok {
			continue
		}
		e := Entry{
			CollisionID: c.ID,
			DisplayedAt: now,
			VehicleIDs:  slices.Clone(c.VehicleIDs),
			TTC:         c.TTC,
			Severity:    c.Severity(),
		}
		f.live[c.ID] = struct{}{}
		f.entries = slices.Insert(f.entries, 0, e)
		added = append(added, e)
	}
	return added
}

// Tick expires entries whose window elapsed by now and returns the entries
// still visible.
func (f *Feed) Tick(now time.Time) []Entry {
	f.sweep(now)
	return f.Visible()
}

// Visible returns a copy of the current entries, newest first.
func (f *Feed) Visible() []Entry {
	return slices.Clone(f.entries)
}

// Len returns the number of visible entries.
func (f *Feed) Len() int {
	return len(f.entries)
}

// Placeholder reports whether the feed shows the "no collisions" state.
func (f *Feed) Placeholder() bool {
	return len(f.entries) == 0
}

// Has reports whether a live entry exists for id.
func (f *Feed) Has(id core.CollisionID) bool {
	_, ok := f.live[id]
	return ok
}

func (f *Feed) sweep(now time.Time) int {
	n := 0
	f.entries = slices.DeleteFunc(f.entries, func(e Entry) bool {
		if now.Before(e.ExpiresAt(f.window)) {
			return false
		}
		delete(f.live, e.CollisionID)
		n++
		return true
	})
	return n
}
