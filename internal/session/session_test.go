package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadsight/viewer/internal/alerts"
	"github.com/roadsight/viewer/internal/control"
	"github.com/roadsight/viewer/internal/dispatcher"
	"github.com/roadsight/viewer/internal/influx"
	"github.com/roadsight/viewer/internal/timeutil"
	"github.com/roadsight/viewer/internal/view/viewtest"
	"github.com/roadsight/viewer/pkg/core"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type recordedAlerts struct {
	mu      sync.Mutex
	entries []alerts.Entry
}

func (r *recordedAlerts) Record(entries ...alerts.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entries...)
}

func (r *recordedAlerts) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

type fakeBounds struct {
	mu     sync.Mutex
	calls  int
	bounds core.VideoBounds
	err    error

	// gate, when set, holds every call until it is closed.
	gate chan struct{}
}

func (f *fakeBounds) VideoBounds(context.Context) (core.VideoBounds, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bounds, f.err
}

func (f *fakeBounds) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	s       *Session
	rec     *viewtest.Recorder
	clock   *timeutil.MockClock
	history *recordedAlerts
	bounds  *fakeBounds
	stats   []influx.SnapshotStats
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		rec:     viewtest.NewRecorder(),
		clock:   timeutil.NewMockClock(t0),
		history: &recordedAlerts{},
		bounds: &fakeBounds{bounds: core.VideoBounds{
			Corners: square(37.5, 127.0),
			Width:   1920,
			Height:  1080,
		}},
	}
	s, err := New(f.rec, Options{
		Clock:   f.clock,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		History: f.history,
		Bounds:  f.bounds,
		OnSnapshot: func(st influx.SnapshotStats, _ time.Time) {
			f.stats = append(f.stats, st)
		},
	})
	require.NoError(t, err)
	f.s = s
	return f
}

// start runs the loop until the test ends.
func (f *fixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func square(lat, lng float64) []core.LatLng {
	return []core.LatLng{
		{Lat: lat, Lng: lng},
		{Lat: lat, Lng: lng + 0.01},
		{Lat: lat + 0.01, Lng: lng + 0.01},
		{Lat: lat + 0.01, Lng: lng},
	}
}

func vehicle(id core.VehicleID, lat, lng float64, risk bool) core.VehicleSnapshot {
	return core.VehicleSnapshot{
		ID:              id,
		Position:        core.LatLng{Lat: lat, Lng: lng},
		SpeedKph:        42.26,
		IsCollisionRisk: risk,
	}
}

func collision(id core.CollisionID, ttc float64, vehicles ...core.VehicleID) core.CollisionSnapshot {
	return core.CollisionSnapshot{
		ID:         id,
		Position:   core.LatLng{Lat: 37.505, Lng: 127.035},
		VehicleIDs: vehicles,
		TTC:        ttc,
	}
}

func TestNew_InitialState(t *testing.T) {
	f := newFixture(t)

	st := f.s.State()
	assert.Empty(t, st.Alerts)
	assert.Equal(t, alerts.Placeholder, st.Placeholder)
	assert.Empty(t, st.Objects)
	assert.Equal(t, control.Initial(), st.Controls)
	assert.True(t, st.Overlay.Visible)
	assert.False(t, st.Overlay.Drawn)
	assert.Zero(t, f.rec.LiveCount())
}

func TestApply_AlertLifecycle(t *testing.T) {
	f := newFixture(t)

	// A: two vehicles about to collide.
	a := core.Snapshot{
		Vehicles:   []core.VehicleSnapshot{vehicle(1, 37.50, 127.03, true), vehicle(2, 37.51, 127.04, true)},
		Collisions: []core.CollisionSnapshot{collision("1_2", 0.8, 1, 2)},
	}
	f.s.Apply(a, 0)

	st := f.s.State()
	require.Len(t, st.Alerts, 1)
	assert.Empty(t, st.Placeholder)
	alert := st.Alerts[0]
	assert.Equal(t, core.CollisionID("1_2"), alert.CollisionID)
	assert.Equal(t, "12:00:00", alert.Time)
	assert.Equal(t, "1 & 2", alert.Vehicles)
	assert.Equal(t, "0.8s until collision", alert.TTCText)
	assert.Equal(t, core.SeverityHigh, alert.Severity)
	assert.Equal(t, 1, st.Collisions)
	assert.Equal(t, 1, st.CollisionCount)
	assert.Equal(t, 1, f.history.len())

	// B: same collision two seconds later keeps the original alert.
	f.clock.Advance(2 * time.Second)
	f.s.Apply(a, 0)
	st = f.s.State()
	require.Len(t, st.Alerts, 1)
	assert.Equal(t, t0, st.Alerts[0].DisplayedAt)
	assert.Equal(t, 1, f.history.len())

	// C: collision resolved. Marker goes, the alert stays.
	f.clock.Advance(time.Second)
	c := core.Snapshot{
		Vehicles: []core.VehicleSnapshot{vehicle(1, 37.50, 127.03, false), vehicle(2, 37.51, 127.04, false)},
	}
	res := f.s.Apply(c, 0)
	assert.Equal(t, []core.CollisionID{"1_2"}, res.RetiredCollisions)
	st = f.s.State()
	assert.Zero(t, st.Collisions)
	assert.Zero(t, st.CollisionCount)
	require.Len(t, st.Alerts, 1)

	// Window elapses.
	f.clock.Advance(2 * time.Second)
	f.s.Tick(f.clock.Now())
	st = f.s.State()
	assert.Empty(t, st.Alerts)
	assert.Equal(t, alerts.Placeholder, st.Placeholder)
}

func TestState_ExpiredAlertHiddenBeforeSweep(t *testing.T) {
	f := newFixture(t)
	f.s.Apply(core.Snapshot{
		Vehicles:   []core.VehicleSnapshot{vehicle(1, 37.50, 127.03, true), vehicle(2, 37.51, 127.04, true)},
		Collisions: []core.CollisionSnapshot{collision("1_2", 0.8, 1, 2)},
	}, 0)
	require.Len(t, f.s.State().Alerts, 1)

	// Any publish after the window drops the alert, without waiting for Tick.
	f.clock.Advance(alerts.Window)
	f.s.SetStatus(core.StatusResponse{IsProcessing: true}, f.clock.Now())

	st := f.s.State()
	assert.Empty(t, st.Alerts)
	assert.Equal(t, alerts.Placeholder, st.Placeholder)
}

func TestApply_ReappearingCollisionAfterWindow(t *testing.T) {
	f := newFixture(t)
	snap := core.Snapshot{
		Vehicles:   []core.VehicleSnapshot{vehicle(1, 37.50, 127.03, true), vehicle(2, 37.51, 127.04, true)},
		Collisions: []core.CollisionSnapshot{collision("1_2", 1.5, 1, 2)},
	}
	f.s.Apply(snap, 0)

	f.clock.Advance(alerts.Window)
	f.s.Apply(snap, 0)

	st := f.s.State()
	require.Len(t, st.Alerts, 1)
	assert.Equal(t, t0.Add(alerts.Window), st.Alerts[0].DisplayedAt)
	assert.Equal(t, core.SeverityStandard, st.Alerts[0].Severity)
	assert.Equal(t, 2, f.history.len())
}

func TestApply_ObjectsTable(t *testing.T) {
	f := newFixture(t)
	f.s.Apply(core.Snapshot{
		Vehicles: []core.VehicleSnapshot{vehicle(7, 37.1234567, 127.7654321, true)},
	}, 3)

	st := f.s.State()
	require.Len(t, st.Objects, 1)
	assert.Equal(t, ObjectRow{ID: 7, Lat: "37.123457", Lng: "127.765432", Kph: "42.3", Risk: true}, st.Objects[0])
	assert.Equal(t, 1, st.ObjectCount)
	assert.Equal(t, uint64(1), st.Snapshots)
	assert.Equal(t, t0, st.LastSnapshot)

	require.Len(t, f.stats, 1)
	assert.Equal(t, 1, f.stats[0].Vehicles)
	assert.Equal(t, 1, f.stats[0].Created)
	assert.Equal(t, 3, f.stats[0].Skipped)
}

func TestApply_VideoBoundaryOnlyWhenNotDrawn(t *testing.T) {
	f := newFixture(t)

	f.s.Apply(core.Snapshot{VideoBoundary: square(37.5, 127.0)}, 0)
	st := f.s.State()
	require.True(t, st.Overlay.Drawn)
	assert.Equal(t, square(37.5, 127.0), st.Overlay.Corners)

	f.s.Apply(core.Snapshot{VideoBoundary: square(38.0, 128.0)}, 0)
	assert.Equal(t, square(37.5, 127.0), f.s.State().Overlay.Corners)
}

func TestSetStatus(t *testing.T) {
	f := newFixture(t)

	f.s.SetStatus(core.StatusResponse{IsProcessing: true, VideoSource: "cam.mp4"}, t0)
	st := f.s.State()
	assert.Equal(t, control.StateFor(true, t0), st.Controls)
	assert.Equal(t, control.IndicatorRunning, st.Controls.Indicator)
	assert.Equal(t, "cam.mp4", st.VideoSource)

	f.s.SetStatus(core.StatusResponse{}, t0.Add(time.Second))
	st = f.s.State()
	assert.True(t, st.Controls.StartEnabled)
	assert.False(t, st.Controls.StopEnabled)
}

func TestHandleMapUpdate(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	payload := `{
	  "vehicles": [{"type": "Feature", "geometry": {"type": "Point", "coordinates": [127.03, 37.50]},
	                "properties": {"id": 1, "speed_kph": 30, "is_collision_risk": false}}],
	  "paths": [], "collisions": []
	}`
	require.NoError(t, f.s.HandleMapUpdate(dispatcher.Event{Type: "map_update", Payload: []byte(payload), ReceivedAt: t0}))

	require.Eventually(t, func() bool { return f.s.State().Snapshots == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.s.State().Vehicles)

	err := f.s.HandleMapUpdate(dispatcher.Event{Type: "map_update", Payload: []byte(`[1,2]`), ReceivedAt: t0})
	require.Error(t, err)

	// The loop is drained before checking nothing changed.
	require.NoError(t, f.s.Exec(context.Background(), func() {}))
	st := f.s.State()
	assert.Equal(t, uint64(1), st.Snapshots)
	assert.Equal(t, 1, st.Vehicles)
}

func TestOverlay_ShowFetchesWhenNothingDrawn(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()

	require.NoError(t, f.s.Exec(ctx, func() { f.s.SetOverlayVisible(ctx, false) }))
	assert.Zero(t, f.bounds.Calls())
	assert.False(t, f.s.State().Overlay.Visible)

	require.NoError(t, f.s.Exec(ctx, func() { f.s.SetOverlayVisible(ctx, true) }))
	require.Eventually(t, func() bool { return f.s.State().Overlay.Drawn }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.bounds.Calls())
	assert.False(t, f.s.State().Overlay.Pending)

	// Toggling an existing outline does not refetch.
	require.NoError(t, f.s.Exec(ctx, func() { f.s.SetOverlayVisible(ctx, false) }))
	require.NoError(t, f.s.Exec(ctx, func() { f.s.SetOverlayVisible(ctx, true) }))
	assert.Equal(t, 1, f.bounds.Calls())
}

func TestOverlay_RequestsWhileFetchPendingEachFetch(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	f.bounds.gate = gate
	f.start(t)
	ctx := context.Background()

	require.NoError(t, f.s.Exec(ctx, func() { f.s.SetOverlayVisible(ctx, true) }))
	require.Eventually(t, func() bool { return f.bounds.Calls() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, f.s.State().Overlay.Pending)

	require.NoError(t, f.s.Exec(ctx, func() { f.s.SetOverlayVisible(ctx, false) }))
	require.NoError(t, f.s.Exec(ctx, func() { f.s.SetOverlayVisible(ctx, true) }))
	f.s.RefreshBounds(ctx)
	require.Eventually(t, func() bool { return f.bounds.Calls() == 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, f.s.State().Overlay.Pending)

	close(gate)
	require.Eventually(t, func() bool {
		st := f.s.State()
		return st.Overlay.Drawn && !st.Overlay.Pending
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, square(37.5, 127.0), f.s.State().Overlay.Corners)
}

func TestRefreshBounds_FailureKeepsOutline(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()

	f.s.RefreshBounds(ctx)
	require.Eventually(t, func() bool { return f.s.State().Overlay.Drawn }, time.Second, 5*time.Millisecond)

	f.bounds.mu.Lock()
	f.bounds.err = errors.New("video bounds: no video loaded")
	f.bounds.mu.Unlock()

	f.s.RefreshBounds(ctx)
	require.Eventually(t, func() bool { return f.bounds.Calls() == 2 && !f.s.State().Overlay.Pending }, time.Second, 5*time.Millisecond)
	assert.Equal(t, square(37.5, 127.0), f.s.State().Overlay.Corners)
}

func TestDo_AfterStop(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.s.Run(ctx)
	}()
	require.NoError(t, f.s.Exec(context.Background(), func() {}))

	cancel()
	<-done

	assert.False(t, f.s.Do(func() {}))
	assert.ErrorIs(t, f.s.Exec(context.Background(), func() {}), ErrStopped)
	assert.ErrorIs(t, f.s.HandleMapUpdate(dispatcher.Event{Payload: []byte(`{"vehicles": []}`)}), ErrStopped)
}
