// Package session runs the viewer's single event loop. The registry, the
// alert feed, the bounds overlay and the control state are owned by the
// loop goroutine; everything else reaches them through Do or Exec.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/roadsight/viewer/internal/alerts"
	"github.com/roadsight/viewer/internal/control"
	"github.com/roadsight/viewer/internal/dispatcher"
	"github.com/roadsight/viewer/internal/influx"
	"github.com/roadsight/viewer/internal/overlay"
	"github.com/roadsight/viewer/internal/reconcile"
	"github.com/roadsight/viewer/internal/registry"
	"github.com/roadsight/viewer/internal/snapshot"
	"github.com/roadsight/viewer/internal/timeutil"
	"github.com/roadsight/viewer/internal/view"
	"github.com/roadsight/viewer/pkg/core"
)

// ErrStopped is returned once the loop has exited.
var ErrStopped = errors.New("session stopped")

// DefaultSweepInterval is how often expired alerts are swept.
const DefaultSweepInterval = 250 * time.Millisecond

const inboxSize = 256

// Recorder persists alerts as they are shown.
type Recorder interface {
	Record(entries ...alerts.Entry)
}

// BoundsSource fetches the camera frame footprint.
type BoundsSource interface {
	VideoBounds(ctx context.Context) (core.VideoBounds, error)
}

// Options configures a Session. Zero values select the defaults.
type Options struct {
	Clock         timeutil.Clock
	Logger        *slog.Logger
	AlertWindow   time.Duration
	SweepInterval time.Duration

	History    Recorder
	Bounds     BoundsSource
	OnSnapshot func(influx.SnapshotStats, time.Time)
}

// Session ties the map state together.
type Session struct {
	clock      timeutil.Clock
	logger     *slog.Logger
	sweepEvery time.Duration

	reconciler *reconcile.Reconciler
	feed       *alerts.Feed
	overlay    *overlay.Overlay
	decoder    *snapshot.Decoder

	history    Recorder
	bounds     BoundsSource
	onSnapshot func(influx.SnapshotStats, time.Time)

	inbox   chan func()
	stopped chan struct{}

	// loop owned
	controls       control.State
	videoSource    string
	objects        []ObjectRow
	collisionCount int
	snapshots      uint64
	lastSnapshot   time.Time
	fetching       int

	published stateBox
	in        *instruments
}

// New creates a session drawing on surface.
func New(surface view.Surface, opts Options) (*Session, error) {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}

	in, err := newInstruments()
	if err != nil {
		return nil, err
	}

	s := &Session{
		clock:      opts.Clock,
		logger:     opts.Logger,
		sweepEvery: opts.SweepInterval,
		reconciler: reconcile.New(registry.New(surface)),
		feed:       alerts.NewFeed(alerts.WithWindow(opts.AlertWindow)),
		overlay:    overlay.New(surface),
		decoder:    snapshot.NewDecoder(opts.Logger.With("component", "decoder")),
		history:    opts.History,
		bounds:     opts.Bounds,
		onSnapshot: opts.OnSnapshot,
		inbox:      make(chan func(), inboxSize),
		stopped:    make(chan struct{}),
		controls:   control.Initial(),
		in:         in,
	}
	s.publish()
	return s, nil
}

// Registry returns the entity registry. Only the loop may touch it.
func (s *Session) Registry() *registry.Registry {
	return s.reconciler.Registry()
}

// Run processes posted work and sweeps the alert feed until ctx is done.
func (s *Session) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.sweepEvery)
	defer ticker.Stop()
	defer close(s.stopped)

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.inbox:
			fn()
		case now := <-ticker.C():
			s.Tick(now)
		}
	}
}

// Do posts fn to the loop. It blocks while the inbox is full and reports
// false once the loop has stopped.
func (s *Session) Do(fn func()) bool {
	select {
	case <-s.stopped:
		return false
	default:
	}
	select {
	case s.inbox <- fn:
		return true
	case <-s.stopped:
		return false
	}
}

// Exec runs fn on the loop and waits for it to finish.
func (s *Session) Exec(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !s.Do(func() {
		defer close(done)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrStopped
	}
}

// HandleMapUpdate is the dispatcher handler for map updates. Decoding runs
// on the caller's goroutine; a payload that fails to decode changes nothing.
func (s *Session) HandleMapUpdate(e dispatcher.Event) error {
	snap, stats, err := s.decoder.Decode(e.Payload, e.ReceivedAt)
	if err != nil {
		s.in.decodeFailures.Add(context.Background(), 1)
		return fmt.Errorf("decoding map update: %w", err)
	}
	if !s.Do(func() { s.Apply(snap, stats.Skipped) }) {
		return ErrStopped
	}
	return nil
}

// Apply reconciles one decoded snapshot: the map first, then the alert
// feed, then the tables. Call it from the loop only.
func (s *Session) Apply(snap core.Snapshot, skipped int) reconcile.Result {
	started := time.Now()
	res := s.reconciler.Apply(snap)

	now := s.clock.Now()
	added := s.feed.OnCollisions(snap.Collisions, now)
	if len(added) > 0 && s.history != nil {
		s.history.Record(added...)
	}

	s.objects = objectRows(snap.Vehicles)
	s.collisionCount = len(snap.Collisions)

	if snap.VideoBoundary != nil && !s.overlay.Drawn() {
		if err := s.overlay.Apply(snap.VideoBoundary); err != nil {
			s.logger.Debug("Ignoring snapshot video boundary", "error", err)
		}
	}

	s.snapshots++
	s.lastSnapshot = snap.ReceivedAt
	if s.lastSnapshot.IsZero() {
		s.lastSnapshot = now
	}
	elapsed := time.Since(started)

	s.record(res, skipped, len(added), elapsed)
	if s.onSnapshot != nil {
		s.onSnapshot(influx.SnapshotStats{
			Vehicles:   len(snap.Vehicles),
			Collisions: len(snap.Collisions),
			Created:    res.CreatedVehicles + res.CreatedCollisions,
			Retired:    len(res.RetiredVehicles) + len(res.RetiredCollisions),
			Skipped:    skipped,
			NewAlerts:  len(added),
			Apply:      elapsed,
		}, now)
	}
	if res.OrphanPaths > 0 {
		s.logger.Debug("Paths without a vehicle ignored", "count", res.OrphanPaths)
	}

	s.publish()
	return res
}

func (s *Session) record(res reconcile.Result, skipped, added int, elapsed time.Duration) {
	ctx := context.Background()
	s.in.snapshots.Add(ctx, 1)
	s.in.applyDuration.Record(ctx, float64(elapsed.Microseconds())/1000)
	if skipped > 0 {
		s.in.skipped.Add(ctx, int64(skipped))
	}
	if added > 0 {
		s.in.alerts.Add(ctx, int64(added))
	}
	if n := len(res.RetiredVehicles); n > 0 {
		s.in.retired.Add(ctx, int64(n), metric.WithAttributes(attribute.String("class", string(registry.ClassVehicle))))
	}
	if n := len(res.RetiredCollisions); n > 0 {
		s.in.retired.Add(ctx, int64(n), metric.WithAttributes(attribute.String("class", string(registry.ClassCollision))))
	}
}

// Tick sweeps alerts whose window elapsed by now.
func (s *Session) Tick(now time.Time) {
	before := s.feed.Len()
	s.feed.Tick(now)
	if s.feed.Len() != before {
		s.publish()
	}
}

// SetStatus applies a backend status poll to the controls.
func (s *Session) SetStatus(status core.StatusResponse, at time.Time) {
	s.controls = control.StateFor(status.IsProcessing, at)
	s.videoSource = status.VideoSource
	s.publish()
}

// OnStatus posts SetStatus to the loop. It matches the poller callback.
func (s *Session) OnStatus(status core.StatusResponse, at time.Time) {
	s.Do(func() { s.SetStatus(status, at) })
}

// SetOverlayVisible shows or hides the bounds outline, fetching the bounds
// with ctx when the outline is shown but was never drawn.
func (s *Session) SetOverlayVisible(ctx context.Context, visible bool) {
	if s.overlay.SetVisible(visible) {
		s.fetchBounds(ctx)
	}
	s.publish()
}

// RefreshBounds refetches the bounds in the background and redraws the
// outline. It is safe to call from any goroutine.
func (s *Session) RefreshBounds(ctx context.Context) {
	s.Do(func() { s.fetchBounds(ctx) })
}

func (s *Session) fetchBounds(ctx context.Context) {
	if s.bounds == nil {
		return
	}
	// A request while another is outstanding issues its own fetch.
	s.fetching++
	s.publish()

	go func() {
		b, err := s.bounds.VideoBounds(ctx)
		s.Do(func() {
			s.fetching--
			defer s.publish()
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("Fetching video bounds failed", "error", err)
				}
				return
			}
			if err := s.overlay.Apply(b.Corners); err != nil {
				s.logger.Warn("Rejected video bounds", "error", err)
				return
			}
			s.logger.Debug("Video bounds applied", "width", b.Width, "height", b.Height)
		})
	}()
}
