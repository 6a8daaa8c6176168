package session

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/roadsight/viewer/internal/session"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

type instruments struct {
	snapshots      metric.Int64Counter
	decodeFailures metric.Int64Counter
	skipped        metric.Int64Counter
	alerts         metric.Int64Counter
	retired        metric.Int64Counter
	applyDuration  metric.Float64Histogram
}

func newInstruments() (*instruments, error) {
	m := meter()
	var (
		in  instruments
		err error
	)

	if in.snapshots, err = m.Int64Counter(
		"session.snapshots.applied",
		metric.WithDescription("Snapshots applied to the map"),
	); err != nil {
		return nil, fmt.Errorf("creating snapshots counter: %w", err)
	}
	if in.decodeFailures, err = m.Int64Counter(
		"session.snapshots.rejected",
		metric.WithDescription("Map updates that could not be decoded"),
	); err != nil {
		return nil, fmt.Errorf("creating rejected counter: %w", err)
	}
	if in.skipped, err = m.Int64Counter(
		"session.features.skipped",
		metric.WithDescription("Malformed features dropped from otherwise valid snapshots"),
	); err != nil {
		return nil, fmt.Errorf("creating skipped counter: %w", err)
	}
	if in.alerts, err = m.Int64Counter(
		"session.alerts.shown",
		metric.WithDescription("Collision alerts added to the feed"),
	); err != nil {
		return nil, fmt.Errorf("creating alerts counter: %w", err)
	}
	if in.retired, err = m.Int64Counter(
		"session.entities.retired",
		metric.WithDescription("Vehicles and collisions removed from the map"),
	); err != nil {
		return nil, fmt.Errorf("creating retired counter: %w", err)
	}
	if in.applyDuration, err = m.Float64Histogram(
		"session.apply.duration",
		metric.WithDescription("Time spent reconciling one snapshot"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("creating apply histogram: %w", err)
	}
	return &in, nil
}
