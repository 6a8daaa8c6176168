package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/roadsight/viewer/internal/influx"
	"github.com/roadsight/viewer/internal/session"
	"github.com/roadsight/viewer/internal/timeutil"
)

// DefaultInterval is the sampling period used when none is configured.
const DefaultInterval = 10 * time.Second

// StateSource exposes the published session state.
type StateSource interface {
	State() session.State
}

// HistoryStats reports the alert history write backlog.
type HistoryStats interface {
	Pending() int
	Written() uint64
}

// FrameStats reports video frames painted so far.
type FrameStats interface {
	Frames() (uint64, time.Time)
}

// PointWriter receives engine statistics points.
type PointWriter interface {
	WritePoint(point *influxdb2_write.Point) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Session    StateSource
	History    HistoryStats
	Video      FrameStats
	Influx     PointWriter
	Logger     *slog.Logger
	Clock      timeutil.Clock
	Interval   time.Duration
	StatusFile string
	Connected  func() bool
}

// EngineStatus is one sample of the engine's health.
type EngineStatus struct {
	Time           time.Time `json:"time"`
	Connected      bool      `json:"connected"`
	Processing     bool      `json:"processing"`
	Vehicles       int       `json:"vehicles"`
	Collisions     int       `json:"collisions"`
	VisibleAlerts  int       `json:"visibleAlerts"`
	Snapshots      uint64    `json:"snapshots"`
	SnapshotAge    float64   `json:"snapshotAgeSeconds"`
	HistoryPending int       `json:"historyPending"`
	HistoryWritten uint64    `json:"historyWritten"`
	VideoFrames    uint64    `json:"videoFrames"`
}

// Point converts the sample to an influx point.
func (e EngineStatus) Point() *influxdb2_write.Point {
	return influxdb2.NewPoint(
		influx.MeasurementEngine,
		map[string]string{"connected": fmt.Sprint(e.Connected)},
		map[string]any{
			"processing":      e.Processing,
			"vehicles":        e.Vehicles,
			"collisions":      e.Collisions,
			"visible_alerts":  e.VisibleAlerts,
			"snapshots":       int64(e.Snapshots),
			"snapshot_age_s":  e.SnapshotAge,
			"history_pending": e.HistoryPending,
			"history_written": int64(e.HistoryWritten),
			"video_frames":    int64(e.VideoFrames),
		},
		e.Time,
	)
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	doneChan  chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetStatus samples the engine. The returned lines are the indented JSON
// written to the status file.
func (s *Service) GetStatus() (output []string, status EngineStatus) {
	now := s.deps.Clock.Now()
	st := s.deps.Session.State()

	status = EngineStatus{
		Time:          now,
		Processing:    st.Controls.Processing,
		Vehicles:      st.Vehicles,
		Collisions:    st.Collisions,
		VisibleAlerts: len(st.Alerts),
		Snapshots:     st.Snapshots,
	}
	if !st.LastSnapshot.IsZero() {
		status.SnapshotAge = now.Sub(st.LastSnapshot).Seconds()
	}
	if s.deps.Connected != nil {
		status.Connected = s.deps.Connected()
	}
	if s.deps.History != nil {
		status.HistoryPending = s.deps.History.Pending()
		status.HistoryWritten = s.deps.History.Written()
	}
	if s.deps.Video != nil {
		status.VideoFrames, _ = s.deps.Video.Frames()
	}

	statusStr, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		statusStr = []byte(fmt.Sprintf(`{"error": "%s"}`, err))
	}
	output = append(output, string(statusStr))
	return output, status
}

// Sample takes one sample and publishes it to the log, the status file and
// influx.
func (s *Service) Sample(statusFile *os.File) EngineStatus {
	lines, status := s.GetStatus()

	s.deps.Logger.Debug("Engine status",
		"connected", status.Connected,
		"vehicles", status.Vehicles,
		"collisions", status.Collisions,
		"alerts", status.VisibleAlerts,
		"historyPending", status.HistoryPending)

	if statusFile != nil {
		if err := statusFile.Truncate(0); err == nil {
			_, _ = statusFile.Seek(0, 0)
			for _, line := range lines {
				_, _ = statusFile.WriteString(line + "\n")
			}
		}
	}

	if s.deps.Influx != nil {
		if err := s.deps.Influx.WritePoint(status.Point()); err != nil {
			s.deps.Logger.Warn("Error writing engine status to InfluxDB", "error", err)
		}
	}
	return status
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	stop, done := s.stopChan, s.doneChan
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
			close(done)
		}()

		logger := s.deps.Logger
		logger.Debug("Starting status monitor goroutine", "interval", s.deps.Interval)

		var statusFile *os.File
		if s.deps.StatusFile != "" {
			f, err := os.Create(s.deps.StatusFile)
			if err != nil {
				logger.Error("Error creating status file", "error", err)
			} else {
				statusFile = f
				defer statusFile.Close()
			}
		}

		ticker := s.deps.Clock.NewTicker(s.deps.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C():
				s.Sample(statusFile)
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for the goroutine to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.doneChan
	s.mu.Unlock()
	<-done
}
