// Package control polls the backend processing status and runs the
// start/stop commands.
package control

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roadsight/viewer/internal/api"
	"github.com/roadsight/viewer/internal/timeutil"
	"github.com/roadsight/viewer/pkg/core"
)

// Indicator texts.
const (
	IndicatorRunning = "Collision prediction running"
	IndicatorReady   = "Ready"
)

// ServerErrorMessage is shown when a command request itself failed.
const ServerErrorMessage = "A server error occurred."

// PollInterval is the default status poll period.
const PollInterval = time.Second

// Backend is the subset of the API client the controls use.
type Backend interface {
	Status(ctx context.Context) (core.StatusResponse, error)
	StartProcessing(ctx context.Context) (core.CommandResponse, error)
	StopProcessing(ctx context.Context) (core.CommandResponse, error)
}

// State is what the status indicator and the start/stop buttons show.
type State struct {
	Processing   bool      `json:"processing"`
	Indicator    string    `json:"indicator"`
	Active       bool      `json:"active"`
	StartEnabled bool      `json:"startEnabled"`
	StopEnabled  bool      `json:"stopEnabled"`
	PolledAt     time.Time `json:"polledAt,omitzero"`
}

// Initial is the state before the first successful poll: stop disabled.
func Initial() State {
	return StateFor(false, time.Time{})
}

// StateFor derives the controls from a processing flag.
func StateFor(processing bool, polledAt time.Time) State {
	s := State{
		Processing:   processing,
		Indicator:    IndicatorReady,
		Active:       processing,
		StartEnabled: !processing,
		StopEnabled:  processing,
		PolledAt:     polledAt,
	}
	if processing {
		s.Indicator = IndicatorRunning
	}
	return s
}

// Poller queries the status on a fixed period. Polls never overlap: the next
// one starts only after the previous returned.
type Poller struct {
	backend  Backend
	clock    timeutil.Clock
	interval time.Duration
	logger   *slog.Logger
	onStatus func(core.StatusResponse, time.Time)

	mu sync.Mutex
}

// NewPoller creates a poller calling onStatus after every successful poll.
// Failed polls are logged and leave the previous state in place.
func NewPoller(backend Backend, clock timeutil.Clock, interval time.Duration, logger *slog.Logger, onStatus func(core.StatusResponse, time.Time)) *Poller {
	if interval <= 0 {
		interval = PollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		backend:  backend,
		clock:    clock,
		interval: interval,
		logger:   logger,
		onStatus: onStatus,
	}
}

// Run polls immediately and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			p.Refresh(ctx)
		}
	}
}

// Refresh performs one poll.
func (p *Poller) Refresh(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	status, err := p.backend.Status(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("Status poll failed", "error", err)
		}
		return false
	}
	p.onStatus(status, p.clock.Now())
	return true
}

// Level of a user notification.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notifier surfaces command results to the user.
type Notifier interface {
	Notify(level Level, message string)
}

// Controls runs the start/stop commands.
type Controls struct {
	backend   Backend
	notifier  Notifier
	logger    *slog.Logger
	onStarted []func(ctx context.Context)
	onChanged []func(ctx context.Context)
}

// NewControls creates the command runner.
func NewControls(backend Backend, notifier Notifier, logger *slog.Logger) *Controls {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controls{backend: backend, notifier: notifier, logger: logger}
}

// OnStarted registers fn to run after a successful start.
func (c *Controls) OnStarted(fn func(ctx context.Context)) {
	c.onStarted = append(c.onStarted, fn)
}

// OnChanged registers fn to run after any successful command.
func (c *Controls) OnChanged(fn func(ctx context.Context)) {
	c.onChanged = append(c.onChanged, fn)
}

// Start asks the backend to start processing. On success the started hooks
// run before the changed hooks.
func (c *Controls) Start(ctx context.Context) error {
	_, err := c.run(ctx, "start", c.backend.StartProcessing)
	if err != nil {
		return err
	}
	for _, fn := range c.onStarted {
		fn(ctx)
	}
	for _, fn := range c.onChanged {
		fn(ctx)
	}
	return nil
}

// Stop asks the backend to stop processing.
func (c *Controls) Stop(ctx context.Context) error {
	_, err := c.run(ctx, "stop", c.backend.StopProcessing)
	if err != nil {
		return err
	}
	for _, fn := range c.onChanged {
		fn(ctx)
	}
	return nil
}

func (c *Controls) run(ctx context.Context, name string, cmd func(context.Context) (core.CommandResponse, error)) (core.CommandResponse, error) {
	resp, err := cmd(ctx)
	if err == nil {
		c.logger.Info("Command succeeded", "command", name, "message", resp.Message)
		c.notifier.Notify(LevelInfo, resp.Message)
		return resp, nil
	}

	var cmdErr *api.CommandError
	if errors.As(err, &cmdErr) {
		c.logger.Warn("Command rejected", "command", name, "message", cmdErr.Message)
	} else {
		c.logger.Error("Command request failed", "command", name, "error", err)
	}
	c.notifier.Notify(LevelError, ErrorMessage(err))
	return resp, err
}

// ErrorMessage is the text shown to the user for a failed command: the
// backend's own message when it rejected the command, a generic one when
// the request itself failed.
func ErrorMessage(err error) string {
	var cmdErr *api.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Error()
	}
	return ServerErrorMessage
}
