package control

import (
	"log/slog"
	"time"

	"github.com/roadsight/viewer/internal/queue"
	"github.com/roadsight/viewer/internal/timeutil"
)

// Notice is one message shown to the user.
type Notice struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notices keeps the most recent notices for the viewer and logs each one.
type Notices struct {
	q      *queue.Queue[Notice]
	clock  timeutil.Clock
	logger *slog.Logger
}

// NewNotices keeps up to limit notices.
func NewNotices(limit int, clock timeutil.Clock, logger *slog.Logger) *Notices {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notices{q: queue.NewBounded[Notice](limit), clock: clock, logger: logger}
}

// Notify records a notice.
func (n *Notices) Notify(level Level, message string) {
	n.q.Push(Notice{Level: level, Message: message, At: n.clock.Now()})
	n.logger.Info("Notice", "level", level, "message", message)
}

// Recent returns the kept notices, oldest first.
func (n *Notices) Recent() []Notice {
	return n.q.Items()
}
