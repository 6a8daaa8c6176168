package viewer

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/roadsight/viewer/internal/control"
	"github.com/roadsight/viewer/internal/history"
	"github.com/roadsight/viewer/internal/session"
	"github.com/roadsight/viewer/internal/timeutil"
	"github.com/roadsight/viewer/internal/video"
	"github.com/roadsight/viewer/internal/view"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	frameQuality        = 80
)

// Handler contains all HTTP handlers
type Handler struct {
	deps   Deps
	clock  timeutil.Clock
	logger *slog.Logger
	base   context.Context
}

// NewHandler creates a new handler
func NewHandler(cfg Config, deps Deps) *Handler {
	return &Handler{deps: deps, clock: cfg.Clock, logger: cfg.Logger, base: cfg.Context}
}

func (h *Handler) now() string {
	return h.clock.Now().Format(session.ClockFormat)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(c *fiber.Ctx) error {
	st := h.deps.Session.State()
	return c.JSON(fiber.Map{
		"status":    "ok",
		"service":   "roadsight-viewer",
		"snapshots": st.Snapshots,
	})
}

// GetState returns everything besides the map in one response.
func (h *Handler) GetState(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"clock": h.now(),
		"state": h.deps.Session.State(),
	})
}

// GetScene returns the drawables. With ?since=<version> and no change since
// that version, it answers 204.
func (h *Handler) GetScene(c *fiber.Ctx) error {
	if since := c.Query("since"); since != "" {
		v, err := strconv.ParseUint(since, 10, 64)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid scene version")
		}
		if v == h.deps.Scene.Version() {
			return c.SendStatus(fiber.StatusNoContent)
		}
	}
	return c.JSON(fiber.Map{
		"clock": h.now(),
		"scene": h.deps.Scene.Snapshot(),
	})
}

// ClickDrawable runs the click behavior of a marker on the session loop.
func (h *Handler) ClickDrawable(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("handle"), 10, 64)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid handle")
	}
	fn, ok := h.deps.Scene.ClickHandler(view.Handle(id))
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "Drawable is not clickable")
	}
	if err := h.deps.Session.Exec(c.UserContext(), fn); err != nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "Session is not running")
	}

	return c.JSON(fiber.Map{"success": true, "version": h.deps.Scene.Version()})
}

// GetAlerts returns the alert feed, newest first.
func (h *Handler) GetAlerts(c *fiber.Ctx) error {
	st := h.deps.Session.State()
	return c.JSON(fiber.Map{
		"alerts":      st.Alerts,
		"placeholder": st.Placeholder,
	})
}

// GetObjects returns the detected objects table.
func (h *Handler) GetObjects(c *fiber.Ctx) error {
	st := h.deps.Session.State()
	return c.JSON(fiber.Map{
		"objects":        st.Objects,
		"objectCount":    st.ObjectCount,
		"collisionCount": st.CollisionCount,
	})
}

// GetHistory returns persisted alerts, newest first.
func (h *Handler) GetHistory(c *fiber.Ctx) error {
	if h.deps.History == nil {
		return fiber.NewError(fiber.StatusNotFound, "Alert history is disabled")
	}
	limit := c.QueryInt("limit", defaultHistoryLimit)
	if limit < 1 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}

	records, err := h.deps.History.Recent(c.UserContext(), limit)
	if err != nil {
		h.logger.Error("Reading alert history failed", "error", err)
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to read alert history")
	}
	if records == nil {
		records = []history.AlertRecord{}
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    records,
	})
}

// GetControls returns the status indicator and button state.
func (h *Handler) GetControls(c *fiber.Ctx) error {
	return c.JSON(h.deps.Session.State().Controls)
}

// StartProcessing asks the backend to start.
func (h *Handler) StartProcessing(c *fiber.Ctx) error {
	return h.command(c, h.deps.Controls.Start)
}

// StopProcessing asks the backend to stop.
func (h *Handler) StopProcessing(c *fiber.Ctx) error {
	return h.command(c, h.deps.Controls.Stop)
}

func (h *Handler) command(c *fiber.Ctx, run func(context.Context) error) error {
	if err := run(c.UserContext()); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"success": false,
			"message": control.ErrorMessage(err),
		})
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"controls": h.deps.Session.State().Controls,
	})
}

// GetNotices returns recent user notices, oldest first.
func (h *Handler) GetNotices(c *fiber.Ctx) error {
	notices := h.deps.Notices.Recent()
	if notices == nil {
		notices = []control.Notice{}
	}
	return c.JSON(notices)
}

// GetOverlay returns the video bounds outline state.
func (h *Handler) GetOverlay(c *fiber.Ctx) error {
	return c.JSON(h.deps.Session.State().Overlay)
}

// SetOverlay shows or hides the video bounds outline: ?visible=true|false.
func (h *Handler) SetOverlay(c *fiber.Ctx) error {
	visible, err := strconv.ParseBool(c.Query("visible"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid visible flag")
	}

	s := h.deps.Session
	if err := s.Exec(c.UserContext(), func() { s.SetOverlayVisible(h.base, visible) }); err != nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "Session is not running")
	}
	return c.JSON(s.State().Overlay)
}

// GetVideoFrame returns the latest frame as JPEG.
func (h *Handler) GetVideoFrame(c *fiber.Ctx) error {
	if h.deps.Video == nil {
		return fiber.NewError(fiber.StatusNotFound, "No video frame yet")
	}
	data, err := h.deps.Video.JPEG(frameQuality)
	if errors.Is(err, video.ErrNoFrame) {
		return fiber.NewError(fiber.StatusNotFound, "No video frame yet")
	}
	if err != nil {
		h.logger.Error("Encoding video frame failed", "error", err)
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to encode video frame")
	}
	c.Set(fiber.HeaderContentType, "image/jpeg")
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(data)
}
