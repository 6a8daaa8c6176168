// Package viewer serves the map scene, the alert feed and the controls over
// HTTP for the browser front end.
package viewer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/roadsight/viewer/internal/control"
	"github.com/roadsight/viewer/internal/history"
	"github.com/roadsight/viewer/internal/scene"
	"github.com/roadsight/viewer/internal/session"
	"github.com/roadsight/viewer/internal/timeutil"
)

// Controls runs the start/stop commands.
type Controls interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// NoticeSource lists recent user notices.
type NoticeSource interface {
	Recent() []control.Notice
}

// HistorySource reads persisted alerts.
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]history.AlertRecord, error)
}

// FrameSource encodes the latest video frame.
type FrameSource interface {
	JPEG(quality int) ([]byte, error)
}

// Deps are the engine parts the routes read from. History and Video may be
// nil.
type Deps struct {
	Session  *session.Session
	Scene    *scene.Scene
	Controls Controls
	Notices  NoticeSource
	History  HistorySource
	Video    FrameSource
}

// Config configures the HTTP server.
type Config struct {
	Listen    string
	AccessLog io.Writer
	Logger    *slog.Logger
	Clock     timeutil.Clock

	// Context bounds work that outlives a request, such as a bounds fetch
	// triggered by showing the overlay.
	Context context.Context
}

// Server is the viewer HTTP server.
type Server struct {
	app    *fiber.App
	listen string
	logger *slog.Logger
}

// New builds the fiber app and registers all routes.
func New(cfg Config, deps Deps) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	if cfg.AccessLog == nil {
		cfg.AccessLog = os.Stdout
	}

	app := fiber.New(fiber.Config{
		AppName:               "Roadsight Viewer",
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler:          errorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
		Output: cfg.AccessLog,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	SetupRoutes(app, NewHandler(cfg, deps))

	return &Server{app: app, listen: cfg.Listen, logger: cfg.Logger}
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens in the background. Listen errors other than a shutdown are
// logged.
func (s *Server) Start() {
	go func() {
		s.logger.Info("Viewer listening", "address", s.listen)
		if err := s.app.Listen(s.listen); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("Viewer server error", "error", err)
		}
	}()
}

// Shutdown stops the server, waiting up to timeout for open requests.
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
