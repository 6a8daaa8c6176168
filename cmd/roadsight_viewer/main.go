package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/roadsight/viewer/internal/api"
	"github.com/roadsight/viewer/internal/config"
	"github.com/roadsight/viewer/internal/control"
	"github.com/roadsight/viewer/internal/dispatcher"
	"github.com/roadsight/viewer/internal/logging"
	"github.com/roadsight/viewer/internal/monitor"
	intOtel "github.com/roadsight/viewer/internal/otel"
	"github.com/roadsight/viewer/internal/scene"
	"github.com/roadsight/viewer/internal/session"
	"github.com/roadsight/viewer/internal/timeutil"
	"github.com/roadsight/viewer/internal/transport/websocket"
	"github.com/roadsight/viewer/internal/video"
	"github.com/roadsight/viewer/internal/viewer"
	"github.com/roadsight/viewer/pkg/streaming"

	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.0.1"
	BuildDate      string = "unknown"

	ProgramName string = "roadsight_viewer"
)

// file paths
var (
	LogFilePath string
	LogFile     *os.File
)

// global variables
var (
	cfg config.Config

	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	SessionStartTime time.Time = time.Now()
	SessionID        string

	clock timeutil.Clock = timeutil.RealClock{}

	// Services
	apiClient       *api.Client
	mapScene        *scene.Scene
	viewSession     *session.Session
	eventDispatcher *dispatcher.Dispatcher
	streamClient    *websocket.Client
	canvas          *video.Canvas
	notices         *control.Notices
	controls        *control.Controls
	poller          *control.Poller
	viewerServer    *viewer.Server
	monitorService  *monitor.Service
)

const (
	mapUpdateQueue  = 64
	videoFrameQueue = 4
	noticeLimit     = 50
	shutdownTimeout = 5 * time.Second
)

func main() {
	configDir := flag.String("config", ".", "directory containing "+config.FileName)
	flag.Parse()

	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(logging.Options{Level: "INFO"})
	Logger = SlogManager.Logger()
	Logger.Info("Starting up...", "version", CurrentVersion, "buildDate", BuildDate)

	if err := loadConfig(*configDir); err != nil {
		Logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogging()
	defer closeLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		Logger.Error("Viewer stopped with error", "error", err)
		closeLogging()
		os.Exit(1)
	}
}

func loadConfig(dir string) (err error) {
	err = config.Load(dir)
	if errors.Is(err, config.ErrConfigNotFound) {
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	} else if err != nil {
		return err
	} else {
		Logger.Info("Loaded config", "dir", dir)
	}

	cfg, err = config.Get()
	return err
}

func setupLogging() {
	var err error

	LogFile, err = logging.OpenLogFile(cfg.LogsDir, ProgramName, SessionStartTime)
	if err != nil {
		Logger.Error("Failed to create/open log file!", "error", err)
	} else {
		LogFilePath = LogFile.Name()
	}

	// Initialize OTel provider if enabled (after log file is created)
	if cfg.OTel.Enabled {
		var logWriter io.Writer
		if LogFile != nil {
			logWriter = LogFile
		}
		OTelProvider, err = intOtel.New(intOtel.Config{
			Enabled:        true,
			ServiceName:    cfg.OTel.ServiceName,
			ServiceVersion: CurrentVersion,
			BatchTimeout:   cfg.OTel.BatchTimeout,
			MetricInterval: cfg.OTel.MetricInterval,
			LogWriter:      logWriter,
			Endpoint:       cfg.OTel.Endpoint,
			Insecure:       cfg.OTel.Insecure,
		})
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
			OTelProvider = nil
		} else {
			Logger.Info("OTel provider initialized", "file", LogFilePath, "endpoint", cfg.OTel.Endpoint)
		}
	}

	var graylog io.Writer
	if cfg.Graylog.Enabled {
		w, err := logging.NewGraylogWriter(cfg.Graylog.Address, ProgramName)
		if err != nil {
			Logger.Error("Failed to connect to Graylog", "error", err)
		} else {
			graylog = w
		}
	}

	// Re-setup logging with file output and optional OTel
	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}
	sessionContext, id := logging.SessionContext()
	SessionID = id

	opts := logging.Options{
		Level:    cfg.LogLevel,
		Provider: otelLogProvider,
		Graylog:  graylog,
		Context:  sessionContext,
	}
	if LogFile != nil {
		opts.File = LogFile
	}
	SlogManager.Setup(opts)
	Logger = SlogManager.Logger()
	Logger.Info("Logging to file", "path", LogFilePath, "session", SessionID)
}

func closeLogging() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := SlogManager.Flush(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "flush logs: %v\n", err)
	}
	if OTelProvider != nil {
		if err := OTelProvider.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown otel: %v\n", err)
		}
		OTelProvider = nil
	}
	if LogFile != nil {
		_ = LogFile.Close()
		LogFile = nil
	}
}

// zerologOutput is where the zerolog based components write.
func zerologOutput() io.Writer {
	if LogFile != nil {
		return LogFile
	}
	return os.Stdout
}

func run(ctx context.Context) error {
	var err error

	apiClient = api.New(cfg.API.ServerURL, cfg.API.APIKey, cfg.API.Timeout)

	if err := initStorage(ctx); err != nil {
		return err
	}
	defer closeStorage()

	mapScene = scene.New()
	canvas = video.NewCanvas()

	opts := session.Options{
		Clock:         clock,
		Logger:        Logger.With("component", "session"),
		AlertWindow:   cfg.Alerts.Window,
		SweepInterval: cfg.Alerts.SweepInterval,
		Bounds:        apiClient,
		OnSnapshot:    writeSnapshotStats,
	}
	if historyStore != nil {
		opts.History = historyStore
	}
	viewSession, err = session.New(mapScene, opts)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		viewSession.Run(ctx)
	}()

	if err := setupDispatcher(); err != nil {
		return err
	}
	defer eventDispatcher.Close()

	setupControls(ctx)

	// The outline is drawn once on start, like after every start command.
	viewSession.RefreshBounds(ctx)

	streamClient = websocket.New(websocket.Config{
		URL:          cfg.Stream.URL,
		APIKey:       cfg.API.APIKey,
		Quality:      cfg.Stream.Quality,
		MaxReconnect: cfg.Stream.MaxReconnect,
	}, eventDispatcher, Logger.With("component", "stream"))
	go connectStream(ctx)
	defer streamClient.Close()

	if cfg.Viewer.Enabled {
		viewerServer = viewer.New(viewer.Config{
			Listen:    cfg.Viewer.Listen,
			AccessLog: zerologOutput(),
			Logger:    Logger.With("component", "viewer"),
			Clock:     clock,
			Context:   ctx,
		}, viewerDeps())
		viewerServer.Start()
	}

	monitorService = monitor.NewService(monitor.Dependencies{
		Session:    viewSession,
		History:    historyStats(),
		Video:      canvas,
		Influx:     influxWriter(),
		Logger:     Logger.With("component", "monitor"),
		Clock:      clock,
		Interval:   cfg.Monitor.Interval,
		StatusFile: filepath.Join(cfg.LogsDir, "status.txt"),
		Connected:  streamClient.Connected,
	})
	if err := monitorService.Start(); err != nil {
		Logger.Error("Failed to start status monitor", "error", err)
	}
	defer monitorService.Stop()

	<-ctx.Done()
	Logger.Info("Shutting down...")

	if viewerServer != nil {
		if err := viewerServer.Shutdown(shutdownTimeout); err != nil {
			Logger.Warn("Viewer forced to shutdown", "error", err)
		}
	}
	<-sessionDone
	return nil
}

func setupDispatcher() error {
	var err error
	dispatcherLogger := logging.NewDispatcherLogger(logging.NewZerolog(zerologOutput(), cfg.LogLevel))
	eventDispatcher, err = dispatcher.New(dispatcherLogger)
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}

	// Map updates must all be applied in order, so the queue blocks instead
	// of dropping.
	eventDispatcher.Register(streaming.TypeMapUpdate, func(e dispatcher.Event) error {
		err := viewSession.HandleMapUpdate(e)
		if err != nil && !errors.Is(err, session.ErrStopped) {
			Logger.Warn("Dropping map update", "error", err)
		}
		return err
	}, dispatcher.Buffered(mapUpdateQueue), dispatcher.Blocking(), dispatcher.Logged())

	eventDispatcher.Register(streaming.TypeVideoFrame, video.Handler(canvas), dispatcher.Buffered(videoFrameQueue))

	eventDispatcher.Register(streaming.TypeConnected, func(e dispatcher.Event) error {
		Logger.Info("Stream connection acknowledged", "payload", string(e.Payload))
		return nil
	})
	return nil
}

func setupControls(ctx context.Context) {
	notices = control.NewNotices(noticeLimit, clock, Logger.With("component", "notices"))
	controls = control.NewControls(apiClient, notices, Logger.With("component", "controls"))
	poller = control.NewPoller(apiClient, clock, cfg.API.StatusInterval, Logger.With("component", "poller"), viewSession.OnStatus)

	// Hooks get the request context; the bounds fetch outlives it.
	controls.OnStarted(func(context.Context) {
		viewSession.RefreshBounds(ctx)
	})
	controls.OnChanged(func(reqCtx context.Context) {
		poller.Refresh(reqCtx)
	})

	go poller.Run(ctx)
}

// connectStream retries the first connection until it succeeds. Later drops
// are handled by the client itself.
func connectStream(ctx context.Context) {
	backoff := time.Second
	for {
		err := streamClient.Connect()
		if err == nil {
			return
		}
		Logger.Warn("Stream connection failed", "error", err, "retryIn", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}

func viewerDeps() viewer.Deps {
	deps := viewer.Deps{
		Session:  viewSession,
		Scene:    mapScene,
		Controls: controls,
		Notices:  notices,
		Video:    canvas,
	}
	if historyStore != nil {
		deps.History = historyStore
	}
	return deps
}
