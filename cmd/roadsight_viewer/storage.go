package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/roadsight/viewer/internal/database"
	"github.com/roadsight/viewer/internal/history"
	"github.com/roadsight/viewer/internal/influx"
	"github.com/roadsight/viewer/internal/logging"
	"github.com/roadsight/viewer/internal/monitor"
)

var (
	dbManager     *database.Manager
	historyStore  *history.Store
	influxManager *influx.Manager
)

func initStorage(ctx context.Context) error {
	Logger.Debug("Initializing storage")

	if cfg.History.Enabled {
		if err := initHistory(); err != nil {
			return err
		}
	} else {
		Logger.Info("Alert history disabled")
	}

	if cfg.Influx.Enabled {
		initInflux(ctx)
	}
	return nil
}

func initHistory() error {
	dbManager = database.NewManager(database.Config{
		Driver:     cfg.History.Driver,
		SQLitePath: cfg.History.SQLitePath,
		DSN:        cfg.History.DSN,
	}, logging.NewZerolog(zerologOutput(), cfg.LogLevel).With().Str("component", "database").Logger())

	if err := dbManager.Connect(); err != nil {
		return fmt.Errorf("connect alert history database: %w", err)
	}

	var err error
	historyStore, err = history.New(dbManager.DB, SessionID, cfg.History.FlushInterval, Logger.With("component", "history"))
	if err != nil {
		return fmt.Errorf("open alert history: %w", err)
	}
	historyStore.Start()
	Logger.Info("Alert history ready", "driver", dbManager.Driver, "fellBack", dbManager.FellBack)
	return nil
}

// initInflux never fails startup: without a server the manager writes to
// its backup file, and without that the stats are only logged.
func initInflux(ctx context.Context) {
	backupPath := filepath.Join(cfg.LogsDir, fmt.Sprintf("%s_%s.influx.gz", ProgramName, SessionStartTime.Format("20060102_150405")))
	influxManager = influx.NewManager(influx.Config{
		Enabled:  cfg.Influx.Enabled,
		Protocol: cfg.Influx.Protocol,
		Host:     cfg.Influx.Host,
		Port:     cfg.Influx.Port,
		Token:    cfg.Influx.Token,
		Org:      cfg.Influx.Org,
		Bucket:   cfg.Influx.Bucket,
	}, logging.NewZerolog(zerologOutput(), cfg.LogLevel).With().Str("component", "influx").Logger(), backupPath)

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := influxManager.Connect(connectCtx); err != nil && !errors.Is(err, influx.ErrDisabled) {
		Logger.Error("Failed to set up InfluxDB output", "error", err)
	}
}

func closeStorage() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if historyStore != nil {
		if err := historyStore.Close(ctx); err != nil {
			Logger.Error("Failed to flush alert history", "error", err, "pending", historyStore.Pending())
		}
	}
	if dbManager != nil {
		if err := dbManager.Close(); err != nil {
			Logger.Warn("Failed to close database", "error", err)
		}
	}
	if influxManager != nil {
		if err := influxManager.Close(); err != nil {
			Logger.Warn("Failed to close InfluxDB output", "error", err)
		}
	}
}

// writeSnapshotStats runs on the session loop after every snapshot.
func writeSnapshotStats(s influx.SnapshotStats, at time.Time) {
	if influxManager == nil {
		return
	}
	s.Session = SessionID
	if err := influxManager.WritePoint(influx.SnapshotPoint(s, at)); err != nil {
		Logger.Debug("Failed to write snapshot stats", "error", err)
	}
}

func historyStats() monitor.HistoryStats {
	if historyStore == nil {
		return nil
	}
	return historyStore
}

func influxWriter() monitor.PointWriter {
	if influxManager == nil {
		return nil
	}
	return influxManager
}
