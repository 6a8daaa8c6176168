// Package history persists every alert that was shown, in the background.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/roadsight/viewer/internal/alerts"
	"github.com/roadsight/viewer/internal/queue"
)

// pendingLimit bounds the in-memory backlog while the database is unreachable.
const pendingLimit = 10_000

// AlertRecord is one shown alert.
type AlertRecord struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	SessionID   string         `gorm:"size:36;index" json:"sessionId"`
	CollisionID string         `gorm:"size:64;index" json:"collisionId"`
	VehicleIDs  datatypes.JSON `json:"vehicleIds"`
	TTC         float64        `json:"ttc"`
	Severity    string         `gorm:"size:16" json:"severity"`
	DisplayedAt time.Time      `gorm:"index" json:"displayedAt"`
}

// TableName sets the table name.
func (AlertRecord) TableName() string {
	return "alert_history"
}

// FromEntry converts a feed entry.
func FromEntry(sessionID string, e alerts.Entry) AlertRecord {
	ids, err := json.Marshal(e.VehicleIDs)
	if err != nil || e.VehicleIDs == nil {
		ids = []byte("[]")
	}
	return AlertRecord{
		SessionID:   sessionID,
		CollisionID: string(e.CollisionID),
		VehicleIDs:  datatypes.JSON(ids),
		TTC:         e.TTC,
		Severity:    string(e.Severity),
		DisplayedAt: e.DisplayedAt,
	}
}

// Store queues records and writes them in batches.
type Store struct {
	db        *gorm.DB
	sessionID string
	pending   *queue.Queue[AlertRecord]
	interval  time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	written  uint64
	lastErr  error
	stopChan chan struct{}
	done     chan struct{}
}

// New migrates the history table and returns a store for db.
func New(db *gorm.DB, sessionID string, interval time.Duration, logger *slog.Logger) (*Store, error) {
	if err := db.AutoMigrate(&AlertRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate alert history: %w", err)
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:        db,
		sessionID: sessionID,
		pending:   queue.NewBounded[AlertRecord](pendingLimit),
		interval:  interval,
		logger:    logger,
	}, nil
}

// Record queues entries for the next flush. It never blocks on the database.
func (s *Store) Record(entries ...alerts.Entry) {
	for _, e := range entries {
		s.pending.Push(FromEntry(s.sessionID, e))
	}
}

// Pending returns the number of queued records.
func (s *Store) Pending() int {
	return s.pending.Len()
}

// Written returns how many records reached the database.
func (s *Store) Written() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Flush writes all queued records. On failure they are put back.
func (s *Store) Flush(ctx context.Context) error {
	batch := s.pending.GetAndEmpty()
	if len(batch) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).CreateInBatches(&batch, 500).Error

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.pending.Requeue(batch)
		s.lastErr = err
		return fmt.Errorf("write alert history: %w", err)
	}
	s.written += uint64(len(batch))
	s.lastErr = nil
	return nil
}

// Start runs the periodic flush until Close.
func (s *Store) Start() {
	s.mu.Lock()
	if s.stopChan != nil {
		s.mu.Unlock()
		return
	}
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				if err := s.Flush(context.Background()); err != nil {
					s.logger.Error("Alert history flush failed", "error", err, "pending", s.Pending())
				}
			}
		}
	}()
}

// Close stops the flush loop and writes what is left.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	stop, done := s.stopChan, s.done
	s.stopChan = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return s.Flush(ctx)
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]AlertRecord, error) {
	var out []AlertRecord
	err := s.db.WithContext(ctx).
		Order("displayed_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query alert history: %w", err)
	}
	return out, nil
}

// CountByCollision returns how many times an alert was shown for id.
func (s *Store) CountByCollision(ctx context.Context, id string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&AlertRecord{}).Where("collision_id = ?", id).Count(&n).Error
	return n, err
}
