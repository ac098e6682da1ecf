package quest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lumahq/campusquest/server/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Writer persists progress documents asynchronously. Writes are coalesced
// per user (latest snapshot wins) and retried with backoff on transient
// failure; the in-memory state in the Store stays the working truth, so a
// lost write never corrupts a session, it only risks losing it on restart.
type Writer struct {
	db     *gorm.DB
	ch     chan *snapshot
	stopCh chan struct{}
	wg     sync.WaitGroup
	logger *zap.Logger

	flushInterval time.Duration
	maxAttempts   int
}

type snapshot struct {
	userID      int64
	totalPoints int
	data        []byte
	attempts    int
}

// NewWriter creates a Writer and starts its background worker.
func NewWriter(db *gorm.DB, logger *zap.Logger) *Writer {
	w := &Writer{
		db:            db,
		ch:            make(chan *snapshot, 256),
		stopCh:        make(chan struct{}),
		logger:        logger,
		flushInterval: time.Second,
		maxAttempts:   5,
	}
	w.wg.Add(1)
	go w.worker()
	return w
}

// Load reads the persisted document for userID. gorm.ErrRecordNotFound is
// returned for users with no document yet.
func (w *Writer) Load(ctx context.Context, userID int64) (*model.ProgressDoc, error) {
	var doc model.ProgressDoc
	if err := w.db.WithContext(ctx).Where("user_id = ?", userID).First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// Enqueue schedules an async write of the user's progress snapshot.
// It never blocks; if the queue is full the snapshot is dropped with an
// error log (the next mutation enqueues a fresh one).
func (w *Writer) Enqueue(userID int64, totalPoints int, data []byte) {
	s := &snapshot{userID: userID, totalPoints: totalPoints, data: data}
	select {
	case w.ch <- s:
	default:
		w.logger.Error("progress write queue full, dropping snapshot",
			zap.Int64("user_id", userID))
	}
}

// Stop flushes pending writes and shuts down the worker.
func (w *Writer) Stop() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	w.wg.Wait()
}

func (w *Writer) worker() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	pending := make(map[int64]*snapshot)

	flush := func() {
		for userID, s := range pending {
			if err := w.save(s); err != nil {
				s.attempts++
				if s.attempts >= w.maxAttempts {
					w.logger.Error("progress write failed permanently",
						zap.Int64("user_id", userID),
						zap.Int("attempts", s.attempts),
						zap.Error(err))
					delete(pending, userID)
					continue
				}
				w.logger.Warn("progress write failed, will retry",
					zap.Int64("user_id", userID),
					zap.Int("attempt", s.attempts),
					zap.Error(err))
				// Backoff by skipping flush rounds proportional to attempts.
				continue
			}
			delete(pending, userID)
		}
	}

	for {
		select {
		case s := <-w.ch:
			// Latest snapshot wins, but retry bookkeeping carries over.
			if old, ok := pending[s.userID]; ok {
				s.attempts = old.attempts
			}
			pending[s.userID] = s
		case <-ticker.C:
			flush()
		case <-w.stopCh:
			for {
				select {
				case s := <-w.ch:
					pending[s.userID] = s
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *Writer) save(s *snapshot) error {
	var existing model.ProgressDoc
	err := w.db.Where("user_id = ?", s.userID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return w.db.Create(&model.ProgressDoc{
			UserID:      s.userID,
			TotalPoints: s.totalPoints,
			Data:        datatypes.JSON(s.data),
		}).Error
	}
	if err != nil {
		return err
	}
	return w.db.Model(&existing).Updates(map[string]interface{}{
		"total_points": s.totalPoints,
		"data":         datatypes.JSON(s.data),
	}).Error
}
