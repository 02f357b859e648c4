package evidence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"greenproof/models"
	"greenproof/observability"
)

const (
	// DefaultRetentionWindow bounds how long raw evidence is held. Review
	// state does not extend it.
	DefaultRetentionWindow = 30 * 24 * time.Hour

	// DefaultSweepInterval is the cadence of the background sweep.
	DefaultSweepInterval = 24 * time.Hour
)

// Sweeper deletes evidence past the retention window. It runs in its own
// goroutine with its own failure domain; a failing sweep never touches the
// request path.
type Sweeper struct {
	db       *gorm.DB
	window   time.Duration
	interval time.Duration
	logger   *slog.Logger
	metrics  *observability.EvidenceMetrics
	now      func() time.Time
}

// SweeperOption customises the sweeper instance.
type SweeperOption func(*Sweeper)

// WithWindow overrides the retention window.
func WithWindow(window time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if window > 0 {
			s.window = window
		}
	}
}

// WithInterval overrides the sweep cadence.
func WithInterval(interval time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithSweeperClock sets the function used to derive timestamps.
func WithSweeperClock(clock func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = clock }
}

// NewSweeper constructs a retention sweeper with sane defaults.
func NewSweeper(db *gorm.DB, logger *slog.Logger, opts ...SweeperOption) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	sweeper := &Sweeper{
		db:       db,
		window:   DefaultRetentionWindow,
		interval: DefaultSweepInterval,
		logger:   logger,
		metrics:  observability.Evidence(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(sweeper)
	}
	return sweeper
}

// SweepResult summarises one sweep for observability.
type SweepResult struct {
	Deleted         int64
	NewestRemaining *time.Time
}

// Sweep deletes every record older than the retention window in a single
// transactional delete. Nothing to delete is a normal outcome, not an error.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	cutoff := now.UTC().Add(-s.window)
	var result SweepResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("uploaded_at < ?", cutoff).Delete(&models.EvidenceRecord{})
		if res.Error != nil {
			return fmt.Errorf("%w: delete expired evidence: %v", ErrStorageFailure, res.Error)
		}
		result.Deleted = res.RowsAffected

		var newest *time.Time
		row := tx.Model(&models.EvidenceRecord{}).Select("MAX(uploaded_at)").Row()
		if err := row.Scan(&newest); err == nil && newest != nil {
			utc := newest.UTC()
			result.NewestRemaining = &utc
		}
		return nil
	})
	if err != nil {
		return SweepResult{}, err
	}
	s.metrics.RecordSweep(result.Deleted)
	return result, nil
}

// Run executes the sweep on a fixed interval until the context is cancelled.
// The first sweep fires after one full interval.
func (s *Sweeper) Run(ctx context.Context) {
	if s == nil || s.db == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("retention sweep panicked", "panic", rec)
		}
	}()
	result, err := s.Sweep(ctx, s.now())
	if err != nil {
		s.logger.Error("retention sweep failed", "error", err)
		return
	}
	attrs := []any{"deleted", result.Deleted}
	if result.NewestRemaining != nil {
		attrs = append(attrs, "newest_remaining", result.NewestRemaining.Format(time.RFC3339))
	}
	s.logger.Info("retention sweep complete", attrs...)
}
