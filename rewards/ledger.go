package rewards

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"greenproof/models"
)

// Ledger is the append-only record of every attempted transfer. A pending
// row is written durably before each ledger call is issued, so a crash
// mid-flight leaves an auditable trace rather than silence.
type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

// LedgerOption customises the ledger instance.
type LedgerOption func(*Ledger)

// WithLedgerClock sets the function used to derive timestamps.
func WithLedgerClock(clock func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = clock }
}

// NewLedger constructs a distribution ledger backed by the supplied database.
func NewLedger(db *gorm.DB, opts ...LedgerOption) *Ledger {
	ledger := &Ledger{db: db, now: time.Now}
	for _, opt := range opts {
		opt(ledger)
	}
	return ledger
}

// Begin durably records a pending attempt for one leg before submission and
// returns the row id used to mark the terminal outcome.
func (l *Ledger) Begin(ctx context.Context, correlationID uuid.UUID, leg models.Leg, recipient, amount, proof string) (uuid.UUID, error) {
	attempt := models.DistributionAttempt{
		ID:            uuid.New(),
		CorrelationID: correlationID,
		Leg:           leg,
		Recipient:     recipient,
		Amount:        amount,
		Status:        models.AttemptPending,
		Proof:         proof,
		AttemptedAt:   l.now().UTC(),
		UpdatedAt:     l.now().UTC(),
	}
	if err := l.db.WithContext(ctx).Create(&attempt).Error; err != nil {
		return uuid.Nil, fmt.Errorf("%w: record pending attempt: %v", ErrStorageFailure, err)
	}
	return attempt.ID, nil
}

// MarkOutcome transitions a pending attempt to its terminal status. Terminal
// rows are never mutated again by this pipeline; reconciliation tooling owns
// anything beyond that.
func (l *Ledger) MarkOutcome(ctx context.Context, id uuid.UUID, status models.AttemptStatus, txRef *string) error {
	if status != models.AttemptSucceeded && status != models.AttemptFailed {
		return fmt.Errorf("%w: status %q is not terminal", ErrValidation, status)
	}
	res := l.db.WithContext(ctx).
		Model(&models.DistributionAttempt{}).
		Where("id = ? AND status = ?", id, models.AttemptPending).
		Updates(map[string]any{
			"status":     status,
			"tx_ref":     txRef,
			"updated_at": l.now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("%w: mark attempt outcome: %v", ErrStorageFailure, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: attempt %s not pending", ErrValidation, id)
	}
	return nil
}

// ListByCorrelation returns every attempt row for one distribution event,
// in submission order, for reconciliation tooling.
func (l *Ledger) ListByCorrelation(ctx context.Context, correlationID uuid.UUID) ([]models.DistributionAttempt, error) {
	var attempts []models.DistributionAttempt
	err := l.db.WithContext(ctx).
		Where("correlation_id = ?", correlationID).
		Order("attempted_at ASC").
		Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list attempts: %v", ErrStorageFailure, err)
	}
	return attempts, nil
}
