package rewards

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"greenproof/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestLedgerBeginRecordsPending(t *testing.T) {
	db := setupTestDB(t)
	ledger := NewLedger(db)
	ctx := context.Background()

	correlationID := uuid.New()
	attemptID, err := ledger.Begin(ctx, correlationID, models.LegParticipant, "0xabc", "700", `[{"type":"claim","value":"c-1"}]`)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	var row models.DistributionAttempt
	if err := db.First(&row, "id = ?", attemptID).Error; err != nil {
		t.Fatalf("load attempt: %v", err)
	}
	if row.Status != models.AttemptPending {
		t.Fatalf("expected pending status, got %s", row.Status)
	}
	if row.CorrelationID != correlationID || row.Leg != models.LegParticipant {
		t.Fatalf("attempt fields wrong: %+v", row)
	}
	if row.TxRef != nil {
		t.Fatalf("pending attempt should not carry a tx ref: %v", *row.TxRef)
	}
}

func TestLedgerMarkOutcomeTerminalOnce(t *testing.T) {
	db := setupTestDB(t)
	ledger := NewLedger(db)
	ctx := context.Background()

	attemptID, err := ledger.Begin(ctx, uuid.New(), models.LegCreatorFund, "0xfund", "150", "")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	txRef := "0xdeadbeef"
	if err := ledger.MarkOutcome(ctx, attemptID, models.AttemptSucceeded, &txRef); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	var row models.DistributionAttempt
	if err := db.First(&row, "id = ?", attemptID).Error; err != nil {
		t.Fatalf("load attempt: %v", err)
	}
	if row.Status != models.AttemptSucceeded || row.TxRef == nil || *row.TxRef != txRef {
		t.Fatalf("terminal state wrong: %+v", row)
	}

	// Terminal rows are immutable.
	if err := ledger.MarkOutcome(ctx, attemptID, models.AttemptFailed, nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation re-marking terminal row, got %v", err)
	}
	if err := db.First(&row, "id = ?", attemptID).Error; err != nil {
		t.Fatalf("reload attempt: %v", err)
	}
	if row.Status != models.AttemptSucceeded {
		t.Fatalf("terminal row mutated: %s", row.Status)
	}
}

func TestLedgerMarkOutcomeRejectsNonTerminal(t *testing.T) {
	ledger := NewLedger(setupTestDB(t))
	if err := ledger.MarkOutcome(context.Background(), uuid.New(), models.AttemptPending, nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for pending target, got %v", err)
	}
}

func TestLedgerListByCorrelationOrder(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	ledger := NewLedger(db, WithLedgerClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	ctx := context.Background()

	correlationID := uuid.New()
	legs := []models.Leg{models.LegParticipant, models.LegCreatorFund, models.LegAppFund}
	for _, leg := range legs {
		if _, err := ledger.Begin(ctx, correlationID, leg, "0xdest", "100", ""); err != nil {
			t.Fatalf("begin %s: %v", leg, err)
		}
	}
	// A different correlation must not leak into the listing.
	if _, err := ledger.Begin(ctx, uuid.New(), models.LegParticipant, "0xother", "50", ""); err != nil {
		t.Fatalf("begin unrelated: %v", err)
	}

	attempts, err := ledger.ListByCorrelation(ctx, correlationID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(attempts))
	}
	for i, leg := range legs {
		if attempts[i].Leg != leg {
			t.Fatalf("attempt %d out of order: %s", i, attempts[i].Leg)
		}
	}
}
