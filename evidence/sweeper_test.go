package evidence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"greenproof/models"
)

func seedEvidence(t *testing.T, store *Store, now time.Time, age time.Duration, payload []byte) uuid.UUID {
	t.Helper()
	uploaded := now.Add(-age)
	original := store.now
	store.now = func() time.Time { return uploaded }
	defer func() { store.now = original }()
	result, err := store.Put(context.Background(), "holder", payload, "image/jpeg")
	if err != nil {
		t.Fatalf("seed evidence: %v", err)
	}
	return result.ID
}

func TestSweepDeletesExpiredOnly(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	expired := seedEvidence(t, store, now, 31*24*time.Hour, plausiblePayload(20_000))
	fresh := seedEvidence(t, store, now, 24*time.Hour, plausiblePayload(20_001))

	sweeper := NewSweeper(db, nil)
	result, err := sweeper.Sweep(context.Background(), now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Deleted != 1 {
		t.Fatalf("expected 1 deletion, got %d", result.Deleted)
	}
	if result.NewestRemaining == nil {
		t.Fatal("expected newest remaining timestamp")
	}

	var count int64
	if err := db.Model(&models.EvidenceRecord{}).Where("id = ?", expired).Count(&count).Error; err != nil {
		t.Fatalf("count expired: %v", err)
	}
	if count != 0 {
		t.Fatal("expired record survived the sweep")
	}
	if err := db.Model(&models.EvidenceRecord{}).Where("id = ?", fresh).Count(&count).Error; err != nil {
		t.Fatalf("count fresh: %v", err)
	}
	if count != 1 {
		t.Fatal("fresh record was deleted")
	}
}

func TestSweepReviewStateDoesNotExtendRetention(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	id := seedEvidence(t, store, now, 45*24*time.Hour, plausiblePayload(20_000))
	if err := store.MarkReviewed(context.Background(), id, "reviewer", nil); err != nil {
		t.Fatalf("mark reviewed: %v", err)
	}

	sweeper := NewSweeper(db, nil)
	result, err := sweeper.Sweep(context.Background(), now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Deleted != 1 {
		t.Fatalf("reviewed-but-expired record not deleted: %d", result.Deleted)
	}
}

func TestSweepIdempotent(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	seedEvidence(t, store, now, 40*24*time.Hour, plausiblePayload(20_000))

	sweeper := NewSweeper(db, nil)
	first, err := sweeper.Sweep(context.Background(), now)
	if err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if first.Deleted != 1 {
		t.Fatalf("expected 1 deletion, got %d", first.Deleted)
	}

	second, err := sweeper.Sweep(context.Background(), now)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if second.Deleted != 0 {
		t.Fatalf("second sweep deleted %d rows", second.Deleted)
	}
	if second.NewestRemaining != nil {
		t.Fatal("empty table reported a newest timestamp")
	}
}

func TestSweepCustomWindow(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	seedEvidence(t, store, now, 2*time.Hour, plausiblePayload(20_000))

	sweeper := NewSweeper(db, nil, WithWindow(time.Hour))
	result, err := sweeper.Sweep(context.Background(), now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Deleted != 1 {
		t.Fatalf("tightened window ignored: %d deletions", result.Deleted)
	}
}
