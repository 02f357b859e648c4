package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BanClass enumerations for persistence.
const (
	BanClassHard = "hard"
	BanClassSoft = "soft"
)

// Leg identifies one of the three payouts composing a reward distribution.
type Leg string

// All distribution legs.
const (
	LegParticipant Leg = "participant"
	LegCreatorFund Leg = "creatorFund"
	LegAppFund     Leg = "appFund"
)

// AttemptStatus represents the lifecycle of a distribution attempt row.
type AttemptStatus string

// All attempt statuses. Rows move pending -> succeeded|failed exactly once.
const (
	AttemptPending   AttemptStatus = "pending"
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
)

// EvidenceRecord stores a fingerprinted receipt image with its fraud annotations.
// ContentHash carries the duplicate-detection unique constraint.
type EvidenceRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	SubjectID   string    `gorm:"size:64;index"`
	ContentHash string    `gorm:"size:64;uniqueIndex"`
	MimeType    string    `gorm:"size:64"`
	ByteSize    int64     `gorm:"not null"`
	Payload     []byte
	Flags       string `gorm:"type:text"`
	RiskScore   int
	ViewToken   string    `gorm:"size:64"`
	UploadedAt  time.Time `gorm:"index"`
	ReviewedAt  *time.Time
	ReviewedBy  string `gorm:"size:128"`
}

// BanRecord captures one ban action against an identity. History is retained;
// at most one row per identity is active at a time.
type BanRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Identity   string    `gorm:"size:64;index:idx_bans_identity_active"`
	BanClass   string    `gorm:"size:16"`
	Reason     string    `gorm:"size:512"`
	BannedBy   string    `gorm:"size:128"`
	BannedAt   time.Time
	IsActive   bool `gorm:"index:idx_bans_identity_active"`
	UnbannedAt *time.Time
}

// DistributionAttempt is the append-only audit row for one leg submission.
type DistributionAttempt struct {
	ID            uuid.UUID     `gorm:"type:uuid;primaryKey"`
	CorrelationID uuid.UUID     `gorm:"type:uuid;index"`
	Leg           Leg           `gorm:"size:16"`
	Recipient     string        `gorm:"size:64"`
	Amount        string        `gorm:"size:80"`
	Status        AttemptStatus `gorm:"size:16;index"`
	TxRef         *string       `gorm:"size:80"`
	Proof         string        `gorm:"type:text"`
	AttemptedAt   time.Time
	UpdatedAt     time.Time
}

// AutoMigrate performs all schema migrations for the pipeline.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&EvidenceRecord{},
		&BanRecord{},
		&DistributionAttempt{},
	)
}
