package evidence

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"greenproof/models"
	"greenproof/observability"
)

// Store persists fingerprinted receipt images. Duplicate detection rides the
// unique index on content_hash so concurrent identical uploads cannot both
// insert.
type Store struct {
	db      *gorm.DB
	metrics *observability.EvidenceMetrics
	now     func() time.Time
}

// StoreOption customises the store instance.
type StoreOption func(*Store)

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) { s.now = clock }
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *observability.EvidenceMetrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// NewStore constructs an evidence store backed by the supplied database.
func NewStore(db *gorm.DB, opts ...StoreOption) *Store {
	store := &Store{
		db:      db,
		metrics: observability.Evidence(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// StoreResult reports the outcome of a Put. For duplicates it carries the
// existing record's identifiers and aggregated flags.
type StoreResult struct {
	ID          uuid.UUID
	ContentHash string
	Flags       []string
	RiskScore   int
	IsDuplicate bool
	ViewToken   string
}

// Put fingerprints and persists an upload. Byte-identical resubmission never
// creates a second row: the existing record gains the duplicate_image flag
// and its id and view token are returned with IsDuplicate set.
func (s *Store) Put(ctx context.Context, subjectID string, data []byte, mimeType string) (StoreResult, error) {
	subject := strings.TrimSpace(subjectID)
	if subject == "" {
		return StoreResult{}, fmt.Errorf("%w: subject id required", ErrInvalidInput)
	}
	if len(data) == 0 {
		return StoreResult{}, fmt.Errorf("%w: payload required", ErrInvalidInput)
	}

	hash := Fingerprint(data)
	assessment := Score(data, mimeType)
	token, err := mintViewToken()
	if err != nil {
		return StoreResult{}, fmt.Errorf("mint view token: %w", err)
	}

	record := models.EvidenceRecord{
		ID:          uuid.New(),
		SubjectID:   subject,
		ContentHash: hash,
		MimeType:    strings.ToLower(strings.TrimSpace(mimeType)),
		ByteSize:    int64(len(data)),
		Payload:     data,
		Flags:       joinFlags(assessment.Flags),
		RiskScore:   assessment.RiskScore,
		ViewToken:   token,
		UploadedAt:  s.now().UTC(),
	}

	var result StoreResult
	var newFlags []string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "content_hash"}},
			DoNothing: true,
		}).Create(&record)
		if res.Error != nil {
			return fmt.Errorf("%w: insert evidence: %v", ErrStorageFailure, res.Error)
		}
		if res.RowsAffected > 0 {
			result = StoreResult{
				ID:          record.ID,
				ContentHash: hash,
				Flags:       assessment.Flags,
				RiskScore:   assessment.RiskScore,
				ViewToken:   token,
			}
			newFlags = assessment.Flags
			return nil
		}

		var existing models.EvidenceRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&existing, "content_hash = ?", hash).Error; err != nil {
			return fmt.Errorf("%w: load duplicate: %v", ErrStorageFailure, err)
		}
		prior := SplitFlags(existing.Flags)
		flags := appendFlag(prior, FlagDuplicateImage)
		if len(flags) > len(prior) {
			newFlags = []string{FlagDuplicateImage}
		}
		risk := existing.RiskScore + weightDuplicateImage
		if risk > maxRiskScore {
			risk = maxRiskScore
		}
		if err := tx.Model(&existing).Updates(map[string]any{
			"flags":      joinFlags(flags),
			"risk_score": risk,
		}).Error; err != nil {
			return fmt.Errorf("%w: annotate duplicate: %v", ErrStorageFailure, err)
		}
		result = StoreResult{
			ID:          existing.ID,
			ContentHash: hash,
			Flags:       flags,
			RiskScore:   risk,
			IsDuplicate: true,
			ViewToken:   existing.ViewToken,
		}
		return nil
	})
	if err != nil {
		s.metrics.RecordUpload("error")
		return StoreResult{}, err
	}
	if result.IsDuplicate {
		s.metrics.RecordUpload("duplicate")
	} else {
		s.metrics.RecordUpload("stored")
	}
	for _, flag := range newFlags {
		s.metrics.RecordFlag(flag)
	}
	return result, nil
}

// ReadByToken returns the record for the subject only when the supplied
// capability token matches exactly. A subject can hold several records, each
// with its own token; every candidate is checked with a constant-time
// compare. A missing subject and a wrong token are the same ErrNotFound, so
// callers cannot enumerate record identifiers.
func (s *Store) ReadByToken(ctx context.Context, subjectID, token string) (*models.EvidenceRecord, error) {
	subject := strings.TrimSpace(subjectID)
	supplied := strings.TrimSpace(token)
	if subject == "" || supplied == "" {
		return nil, ErrNotFound
	}
	var records []models.EvidenceRecord
	err := s.db.WithContext(ctx).
		Where("subject_id = ?", subject).
		Order("uploaded_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("%w: read evidence: %v", ErrStorageFailure, err)
	}
	for i := range records {
		if subtle.ConstantTimeCompare([]byte(records[i].ViewToken), []byte(supplied)) == 1 {
			return &records[i], nil
		}
	}
	return nil, ErrNotFound
}

// MarkReviewed stamps the record with the reviewer exactly once. Supplied
// flags are unioned into the accumulated set; the pipeline never overwrites
// flags it has already attached.
func (s *Store) MarkReviewed(ctx context.Context, id uuid.UUID, reviewerID string, flags []string) error {
	reviewer := strings.TrimSpace(reviewerID)
	if reviewer == "" {
		return fmt.Errorf("%w: reviewer required", ErrInvalidInput)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.EvidenceRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&record, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("%w: load evidence: %v", ErrStorageFailure, err)
		}
		if record.ReviewedAt != nil {
			return ErrAlreadyReviewed
		}
		merged := SplitFlags(record.Flags)
		for _, flag := range flags {
			merged = appendFlag(merged, flag)
		}
		reviewedAt := s.now().UTC()
		if err := tx.Model(&record).Updates(map[string]any{
			"flags":       joinFlags(merged),
			"reviewed_at": reviewedAt,
			"reviewed_by": reviewer,
		}).Error; err != nil {
			return fmt.Errorf("%w: mark reviewed: %v", ErrStorageFailure, err)
		}
		return nil
	})
}

// ListUnreviewed returns every record still waiting on a human decision,
// oldest first.
func (s *Store) ListUnreviewed(ctx context.Context) ([]models.EvidenceRecord, error) {
	var records []models.EvidenceRecord
	err := s.db.WithContext(ctx).
		Where("reviewed_at IS NULL").
		Order("uploaded_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list unreviewed: %v", ErrStorageFailure, err)
	}
	return records, nil
}

// mintViewToken draws 128 bits from crypto/rand. The token is the only
// credential that authorises reading raw bytes back out and is never
// derivable from the record id.
func mintViewToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// SplitFlags decodes the comma-joined flag column back into a slice. An
// empty column yields an empty, non-nil slice so JSON encodes it as [].
func SplitFlags(stored string) []string {
	if strings.TrimSpace(stored) == "" {
		return []string{}
	}
	return strings.Split(stored, ",")
}

func joinFlags(flags []string) string {
	return strings.Join(flags, ",")
}

func appendFlag(flags []string, flag string) []string {
	for _, existing := range flags {
		if existing == flag {
			return flags
		}
	}
	return append(flags, flag)
}
