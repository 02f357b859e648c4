package bans

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"greenproof/models"
)

var (
	ErrIdentityRequired = errors.New("bans: identity required")
	ErrInvalidClass     = errors.New("bans: invalid ban class")
	ErrStorageFailure   = errors.New("bans: storage failure")
)

// Registry answers "may this identity receive rewards?" against the durable
// ban table. Identities are wallet addresses, normalised to lowercase on
// every read and write.
type Registry struct {
	db  *gorm.DB
	now func() time.Time
}

// RegistryOption customises the registry instance.
type RegistryOption func(*Registry)

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = clock }
}

// NewRegistry constructs a ban registry backed by the supplied database.
func NewRegistry(db *gorm.DB, opts ...RegistryOption) *Registry {
	registry := &Registry{db: db, now: time.Now}
	for _, opt := range opts {
		opt(registry)
	}
	return registry
}

// Status reports whether an identity currently carries an active ban.
type Status struct {
	Banned   bool
	BanClass string
	Reason   string
}

// Gate is the distribution gating decision for an identity. Soft bans do not
// block but route the claim to a human reviewer.
type Gate struct {
	Blocked              bool
	Reason               string
	RequiresManualReview bool
}

// Normalize lowercases and trims a wallet identity. All registry operations
// apply it, so callers comparing identities should too.
func Normalize(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// CheckStatus returns the active ban for the identity, if any. Absence of a
// ban is the normal case, not an error.
func (r *Registry) CheckStatus(ctx context.Context, identity string) (Status, error) {
	normalized := Normalize(identity)
	if normalized == "" {
		return Status{}, ErrIdentityRequired
	}
	var record models.BanRecord
	err := r.db.WithContext(ctx).
		First(&record, "identity = ? AND is_active = ?", normalized, true).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Status{}, nil
		}
		return Status{}, fmt.Errorf("%w: query ban: %v", ErrStorageFailure, err)
	}
	return Status{Banned: true, BanClass: record.BanClass, Reason: record.Reason}, nil
}

// ShouldBlockReward applies ban precedence: an active hard ban refuses
// issuance before any on-chain call; an active soft ban defers to manual
// review without blocking or alerting the identity.
func (r *Registry) ShouldBlockReward(ctx context.Context, identity string) (Gate, error) {
	status, err := r.CheckStatus(ctx, identity)
	if err != nil {
		return Gate{}, err
	}
	if !status.Banned {
		return Gate{}, nil
	}
	if status.BanClass == models.BanClassHard {
		return Gate{Blocked: true, Reason: status.Reason}, nil
	}
	return Gate{RequiresManualReview: true, Reason: status.Reason}, nil
}

// Add activates a ban for the identity. An existing active ban is updated in
// place so the table never holds two simultaneously active rows.
func (r *Registry) Add(ctx context.Context, identity, class, reason, actor string) error {
	normalized := Normalize(identity)
	if normalized == "" {
		return ErrIdentityRequired
	}
	class = strings.ToLower(strings.TrimSpace(class))
	if class != models.BanClassHard && class != models.BanClassSoft {
		return fmt.Errorf("%w: %q", ErrInvalidClass, class)
	}
	bannedAt := r.now().UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.BanRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&existing, "identity = ? AND is_active = ?", normalized, true).Error
		switch {
		case err == nil:
			if err := tx.Model(&existing).Updates(map[string]any{
				"ban_class": class,
				"reason":    strings.TrimSpace(reason),
				"banned_by": strings.TrimSpace(actor),
				"banned_at": bannedAt,
			}).Error; err != nil {
				return fmt.Errorf("%w: update ban: %v", ErrStorageFailure, err)
			}
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			record := models.BanRecord{
				ID:       uuid.New(),
				Identity: normalized,
				BanClass: class,
				Reason:   strings.TrimSpace(reason),
				BannedBy: strings.TrimSpace(actor),
				BannedAt: bannedAt,
				IsActive: true,
			}
			if err := tx.Create(&record).Error; err != nil {
				return fmt.Errorf("%w: insert ban: %v", ErrStorageFailure, err)
			}
			return nil
		default:
			return fmt.Errorf("%w: query ban: %v", ErrStorageFailure, err)
		}
	})
}

// Remove deactivates the current active ban, if any, and reports whether
// anything changed. History stays in the table for audit.
func (r *Registry) Remove(ctx context.Context, identity string) (bool, error) {
	normalized := Normalize(identity)
	if normalized == "" {
		return false, ErrIdentityRequired
	}
	unbannedAt := r.now().UTC()
	var deactivated bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.BanRecord{}).
			Where("identity = ? AND is_active = ?", normalized, true).
			Updates(map[string]any{
				"is_active":   false,
				"unbanned_at": unbannedAt,
			})
		if res.Error != nil {
			return fmt.Errorf("%w: deactivate ban: %v", ErrStorageFailure, res.Error)
		}
		deactivated = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return deactivated, nil
}

// History returns every ban row for the identity, newest first.
func (r *Registry) History(ctx context.Context, identity string) ([]models.BanRecord, error) {
	normalized := Normalize(identity)
	if normalized == "" {
		return nil, ErrIdentityRequired
	}
	var records []models.BanRecord
	err := r.db.WithContext(ctx).
		Where("identity = ?", normalized).
		Order("banned_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list bans: %v", ErrStorageFailure, err)
	}
	return records, nil
}
