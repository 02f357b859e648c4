package rewards

import (
	"errors"
	"fmt"

	"greenproof/models"
)

var (
	// ErrConfiguration indicates missing wallet/signer/fund configuration.
	// Fatal: no leg is attempted.
	ErrConfiguration = errors.New("rewards: distributor not configured")

	// ErrValidation indicates a malformed recipient or amount. Fatal: no leg
	// is attempted.
	ErrValidation = errors.New("rewards: invalid distribution request")

	// ErrStorageFailure indicates the ledger could not be written.
	ErrStorageFailure = errors.New("rewards: ledger storage failure")
)

// LegError reports a failed ledger submission for one leg. Only the
// participant leg's LegError aborts a distribution; fund legs surface theirs
// through the ledger instead.
type LegError struct {
	Leg models.Leg
	Err error
}

func (e *LegError) Error() string {
	return fmt.Sprintf("rewards: %s leg failed: %v", e.Leg, e.Err)
}

func (e *LegError) Unwrap() error { return e.Err }
