package rewards

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"greenproof/models"
	"greenproof/observability"
	"greenproof/rewards/wallet"
)

// ProofEntry is an opaque (type, value) pair the caller wants attached to the
// on-chain record for transparency, e.g. a claim id or evidence reference.
type ProofEntry struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// LegResult is the tagged outcome of one leg attempt. Exactly one of TxRef
// and Err is meaningful.
type LegResult struct {
	Leg   models.Leg
	TxRef string
	Err   error
}

// Result aggregates one distribution. Success tracks the participant leg
// only; fund legs are best-effort bookkeeping surfaced via the ledger.
type Result struct {
	Success          bool
	CorrelationID    uuid.UUID
	Shares           Shares
	ParticipantTxRef string
	CreatorTxRef     *string
	AppTxRef         *string
	Legs             []LegResult
}

// Distributor splits a reward into three payouts and submits them as
// independent ledger transactions. It performs no ban check and no
// deduplication; gating and "already rewarded?" checks belong to the caller.
type Distributor struct {
	wallet        wallet.ERC20Wallet
	ledger        *Ledger
	metrics       *observability.DistributionMetrics
	logger        *slog.Logger
	creatorFund   string
	appFund       string
	confirmations int
	legTimeout    time.Duration
	pollInterval  time.Duration
	now           func() time.Time
}

// DistributorOption customises the distributor instance.
type DistributorOption func(*Distributor)

// WithWallet supplies the hot wallet implementation.
func WithWallet(w wallet.ERC20Wallet) DistributorOption {
	return func(d *Distributor) { d.wallet = w }
}

// WithFunds configures the creator-fund and app-fund destination addresses.
func WithFunds(creatorFund, appFund string) DistributorOption {
	return func(d *Distributor) {
		d.creatorFund = strings.TrimSpace(creatorFund)
		d.appFund = strings.TrimSpace(appFund)
	}
}

// WithConfirmations sets the confirmation depth required per leg.
func WithConfirmations(confirmations int) DistributorOption {
	return func(d *Distributor) {
		if confirmations > 0 {
			d.confirmations = confirmations
		}
	}
}

// WithLegTimeout bounds each leg submission including confirmation waiting.
func WithLegTimeout(timeout time.Duration) DistributorOption {
	return func(d *Distributor) {
		if timeout > 0 {
			d.legTimeout = timeout
		}
	}
}

// WithPollInterval configures the confirmation polling cadence.
func WithPollInterval(interval time.Duration) DistributorOption {
	return func(d *Distributor) {
		if interval > 0 {
			d.pollInterval = interval
		}
	}
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *observability.DistributionMetrics) DistributorOption {
	return func(d *Distributor) { d.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) DistributorOption {
	return func(d *Distributor) { d.logger = logger }
}

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) DistributorOption {
	return func(d *Distributor) { d.now = clock }
}

// NewDistributor constructs a reward distributor writing through the ledger.
func NewDistributor(ledger *Ledger, opts ...DistributorOption) *Distributor {
	dist := &Distributor{
		ledger:        ledger,
		metrics:       observability.Distribution(),
		logger:        slog.Default(),
		confirmations: 1,
		legTimeout:    90 * time.Second,
		pollInterval:  5 * time.Second,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(dist)
	}
	return dist
}

// Distribute computes the split and submits the three legs in order. The
// participant leg is synchronous and aborts the whole operation on failure;
// the creator-fund and app-fund legs are attempted best-effort afterwards,
// with the app-fund leg attempted even when the creator-fund leg failed.
func (d *Distributor) Distribute(ctx context.Context, recipient string, total *big.Int, proof []ProofEntry) (Result, error) {
	recipient = strings.TrimSpace(recipient)
	if !common.IsHexAddress(recipient) {
		return Result{}, fmt.Errorf("%w: recipient %q is not a valid address", ErrValidation, recipient)
	}
	shares, err := Split(total)
	if err != nil {
		return Result{}, err
	}
	if err := d.checkConfigured(); err != nil {
		return Result{}, err
	}

	correlationID := uuid.New()
	result := Result{CorrelationID: correlationID, Shares: shares}

	proofJSON := ""
	if len(proof) > 0 {
		encoded, err := json.Marshal(proof)
		if err != nil {
			return Result{}, fmt.Errorf("%w: encode proof: %v", ErrValidation, err)
		}
		proofJSON = string(encoded)
	}

	participant := d.submitLeg(ctx, correlationID, models.LegParticipant, recipient, shares.Participant, proofJSON)
	result.Legs = append(result.Legs, participant)
	if participant.Err != nil {
		d.logger.Error("participant leg failed, aborting distribution",
			"correlation_id", correlationID, "recipient", recipient, "error", participant.Err)
		return result, participant.Err
	}
	result.Success = true
	result.ParticipantTxRef = participant.TxRef

	// Tiny totals can round a fund share down to zero. A zero leg has
	// nothing to transfer, so it is skipped without a ledger row.
	if shares.CreatorFund.Sign() > 0 {
		creator := d.submitLeg(ctx, correlationID, models.LegCreatorFund, d.creatorFund, shares.CreatorFund, "")
		result.Legs = append(result.Legs, creator)
		if creator.Err != nil {
			d.logger.Error("creator fund leg failed, continuing",
				"correlation_id", correlationID, "error", creator.Err)
		} else {
			ref := creator.TxRef
			result.CreatorTxRef = &ref
		}
	}

	if shares.AppFund.Sign() > 0 {
		app := d.submitLeg(ctx, correlationID, models.LegAppFund, d.appFund, shares.AppFund, "")
		result.Legs = append(result.Legs, app)
		if app.Err != nil {
			d.logger.Error("app fund leg failed, continuing",
				"correlation_id", correlationID, "error", app.Err)
		} else {
			ref := app.TxRef
			result.AppTxRef = &ref
		}
	}

	return result, nil
}

func (d *Distributor) checkConfigured() error {
	if d.wallet == nil {
		return fmt.Errorf("%w: wallet missing", ErrConfiguration)
	}
	if d.ledger == nil {
		return fmt.Errorf("%w: ledger missing", ErrConfiguration)
	}
	if !common.IsHexAddress(d.creatorFund) {
		return fmt.Errorf("%w: creator fund address missing", ErrConfiguration)
	}
	if !common.IsHexAddress(d.appFund) {
		return fmt.Errorf("%w: app fund address missing", ErrConfiguration)
	}
	return nil
}

// submitLeg writes the pending ledger row, submits the transfer with a
// bounded timeout, waits for confirmation, and records the terminal outcome.
// A timeout is a leg failure; an unconfirmed transfer is never treated as
// success.
func (d *Distributor) submitLeg(ctx context.Context, correlationID uuid.UUID, leg models.Leg, destination string, amount *big.Int, proof string) LegResult {
	start := d.now()
	attemptID, err := d.ledger.Begin(ctx, correlationID, leg, destination, amount.String(), proof)
	if err != nil {
		d.metrics.RecordError(string(leg), "ledger")
		return LegResult{Leg: leg, Err: &LegError{Leg: leg, Err: err}}
	}

	legCtx, cancel := context.WithTimeout(ctx, d.legTimeout)
	defer cancel()

	txHash, err := d.wallet.Transfer(legCtx, destination, amount)
	if err == nil {
		err = d.wallet.WaitForConfirmations(legCtx, txHash, d.confirmations, d.pollInterval)
	}
	if err != nil {
		var txRef *string
		if strings.TrimSpace(txHash) != "" {
			txRef = &txHash
		}
		if markErr := d.ledger.MarkOutcome(ctx, attemptID, models.AttemptFailed, txRef); markErr != nil {
			d.logger.Error("failed to record leg outcome", "attempt_id", attemptID, "error", markErr)
		}
		reason := "transfer"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		d.metrics.RecordError(string(leg), reason)
		d.metrics.ObserveLeg(string(leg), d.now().Sub(start), err)
		return LegResult{Leg: leg, Err: &LegError{Leg: leg, Err: err}}
	}

	if err := d.ledger.MarkOutcome(ctx, attemptID, models.AttemptSucceeded, &txHash); err != nil {
		d.logger.Error("failed to record leg outcome", "attempt_id", attemptID, "error", err)
	}
	d.metrics.ObserveLeg(string(leg), d.now().Sub(start), nil)
	return LegResult{Leg: leg, TxRef: txHash}
}
