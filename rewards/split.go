package rewards

import (
	"fmt"
	"math/big"
)

// Basis points for the fund legs. The participant share is whatever remains
// after both fund legs truncate, so rounding dust always lands with the
// participant rather than being lost.
const (
	creatorFundBps = 1_500
	appFundBps     = 1_500
	bpsDenominator = 10_000
)

// Shares is the computed three-way split of one reward, in smallest token
// units. Participant + CreatorFund + AppFund always re-sum to the total.
type Shares struct {
	Participant *big.Int
	CreatorFund *big.Int
	AppFund     *big.Int
}

// Split computes the 70/15/15 division of the total. Fund legs truncate via
// integer division; the participant leg absorbs the remainder.
func Split(total *big.Int) (Shares, error) {
	if total == nil || total.Sign() <= 0 {
		return Shares{}, fmt.Errorf("%w: total must be positive", ErrValidation)
	}
	denominator := big.NewInt(bpsDenominator)

	creator := new(big.Int).Mul(total, big.NewInt(creatorFundBps))
	creator.Div(creator, denominator)

	app := new(big.Int).Mul(total, big.NewInt(appFundBps))
	app.Div(app, denominator)

	participant := new(big.Int).Sub(total, creator)
	participant.Sub(participant, app)

	return Shares{Participant: participant, CreatorFund: creator, AppFund: app}, nil
}
