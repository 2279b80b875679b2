package gas

import (
	"context"
	"errors"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"bscwallet/internal/chain"
)

// Escalation is the per-attempt bump applied to the gas price: each retry
// bids 30% more than the last, so a replacement can clear the mempool's
// minimum-bump rule.
const escalationStep = 0.3

// floorMultiplier is the lowest price ever quoted relative to the network's
// suggested price. Attempt zero with a small initial multiplier would
// otherwise bid below what the network will reliably mine.
const floorMultiplier = 1.5

// Policy computes nonces and gas prices for the submission path.
type Policy struct {
	client chain.Client
}

func NewPolicy(client chain.Client) *Policy {
	return &Policy{client: client}
}

// NextNonce returns the pending-inclusive transaction count. It re-queries
// the node on every call: prior in-flight transactions from the same sender
// must be visible, so a cached value is never safe here.
func (p *Policy) NextNonce(ctx context.Context, addr common.Address) (uint64, error) {
	if p.client == nil {
		return 0, errors.New("gas policy client is nil")
	}
	return p.client.PendingNonceAt(ctx, addr)
}

// SuggestGasPrice returns the network's current suggested price.
func (p *Policy) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if p.client == nil {
		return nil, errors.New("gas policy client is nil")
	}
	return p.client.SuggestGasPrice(ctx)
}

// PriceForAttempt escalates base by initialMultiplier plus 30% per retry,
// never quoting below 1.5x base.
func PriceForAttempt(base *big.Int, attempt int, initialMultiplier float64) *big.Int {
	if base == nil {
		return big.NewInt(0)
	}
	if attempt < 0 {
		attempt = 0
	}
	if initialMultiplier <= 0 {
		initialMultiplier = 1.0
	}
	price := mulFloat(base, initialMultiplier*(1+escalationStep*float64(attempt)))
	floor := mulFloat(base, floorMultiplier)
	if price.Cmp(floor) < 0 {
		return floor
	}
	return price
}

func mulFloat(v *big.Int, f float64) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	if f == 1.0 {
		return new(big.Int).Set(v)
	}
	// The multiplier is meant as a decimal: 1.2 times 10 gwei must be
	// exactly 12 gwei. Seeding the Rat with SetFloat64 would use the
	// binary expansion of 1.2 and come up one wei short, so go through
	// the shortest decimal representation instead.
	r, ok := new(big.Rat).SetString(strconv.FormatFloat(f, 'f', -1, 64))
	if !ok {
		return new(big.Int).Set(v)
	}
	r.Mul(r, new(big.Rat).SetInt(v))
	out := new(big.Int)
	out.Div(r.Num(), r.Denom())
	return out
}

// MulFloat scales an integer wei amount by a float multiplier without
// passing through float64 precision loss.
func MulFloat(v *big.Int, f float64) *big.Int {
	return mulFloat(v, f)
}
