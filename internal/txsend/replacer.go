package txsend

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"bscwallet/internal/chain"
	"bscwallet/internal/gas"
)

const (
	// replacementBump is the price multiplier over a found pending
	// transaction. BSC nodes require at least a 10% bump to accept a
	// replacement; 20% leaves headroom for price drift between the scan
	// and the send.
	replacementBump = 1.2
	// blindMultiplier prices a replacement when the stuck transaction
	// cannot be found in the pending block. High enough to outbid almost
	// anything a wallet would have sent.
	blindMultiplier = 3.0

	cancelGasLimit = 21000
)

// Resolver finds stuck transactions in the pending block and prices their
// replacements.
type Resolver struct {
	client chain.Client
	logger *slog.Logger
}

func NewResolver(client chain.Client, logger *slog.Logger) *Resolver {
	return &Resolver{client: client, logger: logger}
}

// FindPending scans the node's pending block for a transaction from the
// given sender at the given nonce. A nil result with nil error means the
// transaction is not in the pending block, which happens routinely: it may
// be queued, already mined, or dropped.
func (r *Resolver) FindPending(ctx context.Context, from common.Address, nonce uint64) (*chain.PendingTx, error) {
	txs, err := r.client.PendingBlockTransactions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range txs {
		if txs[i].From == from && txs[i].Nonce == nonce {
			return &txs[i], nil
		}
	}
	return nil, nil
}

// ReplacementPrice computes the gas price needed to replace whatever sits at
// the sender's nonce: 1.2x the pending transaction's price when it can be
// found, 3x the network base price when it cannot.
func (r *Resolver) ReplacementPrice(ctx context.Context, from common.Address, nonce uint64, base *big.Int) *big.Int {
	pending, err := r.FindPending(ctx, from, nonce)
	if err != nil {
		r.logger.Warn("pending block scan failed, pricing blind", "error", err)
	}
	if pending != nil && pending.GasPrice != nil && pending.GasPrice.Sign() > 0 {
		price := gas.MulFloat(pending.GasPrice, replacementBump)
		r.logger.Info("pricing replacement against pending transaction",
			"pending_hash", pending.Hash.Hex(),
			"pending_gas_price_wei", pending.GasPrice.String(),
			"replacement_gas_price_wei", price.String())
		return price
	}
	return gas.MulFloat(base, blindMultiplier)
}

// Cancel clears a stuck nonce by sending a zero-value self-transfer at a
// replacement price. The transaction that mines does nothing except consume
// the nonce, which evicts the original from the mempool.
func (r *Resolver) Cancel(ctx context.Context, b *Broadcaster, signer Signer, nonce uint64) Outcome {
	from := signer.Address()
	base, err := b.policy.SuggestGasPrice(ctx)
	if err != nil {
		return failedOutcome(ReasonNetwork, "gas price lookup: %v", err)
	}
	price := r.ReplacementPrice(ctx, from, nonce, base)
	r.logger.Info("cancelling transaction",
		"from", from.Hex(), "nonce", nonce, "gas_price_wei", price.String())
	n := nonce
	return b.Submit(ctx, Request{
		From:     from,
		To:       from,
		ValueWei: big.NewInt(0),
		Nonce:    &n,
		GasLimit: cancelGasLimit,
		GasPrice: price,
	}, signer)
}
