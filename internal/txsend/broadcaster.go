package txsend

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"bscwallet/internal/chain"
	"bscwallet/internal/gas"
)

// Signer turns an unsigned transaction into a signed one. Key handling and
// the signature scheme live behind this boundary.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// Request describes one transfer. A fresh transaction is built for every
// attempt; the request itself is never mutated.
type Request struct {
	From     common.Address
	To       common.Address
	ValueWei *big.Int
	Data     []byte

	// Nonce, when set, wins over the chain's pending count.
	Nonce *uint64
	// GasLimit of zero means estimate (with buffer, default on failure).
	GasLimit uint64
	// GasPrice, when set, is used verbatim for the first attempt instead of
	// the escalation schedule. Cancellations use this.
	GasPrice *big.Int
	// InitialMultiplier of zero falls back to the configured default.
	InitialMultiplier float64
}

type Config struct {
	MaxRetries           int
	RetryDelay           time.Duration
	ShortConfirmWait     time.Duration
	LongConfirmWait      time.Duration
	ReceiptPollInterval  time.Duration
	DefaultGasLimit      uint64
	GasEstimateBuffer    float64
	InitialGasMultiplier float64
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.ShortConfirmWait <= 0 {
		c.ShortConfirmWait = 30 * time.Second
	}
	if c.LongConfirmWait <= 0 {
		c.LongConfirmWait = 180 * time.Second
	}
	if c.ReceiptPollInterval <= 0 {
		c.ReceiptPollInterval = 2 * time.Second
	}
	if c.DefaultGasLimit == 0 {
		c.DefaultGasLimit = 21000
	}
	if c.GasEstimateBuffer <= 0 {
		c.GasEstimateBuffer = 1.2
	}
	if c.InitialGasMultiplier <= 0 {
		c.InitialGasMultiplier = 1.1
	}
}

// Broadcaster gets a signed payload durably into the network: it retries
// transient submission failures with escalating gas prices, absorbs nonce
// races, and resolves ambiguous confirmation timing into an Outcome.
//
// Callers must serialize use of a given sender address. Two concurrent
// Submit calls for the same From would fetch-and-use the same nonce.
type Broadcaster struct {
	client   chain.Client
	policy   *gas.Policy
	resolver *Resolver
	chainID  *big.Int
	cfg      Config
	logger   *slog.Logger
}

func NewBroadcaster(client chain.Client, chainID *big.Int, cfg Config, logger *slog.Logger) *Broadcaster {
	cfg.applyDefaults()
	return &Broadcaster{
		client:   client,
		policy:   gas.NewPolicy(client),
		resolver: NewResolver(client, logger),
		chainID:  new(big.Int).Set(chainID),
		cfg:      cfg,
		logger:   logger,
	}
}

// Resolver exposes the broadcaster's replacement resolver, shared so
// cancellations see the same mempool view.
func (b *Broadcaster) Resolver() *Resolver {
	return b.resolver
}

// Submit builds, signs, sends and confirms one transaction. It never
// returns a raw error: every path ends in a Success, Pending or Failed
// outcome.
func (b *Broadcaster) Submit(ctx context.Context, req Request, signer Signer) Outcome {
	if req.ValueWei == nil {
		req.ValueWei = big.NewInt(0)
	}
	if req.InitialMultiplier <= 0 {
		req.InitialMultiplier = b.cfg.InitialGasMultiplier
	}

	// Pre-flight: a doomed transfer must not cost a network send.
	if req.ValueWei.Sign() > 0 {
		balance, err := b.client.BalanceAt(ctx, req.From, nil)
		if err == nil && balance.Cmp(req.ValueWei) < 0 {
			return failedOutcome(ReasonInsufficientFunds,
				"insufficient balance: have %s wei, trying to send %s wei", balance, req.ValueWei)
		}
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		gasLimit = b.estimateGas(ctx, req)
	}

	nonce, err := b.resolveNonce(ctx, req)
	if err != nil {
		return failedOutcome(ReasonNetwork, "nonce lookup: %v", err)
	}

	overridePrice := req.GasPrice
	var lastErr error
	for attempt := 0; attempt < b.cfg.MaxRetries; attempt++ {
		price := overridePrice
		overridePrice = nil
		if price == nil {
			base, perr := b.policy.SuggestGasPrice(ctx)
			if perr != nil {
				lastErr = perr
				if !b.pause(ctx) {
					break
				}
				continue
			}
			price = gas.PriceForAttempt(base, attempt, req.InitialMultiplier)
		}

		signed, serr := signer.SignTx(types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: price,
			Gas:      gasLimit,
			To:       &req.To,
			Value:    req.ValueWei,
			Data:     req.Data,
		}))
		if serr != nil {
			return failedOutcome(ReasonNetwork, "sign: %v", serr)
		}

		b.logger.Info("submitting transaction",
			"from", req.From.Hex(), "to", req.To.Hex(),
			"nonce", nonce, "gas", gasLimit, "gas_price_wei", price.String(), "attempt", attempt)

		sendErr := b.client.SendTransaction(ctx, signed)
		if sendErr == nil {
			return b.confirm(ctx, req, gasLimit, signed)
		}
		lastErr = sendErr

		switch Classify(sendErr) {
		case KindAlreadyKnown:
			// The mempool has it; the hash recomputed from the signed
			// payload identifies it without another send.
			b.logger.Info("transaction already in mempool", "nonce", nonce, "hash", signed.Hash().Hex())
			return b.confirm(ctx, req, gasLimit, signed)

		case KindUnderpriced:
			if attempt == b.cfg.MaxRetries-1 {
				return failedOutcome(ReasonUnderpriced,
					"unable to replace transaction at nonce %d after %d attempts; wait for the pending transaction or cancel it with a higher-priced self-transfer", nonce, b.cfg.MaxRetries)
			}
			base, perr := b.policy.SuggestGasPrice(ctx)
			if perr != nil {
				base = price
			}
			overridePrice = b.resolver.ReplacementPrice(ctx, req.From, nonce, base)
			b.logger.Warn("replacement underpriced, escalating",
				"nonce", nonce, "next_gas_price_wei", overridePrice.String())

		case KindNonceTooLow:
			if attempt == b.cfg.MaxRetries-1 {
				return failedOutcome(ReasonNonceConflict,
					"nonce %d too low after %d attempts: %v", nonce, b.cfg.MaxRetries, sendErr)
			}
			fresh, nerr := b.policy.NextNonce(ctx, req.From)
			if nerr != nil {
				return failedOutcome(ReasonNetwork, "nonce refresh: %v", nerr)
			}
			b.logger.Warn("nonce too low, refreshed", "old", nonce, "new", fresh)
			nonce = fresh

		case KindInsufficientFunds:
			return failedOutcome(ReasonInsufficientFunds, "%v", sendErr)

		default:
			if attempt == b.cfg.MaxRetries-1 {
				return failedOutcome(ReasonNetwork, "send failed after %d attempts: %v", b.cfg.MaxRetries, sendErr)
			}
			b.logger.Warn("send failed, retrying", "attempt", attempt, "error", sendErr)
			if !b.pause(ctx) {
				return failedOutcome(ReasonNetwork, "cancelled: %v", ctx.Err())
			}
		}
	}
	return failedOutcome(ReasonNetwork, "send failed after %d attempts: %v", b.cfg.MaxRetries, lastErr)
}

// TxStatus is the explicit answer to "where is this transaction now".
type TxStatus int

const (
	TxStatusNotFound TxStatus = iota
	TxStatusPending
	TxStatusMined
	TxStatusFailed
)

// CheckStatus is the resumption contract for a Pending outcome: callers keep
// the hash and poll this.
func (b *Broadcaster) CheckStatus(ctx context.Context, hash common.Hash) (TxStatus, *types.Receipt, error) {
	_, isPending, err := b.client.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return TxStatusNotFound, nil, nil
		}
		return TxStatusNotFound, nil, err
	}
	if isPending {
		return TxStatusPending, nil, nil
	}
	receipt, err := b.client.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return TxStatusPending, nil, nil
		}
		return TxStatusPending, nil, err
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return TxStatusMined, receipt, nil
	}
	return TxStatusFailed, receipt, nil
}

// confirm waits for inclusion in two phases: a short wait, then an explicit
// status check, then a long wait only if the transaction is genuinely still
// pending. An unresolved transaction comes back Pending, never Failed.
func (b *Broadcaster) confirm(ctx context.Context, req Request, gasLimit uint64, signed *types.Transaction) Outcome {
	hash := signed.Hash()

	receipt, err := b.waitMined(ctx, hash, b.cfg.ShortConfirmWait)
	if err == nil {
		return b.settle(ctx, req, gasLimit, receipt)
	}

	status, checked, cerr := b.CheckStatus(ctx, hash)
	if cerr != nil {
		b.logger.Warn("status check failed", "hash", hash.Hex(), "error", cerr)
	}
	switch {
	case status == TxStatusMined || status == TxStatusFailed:
		return b.settle(ctx, req, gasLimit, checked)
	case status == TxStatusNotFound && cerr == nil:
		// The node does not know the hash, so waiting longer cannot
		// resolve it. Mempool visibility is best effort: the transaction
		// may still surface elsewhere, hence Pending, not Failed.
		b.logger.Info("transaction not found after short wait, track it by hash", "hash", hash.Hex())
		return pendingOutcome(hash)
	default:
		b.logger.Info("not confirmed within short wait, waiting longer", "hash", hash.Hex())
		receipt, err = b.waitMined(ctx, hash, b.cfg.LongConfirmWait)
		if err == nil {
			return b.settle(ctx, req, gasLimit, receipt)
		}
		b.logger.Info("transaction still unconfirmed, track it by hash", "hash", hash.Hex())
		return pendingOutcome(hash)
	}
}

func (b *Broadcaster) settle(ctx context.Context, req Request, gasLimit uint64, receipt *types.Receipt) Outcome {
	if receipt == nil {
		return pendingOutcome(common.Hash{})
	}
	block := receipt.BlockNumber.Uint64()
	if receipt.Status == types.ReceiptStatusSuccessful {
		b.logger.Info("transaction confirmed", "hash", receipt.TxHash.Hex(), "block", block)
		return successOutcome(receipt.TxHash, block)
	}
	reason := b.revertReason(ctx, req, gasLimit, receipt.BlockNumber)
	out := failedOutcome(ReasonReverted, "transaction reverted in block %d: %s", block, reason)
	out.Hash = receipt.TxHash
	out.BlockNumber = block
	return out
}

// revertReason replays the call at the mined block to recover the revert
// string. Best effort: nodes without archive state just yield a generic
// message.
func (b *Broadcaster) revertReason(ctx context.Context, req Request, gasLimit uint64, block *big.Int) string {
	msg := ethereum.CallMsg{
		From:  req.From,
		To:    &req.To,
		Gas:   gasLimit,
		Value: req.ValueWei,
		Data:  req.Data,
	}
	if _, err := b.client.CallContract(ctx, msg, block); err != nil {
		return err.Error()
	}
	return "no revert reason available"
}

func (b *Broadcaster) waitMined(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	deadline := time.Now().Add(timeout)
	for {
		receipt, err := b.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			b.logger.Debug("receipt poll failed", "hash", hash.Hex(), "error", err)
		}
		if time.Now().After(deadline) {
			return nil, context.DeadlineExceeded
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.cfg.ReceiptPollInterval):
		}
	}
}

func (b *Broadcaster) resolveNonce(ctx context.Context, req Request) (uint64, error) {
	if req.Nonce != nil {
		return *req.Nonce, nil
	}
	return b.policy.NextNonce(ctx, req.From)
}

func (b *Broadcaster) estimateGas(ctx context.Context, req Request) uint64 {
	estimated, err := b.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  req.From,
		To:    &req.To,
		Value: req.ValueWei,
		Data:  req.Data,
	})
	if err != nil {
		b.logger.Warn("gas estimation failed, using default", "default", b.cfg.DefaultGasLimit, "error", err)
		return b.cfg.DefaultGasLimit
	}
	buffered := uint64(float64(estimated) * b.cfg.GasEstimateBuffer)
	if buffered < estimated {
		return estimated
	}
	return buffered
}

func (b *Broadcaster) pause(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(b.cfg.RetryDelay):
		return true
	}
}
