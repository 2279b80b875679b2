package balance

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"bscwallet/internal/chain"
	"bscwallet/internal/token"
)

// Multicall aggregate(Call[]) where Call is (address target, bytes callData).
// Returns the block number the calls executed at and the raw return data per
// call.
const multicallJSON = `[{"name":"aggregate","type":"function","stateMutability":"view","inputs":[{"name":"calls","type":"tuple[]","components":[{"name":"target","type":"address"},{"name":"callData","type":"bytes"}]}],"outputs":[{"name":"blockNumber","type":"uint256"},{"name":"returnData","type":"bytes[]"}]}]`

var (
	multicallABIOnce sync.Once
	multicallABI     abi.ABI
)

func mcABI() abi.ABI {
	multicallABIOnce.Do(func() {
		parsed, err := abi.JSON(strings.NewReader(multicallJSON))
		if err != nil {
			panic("multicall abi: " + err.Error())
		}
		multicallABI = parsed
	})
	return multicallABI
}

type multicallArg struct {
	Target   common.Address
	CallData []byte
}

// Result is one token's balance read. Exactly one of Raw or Err is set;
// results always come back in the same order as the requested tokens.
type Result struct {
	Token     token.Descriptor
	Raw       *big.Int
	Formatted string
	Err       error
}

// Reader resolves balances for a holder across a token list. The batched
// aggregator and the sequential fallback both satisfy it.
type Reader interface {
	Read(ctx context.Context, holder common.Address, tokens []token.Descriptor) ([]Result, error)
}

type Config struct {
	BatchTimeout time.Duration
	ProbeTimeout time.Duration
	RetryTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 30 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 2 * time.Second
	}
	if c.RetryTimeout <= 0 {
		c.RetryTimeout = 10 * time.Second
	}
}

// Aggregator reads many token balances in one multicall. Tokens on the
// problem set are skipped up front; a token whose return data cannot be
// decoded gets an error entry and joins the problem set without poisoning
// the rest of the batch. If the batch call itself fails, the whole list is
// retried token by token through the sequential fallback.
type Aggregator struct {
	client    chain.Client
	multicall common.Address
	deny      *ProblemAddressSet
	fallback  Reader
	cfg       Config
	logger    *slog.Logger
}

func NewAggregator(client chain.Client, multicall common.Address, deny *ProblemAddressSet, cfg Config, logger *slog.Logger) *Aggregator {
	cfg.applyDefaults()
	if deny == nil {
		deny = NewProblemAddressSet()
	}
	return &Aggregator{
		client:    client,
		multicall: multicall,
		deny:      deny,
		fallback:  NewSequential(client, deny, cfg, logger),
		cfg:       cfg,
		logger:    logger,
	}
}

// ProblemAddresses exposes the shared problem set, for callers that want to
// inspect or clear it.
func (a *Aggregator) ProblemAddresses() *ProblemAddressSet {
	return a.deny
}

func (a *Aggregator) Read(ctx context.Context, holder common.Address, tokens []token.Descriptor) ([]Result, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	results := make([]Result, len(tokens))
	calls := make([]multicallArg, 0, len(tokens))
	callIdx := make([]int, 0, len(tokens))
	for i, t := range tokens {
		results[i].Token = t
		if a.deny.Contains(t.Address) {
			results[i].Err = fmt.Errorf("token %s is on the problem list", t.Address.Hex())
			continue
		}
		calls = append(calls, multicallArg{
			Target:   t.Address,
			CallData: token.BalanceOfCallData(holder),
		})
		callIdx = append(callIdx, i)
	}
	if len(calls) == 0 {
		return results, nil
	}

	input, err := mcABI().Pack("aggregate", calls)
	if err != nil {
		return nil, fmt.Errorf("pack aggregate: %w", err)
	}

	batchCtx, cancel := context.WithTimeout(ctx, a.cfg.BatchTimeout)
	defer cancel()
	output, err := a.client.CallContract(batchCtx, ethereum.CallMsg{
		To:   &a.multicall,
		Data: input,
	}, nil)
	if err != nil {
		a.logger.Warn("multicall batch failed, falling back to sequential reads",
			"tokens", len(tokens), "error", err)
		return a.fallback.Read(ctx, holder, tokens)
	}

	unpacked, err := mcABI().Unpack("aggregate", output)
	if err != nil || len(unpacked) != 2 {
		a.logger.Warn("multicall response undecodable, falling back to sequential reads", "error", err)
		return a.fallback.Read(ctx, holder, tokens)
	}
	returnData, ok := unpacked[1].([][]byte)
	if !ok || len(returnData) != len(calls) {
		a.logger.Warn("multicall returned wrong arity",
			"want", len(calls), "got", len(returnData))
		return a.fallback.Read(ctx, holder, tokens)
	}

	for j, data := range returnData {
		i := callIdx[j]
		t := tokens[i]
		raw, derr := token.DecodeUint256(data)
		if derr != nil {
			a.deny.Add(t.Address)
			results[i].Err = fmt.Errorf("decode %s balance: %w", t.Symbol, derr)
			a.logger.Warn("balance undecodable, token added to problem list",
				"token", t.Address.Hex(), "symbol", t.Symbol, "error", derr)
			continue
		}
		results[i].Raw = raw
		results[i].Formatted = token.FormatUnits(raw, t.Decimals)
	}
	return results, nil
}

// Native returns the holder's BNB balance in wei.
func (a *Aggregator) Native(ctx context.Context, holder common.Address) (*big.Int, error) {
	return a.client.BalanceAt(ctx, holder, nil)
}
