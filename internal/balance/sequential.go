package balance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"bscwallet/internal/chain"
	"bscwallet/internal/token"
)

// Sequential reads balances one token at a time. Each token gets a short
// probe first. A probe that times out sends the token straight to the
// problem set, no second attempt: a contract that stalls once would stall
// every future balance check too. Only a non-timeout error earns one
// patient retry.
type Sequential struct {
	client chain.Client
	deny   *ProblemAddressSet
	cfg    Config
	logger *slog.Logger
}

func NewSequential(client chain.Client, deny *ProblemAddressSet, cfg Config, logger *slog.Logger) *Sequential {
	cfg.applyDefaults()
	if deny == nil {
		deny = NewProblemAddressSet()
	}
	return &Sequential{client: client, deny: deny, cfg: cfg, logger: logger}
}

func (s *Sequential) Read(ctx context.Context, holder common.Address, tokens []token.Descriptor) ([]Result, error) {
	results := make([]Result, len(tokens))
	for i, t := range tokens {
		results[i].Token = t
		if s.deny.Contains(t.Address) {
			results[i].Err = fmt.Errorf("token %s is on the problem list", t.Address.Hex())
			continue
		}
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}

		raw, err := s.readOne(ctx, holder, t, s.cfg.ProbeTimeout)
		if err != nil {
			// Only the probe's own deadline counts as a timeout, not a
			// cancelled or expired parent context.
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				s.deny.Add(t.Address)
				results[i].Err = fmt.Errorf("%s probe timed out: %w", t.Symbol, err)
				s.logger.Warn("balance probe timed out, token added to problem list",
					"token", t.Address.Hex(), "symbol", t.Symbol)
				continue
			}
			s.logger.Debug("balance probe failed, retrying patiently",
				"token", t.Address.Hex(), "symbol", t.Symbol, "error", err)
			raw, err = s.readOne(ctx, holder, t, s.cfg.RetryTimeout)
		}
		if err != nil {
			s.deny.Add(t.Address)
			results[i].Err = fmt.Errorf("read %s balance: %w", t.Symbol, err)
			s.logger.Warn("balance read failed, token added to problem list",
				"token", t.Address.Hex(), "symbol", t.Symbol, "error", err)
			continue
		}
		results[i].Raw = raw
		results[i].Formatted = token.FormatUnits(raw, t.Decimals)
	}
	return results, nil
}

func (s *Sequential) readOne(ctx context.Context, holder common.Address, t token.Descriptor, timeout time.Duration) (*big.Int, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	to := t.Address
	out, err := s.client.CallContract(callCtx, ethereum.CallMsg{
		To:   &to,
		Data: token.BalanceOfCallData(holder),
	}, nil)
	if err != nil {
		return nil, err
	}
	return token.DecodeUint256(out)
}
