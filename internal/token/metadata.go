package token

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"bscwallet/internal/chain"
)

// Verify probes a contract for the ERC-20 metadata triple. The three reads
// are independent, so they go out concurrently; any failure means the
// address is not a conforming token.
func Verify(ctx context.Context, client chain.Client, address common.Address) (Descriptor, error) {
	desc := Descriptor{Address: address}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := readCall(gctx, client, address, SymbolCallData())
		if err != nil {
			return fmt.Errorf("symbol: %w", err)
		}
		desc.Symbol, err = DecodeString(out)
		return err
	})
	g.Go(func() error {
		out, err := readCall(gctx, client, address, NameCallData())
		if err != nil {
			return fmt.Errorf("name: %w", err)
		}
		desc.Name, err = DecodeString(out)
		return err
	})
	g.Go(func() error {
		out, err := readCall(gctx, client, address, DecimalsCallData())
		if err != nil {
			return fmt.Errorf("decimals: %w", err)
		}
		v, err := DecodeUint256(out)
		if err != nil {
			return err
		}
		if v.Sign() < 0 || v.BitLen() > 8 {
			return fmt.Errorf("decimals out of range: %s", v)
		}
		desc.Decimals = uint8(v.Uint64())
		return nil
	})
	if err := g.Wait(); err != nil {
		return Descriptor{}, err
	}
	return desc, nil
}

func readCall(ctx context.Context, client chain.Client, to common.Address, data []byte) ([]byte, error) {
	return client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}
