package token

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"bscwallet/internal/chain"
)

type fakeCaller struct {
	responses map[string][]byte
	err       error
}

func (f *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	for selector, resp := range f.responses {
		if bytes.HasPrefix(msg.Data, mustSelector(selector)) {
			return resp, nil
		}
	}
	return nil, errors.New("unexpected call")
}

func (f *fakeCaller) BalanceAt(ctx context.Context, a common.Address, b *big.Int) (*big.Int, error) {
	return nil, errors.New("not supported")
}
func (f *fakeCaller) PendingNonceAt(ctx context.Context, a common.Address) (uint64, error) {
	return 0, errors.New("not supported")
}
func (f *fakeCaller) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return nil, errors.New("not supported")
}
func (f *fakeCaller) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 0, errors.New("not supported")
}
func (f *fakeCaller) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return errors.New("not supported")
}
func (f *fakeCaller) TransactionReceipt(ctx context.Context, h common.Hash) (*types.Receipt, error) {
	return nil, errors.New("not supported")
}
func (f *fakeCaller) TransactionByHash(ctx context.Context, h common.Hash) (*types.Transaction, bool, error) {
	return nil, false, errors.New("not supported")
}
func (f *fakeCaller) PendingBlockTransactions(ctx context.Context) ([]chain.PendingTx, error) {
	return nil, errors.New("not supported")
}
func (f *fakeCaller) BlockNumber(ctx context.Context) (uint64, error) {
	return 0, errors.New("not supported")
}

func encodeStringReturn(s string) []byte {
	data := make([]byte, 64+32)
	data[31] = 32
	data[63] = byte(len(s))
	copy(data[64:], s)
	return data
}

func TestVerify(t *testing.T) {
	client := &fakeCaller{responses: map[string][]byte{
		"0x95d89b41": encodeStringReturn("CAKE"),
		"0x06fdde03": encodeStringReturn("PancakeSwap Token"),
		"0x313ce567": common.LeftPadBytes(big.NewInt(18).Bytes(), 32),
	}}

	desc, err := Verify(context.Background(), client, common.HexToAddress("0x1"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if desc.Symbol != "CAKE" || desc.Name != "PancakeSwap Token" || desc.Decimals != 18 {
		t.Fatalf("unexpected descriptor: %+v", desc)
	}
}

func TestVerifyNonToken(t *testing.T) {
	client := &fakeCaller{err: errors.New("execution reverted")}
	if _, err := Verify(context.Background(), client, common.HexToAddress("0x1")); err == nil {
		t.Fatalf("non-token contract should fail verification")
	}
}

func TestVerifyRejectsHugeDecimals(t *testing.T) {
	client := &fakeCaller{responses: map[string][]byte{
		"0x95d89b41": encodeStringReturn("BAD"),
		"0x06fdde03": encodeStringReturn("Bad Token"),
		"0x313ce567": common.LeftPadBytes(big.NewInt(500).Bytes(), 32),
	}}
	if _, err := Verify(context.Background(), client, common.HexToAddress("0x1")); err == nil {
		t.Fatalf("decimals over 255 should fail")
	}
}
