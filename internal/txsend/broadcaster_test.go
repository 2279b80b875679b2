package txsend

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"bscwallet/internal/chain"
)

var testChainID = big.NewInt(97)

type testSigner struct {
	key *ecdsa.PrivateKey
}

func newTestSigner(t *testing.T) *testSigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &testSigner{key: key}
}

func (s *testSigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func (s *testSigner) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(testChainID), s.key)
}

type fakeClient struct {
	mu sync.Mutex

	balance      *big.Int
	nonceQueue   []uint64
	nonce        uint64
	gasPrice     *big.Int
	estimateErr  error
	sendErrs     []error
	sent         []*types.Transaction
	receiptDelay int
	receiptCalls int
	noReceipt    bool
	txNotFound   bool
	revertStatus bool
	callErr      error
	pendingTxs   []chain.PendingTx
	pendingErr   error
	txIsPending  bool
}

func (f *fakeClient) BalanceAt(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error) {
	if f.balance != nil {
		return f.balance, nil
	}
	return new(big.Int).Mul(big.NewInt(1e18), big.NewInt(1000)), nil
}

func (f *fakeClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.nonceQueue) > 0 {
		n := f.nonceQueue[0]
		f.nonceQueue = f.nonceQueue[1:]
		return n, nil
	}
	return f.nonce, nil
}

func (f *fakeClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if f.gasPrice != nil {
		return new(big.Int).Set(f.gasPrice), nil
	}
	return big.NewInt(1e9), nil
}

func (f *fakeClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 21000, nil
}

func (f *fakeClient) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	return nil, f.callErr
}

func (f *fakeClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		return err
	}
	return nil
}

func (f *fakeClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noReceipt {
		return nil, ethereum.NotFound
	}
	f.receiptCalls++
	if f.receiptCalls <= f.receiptDelay {
		return nil, ethereum.NotFound
	}
	status := types.ReceiptStatusSuccessful
	if f.revertStatus {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{
		Status:      status,
		TxHash:      hash,
		BlockNumber: big.NewInt(100),
	}, nil
}

func (f *fakeClient) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.txNotFound || len(f.sent) == 0 {
		return nil, false, ethereum.NotFound
	}
	return f.sent[len(f.sent)-1], f.txIsPending, nil
}

func (f *fakeClient) PendingBlockTransactions(ctx context.Context) ([]chain.PendingTx, error) {
	return f.pendingTxs, f.pendingErr
}

func (f *fakeClient) BlockNumber(ctx context.Context) (uint64, error) {
	return 100, nil
}

func (f *fakeClient) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeClient) lastSent() *types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func testConfig() Config {
	return Config{
		MaxRetries:           3,
		RetryDelay:           time.Millisecond,
		ShortConfirmWait:     20 * time.Millisecond,
		LongConfirmWait:      50 * time.Millisecond,
		ReceiptPollInterval:  time.Millisecond,
		DefaultGasLimit:      21000,
		GasEstimateBuffer:    1.2,
		InitialGasMultiplier: 1.1,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBroadcaster(client chain.Client) *Broadcaster {
	return NewBroadcaster(client, testChainID, testConfig(), testLogger())
}

func TestSubmitInsufficientBalanceSkipsSend(t *testing.T) {
	client := &fakeClient{balance: big.NewInt(1)}
	b := newTestBroadcaster(client)
	signer := newTestSigner(t)

	out := b.Submit(context.Background(), Request{
		From:     signer.Address(),
		To:       common.HexToAddress("0x1"),
		ValueWei: big.NewInt(100),
	}, signer)

	if out.Status != StatusFailed {
		t.Fatalf("expected failed outcome, got %v", out)
	}
	if out.Reason != ReasonInsufficientFunds {
		t.Fatalf("expected insufficient funds, got %s", out.Reason)
	}
	if client.sendCount() != 0 {
		t.Fatalf("expected no network sends, got %d", client.sendCount())
	}
}

func TestSubmitSuccess(t *testing.T) {
	client := &fakeClient{nonce: 7}
	b := newTestBroadcaster(client)
	signer := newTestSigner(t)

	out := b.Submit(context.Background(), Request{
		From:     signer.Address(),
		To:       common.HexToAddress("0x2"),
		ValueWei: big.NewInt(100),
	}, signer)

	if out.Status != StatusSuccess {
		t.Fatalf("expected success, got %v", out)
	}
	if out.BlockNumber != 100 {
		t.Fatalf("expected block 100, got %d", out.BlockNumber)
	}
	tx := client.lastSent()
	if tx.Nonce() != 7 {
		t.Fatalf("expected nonce 7, got %d", tx.Nonce())
	}
	if out.Hash != tx.Hash() {
		t.Fatalf("outcome hash %s does not match sent tx %s", out.Hash.Hex(), tx.Hash().Hex())
	}
}

func TestSubmitAlreadyKnownConfirmsLocalHash(t *testing.T) {
	client := &fakeClient{sendErrs: []error{errors.New("already known")}}
	b := newTestBroadcaster(client)
	signer := newTestSigner(t)

	out := b.Submit(context.Background(), Request{
		From:     signer.Address(),
		To:       common.HexToAddress("0x3"),
		ValueWei: big.NewInt(1),
	}, signer)

	if out.Status != StatusSuccess {
		t.Fatalf("expected success, got %v", out)
	}
	if client.sendCount() != 1 {
		t.Fatalf("already-known must not resend, got %d sends", client.sendCount())
	}
	if out.Hash != client.lastSent().Hash() {
		t.Fatalf("expected locally computed hash of the rejected payload")
	}
}

func TestSubmitUnderpricedEscalatesAgainstPending(t *testing.T) {
	signer := newTestSigner(t)
	pendingPrice := big.NewInt(10e9)
	client := &fakeClient{
		sendErrs: []error{errors.New("replacement transaction underpriced")},
		pendingTxs: []chain.PendingTx{{
			From:     signer.Address(),
			Nonce:    0,
			GasPrice: pendingPrice,
		}},
	}
	b := newTestBroadcaster(client)

	out := b.Submit(context.Background(), Request{
		From:     signer.Address(),
		To:       common.HexToAddress("0x4"),
		ValueWei: big.NewInt(1),
	}, signer)

	if out.Status != StatusSuccess {
		t.Fatalf("expected success after escalation, got %v", out)
	}
	if client.sendCount() != 2 {
		t.Fatalf("expected 2 sends, got %d", client.sendCount())
	}
	want := big.NewInt(12e9)
	if got := client.lastSent().GasPrice(); got.Cmp(want) != 0 {
		t.Fatalf("expected replacement price %s, got %s", want, got)
	}
}

func TestSubmitUnderpricedExhaustsRetries(t *testing.T) {
	client := &fakeClient{sendErrs: []error{
		errors.New("transaction underpriced"),
		errors.New("transaction underpriced"),
		errors.New("transaction underpriced"),
	}}
	b := newTestBroadcaster(client)
	signer := newTestSigner(t)

	out := b.Submit(context.Background(), Request{
		From:     signer.Address(),
		To:       common.HexToAddress("0x5"),
		ValueWei: big.NewInt(1),
	}, signer)

	if out.Status != StatusFailed || out.Reason != ReasonUnderpriced {
		t.Fatalf("expected underpriced failure, got %v", out)
	}
}

func TestSubmitNonceTooLowRefreshes(t *testing.T) {
	client := &fakeClient{
		nonceQueue: []uint64{5, 9},
		sendErrs:   []error{errors.New("nonce too low")},
	}
	b := newTestBroadcaster(client)
	signer := newTestSigner(t)

	out := b.Submit(context.Background(), Request{
		From:     signer.Address(),
		To:       common.HexToAddress("0x6"),
		ValueWei: big.NewInt(1),
	}, signer)

	if out.Status != StatusSuccess {
		t.Fatalf("expected success, got %v", out)
	}
	if got := client.lastSent().Nonce(); got != 9 {
		t.Fatalf("expected refreshed nonce 9, got %d", got)
	}
}

func TestSubmitSlowConfirmationFallsToLongWait(t *testing.T) {
	client := &fakeClient{receiptDelay: 30, txIsPending: true}
	b := newTestBroadcaster(client)
	signer := newTestSigner(t)

	out := b.Submit(context.Background(), Request{
		From:     signer.Address(),
		To:       common.HexToAddress("0x7"),
		ValueWei: big.NewInt(1),
	}, signer)

	if out.Status != StatusSuccess {
		t.Fatalf("expected eventual success, got %v", out)
	}
}

func TestSubmitUnconfirmedIsPendingNotFailed(t *testing.T) {
	client := &fakeClient{noReceipt: true, txIsPending: true}
	b := newTestBroadcaster(client)
	signer := newTestSigner(t)

	out := b.Submit(context.Background(), Request{
		From:     signer.Address(),
		To:       common.HexToAddress("0x8"),
		ValueWei: big.NewInt(1),
	}, signer)

	if out.Status != StatusPending {
		t.Fatalf("unconfirmed transaction must be pending, got %v", out)
	}
	if out.Hash == (common.Hash{}) {
		t.Fatalf("pending outcome must carry the hash for later tracking")
	}
}

func TestSubmitNotFoundSkipsLongWait(t *testing.T) {
	client := &fakeClient{noReceipt: true, txNotFound: true}
	cfg := testConfig()
	cfg.ShortConfirmWait = 20 * time.Millisecond
	cfg.LongConfirmWait = 2 * time.Second
	b := NewBroadcaster(client, testChainID, cfg, testLogger())
	signer := newTestSigner(t)

	start := time.Now()
	out := b.Submit(context.Background(), Request{
		From:     signer.Address(),
		To:       common.HexToAddress("0xb"),
		ValueWei: big.NewInt(1),
	}, signer)
	elapsed := time.Since(start)

	if out.Status != StatusPending {
		t.Fatalf("unknown transaction must come back pending, got %v", out)
	}
	if out.Hash == (common.Hash{}) {
		t.Fatalf("pending outcome must carry the hash")
	}
	if elapsed >= cfg.LongConfirmWait {
		t.Fatalf("not-found must skip the long wait, took %s", elapsed)
	}
}

func TestSubmitRevertedReportsReason(t *testing.T) {
	client := &fakeClient{
		revertStatus: true,
		callErr:      errors.New("execution reverted: transfer amount exceeds balance"),
	}
	b := newTestBroadcaster(client)
	signer := newTestSigner(t)

	out := b.Submit(context.Background(), Request{
		From:     signer.Address(),
		To:       common.HexToAddress("0x9"),
		ValueWei: big.NewInt(1),
	}, signer)

	if out.Status != StatusFailed || out.Reason != ReasonReverted {
		t.Fatalf("expected revert failure, got %v", out)
	}
	if out.BlockNumber != 100 {
		t.Fatalf("revert outcome should carry the block, got %d", out.BlockNumber)
	}
}

func TestSubmitExplicitNonceAndPrice(t *testing.T) {
	client := &fakeClient{nonce: 3}
	b := newTestBroadcaster(client)
	signer := newTestSigner(t)

	nonce := uint64(42)
	price := big.NewInt(77e9)
	out := b.Submit(context.Background(), Request{
		From:     signer.Address(),
		To:       common.HexToAddress("0xa"),
		ValueWei: big.NewInt(1),
		Nonce:    &nonce,
		GasPrice: price,
	}, signer)

	if out.Status != StatusSuccess {
		t.Fatalf("expected success, got %v", out)
	}
	tx := client.lastSent()
	if tx.Nonce() != 42 {
		t.Fatalf("explicit nonce ignored: got %d", tx.Nonce())
	}
	if tx.GasPrice().Cmp(price) != 0 {
		t.Fatalf("explicit gas price ignored: got %s", tx.GasPrice())
	}
}

func TestCheckStatusNotFound(t *testing.T) {
	client := &fakeClient{}
	b := newTestBroadcaster(client)

	status, receipt, err := b.CheckStatus(context.Background(), common.HexToHash("0xdead"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != TxStatusNotFound || receipt != nil {
		t.Fatalf("expected not found, got %v", status)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		msg  string
		want Kind
	}{
		{"already known", KindAlreadyKnown},
		{"known transaction: 0xabc", KindAlreadyKnown},
		{"replacement transaction underpriced", KindUnderpriced},
		{"transaction underpriced", KindUnderpriced},
		{"nonce too low", KindNonceTooLow},
		{"insufficient funds for gas * price + value", KindInsufficientFunds},
		{"connection refused", KindUnknown},
	}
	for _, tc := range cases {
		if got := Classify(errors.New(tc.msg)); got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.msg, got, tc.want)
		}
	}
	if Classify(nil) != KindUnknown {
		t.Errorf("Classify(nil) should be unknown")
	}
}
