package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// PendingTx is the slice of a pending-block transaction the replacement
// logic needs: who sent it, at which nonce, and at what price.
type PendingTx struct {
	Hash     common.Hash
	From     common.Address
	Nonce    uint64
	GasPrice *big.Int
}

// Client is the node boundary. Everything the wallet core does against the
// network goes through this interface so tests can substitute a fake.
type Client interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error)
	PendingBlockTransactions(ctx context.Context) ([]PendingTx, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// RPCClient backs Client with a real node over JSON-RPC. It keeps both the
// typed ethclient and the raw rpc.Client: the raw client is needed for the
// pending-block scan, which ethclient cannot decode (pending blocks carry a
// null hash).
type RPCClient struct {
	eth *ethclient.Client
	rpc *rpc.Client
}

func Dial(ctx context.Context, url string) (*RPCClient, error) {
	rpcClient, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return &RPCClient{eth: ethclient.NewClient(rpcClient), rpc: rpcClient}, nil
}

func (c *RPCClient) Close() {
	c.rpc.Close()
}

func (c *RPCClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return c.eth.BalanceAt(ctx, account, blockNumber)
}

func (c *RPCClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.eth.PendingNonceAt(ctx, account)
}

func (c *RPCClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.eth.SuggestGasPrice(ctx)
}

func (c *RPCClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return c.eth.EstimateGas(ctx, msg)
}

func (c *RPCClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.eth.CallContract(ctx, msg, blockNumber)
}

func (c *RPCClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.eth.SendTransaction(ctx, tx)
}

func (c *RPCClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return c.eth.TransactionReceipt(ctx, txHash)
}

func (c *RPCClient) TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error) {
	return c.eth.TransactionByHash(ctx, txHash)
}

func (c *RPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

type rpcBlock struct {
	Transactions []rpcTx `json:"transactions"`
}

type rpcTx struct {
	Hash     common.Hash     `json:"hash"`
	From     common.Address  `json:"from"`
	Nonce    hexutil.Uint64  `json:"nonce"`
	GasPrice *hexutil.Big    `json:"gasPrice"`
}

func (c *RPCClient) PendingBlockTransactions(ctx context.Context) ([]PendingTx, error) {
	var block rpcBlock
	if err := c.rpc.CallContext(ctx, &block, "eth_getBlockByNumber", "pending", true); err != nil {
		return nil, err
	}
	out := make([]PendingTx, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		p := PendingTx{Hash: tx.Hash, From: tx.From, Nonce: uint64(tx.Nonce)}
		if tx.GasPrice != nil {
			p.GasPrice = tx.GasPrice.ToInt()
		}
		out = append(out, p)
	}
	return out, nil
}
