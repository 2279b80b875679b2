package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"bscwallet/internal/balance"
	"bscwallet/internal/chain"
	"bscwallet/internal/config"
	"bscwallet/internal/token"
)

// Connectivity check against the configured network: head block, gas price,
// a pending-block scan, and optionally a multicall balance probe for an
// address and its stored tokens.
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	address := flag.String("address", "", "probe balances for this address")
	debug := flag.Bool("debug", false, "enable debug logs")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	net := cfg.Active()
	client, err := chain.Dial(ctx, net.RPC)
	if err != nil {
		logger.Error("rpc dial failed", "rpc", net.RPC, "error", err)
		os.Exit(1)
	}
	defer client.Close()

	head, err := client.BlockNumber(ctx)
	if err != nil {
		logger.Error("head fetch failed", "error", err)
		os.Exit(1)
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		logger.Error("gas price fetch failed", "error", err)
		os.Exit(1)
	}
	logger.Info("node reachable",
		"network", net.Name, "head", head,
		"gas_price_gwei", token.FormatUnits(gasPrice, 9))

	pending, err := client.PendingBlockTransactions(ctx)
	if err != nil {
		logger.Warn("pending block scan failed", "error", err)
	} else {
		logger.Info("pending block scanned", "txs", len(pending))
	}

	if *address == "" {
		return
	}
	if !common.IsHexAddress(*address) {
		logger.Error("invalid address", "address", *address)
		os.Exit(1)
	}
	holder := common.HexToAddress(*address)

	store, err := token.NewStore(net.TokensFile)
	if err != nil {
		logger.Error("token store open failed", "error", err)
		os.Exit(1)
	}
	tokens, err := store.List()
	if err != nil {
		logger.Error("token list failed", "error", err)
		os.Exit(1)
	}

	agg := balance.NewAggregator(client, common.HexToAddress(net.MulticallAddress), nil, balance.Config{
		BatchTimeout: cfg.Balance.BatchTimeout.Duration,
		ProbeTimeout: cfg.Balance.ProbeTimeout.Duration,
		RetryTimeout: cfg.Balance.RetryTimeout.Duration,
	}, logger)

	native, err := agg.Native(ctx, holder)
	if err != nil {
		logger.Error("native balance failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("BNB\t%s\n", token.FormatUnits(native, 18))

	results, err := agg.Read(ctx, holder, tokens)
	if err != nil {
		logger.Error("balance read failed", "error", err)
		os.Exit(1)
	}
	for _, r := range results {
		if r.Err != nil {
			fmt.Printf("%s\t(unavailable: %v)\n", r.Token.Symbol, r.Err)
			continue
		}
		fmt.Printf("%s\t%s\n", r.Token.Symbol, r.Formatted)
	}
}
