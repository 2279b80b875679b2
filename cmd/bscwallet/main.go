package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"bscwallet/internal/balance"
	"bscwallet/internal/chain"
	"bscwallet/internal/config"
	"bscwallet/internal/explorer"
	"bscwallet/internal/invoke"
	"bscwallet/internal/secrets"
	"bscwallet/internal/token"
	"bscwallet/internal/txsend"
	"bscwallet/internal/wallet"
)

const usage = `usage: bscwallet [-config path] <command> [args]

commands:
  wallet-new                      generate a wallet and store it
  wallet-import <key|mnemonic>    import a wallet from a private key or seed phrase
  balances <address>              native and token balances for an address
  send <from> <to> <amount> [token]
                                  send BNB, or a token when its address is given
  cancel <from> <nonce>           replace a stuck transaction with a self-transfer
  token-add <address>             verify a token contract and store it
  history <address> [page]        recent transactions from the explorer
  call <contract> <function> [args...]
                                  invoke a verified contract function
`

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.close()

	if err := a.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		logger.Error("command failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

type app struct {
	cfg         *config.Config
	net         config.Network
	logger      *slog.Logger
	client      *chain.RPCClient
	broadcaster *txsend.Broadcaster
	aggregator  *balance.Aggregator
	invoker     *invoke.Invoker
	explorer    *explorer.Client
	wallets     *wallet.Store
	tokens      *token.Store
	chainID     *big.Int
	cipher      *secrets.Cipher
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	net := cfg.Active()

	client, err := chain.Dial(ctx, net.RPC)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", net.RPC, err)
	}

	chainID := new(big.Int).SetUint64(net.ChainID)
	broadcaster := txsend.NewBroadcaster(client, chainID, txsend.Config{
		MaxRetries:           cfg.Tx.MaxRetries,
		RetryDelay:           cfg.Tx.RetryDelay.Duration,
		ShortConfirmWait:     cfg.Tx.ShortConfirmWait.Duration,
		LongConfirmWait:      cfg.Tx.LongConfirmWait.Duration,
		ReceiptPollInterval:  cfg.Tx.ReceiptPollInterval.Duration,
		DefaultGasLimit:      cfg.Tx.DefaultGasLimit,
		GasEstimateBuffer:    cfg.Tx.GasEstimateBuffer,
		InitialGasMultiplier: cfg.Tx.InitialGasMultiplier,
	}, logger)

	aggregator := balance.NewAggregator(client, common.HexToAddress(net.MulticallAddress), nil, balance.Config{
		BatchTimeout: cfg.Balance.BatchTimeout.Duration,
		ProbeTimeout: cfg.Balance.ProbeTimeout.Duration,
		RetryTimeout: cfg.Balance.RetryTimeout.Duration,
	}, logger)

	wallets, err := wallet.NewStore(cfg.WalletFile)
	if err != nil {
		return nil, fmt.Errorf("wallet store: %w", err)
	}
	tokens, err := token.NewStore(net.TokensFile)
	if err != nil {
		return nil, fmt.Errorf("token store: %w", err)
	}

	a := &app{
		cfg:         cfg,
		net:         net,
		logger:      logger,
		client:      client,
		broadcaster: broadcaster,
		aggregator:  aggregator,
		invoker:     invoke.NewInvoker(client, broadcaster, logger),
		explorer: explorer.NewClient(explorer.Config{
			BaseURL:        net.ExplorerAPIURL,
			APIKey:         os.Getenv(cfg.Explorer.APIKeyEnv),
			RatePerSecond:  cfg.Explorer.RatePerSecond,
			RequestTimeout: cfg.Explorer.RequestTimeout.Duration,
			RetryMax:       cfg.Explorer.RetryMax,
		}, logger),
		wallets: wallets,
		tokens:  tokens,
		chainID: chainID,
	}
	if cfg.Security.EncryptPrivateKeys {
		pass := os.Getenv(cfg.Security.PassphraseEnv)
		a.cipher, err = secrets.NewCipher(pass)
		if err != nil {
			return nil, fmt.Errorf("encryption enabled but %s is unusable: %w", cfg.Security.PassphraseEnv, err)
		}
	}
	return a, nil
}

func (a *app) close() {
	a.client.Close()
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "wallet-new":
		return a.walletNew()
	case "wallet-import":
		if len(args) < 1 {
			return fmt.Errorf("usage: wallet-import <key|mnemonic>")
		}
		return a.walletImport(strings.Join(args, " "))
	case "balances":
		if len(args) != 1 {
			return fmt.Errorf("usage: balances <address>")
		}
		return a.balances(ctx, args[0])
	case "send":
		if len(args) != 3 && len(args) != 4 {
			return fmt.Errorf("usage: send <from> <to> <amount> [token]")
		}
		return a.send(ctx, args)
	case "cancel":
		if len(args) != 2 {
			return fmt.Errorf("usage: cancel <from> <nonce>")
		}
		return a.cancel(ctx, args[0], args[1])
	case "token-add":
		if len(args) != 1 {
			return fmt.Errorf("usage: token-add <address>")
		}
		return a.tokenAdd(ctx, args[0])
	case "history":
		if len(args) < 1 || len(args) > 2 {
			return fmt.Errorf("usage: history <address> [page]")
		}
		return a.history(ctx, args)
	case "call":
		if len(args) < 2 {
			return fmt.Errorf("usage: call <contract> <function> [args...]")
		}
		return a.call(ctx, args[0], args[1], args[2:])
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) walletNew() error {
	acct, err := wallet.Create()
	if err != nil {
		return err
	}
	return a.storeAccount(acct)
}

func (a *app) walletImport(secret string) error {
	var acct wallet.Account
	var err error
	if len(strings.Fields(secret)) > 1 {
		acct, err = wallet.ImportMnemonic(secret)
	} else {
		acct, err = wallet.ImportKey(secret)
	}
	if err != nil {
		return err
	}
	return a.storeAccount(acct)
}

func (a *app) storeAccount(acct wallet.Account) error {
	display := acct
	if a.cipher != nil {
		var err error
		if acct.PrivateKey, err = a.cipher.Encrypt(acct.PrivateKey); err != nil {
			return err
		}
		if acct.Mnemonic != "" {
			if acct.Mnemonic, err = a.cipher.Encrypt(acct.Mnemonic); err != nil {
				return err
			}
		}
	}
	if err := a.wallets.Append(acct); err != nil {
		return err
	}
	fmt.Printf("address:  %s\n", display.Address.Hex())
	fmt.Printf("key:      %s\n", wallet.MaskKey(display.PrivateKey))
	if display.Mnemonic != "" {
		fmt.Printf("mnemonic: %s\n", wallet.MaskMnemonic(display.Mnemonic))
	}
	return nil
}

// signerFor loads and, when needed, decrypts the stored key for an address.
func (a *app) signerFor(addrStr string) (*wallet.Signer, error) {
	if !common.IsHexAddress(addrStr) {
		return nil, fmt.Errorf("invalid address %q", addrStr)
	}
	acct, err := a.wallets.Find(common.HexToAddress(addrStr))
	if err != nil {
		return nil, err
	}
	if !acct.CanSign() {
		return nil, fmt.Errorf("wallet %s is watch-only", acct.Address.Hex())
	}
	key := acct.PrivateKey
	if a.cipher != nil {
		if key, err = a.cipher.Decrypt(key); err != nil {
			return nil, err
		}
	}
	return wallet.NewSigner(key, a.chainID)
}

func (a *app) balances(ctx context.Context, addrStr string) error {
	if !common.IsHexAddress(addrStr) {
		return fmt.Errorf("invalid address %q", addrStr)
	}
	holder := common.HexToAddress(addrStr)

	native, err := a.aggregator.Native(ctx, holder)
	if err != nil {
		return fmt.Errorf("native balance: %w", err)
	}
	fmt.Printf("BNB\t%s\n", token.FormatUnits(native, 18))

	list, err := a.tokens.List()
	if err != nil {
		return err
	}
	results, err := a.aggregator.Read(ctx, holder, list)
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != nil {
			fmt.Printf("%s\t(unavailable: %v)\n", r.Token.Symbol, r.Err)
			continue
		}
		fmt.Printf("%s\t%s\n", r.Token.Symbol, r.Formatted)
	}
	return nil
}

func (a *app) send(ctx context.Context, args []string) error {
	signer, err := a.signerFor(args[0])
	if err != nil {
		return err
	}
	if !common.IsHexAddress(args[1]) {
		return fmt.Errorf("invalid recipient %q", args[1])
	}
	to := common.HexToAddress(args[1])

	var out txsend.Outcome
	if len(args) == 4 {
		if !common.IsHexAddress(args[3]) {
			return fmt.Errorf("invalid token address %q", args[3])
		}
		tokenAddr := common.HexToAddress(args[3])
		desc, err := token.Verify(ctx, a.client, tokenAddr)
		if err != nil {
			return fmt.Errorf("token %s: %w", tokenAddr.Hex(), err)
		}
		raw, err := token.ParseUnits(args[2], desc.Decimals)
		if err != nil {
			return err
		}
		data, err := token.TransferCallData(to, raw)
		if err != nil {
			return err
		}
		out = a.broadcaster.Submit(ctx, txsend.Request{
			From: signer.Address(),
			To:   tokenAddr,
			Data: data,
		}, signer)
	} else {
		wei, err := token.ParseUnits(args[2], 18)
		if err != nil {
			return err
		}
		out = a.broadcaster.Submit(ctx, txsend.Request{
			From:     signer.Address(),
			To:       to,
			ValueWei: wei,
		}, signer)
	}
	fmt.Println(out)
	if out.Status == txsend.StatusFailed {
		return fmt.Errorf("%s", out.Message)
	}
	return nil
}

func (a *app) cancel(ctx context.Context, fromStr, nonceStr string) error {
	signer, err := a.signerFor(fromStr)
	if err != nil {
		return err
	}
	var nonce uint64
	if _, err := fmt.Sscanf(nonceStr, "%d", &nonce); err != nil {
		return fmt.Errorf("invalid nonce %q", nonceStr)
	}
	out := a.broadcaster.Resolver().Cancel(ctx, a.broadcaster, signer, nonce)
	fmt.Println(out)
	if out.Status == txsend.StatusFailed {
		return fmt.Errorf("%s", out.Message)
	}
	return nil
}

func (a *app) tokenAdd(ctx context.Context, addrStr string) error {
	if !common.IsHexAddress(addrStr) {
		return fmt.Errorf("invalid address %q", addrStr)
	}
	desc, err := token.Verify(ctx, a.client, common.HexToAddress(addrStr))
	if err != nil {
		return fmt.Errorf("not a conforming token: %w", err)
	}
	if err := a.tokens.Append(desc); err != nil {
		return err
	}
	fmt.Printf("added %s (%s, %d decimals)\n", desc.Symbol, desc.Name, desc.Decimals)
	return nil
}

func (a *app) history(ctx context.Context, args []string) error {
	if !common.IsHexAddress(args[0]) {
		return fmt.Errorf("invalid address %q", args[0])
	}
	page := 1
	if len(args) == 2 {
		if _, err := fmt.Sscanf(args[1], "%d", &page); err != nil {
			return fmt.Errorf("invalid page %q", args[1])
		}
	}
	txs, err := a.explorer.TransactionHistory(ctx, common.HexToAddress(args[0]), page, 25)
	if err != nil {
		return err
	}
	if len(txs) == 0 {
		fmt.Println("no transactions found")
		return nil
	}
	for _, tx := range txs {
		status := "ok"
		if tx.Failed {
			status = "failed"
		}
		fmt.Printf("%s\t%s\t%s -> %s\t%s BNB\t%s\n",
			tx.Time.Format("2006-01-02 15:04"), status,
			tx.From.Hex(), tx.To.Hex(),
			token.FormatUnits(tx.ValueWei, 18), tx.Hash.Hex())
	}
	return nil
}

func (a *app) call(ctx context.Context, contractStr, function string, fnArgs []string) error {
	if !common.IsHexAddress(contractStr) {
		return fmt.Errorf("invalid contract address %q", contractStr)
	}
	contract := common.HexToAddress(contractStr)

	abiJSON, err := a.explorer.ContractABI(ctx, contract)
	if err != nil {
		// Unverified contracts still answer the ERC-20 surface, which
		// covers the common case of calling a token directly.
		a.logger.Warn("explorer has no verified ABI, assuming a standard token contract",
			"contract", contract.Hex(), "error", err)
		abiJSON = token.StandardABI
	}
	if err := a.invoker.Bind(contract, abiJSON); err != nil {
		return err
	}
	desc, err := a.invoker.Descriptor(contract, function)
	if err != nil {
		return err
	}

	opts := invoke.Options{}
	if len(desc.AmountArgs) > 0 {
		// Amount scaling needs the token's decimals; non-token contracts
		// fall back to raw units.
		if meta, err := token.Verify(ctx, a.client, contract); err == nil {
			opts.Decimals = meta.Decimals
		} else {
			opts.RawAmounts = true
			a.logger.Debug("contract has no decimals, passing amounts raw", "contract", contract.Hex())
		}
	}

	if desc.IsConstant {
		values, err := a.invoker.Call(ctx, contract, function, fnArgs, opts)
		if err != nil {
			return err
		}
		for _, v := range values {
			fmt.Println(v)
		}
		return nil
	}

	fmt.Fprint(os.Stderr, "signing wallet address: ")
	var fromStr string
	if _, err := fmt.Scanln(&fromStr); err != nil {
		return fmt.Errorf("read wallet address: %w", err)
	}
	signer, err := a.signerFor(fromStr)
	if err != nil {
		return err
	}
	out := a.invoker.Send(ctx, contract, function, fnArgs, signer, opts)
	fmt.Println(out)
	if out.Status == txsend.StatusFailed {
		return fmt.Errorf("%s", out.Message)
	}
	return nil
}
