package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"bscwallet/internal/util"
)

// RateLimitError marks an explorer response rejected for exceeding the API
// quota. Retried with backoff before surfacing.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string {
	return "explorer rate limited: " + e.Message
}

// Transaction is one row of an address's history as the explorer reports it.
type Transaction struct {
	Hash        common.Hash
	From        common.Address
	To          common.Address
	ValueWei    *big.Int
	BlockNumber uint64
	Time        time.Time
	GasUsed     uint64
	Failed      bool
}

// TokenInfo is the explorer's token metadata record.
type TokenInfo struct {
	Address     common.Address
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply *big.Int
}

type Config struct {
	BaseURL        string
	APIKey         string
	RatePerSecond  float64
	RequestTimeout time.Duration
	RetryMax       int
}

func (c *Config) applyDefaults() {
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 5
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
}

// Client talks to a BscScan-style explorer API. All calls share one
// last-request timestamp: each request sleeps out the remainder of the
// per-request interval before going to the network, which keeps the whole
// client under the configured requests-per-second ceiling.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	mu       sync.Mutex
	lastCall time.Time
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger,
	}
}

type apiResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// requestInterval is the spacing a rate ceiling demands between requests.
// Rates below one per second are legal: 0.5 means one request every two
// seconds.
func requestInterval(ratePerSecond float64) time.Duration {
	return time.Duration(float64(time.Second) / ratePerSecond)
}

// throttle blocks until the next request slot opens.
func (c *Client) throttle(ctx context.Context) error {
	c.mu.Lock()
	wait := requestInterval(c.cfg.RatePerSecond) - time.Since(c.lastCall)
	if wait > 0 {
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		c.mu.Lock()
	}
	c.lastCall = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *Client) get(ctx context.Context, params url.Values) (json.RawMessage, error) {
	params.Set("apikey", c.cfg.APIKey)

	var result json.RawMessage
	err := util.RetryIf(ctx, c.cfg.RetryMax, time.Second,
		func(err error) bool {
			_, rateLimited := err.(*RateLimitError)
			return rateLimited || isTransport(err)
		},
		func() error {
			if err := c.throttle(ctx); err != nil {
				return err
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+params.Encode(), nil)
			if err != nil {
				return err
			}
			resp, err := c.http.Do(req)
			if err != nil {
				return &transportError{err}
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return &transportError{err}
			}
			if resp.StatusCode != http.StatusOK {
				return &transportError{fmt.Errorf("explorer returned %d", resp.StatusCode)}
			}

			var parsed apiResponse
			if err := json.Unmarshal(body, &parsed); err != nil {
				return fmt.Errorf("decode explorer response: %w", err)
			}
			if parsed.Status != "1" {
				msg := parsed.Message
				var detail string
				if json.Unmarshal(parsed.Result, &detail) == nil && detail != "" {
					msg = msg + ": " + detail
				}
				if strings.Contains(strings.ToLower(msg), "rate limit") {
					c.logger.Warn("explorer rate limited", "message", msg)
					return &RateLimitError{Message: msg}
				}
				// An empty history is a normal answer, not a failure.
				if strings.Contains(msg, "No transactions found") {
					result = json.RawMessage("[]")
					return nil
				}
				return fmt.Errorf("explorer error: %s", msg)
			}
			result = parsed.Result
			return nil
		})
	return result, err
}

type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func isTransport(err error) bool {
	_, ok := err.(*transportError)
	return ok
}

type rawTx struct {
	Hash        string `json:"hash"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	BlockNumber string `json:"blockNumber"`
	TimeStamp   string `json:"timeStamp"`
	GasUsed     string `json:"gasUsed"`
	IsError     string `json:"isError"`
}

// TransactionHistory returns one page of an address's transactions, newest
// first. Page numbers start at 1.
func (c *Client) TransactionHistory(ctx context.Context, addr common.Address, page, pageSize int) ([]Transaction, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 25
	}
	params := url.Values{
		"module":     {"account"},
		"action":     {"txlist"},
		"address":    {addr.Hex()},
		"startblock": {"0"},
		"endblock":   {"99999999"},
		"page":       {strconv.Itoa(page)},
		"offset":     {strconv.Itoa(pageSize)},
		"sort":       {"desc"},
	}
	raw, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}
	var rows []rawTx
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode transaction list: %w", err)
	}
	out := make([]Transaction, 0, len(rows))
	for _, r := range rows {
		tx := Transaction{
			Hash:   common.HexToHash(r.Hash),
			From:   common.HexToAddress(r.From),
			To:     common.HexToAddress(r.To),
			Failed: r.IsError == "1",
		}
		tx.ValueWei, _ = new(big.Int).SetString(r.Value, 10)
		tx.BlockNumber, _ = strconv.ParseUint(r.BlockNumber, 10, 64)
		if ts, err := strconv.ParseInt(r.TimeStamp, 10, 64); err == nil {
			tx.Time = time.Unix(ts, 0).UTC()
		}
		tx.GasUsed, _ = strconv.ParseUint(r.GasUsed, 10, 64)
		out = append(out, tx)
	}
	return out, nil
}

// ContractABI fetches a verified contract's ABI JSON, suitable for
// Invoker.Bind. Unverified contracts come back as an error.
func (c *Client) ContractABI(ctx context.Context, addr common.Address) (string, error) {
	raw, err := c.get(ctx, url.Values{
		"module":  {"contract"},
		"action":  {"getabi"},
		"address": {addr.Hex()},
	})
	if err != nil {
		return "", err
	}
	var abiJSON string
	if err := json.Unmarshal(raw, &abiJSON); err != nil {
		return "", fmt.Errorf("decode abi response: %w", err)
	}
	if strings.Contains(abiJSON, "not verified") {
		return "", fmt.Errorf("contract %s source is not verified", addr.Hex())
	}
	return abiJSON, nil
}

// TokenBalance reads a token balance through the explorer instead of the
// node. Useful when the RPC endpoint is unhealthy.
func (c *Client) TokenBalance(ctx context.Context, tokenAddr, holder common.Address) (*big.Int, error) {
	raw, err := c.get(ctx, url.Values{
		"module":          {"account"},
		"action":          {"tokenbalance"},
		"contractaddress": {tokenAddr.Hex()},
		"address":         {holder.Hex()},
		"tag":             {"latest"},
	})
	if err != nil {
		return nil, err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode balance response: %w", err)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("unparseable balance %q", s)
	}
	return v, nil
}

type rawTokenInfo struct {
	ContractAddress string `json:"contractAddress"`
	TokenName       string `json:"tokenName"`
	Symbol          string `json:"symbol"`
	Divisor         string `json:"divisor"`
	TotalSupply     string `json:"totalSupply"`
}

// TokenInfo fetches the explorer's metadata record for a token contract.
func (c *Client) TokenInfo(ctx context.Context, tokenAddr common.Address) (TokenInfo, error) {
	raw, err := c.get(ctx, url.Values{
		"module":          {"token"},
		"action":          {"tokeninfo"},
		"contractaddress": {tokenAddr.Hex()},
	})
	if err != nil {
		return TokenInfo{}, err
	}
	var rows []rawTokenInfo
	if err := json.Unmarshal(raw, &rows); err != nil {
		return TokenInfo{}, fmt.Errorf("decode token info: %w", err)
	}
	if len(rows) == 0 {
		return TokenInfo{}, fmt.Errorf("no token info for %s", tokenAddr.Hex())
	}
	r := rows[0]
	info := TokenInfo{
		Address: common.HexToAddress(r.ContractAddress),
		Name:    r.TokenName,
		Symbol:  r.Symbol,
	}
	if d, err := strconv.ParseUint(r.Divisor, 10, 8); err == nil {
		info.Decimals = uint8(d)
	}
	info.TotalSupply, _ = new(big.Int).SetString(r.TotalSupply, 10)
	return info, nil
}
