package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	if value.Tag == "!!int" {
		var v int64
		if err := value.Decode(&v); err != nil {
			return err
		}
		d.Duration = time.Duration(v) * time.Second
		return nil
	}
	dur, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	d.Duration = dur
	return nil
}

type Network struct {
	Name             string `yaml:"name"`
	RPC              string `yaml:"rpc"`
	ChainID          uint64 `yaml:"chain_id"`
	TokensFile       string `yaml:"tokens_file"`
	ExplorerURL      string `yaml:"explorer_url"`
	ExplorerAPIURL   string `yaml:"explorer_api_url"`
	MulticallAddress string `yaml:"multicall_address"`
}

type Config struct {
	Network  string             `yaml:"network"`
	Networks map[string]Network `yaml:"networks"`

	WalletFile string `yaml:"wallet_file"`

	Tx struct {
		InitialGasMultiplier float64  `yaml:"initial_gas_multiplier"`
		MaxRetries           int      `yaml:"max_retries"`
		RetryDelay           Duration `yaml:"retry_delay"`
		ShortConfirmWait     Duration `yaml:"short_confirm_wait"`
		LongConfirmWait      Duration `yaml:"long_confirm_wait"`
		ReceiptPollInterval  Duration `yaml:"receipt_poll_interval"`
		DefaultGasLimit      uint64   `yaml:"default_gas_limit"`
		GasEstimateBuffer    float64  `yaml:"gas_estimate_buffer"`
	} `yaml:"tx"`

	Balance struct {
		BatchTimeout Duration `yaml:"batch_timeout"`
		ProbeTimeout Duration `yaml:"probe_timeout"`
		RetryTimeout Duration `yaml:"retry_timeout"`
	} `yaml:"balance"`

	Explorer struct {
		APIKeyEnv      string   `yaml:"api_key_env"`
		RatePerSecond  float64  `yaml:"rate_per_second"`
		RequestTimeout Duration `yaml:"request_timeout"`
		RetryMax       int      `yaml:"retry_max"`
	} `yaml:"explorer"`

	Security struct {
		EncryptPrivateKeys bool   `yaml:"encrypt_private_keys"`
		PassphraseEnv      string `yaml:"passphrase_env"`
	} `yaml:"security"`
}

// Load reads the YAML config at path. A .env file next to the process, if
// present, is loaded first so ${VAR} expansion inside the YAML and env-keyed
// secrets both work.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Network == "" {
		c.Network = "mainnet"
	}
	if c.Networks == nil {
		c.Networks = map[string]Network{}
	}
	if _, ok := c.Networks["mainnet"]; !ok {
		c.Networks["mainnet"] = Network{
			Name:             "BSC Mainnet",
			RPC:              "https://bsc-dataseed.binance.org/",
			ChainID:          56,
			TokensFile:       "mainnet_tokens.csv",
			ExplorerURL:      "https://bscscan.com",
			ExplorerAPIURL:   "https://api.bscscan.com/api",
			MulticallAddress: "0x41263cBA59EB80dC200F3E2544eda4ed6A90E76C",
		}
	}
	if _, ok := c.Networks["testnet"]; !ok {
		c.Networks["testnet"] = Network{
			Name:             "BSC Testnet",
			RPC:              "https://data-seed-prebsc-1-s1.binance.org:8545/",
			ChainID:          97,
			TokensFile:       "testnet_tokens.csv",
			ExplorerURL:      "https://testnet.bscscan.com",
			ExplorerAPIURL:   "https://api-testnet.bscscan.com/api",
			MulticallAddress: "0x6e5BB1a5Ad6F68A8D7D6A5e47750eC15773d6042",
		}
	}
	if c.WalletFile == "" {
		c.WalletFile = "wallets.csv"
	}
	if c.Tx.InitialGasMultiplier == 0 {
		c.Tx.InitialGasMultiplier = 1.1
	}
	if c.Tx.MaxRetries == 0 {
		c.Tx.MaxRetries = 3
	}
	if c.Tx.RetryDelay.Duration == 0 {
		c.Tx.RetryDelay = Duration{Duration: 2 * time.Second}
	}
	if c.Tx.ShortConfirmWait.Duration == 0 {
		c.Tx.ShortConfirmWait = Duration{Duration: 30 * time.Second}
	}
	if c.Tx.LongConfirmWait.Duration == 0 {
		c.Tx.LongConfirmWait = Duration{Duration: 180 * time.Second}
	}
	if c.Tx.ReceiptPollInterval.Duration == 0 {
		c.Tx.ReceiptPollInterval = Duration{Duration: 2 * time.Second}
	}
	if c.Tx.DefaultGasLimit == 0 {
		c.Tx.DefaultGasLimit = 21000
	}
	if c.Tx.GasEstimateBuffer == 0 {
		c.Tx.GasEstimateBuffer = 1.2
	}
	if c.Balance.BatchTimeout.Duration == 0 {
		c.Balance.BatchTimeout = Duration{Duration: 30 * time.Second}
	}
	if c.Balance.ProbeTimeout.Duration == 0 {
		c.Balance.ProbeTimeout = Duration{Duration: 2 * time.Second}
	}
	if c.Balance.RetryTimeout.Duration == 0 {
		c.Balance.RetryTimeout = Duration{Duration: 10 * time.Second}
	}
	if c.Explorer.APIKeyEnv == "" {
		c.Explorer.APIKeyEnv = "BSCSCAN_API_KEY"
	}
	if c.Explorer.RatePerSecond == 0 {
		c.Explorer.RatePerSecond = 5
	}
	if c.Explorer.RequestTimeout.Duration == 0 {
		c.Explorer.RequestTimeout = Duration{Duration: 10 * time.Second}
	}
	if c.Explorer.RetryMax == 0 {
		c.Explorer.RetryMax = 2
	}
	if c.Security.PassphraseEnv == "" {
		c.Security.PassphraseEnv = "WALLET_ENCRYPTION_KEY"
	}
}

func (c *Config) validate() error {
	net, ok := c.Networks[strings.ToLower(c.Network)]
	if !ok {
		return fmt.Errorf("unknown network %q", c.Network)
	}
	if net.RPC == "" {
		return fmt.Errorf("networks.%s.rpc is required", c.Network)
	}
	if net.ChainID == 0 {
		return fmt.Errorf("networks.%s.chain_id is required", c.Network)
	}
	if net.MulticallAddress == "" {
		return fmt.Errorf("networks.%s.multicall_address is required", c.Network)
	}
	if c.Tx.MaxRetries < 1 {
		return fmt.Errorf("tx.max_retries must be >= 1")
	}
	if c.Explorer.RatePerSecond <= 0 {
		return fmt.Errorf("explorer.rate_per_second must be > 0")
	}
	return nil
}

// Active returns the selected network's settings.
func (c *Config) Active() Network {
	return c.Networks[strings.ToLower(c.Network)]
}
