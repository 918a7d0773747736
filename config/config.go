package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// ChainConfig describes the ledger connection and the contracts the engine
// touches.
type ChainConfig struct {
	RPCEndpoint         string `yaml:"rpc_endpoint"`
	SignerKey           string `yaml:"signer_key"`
	SignerKeyFile       string `yaml:"signer_key_file"`
	TokenAddress        string `yaml:"token_address"`
	TokenDecimals       int32  `yaml:"token_decimals"`
	EscrowAddress       string `yaml:"escrow_address"`
	StakingAddress      string `yaml:"staking_address"`
	StakingReadFunction string `yaml:"staking_read_function"`
	StablecoinAddress   string `yaml:"stablecoin_address"`
	TransferGasLimit    uint64 `yaml:"transfer_gas_limit"`
}

// IdentityConfig describes the identity directory API.
type IdentityConfig struct {
	BaseURL       string  `yaml:"base_url"`
	APIKey        string  `yaml:"api_key"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// DatabaseConfig selects the settlement store backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// AuthConfig controls the bearer tokens accepted from game backends.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// Config captures the runtime configuration for settlementd.
type Config struct {
	ListenAddress   string         `yaml:"listen"`
	Environment     string         `yaml:"environment"`
	ExplorerBaseURL string         `yaml:"explorer_base_url"`
	KnownContracts  []string       `yaml:"known_contracts"`
	RequestTimeout  Duration       `yaml:"request_timeout"`
	PauseOnStart    bool           `yaml:"pause"`
	Chain           ChainConfig    `yaml:"chain"`
	Identity        IdentityConfig `yaml:"identity"`
	Database        DatabaseConfig `yaml:"database"`
	Auth            AuthConfig     `yaml:"auth"`
}

// Load reads a YAML configuration file, applies environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress:  ":8099",
		RequestTimeout: Duration{Duration: 30 * time.Second},
		Database:       DatabaseConfig{Driver: "sqlite", DSN: "settlement.db"},
		Identity:       IdentityConfig{RatePerSecond: 5, Burst: 10},
		Chain:          ChainConfig{TokenDecimals: 18, StakingReadFunction: "balanceOf", TransferGasLimit: 100_000},
	}
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		raw, err := os.ReadFile(trimmed)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", trimmed, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", trimmed, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.resolveSignerKey(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("ARENAPAY_LISTEN")); v != "" {
		c.ListenAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("ARENAPAY_ENV")); v != "" {
		c.Environment = v
	}
	if v := strings.TrimSpace(os.Getenv("ARENAPAY_RPC_ENDPOINT")); v != "" {
		c.Chain.RPCEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("ARENAPAY_SIGNER_KEY")); v != "" {
		c.Chain.SignerKey = v
	}
	if v := strings.TrimSpace(os.Getenv("ARENAPAY_DB_DSN")); v != "" {
		c.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("ARENAPAY_DB_DRIVER")); v != "" {
		c.Database.Driver = v
	}
	if v := strings.TrimSpace(os.Getenv("ARENAPAY_IDENTITY_API_KEY")); v != "" {
		c.Identity.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("ARENAPAY_JWT_SECRET")); v != "" {
		c.Auth.JWTSecret = v
	}
}

func (c *Config) resolveSignerKey() error {
	if strings.TrimSpace(c.Chain.SignerKey) != "" {
		return nil
	}
	file := strings.TrimSpace(c.Chain.SignerKeyFile)
	if file == "" {
		return nil
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read signer key file %s: %w", file, err)
	}
	c.Chain.SignerKey = strings.TrimSpace(string(raw))
	return nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Chain.RPCEndpoint) == "" {
		return fmt.Errorf("chain.rpc_endpoint is required")
	}
	if strings.TrimSpace(c.Chain.TokenAddress) == "" {
		return fmt.Errorf("chain.token_address is required")
	}
	if strings.TrimSpace(c.Chain.EscrowAddress) == "" {
		return fmt.Errorf("chain.escrow_address is required")
	}
	if c.Chain.TokenDecimals < 0 || c.Chain.TokenDecimals > 36 {
		return fmt.Errorf("chain.token_decimals out of range")
	}
	if strings.TrimSpace(c.Identity.BaseURL) == "" {
		return fmt.Errorf("identity.base_url is required")
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	return nil
}

// ContractAddresses returns every configured contract address plus any extra
// known contracts, for the payout address filter.
func (c *Config) ContractAddresses() []string {
	addrs := []string{
		c.Chain.TokenAddress,
		c.Chain.EscrowAddress,
		c.Chain.StakingAddress,
		c.Chain.StablecoinAddress,
	}
	addrs = append(addrs, c.KnownContracts...)
	return addrs
}
