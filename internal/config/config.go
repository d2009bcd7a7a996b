// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rovshanmuradov/solana-dispatch/internal/types"
)

type Config struct {
	RPCList            []string `mapstructure:"rpc_list"`
	WebSocketURL       string   `mapstructure:"websocket_url"`
	RelayURL           string   `mapstructure:"relay_url"`
	PrivateKey         string   `mapstructure:"private_key"`
	WalletsFile        string   `mapstructure:"wallets_file"`
	WalletName         string   `mapstructure:"wallet_name"`
	FeeTier            string   `mapstructure:"fee_tier"`
	DispatchMode       string   `mapstructure:"dispatch_mode"`
	ComputeUnits       uint32   `mapstructure:"compute_units"`
	TipSOL             string   `mapstructure:"tip_sol"`
	Commitment         string   `mapstructure:"commitment"`
	BlockhashRetries   int      `mapstructure:"blockhash_retries"`
	BroadcastRetries   int      `mapstructure:"broadcast_retries"`
	RetryDelayMs       int      `mapstructure:"retry_delay_ms"`
	ConfirmAttempts    int      `mapstructure:"confirm_attempts"`
	ConfirmIntervalMs  int      `mapstructure:"confirm_interval_ms"`
	ProbeTimeoutMs     int      `mapstructure:"probe_timeout_ms"`
	SignerTimeoutMs    int      `mapstructure:"signer_timeout_ms"`
	StrictConfirmation bool     `mapstructure:"strict_confirmation"`
	DebugLogging       bool     `mapstructure:"debug_logging"`
	LogFile            string   `mapstructure:"log_file"`

	// Parsed from the fields above by LoadConfig.
	Tier        types.FeeTier      `mapstructure:"-"`
	Mode        types.DispatchMode `mapstructure:"-"`
	TipLamports uint64             `mapstructure:"-"`
}

const (
	DefaultRelayURL          = "https://mainnet.block-engine.jito.wtf/api/v1/bundles"
	DefaultFeeTier           = "medium"
	DefaultDispatchMode      = "direct-priority"
	DefaultTipSOL            = "0.0001"
	DefaultCommitment        = "confirmed"
	DefaultRetries           = 3
	DefaultRetryDelayMs      = 500
	DefaultConfirmAttempts   = 6
	DefaultConfirmIntervalMs = 1500
	DefaultProbeTimeoutMs    = 5000
	DefaultSignerTimeoutMs   = 15000
	DefaultLogFile           = "dispatch.log"

	envPrefix = "SOLANA_DISPATCH"
)

// LoadConfig reads path (JSON or YAML), applies defaults and SOLANA_DISPATCH_*
// environment overrides, and validates the result. An empty path loads
// defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	defaults := map[string]interface{}{
		"rpc_list":            []string{},
		"websocket_url":       "",
		"relay_url":           DefaultRelayURL,
		"private_key":         "",
		"wallets_file":        "",
		"wallet_name":         "",
		"fee_tier":            DefaultFeeTier,
		"dispatch_mode":       DefaultDispatchMode,
		"compute_units":       types.DefaultComputeUnits,
		"tip_sol":             DefaultTipSOL,
		"commitment":          DefaultCommitment,
		"blockhash_retries":   DefaultRetries,
		"broadcast_retries":   DefaultRetries,
		"retry_delay_ms":      DefaultRetryDelayMs,
		"confirm_attempts":    DefaultConfirmAttempts,
		"confirm_interval_ms": DefaultConfirmIntervalMs,
		"probe_timeout_ms":    DefaultProbeTimeoutMs,
		"signer_timeout_ms":   DefaultSignerTimeoutMs,
		"strict_confirmation": false,
		"debug_logging":       false,
		"log_file":            DefaultLogFile,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	loadEnvironmentVariables(v, &cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// RetryDelay is the first backoff interval of block reference and broadcast retries.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

func (c *Config) ConfirmInterval() time.Duration {
	return time.Duration(c.ConfirmIntervalMs) * time.Millisecond
}

func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMs) * time.Millisecond
}

func (c *Config) SignerTimeout() time.Duration {
	return time.Duration(c.SignerTimeoutMs) * time.Millisecond
}

func validateConfig(cfg *Config) error {
	if len(cfg.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURL(rpcURL, "http"); err != nil {
			return fmt.Errorf("rpc_list entry %q: %w", rpcURL, err)
		}
	}
	if cfg.WebSocketURL != "" {
		if err := validateURL(cfg.WebSocketURL, "ws"); err != nil {
			return fmt.Errorf("websocket_url: %w", err)
		}
	}
	if cfg.RelayURL != "" {
		if err := validateURL(cfg.RelayURL, "http"); err != nil {
			return fmt.Errorf("relay_url: %w", err)
		}
	}

	tier, err := types.ParseFeeTier(cfg.FeeTier)
	if err != nil {
		return err
	}
	cfg.Tier = tier

	mode, err := types.ParseDispatchMode(cfg.DispatchMode)
	if err != nil {
		return err
	}
	cfg.Mode = mode

	tip, err := types.ParseSOL(cfg.TipSOL)
	if err != nil {
		return fmt.Errorf("tip_sol: %w", err)
	}
	if cfg.Mode == types.ModeBundle && tip == 0 {
		return errors.New("tip_sol must be positive in relayed-bundle mode")
	}
	cfg.TipLamports = tip

	switch cfg.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("invalid commitment %q", cfg.Commitment)
	}

	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.ComputeUnits == 0 || cfg.ComputeUnits > 1_400_000 {
		return errors.New("compute_units must be between 1 and 1400000")
	}
	if cfg.BlockhashRetries <= 0 {
		return errors.New("invalid blockhash_retries")
	}
	if cfg.BroadcastRetries <= 0 {
		return errors.New("invalid broadcast_retries")
	}
	if cfg.RetryDelayMs <= 0 {
		return errors.New("invalid retry_delay_ms")
	}
	if cfg.ConfirmAttempts <= 0 {
		return errors.New("invalid confirm_attempts")
	}
	if cfg.ConfirmIntervalMs <= 0 {
		return errors.New("invalid confirm_interval_ms")
	}
	if cfg.ProbeTimeoutMs <= 0 {
		return errors.New("invalid probe_timeout_ms")
	}
	if cfg.SignerTimeoutMs <= 0 {
		return errors.New("invalid signer_timeout_ms")
	}
	return nil
}

func validateURL(rawURL string, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) || parsed.Host == "" {
		return errors.New("invalid URL protocol")
	}
	return nil
}

// loadEnvironmentVariables applies the overrides viper cannot decode itself.
func loadEnvironmentVariables(v *viper.Viper, cfg *Config) {
	envRPCList := v.GetString("RPC_LIST")
	if envRPCList == "" {
		return
	}
	var cleanRPCs []string
	for _, rpc := range strings.Split(envRPCList, ",") {
		clean := strings.TrimSpace(rpc)
		if clean != "" {
			cleanRPCs = append(cleanRPCs, clean)
		}
	}
	if len(cleanRPCs) > 0 {
		cfg.RPCList = cleanRPCs
	}
}
