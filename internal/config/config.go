// Package config loads the airdrop CLI configuration.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/fortiblox/X1-Airdrop/internal/types"
)

// Config holds the CLI and local ledger settings.
type Config struct {
	LedgerDir     string `mapstructure:"ledger_dir"`
	ProgramID     string `mapstructure:"program_id"`
	Keypair       string `mapstructure:"keypair"`
	TokenMint     string `mapstructure:"token_mint"`
	ChunkSize     int    `mapstructure:"chunk_size"`
	MaxRecipients int    `mapstructure:"max_recipients"`
	ComputeLimit  uint64 `mapstructure:"compute_limit"`
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	SnapshotDir   string `mapstructure:"snapshot_dir"`
}

const (
	DefaultLedgerDir     = "./ledger"
	DefaultKeypair       = "./id.json"
	DefaultChunkSize     = 20
	DefaultMaxRecipients = 500
	DefaultComputeLimit  = 1_400_000
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "console"

	envPrefix = "AIRDROP"
)

var (
	ErrInvalidChunkSize     = errors.New("chunk_size must be between 1 and 64")
	ErrInvalidMaxRecipients = errors.New("max_recipients must be between 1 and 65535")
	ErrInvalidProgramID     = errors.New("invalid program_id")
	ErrInvalidTokenMint     = errors.New("invalid token_mint")
	ErrEmptyLedgerDir       = errors.New("ledger_dir is empty")
)

// Load reads the configuration. path may be empty, in which case only
// defaults and AIRDROP_* environment variables are used.
func Load(path string) (*Config, error) {
	v := viper.New()

	defaults := map[string]interface{}{
		"ledger_dir":     DefaultLedgerDir,
		"program_id":     types.AirdropProgramAddr.String(),
		"keypair":        DefaultKeypair,
		"token_mint":     "",
		"chunk_size":     DefaultChunkSize,
		"max_recipients": DefaultMaxRecipients,
		"compute_limit":  DefaultComputeLimit,
		"log_level":      DefaultLogLevel,
		"log_format":     DefaultLogFormat,
		"snapshot_dir":   "",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.SnapshotDir == "" {
		cfg.SnapshotDir = filepath.Join(cfg.LedgerDir, "snapshots")
	}

	return &cfg, Validate(&cfg)
}

// Validate checks value ranges and key formats.
func Validate(cfg *Config) error {
	if cfg.LedgerDir == "" {
		return ErrEmptyLedgerDir
	}
	if cfg.ChunkSize <= 0 || cfg.ChunkSize > 64 {
		return ErrInvalidChunkSize
	}
	if cfg.MaxRecipients <= 0 || cfg.MaxRecipients > 65535 {
		return ErrInvalidMaxRecipients
	}
	if _, err := types.PubkeyFromBase58(cfg.ProgramID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProgramID, err)
	}
	if cfg.TokenMint != "" {
		if _, err := types.PubkeyFromBase58(cfg.TokenMint); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTokenMint, err)
		}
	}
	return nil
}

// Program returns the configured program address.
func (c *Config) Program() types.Pubkey {
	return types.MustPubkeyFromBase58(c.ProgramID)
}

// Mint returns the configured token mint, if any.
func (c *Config) Mint() (types.Pubkey, bool) {
	if c.TokenMint == "" {
		return types.Pubkey{}, false
	}
	return types.MustPubkeyFromBase58(c.TokenMint), true
}
