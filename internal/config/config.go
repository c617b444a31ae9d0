package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Auth     AuthConfig     `toml:"auth"`
	Pinata   PinataConfig   `toml:"pinata"`
	Anchor   AnchorConfig   `toml:"anchor"`
	Instance InstanceConfig `toml:"instance"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type AuthConfig struct {
	JWTSecret          string `toml:"jwt_secret"`
	TokenExpiryMin     int    `toml:"token_expiry_min"`
	ChallengeExpirySec int    `toml:"challenge_expiry_sec"`
}

type PinataConfig struct {
	APIKey     string `toml:"api_key"`
	SecretKey  string `toml:"secret_key"`
	BaseURL    string `toml:"base_url"`
	GatewayURL string `toml:"gateway_url"`
}

type AnchorConfig struct {
	Enabled      bool   `toml:"enabled"`
	RPCURL       string `toml:"rpc_url"`
	ProgramID    string `toml:"program_id"`
	PayerKey     string `toml:"payer_key"` // hex ed25519 seed
	PayerKeyFile string `toml:"payer_key_file"`
}

type InstanceConfig struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Database: DatabaseConfig{
			Path: "data/hashguard.db",
		},
		Auth: AuthConfig{
			JWTSecret:          "change-me-in-production",
			TokenExpiryMin:     1440, // 24h
			ChallengeExpirySec: 300,
		},
		Anchor: AnchorConfig{
			Enabled:   false,
			RPCURL:    "https://api.devnet.solana.com",
			ProgramID: "AXrMMFktbFSUro9c7n9B6GV3zWSm2UUXmzCio1xGEmbL",
		},
		Instance: InstanceConfig{
			ID:   "local",
			Name: "hashguard-local",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		} else if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv lets secrets come from the environment (or a .env file loaded by
// main) instead of living in config.toml.
func (cfg *Config) applyEnv() {
	if v := os.Getenv("PINATA_API_KEY"); v != "" {
		cfg.Pinata.APIKey = v
	}
	if v := os.Getenv("PINATA_SECRET_KEY"); v != "" {
		cfg.Pinata.SecretKey = v
	}
	if v := os.Getenv("HASHGUARD_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("ANCHOR_PAYER_KEY"); v != "" {
		cfg.Anchor.PayerKey = v
	}
}
