package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ListenAddress string     `toml:"ListenAddress"`
	Environment   string     `toml:"Environment"`
	DataDir       string     `toml:"DataDir"`
	MaxBodyBytes  int64      `toml:"MaxBodyBytes"`
	Storage       Storage    `toml:"storage"`
	Validation    Validation `toml:"validation"`
	Auth          Auth       `toml:"auth"`
	RateLimit     RateLimit  `toml:"rate_limit"`
	Telemetry     Telemetry  `toml:"telemetry"`
	Logging       Logging    `toml:"logging"`
	Webhook       Webhook    `toml:"webhook"`
}

// Default returns the configuration written when no file exists.
func Default() *Config {
	return &Config{
		ListenAddress: "127.0.0.1:8547",
		Environment:   "local",
		DataDir:       "./jct-data",
		MaxBodyBytes:  1 << 20,
		Storage:       Storage{Backend: "leveldb"},
		Validation:    Validation{Tolerance: "0.01"},
		Auth: Auth{
			HMACSecretEnv: "JCT_RPC_JWT_SECRET",
			Issuer:        "jct",
			Audience:      []string{},
		},
		RateLimit: RateLimit{RequestsPerSecond: 20, Burst: 40},
		Telemetry: Telemetry{Endpoint: "localhost:4318", Insecure: true},
		Logging:   Logging{Level: "info"},
		Webhook:   Webhook{SecretEnv: "JCT_WEBHOOK_SECRET", EventTypes: []string{}},
	}
}

// Load loads the configuration from the given path, creating it with defaults
// when it does not exist.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.Environment = strings.TrimSpace(c.Environment)
	if c.Auth.Audience == nil {
		c.Auth.Audience = []string{}
	}
	if c.Webhook.EventTypes == nil {
		c.Webhook.EventTypes = []string{}
	}
	if c.Storage.Backend == "sqlite" && strings.TrimSpace(c.Storage.DSN) == "" {
		c.Storage.DSN = filepath.Join(c.DataDir, "ledger.sqlite")
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
