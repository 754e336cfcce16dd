package config

// Storage selects where schedule versions are persisted.
type Storage struct {
	// Backend is one of memory, leveldb, bolt, sqlite or postgres.
	Backend string `toml:"Backend"`
	// DSN is the connection string for sqlite and postgres. Defaults to a
	// file under DataDir for sqlite.
	DSN string `toml:"DSN"`
}

// Validation tunes the transition validator.
type Validation struct {
	// Tolerance is the absolute valuation tolerance as a decimal string.
	Tolerance string `toml:"Tolerance"`
	// PolicyFile points at a YAML job transition policy. Empty selects the
	// built-in forward policy.
	PolicyFile string `toml:"PolicyFile"`
}

// Auth guards the write methods of the RPC server.
type Auth struct {
	Enabled       bool     `toml:"Enabled"`
	HMACSecretEnv string   `toml:"HMACSecretEnv"`
	Issuer        string   `toml:"Issuer"`
	Audience      []string `toml:"Audience"`
}

// RateLimit throttles RPC calls per client address.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Enabled  bool   `toml:"Enabled"`
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`

	// SampleRatio is the fraction of root spans exported. Zero exports all.
	SampleRatio float64 `toml:"SampleRatio"`
}

// Logging configures the structured logger.
type Logging struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Webhook forwards ledger events to an external endpoint.
type Webhook struct {
	URL         string   `toml:"URL"`
	SecretEnv   string   `toml:"SecretEnv"`
	EventTypes  []string `toml:"EventTypes"`
	MaxAttempts int      `toml:"MaxAttempts"`
}
