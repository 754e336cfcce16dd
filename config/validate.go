package config

import (
	"fmt"
	"math/big"
	"path/filepath"
	"strings"

	"jctledger/native/schedule"
)

var backends = map[string]struct{}{
	"memory":   {},
	"leveldb":  {},
	"bolt":     {},
	"sqlite":   {},
	"postgres": {},
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("ListenAddress required")
	}
	if _, ok := backends[c.Storage.Backend]; !ok {
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}
	switch c.Storage.Backend {
	case "leveldb", "bolt":
		if strings.TrimSpace(c.DataDir) == "" {
			return fmt.Errorf("storage: %s backend requires DataDir", c.Storage.Backend)
		}
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return fmt.Errorf("storage: postgres backend requires DSN")
		}
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("MaxBodyBytes must be positive")
	}
	if _, err := c.Validation.ParsedTolerance(); err != nil {
		return err
	}
	if c.Auth.Enabled && strings.TrimSpace(c.Auth.HMACSecretEnv) == "" {
		return fmt.Errorf("auth: HMACSecretEnv required when auth is enabled")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must be non-negative")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst == 0 {
		return fmt.Errorf("rate_limit: Burst required when RequestsPerSecond is set")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0,1]")
	}
	if c.Webhook.URL != "" && strings.TrimSpace(c.Webhook.SecretEnv) == "" {
		return fmt.Errorf("webhook: SecretEnv required when URL is set")
	}
	return nil
}

// ParsedTolerance returns the configured tolerance, or the validator default
// when unset.
func (v Validation) ParsedTolerance() (*big.Rat, error) {
	if strings.TrimSpace(v.Tolerance) == "" {
		return schedule.DefaultTolerance(), nil
	}
	tolerance, err := schedule.ParseRat(v.Tolerance)
	if err != nil {
		return nil, fmt.Errorf("validation: tolerance: %w", err)
	}
	if tolerance.Sign() < 0 {
		return nil, fmt.Errorf("validation: tolerance must be non-negative")
	}
	return tolerance, nil
}

// PolicyName labels the configured job transition policy for telemetry.
func (v Validation) PolicyName() string {
	if strings.TrimSpace(v.PolicyFile) == "" {
		return "forward"
	}
	return filepath.Base(v.PolicyFile)
}
