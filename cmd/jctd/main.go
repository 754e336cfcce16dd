package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"jctledger/config"
	"jctledger/core/events"
	"jctledger/integrations/webhooks"
	"jctledger/ledger"
	"jctledger/observability/logging"
	telemetry "jctledger/observability/otel"
	"jctledger/rpc"
	"jctledger/rpc/middleware"
	"jctledger/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configFile := flag.String("config", "./jctd.toml", "Path to the configuration file")
	listenFlag := flag.String("listen", "", "Override the configured listen address")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if addr := strings.TrimSpace(*listenFlag); addr != "" {
		cfg.ListenAddress = addr
	}

	env := cfg.Environment
	if override := strings.TrimSpace(os.Getenv("JCT_ENV")); override != "" {
		env = override
	}
	logger, closer := logging.SetupWithOptions("jctd", env, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, env, logger); err != nil {
		logger.Error("jctd terminated", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, env string, logger *slog.Logger) error {
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: "jctd",
			Environment: env,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
			Metrics:     true,
			Traces:      true,
			SampleRatio: cfg.Telemetry.SampleRatio,
			Ledger: telemetry.LedgerResource{
				Store:     cfg.Storage.Backend,
				Policy:    cfg.Validation.PolicyName(),
				Tolerance: cfg.Validation.Tolerance,
			},
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				logger.Warn("telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	validator, err := cfg.Validation.Validator()
	if err != nil {
		return fmt.Errorf("build validator: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	hub := events.NewHub()
	emitters := events.Fanout{hub}
	dispatcher, err := buildDispatcher(cfg.Webhook, os.LookupEnv)
	if err != nil {
		_ = store.Close()
		return err
	}
	if dispatcher != nil {
		defer dispatcher.Close()
		emitters = append(emitters, dispatcher)
		logger.Info("forwarding events to webhook", logging.MaskField("url", cfg.Webhook.URL))
	}

	l := ledger.New(store,
		ledger.WithValidator(validator),
		ledger.WithEmitter(emitters),
		ledger.WithLogger(logger),
	)
	defer l.Close()

	serverCfg, err := buildServerConfig(cfg, os.LookupEnv)
	if err != nil {
		return err
	}
	serverCfg.Logger = logger
	server, err := rpc.NewServer(l, hub, serverCfg)
	if err != nil {
		return fmt.Errorf("init rpc server: %w", err)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()
	logger.Info("jctd running",
		slog.String("listen", listener.Addr().String()),
		slog.String("storage", cfg.Storage.Backend),
		slog.Bool("auth", serverCfg.Auth.Enabled))

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown rpc server: %w", err)
	}
	return <-serveErr
}

type envLookupFunc func(string) (string, bool)

// openStore selects the ledger store for the configured backend.
func openStore(cfg *config.Config) (ledger.Store, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		if !strings.Contains(cfg.Storage.DSN, ":memory:") {
			if err := os.MkdirAll(filepath.Dir(cfg.Storage.DSN), 0o755); err != nil {
				return nil, err
			}
		}
		return ledger.OpenSQLStore(cfg.Storage.Backend, cfg.Storage.DSN)
	case "postgres":
		return ledger.OpenSQLStore(cfg.Storage.Backend, cfg.Storage.DSN)
	default:
		if cfg.Storage.Backend != "memory" {
			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return nil, err
			}
		}
		db, err := storage.Open(cfg.Storage.Backend, cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return ledger.NewKVStore(db), nil
	}
}

func lookupSecret(lookup envLookupFunc, envVar string) (string, error) {
	envVar = strings.TrimSpace(envVar)
	if envVar == "" {
		return "", errors.New("secret environment variable not configured")
	}
	value, ok := lookup(envVar)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%s must be set", envVar)
	}
	return strings.TrimSpace(value), nil
}

func buildServerConfig(cfg *config.Config, lookup envLookupFunc) (rpc.ServerConfig, error) {
	out := rpc.ServerConfig{
		MaxBodyBytes: cfg.MaxBodyBytes,
		RateLimit: middleware.RateLimit{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		},
	}
	if !cfg.Auth.Enabled {
		return out, nil
	}
	secret, err := lookupSecret(lookup, cfg.Auth.HMACSecretEnv)
	if err != nil {
		return out, fmt.Errorf("rpc auth: %w", err)
	}
	out.Auth = middleware.AuthConfig{
		Enabled:    true,
		HMACSecret: secret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   append([]string{}, cfg.Auth.Audience...),
	}
	out.WriteScope = "schedule:write"
	return out, nil
}

func buildDispatcher(cfg config.Webhook, lookup envLookupFunc) (*webhooks.Dispatcher, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, nil
	}
	secret, err := lookupSecret(lookup, cfg.SecretEnv)
	if err != nil {
		return nil, fmt.Errorf("webhook: %w", err)
	}
	opts := []webhooks.Option{}
	if len(cfg.EventTypes) > 0 {
		opts = append(opts, webhooks.WithEventTypes(cfg.EventTypes...))
	}
	if cfg.MaxAttempts > 0 {
		opts = append(opts, webhooks.WithRetryPolicy(cfg.MaxAttempts, 500*time.Millisecond, 30*time.Second))
	}
	return webhooks.NewDispatcher(cfg.URL, []byte(secret), opts...)
}
