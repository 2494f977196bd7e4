package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/BTreeMap/WhatsBridge/internal/api"
	"github.com/BTreeMap/WhatsBridge/internal/config"
	"github.com/joho/godotenv"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration (.env, then process env)
	cfg := loadEnvironmentConfig()

	// Parse command line flags with environment defaults
	applyCommandLineFlags(cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping WhatsBridge",
		"listen_addr", cfg.ListenAddr,
		"gateway", cfg.Gateway,
		"backend_url", cfg.BackendURL,
		"mock_backend", cfg.MockBackend,
		"under_maintenance", cfg.UnderMaintenance)
	if err := api.Run(cfg); err != nil {
		slog.Error("WhatsBridge failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("WhatsBridge exited successfully")
}

// initializeLogger sets up structured logging. LOG_LEVEL=debug enables
// debug output.
func initializeLogger() {
	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and
// the .env file.
func loadEnvironmentConfig() *config.Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}
	return config.Load()
}

// applyCommandLineFlags overrides environment configuration with explicit
// flags.
func applyCommandLineFlags(cfg *config.Config) {
	listenAddr := flag.String("listen-addr", cfg.ListenAddr, "HTTP listen address (overrides $LISTEN_ADDR)")
	backendURL := flag.String("backend-url", cfg.BackendURL, "backend base URL (overrides $BACKEND_SERVER_URL)")
	gatewayProvider := flag.String("gateway", string(cfg.Gateway), "messaging gateway: meta, twilio, or mock (overrides $GATEWAY_PROVIDER)")
	mockBackend := flag.Bool("mock-backend", cfg.MockBackend, "use the in-memory mock backend (overrides $MOCK_BACKEND_CLIENT)")
	maintenance := flag.Bool("maintenance", cfg.UnderMaintenance, "answer every message with a maintenance notice (overrides $UNDER_MAINTENANCE)")
	flag.Parse()

	cfg.ListenAddr = *listenAddr
	cfg.BackendURL = *backendURL
	cfg.Gateway = config.GatewayProvider(*gatewayProvider)
	cfg.MockBackend = *mockBackend
	cfg.UnderMaintenance = *maintenance

	slog.Debug("flags parsed",
		"listen_addr", cfg.ListenAddr,
		"backend_url", cfg.BackendURL,
		"gateway", cfg.Gateway,
		"mock_backend", cfg.MockBackend,
		"maintenance", cfg.UnderMaintenance)
}
