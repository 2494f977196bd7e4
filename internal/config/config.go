// Package config loads the WhatsBridge runtime configuration from the
// environment.
//
// The configuration is constructed once at process start and passed by value
// into the components that need it; nothing in the core reads ambient state
// after startup.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BTreeMap/WhatsBridge/internal/util"
)

// Default configuration values.
const (
	// DefaultBackendURL is the conversation backend's base URL.
	DefaultBackendURL = "http://localhost:8000"
	// DefaultMetaAPIVersion is the Graph API version used for outbound calls.
	DefaultMetaAPIVersion = "v22.0"
	// DefaultMaxSegmentLength is WhatsApp's maximum text message payload, in characters.
	DefaultMaxSegmentLength = 4096
	// DefaultRetentionWindow is how long an idle thread stays reusable.
	DefaultRetentionWindow = 3 * time.Hour
	// DefaultMaxEventAge is the oldest inbound event the bridge will process.
	DefaultMaxEventAge = 24 * time.Hour
	// DefaultListenAddr is the webhook server's listen address.
	DefaultListenAddr = ":8001"
)

// GatewayProvider selects the outbound messaging implementation.
type GatewayProvider string

const (
	// GatewayMeta sends through the Meta Graph API.
	GatewayMeta GatewayProvider = "meta"
	// GatewayTwilio sends through the Twilio WhatsApp API.
	GatewayTwilio GatewayProvider = "twilio"
	// GatewayMock records sends in memory without network calls.
	GatewayMock GatewayProvider = "mock"
)

// Config holds every value the bridge consumes. Loading mechanics live here;
// consumers only ever see the resulting value.
type Config struct {
	// Backend collaborator.
	BackendURL    string
	BackendAPIKey string
	MockBackend   bool

	// Meta Business API.
	MetaAPIVersion    string
	MetaPhoneNumberID string
	MetaAccessToken   string
	MetaVerifyToken   string
	// MetaAppSecrets holds one or more comma-separated app secrets tried in
	// order during webhook signature verification.
	MetaAppSecrets []string

	// Gateway selection and Twilio credentials.
	Gateway          GatewayProvider
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// Core behavior.
	MaxSegmentLength int
	RetentionWindow  time.Duration
	MaxEventAge      time.Duration
	// AlwaysAckWebhook forces HTTP 200 on every webhook response so Meta
	// never retries. Disabled in test/CI contexts to surface real codes.
	AlwaysAckWebhook bool
	UnderMaintenance bool

	ListenAddr string
}

// Load reads configuration from the environment, applying defaults for
// anything unset. It never fails; Validate reports what is missing for the
// selected mode.
func Load() *Config {
	cfg := &Config{
		BackendURL:    getEnvDefault("BACKEND_SERVER_URL", DefaultBackendURL),
		BackendAPIKey: os.Getenv("WHATSAPP_SERVICE_API_KEY"),
		MockBackend:   util.ParseBoolEnv("MOCK_BACKEND_CLIENT", false),

		MetaAPIVersion:    getEnvDefault("META_API_VERSION", DefaultMetaAPIVersion),
		MetaPhoneNumberID: os.Getenv("META_BUSINESS_PHONE_NUMBER_ID"),
		MetaAccessToken:   os.Getenv("META_ACCESS_TOKEN"),
		MetaVerifyToken:   os.Getenv("META_WEBHOOK_VERIFY_TOKEN"),
		MetaAppSecrets:    splitSecrets(os.Getenv("META_APP_SECRET")),

		Gateway:          GatewayProvider(getEnvDefault("GATEWAY_PROVIDER", string(GatewayMeta))),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber: os.Getenv("TWILIO_FROM_NUMBER"),

		MaxSegmentLength: util.ParseIntEnv("MAX_SEGMENT_LENGTH", DefaultMaxSegmentLength),
		RetentionWindow:  util.ParseDurationEnv("THREAD_RETENTION_WINDOW", DefaultRetentionWindow),
		MaxEventAge:      util.ParseDurationEnv("MAX_EVENT_AGE", DefaultMaxEventAge),
		AlwaysAckWebhook: util.ParseBoolEnv("ALWAYS_ACK_WEBHOOK", true),
		UnderMaintenance: util.ParseBoolEnv("UNDER_MAINTENANCE", false),

		ListenAddr: getEnvDefault("LISTEN_ADDR", DefaultListenAddr),
	}

	slog.Debug("configuration loaded",
		"backend_url", cfg.BackendURL,
		"backend_key_set", cfg.BackendAPIKey != "",
		"mock_backend", cfg.MockBackend,
		"gateway", cfg.Gateway,
		"meta_phone_number_id_set", cfg.MetaPhoneNumberID != "",
		"meta_access_token_set", cfg.MetaAccessToken != "",
		"app_secrets", len(cfg.MetaAppSecrets),
		"max_segment_length", cfg.MaxSegmentLength,
		"retention_window", cfg.RetentionWindow,
		"max_event_age", cfg.MaxEventAge,
		"always_ack", cfg.AlwaysAckWebhook,
		"maintenance", cfg.UnderMaintenance,
		"listen_addr", cfg.ListenAddr)

	return cfg
}

// Validate reports configuration errors for the selected providers. Mock
// providers need no credentials.
func (c Config) Validate() error {
	switch c.Gateway {
	case GatewayMeta:
		if c.MetaPhoneNumberID == "" {
			return fmt.Errorf("META_BUSINESS_PHONE_NUMBER_ID is required for the meta gateway")
		}
		if c.MetaAccessToken == "" {
			return fmt.Errorf("META_ACCESS_TOKEN is required for the meta gateway")
		}
	case GatewayTwilio:
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" {
			return fmt.Errorf("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required for the twilio gateway")
		}
		if c.TwilioFromNumber == "" {
			return fmt.Errorf("TWILIO_FROM_NUMBER is required for the twilio gateway")
		}
	case GatewayMock:
	default:
		return fmt.Errorf("unknown gateway provider %q", c.Gateway)
	}
	if !c.MockBackend && c.BackendAPIKey == "" {
		return fmt.Errorf("WHATSAPP_SERVICE_API_KEY is required unless MOCK_BACKEND_CLIENT is enabled")
	}
	if c.MaxSegmentLength <= 0 {
		return fmt.Errorf("max segment length must be positive, got %d", c.MaxSegmentLength)
	}
	return nil
}

// MetaMessagesURL returns the Graph API endpoint for sending messages and
// typing indicators.
func (c Config) MetaMessagesURL() string {
	return fmt.Sprintf("https://graph.facebook.com/%s/%s/messages", c.MetaAPIVersion, c.MetaPhoneNumberID)
}

func getEnvDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func splitSecrets(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	secrets := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			secrets = append(secrets, s)
		}
	}
	return secrets
}
