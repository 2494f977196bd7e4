// Package api exposes the webhook surface of WhatsBridge: the Meta
// subscription handshake, the signed event webhook, and a health probe.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/WhatsBridge/internal/backend"
	"github.com/BTreeMap/WhatsBridge/internal/config"
	"github.com/BTreeMap/WhatsBridge/internal/conversation"
	"github.com/BTreeMap/WhatsBridge/internal/events"
	"github.com/BTreeMap/WhatsBridge/internal/gateway"
)

const (
	// maxWebhookBodySize caps how much of a webhook payload is read.
	maxWebhookBodySize = 1 << 20
	// processTimeout bounds one detached orchestration run, comfortably
	// above the typing indicator cap.
	processTimeout = 10 * time.Minute
)

// Server holds the webhook handlers and their collaborators.
type Server struct {
	cfg       *config.Config
	extractor *events.Extractor
	orch      *conversation.Orchestrator
	gateway   gateway.Client
	verifier  gateway.Verifier

	// dispatch runs one orchestration; replaced in tests to run inline.
	dispatch func(*Server, *eventDispatch)
}

// NewServer wires a server from its collaborators.
func NewServer(cfg *config.Config, extractor *events.Extractor, orch *conversation.Orchestrator, gw gateway.Client, verifier gateway.Verifier) *Server {
	return &Server{
		cfg:       cfg,
		extractor: extractor,
		orch:      orch,
		gateway:   gw,
		verifier:  verifier,
		dispatch:  dispatchDetached,
	}
}

// Handler returns the routed HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.healthHandler)
	mux.HandleFunc("/whatsapp/v2", s.webhookRootHandler)
	return mux
}

func (s *Server) webhookRootHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.verificationHandler(w, r)
	case http.MethodPost:
		s.webhookHandler(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// Run builds the full service from configuration and serves it until the
// listener fails.
func Run(cfg *config.Config) error {
	b, err := buildBackend(cfg)
	if err != nil {
		return fmt.Errorf("backend setup: %w", err)
	}
	gw, verifier, err := buildGateway(cfg)
	if err != nil {
		return fmt.Errorf("gateway setup: %w", err)
	}

	orch := conversation.New(b, gw, cfg)
	extractor := events.NewExtractor(cfg.MetaPhoneNumberID)
	srv := NewServer(cfg, extractor, orch, gw, verifier)

	slog.Info("WhatsBridge API running", "addr", cfg.ListenAddr, "gateway", cfg.Gateway, "mock_backend", cfg.MockBackend)
	return http.ListenAndServe(cfg.ListenAddr, srv.Handler())
}

func buildBackend(cfg *config.Config) (backend.Client, error) {
	if cfg.MockBackend {
		return backend.NewMockClient(), nil
	}
	return backend.NewHTTPClient(
		backend.WithBaseURL(cfg.BackendURL),
		backend.WithAPIKey(cfg.BackendAPIKey),
	)
}

func buildGateway(cfg *config.Config) (gateway.Client, gateway.Verifier, error) {
	switch cfg.Gateway {
	case config.GatewayMeta:
		c, err := gateway.NewMetaClient(
			gateway.WithMessagesURL(cfg.MetaMessagesURL()),
			gateway.WithAccessToken(cfg.MetaAccessToken),
			gateway.WithVerifyToken(cfg.MetaVerifyToken),
		)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	case config.GatewayTwilio:
		c, err := gateway.NewTwilioClient(
			gateway.WithAccountSID(cfg.TwilioAccountSID),
			gateway.WithAuthToken(cfg.TwilioAuthToken),
			gateway.WithFromNumber(cfg.TwilioFromNumber),
		)
		if err != nil {
			return nil, nil, err
		}
		return c, tokenVerifier{token: cfg.MetaVerifyToken}, nil
	case config.GatewayMock:
		return gateway.NewMockClient(), tokenVerifier{token: cfg.MetaVerifyToken}, nil
	}
	return nil, nil, fmt.Errorf("unknown gateway provider %q", cfg.Gateway)
}

// tokenVerifier answers the subscription handshake for providers that do not
// carry their own verify token.
type tokenVerifier struct {
	token string
}

func (v tokenVerifier) VerifyChallenge(mode, token, challenge string) (string, error) {
	if mode != "subscribe" {
		return "", &gateway.Error{Op: "verify_challenge", Kind: gateway.KindRejected, Reason: "unexpected hub.mode " + mode}
	}
	if v.token == "" || token != v.token {
		return "", &gateway.Error{Op: "verify_challenge", Kind: gateway.KindRejected, Reason: "verify token mismatch"}
	}
	return challenge, nil
}
