package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/WhatsBridge/internal/events"
	"github.com/BTreeMap/WhatsBridge/internal/models"
)

// maintenanceNotice is sent to senders while the service is in maintenance
// mode.
const maintenanceNotice = "The service is temporarily down for maintenance. Please try again in a little while."

// healthHandler handles GET / for liveness probes.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Ack("WhatsBridge is running"))
}

// verificationHandler handles GET /whatsapp/v2, Meta's webhook subscription
// handshake. A valid request gets the challenge echoed back as plain text.
func (s *Server) verificationHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")
	slog.Debug("verificationHandler invoked", "mode", mode, "challenge_set", challenge != "")

	if mode == "" || token == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.AckError("Missing verification parameters", "bad_request"))
		return
	}
	echo, err := s.verifier.VerifyChallenge(mode, token, challenge)
	if err != nil {
		slog.Warn("verificationHandler rejected", "error", err)
		writeJSONResponse(w, http.StatusForbidden, models.AckError("Verification failed", "verification_failed"))
		return
	}
	slog.Info("Webhook subscription verified")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(echo)); err != nil {
		slog.Error("verificationHandler failed to write challenge", "error", err)
	}
}

// webhookHandler handles POST /whatsapp/v2, the signed event webhook. The
// event is acked immediately and processed on a detached context so Meta
// never waits on generation.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		slog.Warn("webhookHandler body read failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.AckError("Unreadable body", "bad_request"))
		return
	}

	if !verifySignature(body, r.Header.Get("X-Hub-Signature-256"), s.cfg.MetaAppSecrets) {
		slog.Warn("webhookHandler signature verification failed")
		writeJSONResponse(w, http.StatusForbidden, models.AckError("Invalid signature", "invalid_signature"))
		return
	}

	evt, err := s.extractor.Extract(body, time.Now())
	if err != nil {
		s.ackExtractionFailure(w, err)
		return
	}

	if s.cfg.UnderMaintenance {
		slog.Info("webhookHandler in maintenance mode", "sender", evt.SenderID)
		s.dispatch(s, &eventDispatch{event: evt, maintenance: true})
		writeJSONResponse(w, http.StatusOK, models.Ack("Maintenance mode"))
		return
	}

	s.dispatch(s, &eventDispatch{event: evt})
	writeJSONResponse(w, http.StatusOK, models.Ack("Event accepted"))
}

// ackExtractionFailure answers a webhook whose payload produced no usable
// event. Benign cases (status notifications, other numbers) are always 200;
// malformed payloads are 200 only under the always-ack policy, which keeps
// Meta from disabling the subscription over transient bugs.
func (s *Server) ackExtractionFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, events.ErrStatusNotification):
		writeJSONResponse(w, http.StatusOK, models.Ack("Status notification ignored"))
	case errors.Is(err, events.ErrNotTargetNumber):
		writeJSONResponse(w, http.StatusOK, models.Ack("Event for another number ignored"))
	default:
		slog.Warn("webhookHandler extraction failed", "error", err)
		var ee *events.ExtractionError
		code := "extraction_failed"
		if errors.As(err, &ee) {
			code = string(ee.Kind)
		}
		if s.cfg.AlwaysAckWebhook {
			writeJSONResponse(w, http.StatusOK, models.AckError("Could not extract event", code))
			return
		}
		writeJSONResponse(w, http.StatusBadRequest, models.AckError("Could not extract event", code))
	}
}

// eventDispatch is one unit of post-ack work.
type eventDispatch struct {
	event       *models.InboundEvent
	maintenance bool
}

// dispatchDetached processes an event on its own context, independent of the
// webhook request that delivered it.
func dispatchDetached(s *Server, d *eventDispatch) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		if d.maintenance {
			if err := s.gateway.SendText(ctx, d.event.SenderID, maintenanceNotice); err != nil {
				slog.Error("Maintenance notice send failed", "sender", d.event.SenderID, "error", err)
			}
			return
		}
		s.orch.Run(ctx, d.event)
	}()
}
