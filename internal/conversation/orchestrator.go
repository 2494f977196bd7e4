// Package conversation orchestrates one inbound WhatsApp message end to end:
// user and thread lifecycle against the backend, typing-indicator liveness,
// reply generation, and ordered segment delivery through the gateway.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/WhatsBridge/internal/backend"
	"github.com/BTreeMap/WhatsBridge/internal/config"
	"github.com/BTreeMap/WhatsBridge/internal/format"
	"github.com/BTreeMap/WhatsBridge/internal/gateway"
	"github.com/BTreeMap/WhatsBridge/internal/models"
	"github.com/google/uuid"
)

const (
	// typingRefreshInterval refreshes the typing indicator before the
	// provider's ~25 second display window lapses.
	typingRefreshInterval = 26 * time.Second
	// typingMaxDuration caps how long the indicator is kept alive for one
	// message regardless of generation time.
	typingMaxDuration = 5 * time.Minute
	// retryBackoff spaces the single retry of idempotent backend reads and
	// rate-limited sends.
	retryBackoff = 2 * time.Second
	// maxSendAttempts bounds delivery attempts per segment under rate
	// limiting.
	maxSendAttempts = 3
	// threadTitleWords is how many opening words name a new thread.
	threadTitleWords = 6
	// arabicShareThreshold decides the preferred language of a new user.
	arabicShareThreshold = 0.3
)

// unsupportedReplyFormat is sent for message types the bridge cannot process.
const unsupportedReplyFormat = "Sorry, I can't process %s yet. Please send me a text message."

// Orchestrator drives the full lifecycle of inbound messages. One instance
// serves all senders; each Run is independent and safe to execute
// concurrently with others.
type Orchestrator struct {
	backend backend.Client
	gateway gateway.Client
	cfg     *config.Config

	now            func() time.Time
	typingInterval time.Duration
	typingCap      time.Duration
	backoff        time.Duration
}

// New creates an orchestrator bound to a backend and a gateway.
func New(b backend.Client, g gateway.Client, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		backend:        b,
		gateway:        g,
		cfg:            cfg,
		now:            time.Now,
		typingInterval: typingRefreshInterval,
		typingCap:      typingMaxDuration,
		backoff:        retryBackoff,
	}
}

// Run processes one inbound event to completion. It never returns an error:
// every failure mode ends in either a best-effort notice to the sender or a
// logged discard, because by this point the webhook has already been acked.
func (o *Orchestrator) Run(ctx context.Context, evt *models.InboundEvent) {
	log := slog.With("run_id", uuid.NewString(), "sender", evt.SenderID, "message_id", evt.MessageID)

	if o.cfg.MaxEventAge > 0 {
		if age := evt.Age(o.now()); age > o.cfg.MaxEventAge {
			log.Info("Orchestrator discarding stale event", "age", age, "max_age", o.cfg.MaxEventAge)
			return
		}
	}

	if evt.Type != models.MessageTypeText {
		reply := fmt.Sprintf(unsupportedReplyFormat, unsupportedLabel(evt))
		if err := o.gateway.SendText(ctx, evt.SenderID, reply); err != nil {
			log.Error("Orchestrator failed to send unsupported-type reply", "error", err)
		}
		return
	}

	typingCtx, stopTyping := context.WithCancel(ctx)
	defer stopTyping()
	go o.typingLoop(typingCtx, evt.SenderID, evt.MessageID, log)

	reply, err := o.generate(ctx, evt, log)
	stopTyping()
	if err != nil {
		log.Error("Orchestrator generation failed", "error", err)
		o.sendFallback(ctx, evt.SenderID, log)
		return
	}

	segments := format.FormatAndSplit(reply, o.cfg.MaxSegmentLength)
	if len(segments) == 0 {
		log.Warn("Orchestrator produced no segments, nothing to deliver")
		return
	}
	o.deliver(ctx, evt.SenderID, segments, log)
}

// generate resolves the user and thread, then runs the message through the
// backend and accumulates the streamed reply.
func (o *Orchestrator) generate(ctx context.Context, evt *models.InboundEvent, log *slog.Logger) (string, error) {
	if err := o.ensureUser(ctx, evt, log); err != nil {
		return "", err
	}
	threadID, err := o.resolveThread(ctx, evt, log)
	if err != nil {
		return "", err
	}

	stream, err := o.backend.ProcessMessage(ctx, evt.SenderID, threadID, evt.TextBody)
	if err != nil {
		return "", fmt.Errorf("process message: %w", err)
	}
	// Generation is not restartable, so a broken stream is terminal.
	reply, err := backend.Collect(stream)
	if err != nil {
		return "", fmt.Errorf("collect reply: %w", err)
	}
	log.Debug("Orchestrator collected reply", "thread_id", threadID, "reply_length", len(reply))
	return reply, nil
}

// ensureUser registers the sender on first contact, inferring their
// preferred language from the message script.
func (o *Orchestrator) ensureUser(ctx context.Context, evt *models.InboundEvent, log *slog.Logger) error {
	var exists bool
	err := o.withRetry(ctx, func() error {
		var err error
		exists, err = o.backend.UserExists(ctx, evt.SenderID)
		return err
	})
	if err != nil {
		return fmt.Errorf("user lookup: %w", err)
	}
	if exists {
		return nil
	}

	lang := inferPreferredLanguage(evt.TextBody)
	err = o.backend.RegisterUser(ctx, evt.SenderID, lang)
	if err != nil {
		// A rejected registration means another run won the race; proceed.
		var be *backend.Error
		if errors.As(err, &be) && be.Kind == backend.KindRejected {
			log.Debug("Orchestrator registration rejected, user already exists")
			return nil
		}
		return fmt.Errorf("register user: %w", err)
	}
	log.Info("Orchestrator registered new user", "language", lang)
	return nil
}

// resolveThread reuses the sender's last thread when it is still within the
// retention window, otherwise opens a fresh one titled after the message.
func (o *Orchestrator) resolveThread(ctx context.Context, evt *models.InboundEvent, log *slog.Logger) (string, error) {
	var last models.ThreadInfo
	err := o.withRetry(ctx, func() error {
		var err error
		last, err = o.backend.GetLastThread(ctx, evt.SenderID)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("last thread lookup: %w", err)
	}

	if last.ThreadID != "" && !o.threadExpired(last) {
		log.Debug("Orchestrator reusing thread", "thread_id", last.ThreadID)
		return last.ThreadID, nil
	}

	title := threadTitle(evt.TextBody)
	threadID, err := o.backend.CreateThread(ctx, evt.SenderID, title)
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	log.Info("Orchestrator created thread", "thread_id", threadID, "title", title)
	return threadID, nil
}

func (o *Orchestrator) threadExpired(t models.ThreadInfo) bool {
	if t.LastMessageTime == nil {
		// A thread with no recorded activity is still usable.
		return false
	}
	return o.now().Sub(*t.LastMessageTime) > o.cfg.RetentionWindow
}

// deliver sends segments in ordinal order. Rate-limited segments get bounded
// retries and are dropped individually; any other delivery failure abandons
// the remainder, since later segments would arrive out of order.
func (o *Orchestrator) deliver(ctx context.Context, to string, segments []models.OutboundSegment, log *slog.Logger) {
	for _, seg := range segments {
		err := o.sendSegment(ctx, to, seg.Text)
		if err == nil {
			log.Debug("Orchestrator delivered segment", "ordinal", seg.Ordinal, "direction", seg.Direction)
			continue
		}
		if gateway.KindOf(err) == gateway.KindRateLimited {
			log.Warn("Orchestrator dropping rate-limited segment", "ordinal", seg.Ordinal, "error", err)
			continue
		}
		log.Error("Orchestrator abandoning remaining segments",
			"failed_ordinal", seg.Ordinal, "remaining", len(segments)-seg.Ordinal, "error", err)
		return
	}
}

func (o *Orchestrator) sendSegment(ctx context.Context, to, text string) error {
	var err error
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		err = o.gateway.SendText(ctx, to, text)
		if err == nil || gateway.KindOf(err) != gateway.KindRateLimited {
			return err
		}
		if attempt < maxSendAttempts {
			o.wait(ctx, o.backoff)
		}
	}
	return err
}

// sendFallback notifies the sender that their message could not be
// processed. Best effort: a gateway that is down gets a log line, not a
// retry storm.
func (o *Orchestrator) sendFallback(ctx context.Context, to string, log *slog.Logger) {
	if err := o.gateway.SendText(ctx, to, format.FallbackNotice); err != nil {
		log.Error("Orchestrator failed to send fallback notice", "error", err)
	}
}

// typingLoop keeps the typing indicator alive while generation runs,
// refreshing it on an interval and stopping at the hard cap.
func (o *Orchestrator) typingLoop(ctx context.Context, to, messageID string, log *slog.Logger) {
	capped, cancel := context.WithTimeout(ctx, o.typingCap)
	defer cancel()

	if err := o.gateway.SendTypingIndicator(capped, to, messageID); err != nil {
		log.Debug("Orchestrator typing indicator failed", "error", err)
	}
	ticker := time.NewTicker(o.typingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-capped.Done():
			return
		case <-ticker.C:
			if err := o.gateway.SendTypingIndicator(capped, to, messageID); err != nil {
				log.Debug("Orchestrator typing indicator refresh failed", "error", err)
			}
		}
	}
}

// withRetry runs fn and retries it once on a retryable backend failure.
// Only used for idempotent reads.
func (o *Orchestrator) withRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !backend.IsRetryable(err) {
		return err
	}
	o.wait(ctx, o.backoff)
	return fn()
}

func (o *Orchestrator) wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// threadTitle names a thread after the message's opening words.
func threadTitle(text string) string {
	words := strings.Fields(text)
	if len(words) > threadTitleWords {
		words = words[:threadTitleWords]
	}
	return strings.Join(words, " ")
}

// unsupportedLabel describes a non-text message in the reply to its sender.
func unsupportedLabel(evt *models.InboundEvent) string {
	switch evt.Type {
	case models.MessageTypeLocation:
		return "locations"
	case models.MessageTypeMedia:
		if evt.RawType != "" {
			return evt.RawType + "s"
		}
		return "media messages"
	}
	return "this message type"
}

// inferPreferredLanguage guesses a new user's language from the script of
// their first message.
func inferPreferredLanguage(text string) string {
	total := 0
	arabic := 0
	for _, r := range text {
		total++
		if isArabicRune(r) {
			arabic++
		}
	}
	if total > 0 && float64(arabic)/float64(total) > arabicShareThreshold {
		return "ar"
	}
	return "en"
}

func isArabicRune(r rune) bool {
	switch {
	case r >= 0x0600 && r <= 0x06FF:
		return true
	case r >= 0x0750 && r <= 0x077F:
		return true
	case r >= 0x08A0 && r <= 0x08FF:
		return true
	case r >= 0xFB50 && r <= 0xFDFF:
		return true
	case r >= 0xFE70 && r <= 0xFEFF:
		return true
	}
	return false
}
