// Package gateway wraps the WhatsApp messaging providers behind one sending
// interface. The Meta Cloud API client is the primary implementation; a
// Twilio adapter and a recording mock share the same surface.
package gateway

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies delivery failures so the orchestrator can decide
// between retrying, skipping a segment, and abandoning the run.
type ErrorKind string

const (
	// KindRateLimited marks requests the provider throttled; retryable.
	KindRateLimited ErrorKind = "rate_limited"
	// KindInvalidRecipient marks recipients the provider refused to deliver
	// to; never retryable.
	KindInvalidRecipient ErrorKind = "invalid_recipient"
	// KindUnreachable marks transport-level failures reaching the provider.
	KindUnreachable ErrorKind = "unreachable"
	// KindRejected marks other provider-side refusals (bad token, malformed
	// request).
	KindRejected ErrorKind = "rejected"
)

// Error is the failure type for every gateway operation.
type Error struct {
	Op     string
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("gateway %s: %s: %s", e.Op, e.Kind, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("gateway %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("gateway %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the error kind from err, or KindUnreachable for errors
// that are not gateway errors.
func KindOf(err error) ErrorKind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindUnreachable
}

// Client is the outbound messaging capability consumed by the orchestrator.
// Implementations are safe for concurrent use.
type Client interface {
	// SendText delivers one text message to a phone number.
	SendText(ctx context.Context, to, body string) error
	// SendTypingIndicator marks the inbound message read and shows the
	// typing indicator until the provider times it out or a message is sent.
	// Providers without typing support treat it as a no-op.
	SendTypingIndicator(ctx context.Context, to, messageID string) error
}

// Verifier answers webhook subscription challenges. Only the Meta provider
// implements a real verification handshake.
type Verifier interface {
	// VerifyChallenge validates a subscription request and returns the
	// challenge string to echo back.
	VerifyChallenge(mode, token, challenge string) (string, error)
}
