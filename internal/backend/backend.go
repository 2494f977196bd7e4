// Package backend defines the capability interface for the conversation
// backend service and its real and mock implementations.
//
// The backend owns all durable conversation state (users, threads, message
// history) and the language-model inference behind ProcessMessage. The
// bridge only ever talks to it through this interface.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/BTreeMap/WhatsBridge/internal/models"
)

// ErrorKind classifies backend failures so callers can branch on them.
type ErrorKind string

const (
	// KindUnreachable marks transport-level failures (connection refused,
	// DNS, broken stream).
	KindUnreachable ErrorKind = "unreachable"
	// KindRejected marks requests the backend understood and refused.
	KindRejected ErrorKind = "rejected"
	// KindTimeout marks requests that exceeded their deadline.
	KindTimeout ErrorKind = "timeout"
)

// Error is the failure type for every backend operation.
type Error struct {
	// Op names the failed operation (user_exists, create_thread, ...).
	Op string
	// Kind classifies the failure.
	Kind ErrorKind
	// Reason carries the backend's rejection detail for KindRejected.
	Reason string
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("backend %s: %s: %s", e.Op, e.Kind, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("backend %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("backend %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a backend failure worth retrying for
// idempotent reads (unreachable or timed out, never rejected).
func IsRetryable(err error) bool {
	var be *Error
	if !errors.As(err, &be) {
		return false
	}
	return be.Kind == KindUnreachable || be.Kind == KindTimeout
}

// ThreadMessage is one entry of a thread's history.
type ThreadMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Stream yields the fragments of one generated reply. Recv returns io.EOF
// after the final fragment. Streams are not restartable; abandoning one via
// Close is the only way to cancel generation.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Client is the backend capability consumed by the orchestrator. Both
// implementations are safe for concurrent use by multiple orchestration runs.
type Client interface {
	// UserExists reports whether the phone number has a registered user.
	UserExists(ctx context.Context, phoneNum string) (bool, error)
	// RegisterUser creates a user with the inferred preferred language.
	RegisterUser(ctx context.Context, phoneNum, preferredLanguage string) error
	// CreateThread opens a new conversation thread and returns its ID.
	CreateThread(ctx context.Context, phoneNum, title string) (string, error)
	// GetLastThread returns the user's most recent thread, or a zero
	// ThreadInfo when none exists.
	GetLastThread(ctx context.Context, phoneNum string) (models.ThreadInfo, error)
	// GetThreadHistory returns the message history of one thread.
	GetThreadHistory(ctx context.Context, phoneNum, threadID string) ([]ThreadMessage, error)
	// ProcessMessage submits a user message for generation and returns the
	// reply as a fragment stream.
	ProcessMessage(ctx context.Context, phoneNum, threadID, message string) (Stream, error)
}

// Collect drains a stream into the complete reply text, closing it when
// done. A mid-stream failure returns the error; partial output is discarded
// because generation is not restartable.
func Collect(s Stream) (string, error) {
	defer s.Close()
	var b strings.Builder
	for {
		fragment, err := s.Recv()
		if err == io.EOF {
			return b.String(), nil
		}
		if err != nil {
			return "", err
		}
		b.WriteString(fragment)
	}
}
