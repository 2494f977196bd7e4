// Package events parses Meta WhatsApp webhook payloads into normalized
// inbound events.
//
// Extraction is side-effect free: malformed input is reported as a typed
// error value, never a panic. At most one message is extracted per webhook
// call so the acknowledgment path stays bounded; Meta batches are processed
// first-entry-only by policy.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/BTreeMap/WhatsBridge/internal/models"
)

// ExtractionErrorKind classifies why a payload produced no event.
type ExtractionErrorKind string

const (
	// MalformedPayload means the payload structure did not match the Meta
	// webhook schema.
	MalformedPayload ExtractionErrorKind = "malformed_payload"
	// UnsupportedType means the payload carried neither messages nor
	// statuses (Meta sends this shape for webhook fields we never
	// subscribed to).
	UnsupportedType ExtractionErrorKind = "unsupported_type"
	// EmptyBatch means the payload's message batch was present but empty.
	EmptyBatch ExtractionErrorKind = "empty_batch"
)

// ExtractionError reports a payload that yielded no inbound event.
type ExtractionError struct {
	Kind   ExtractionErrorKind
	Detail string
}

func (e *ExtractionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("extraction failed: %s", e.Kind)
	}
	return fmt.Sprintf("extraction failed: %s: %s", e.Kind, e.Detail)
}

// Sentinel results for payloads that are valid but carry nothing to
// orchestrate. The webhook layer acknowledges these silently.
var (
	// ErrStatusNotification marks delivery/read status callbacks.
	ErrStatusNotification = errors.New("payload is a status notification")
	// ErrNotTargetNumber marks webhooks addressed to a different business
	// phone number than the one this bridge serves.
	ErrNotTargetNumber = errors.New("payload is not for this business number")
)

// Wire types for the Meta webhook schema. Only the fields the bridge reads
// are mapped.
type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value changeValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type changeValue struct {
	Metadata *struct {
		PhoneNumberID string `json:"phone_number_id"`
	} `json:"metadata"`
	Statuses []json.RawMessage `json:"statuses"`
	Messages []inboundMessage  `json:"messages"`
}

type inboundMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
}

// Extractor normalizes webhook payloads for one business phone number.
type Extractor struct {
	businessNumberID string
}

// NewExtractor creates an Extractor bound to the configured business phone
// number ID. An empty ID disables the target-number filter (mock/test mode).
func NewExtractor(businessNumberID string) *Extractor {
	return &Extractor{businessNumberID: businessNumberID}
}

// Extract parses a raw webhook body into an InboundEvent. It returns
// ErrStatusNotification or ErrNotTargetNumber for valid payloads that need
// no orchestration, and *ExtractionError for everything it cannot parse.
func (x *Extractor) Extract(body []byte, now time.Time) (*models.InboundEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &ExtractionError{Kind: MalformedPayload, Detail: err.Error()}
	}
	if payload.Object == "" || len(payload.Entry) == 0 {
		return nil, &ExtractionError{Kind: MalformedPayload, Detail: "missing object or entry"}
	}
	entry := payload.Entry[0]
	if len(entry.Changes) == 0 {
		return nil, &ExtractionError{Kind: MalformedPayload, Detail: "entry has no changes"}
	}
	value := entry.Changes[0].Value

	// Metadata is always present in valid webhook payloads; its phone
	// number ID tells us whether this callback is ours to handle.
	if value.Metadata == nil || value.Metadata.PhoneNumberID == "" {
		return nil, &ExtractionError{Kind: MalformedPayload, Detail: "missing metadata.phone_number_id"}
	}
	if x.businessNumberID != "" && value.Metadata.PhoneNumberID != x.businessNumberID {
		return nil, ErrNotTargetNumber
	}

	if len(value.Statuses) > 0 {
		return nil, ErrStatusNotification
	}
	if value.Messages == nil {
		return nil, &ExtractionError{Kind: UnsupportedType, Detail: "payload carries neither messages nor statuses"}
	}
	if len(value.Messages) == 0 {
		return nil, &ExtractionError{Kind: EmptyBatch}
	}

	// Only the first message entry is handled per webhook call.
	msg := value.Messages[0]
	if msg.From == "" {
		return nil, &ExtractionError{Kind: MalformedPayload, Detail: "message missing sender"}
	}

	evt := &models.InboundEvent{
		SenderID:   msg.From,
		MessageID:  msg.ID,
		Type:       classifyType(msg),
		RawType:    msg.Type,
		ReceivedAt: now,
	}
	if msg.Timestamp != "" {
		ts, err := strconv.ParseInt(msg.Timestamp, 10, 64)
		if err != nil {
			return nil, &ExtractionError{Kind: MalformedPayload, Detail: "invalid message timestamp"}
		}
		evt.Timestamp = ts
	}
	if evt.Type == models.MessageTypeText {
		if msg.Text == nil {
			return nil, &ExtractionError{Kind: MalformedPayload, Detail: "text message missing body"}
		}
		evt.TextBody = msg.Text.Body
	}
	return evt, nil
}

// classifyType maps Meta's message type string onto the bridge's coarser
// taxonomy. Meta reports unsupported content (video notes, polls, gifs from
// giphy) under an "errors" key, which lands in the unsupported bucket.
func classifyType(msg inboundMessage) models.MessageType {
	switch msg.Type {
	case "text":
		return models.MessageTypeText
	case "location":
		return models.MessageTypeLocation
	case "image", "audio", "video", "document", "sticker":
		return models.MessageTypeMedia
	default:
		return models.MessageTypeUnsupported
	}
}
