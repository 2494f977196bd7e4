// Package models defines the core data structures for WhatsBridge.
//
// It includes types for inbound webhook events, backend thread metadata,
// and outbound message segments, which are shared across modules.
package models

import "time"

// MessageType classifies an inbound WhatsApp message.
type MessageType string

const (
	// MessageTypeText is a plain text message.
	MessageTypeText MessageType = "text"
	// MessageTypeLocation is a shared location.
	MessageTypeLocation MessageType = "location"
	// MessageTypeMedia covers images, audio, video, documents and stickers.
	MessageTypeMedia MessageType = "media"
	// MessageTypeUnsupported covers everything Meta cannot deliver as a
	// well-formed message (video notes, polls, reactions, ...).
	MessageTypeUnsupported MessageType = "unsupported"
)

// InboundEvent is one normalized unit of webhook-delivered user activity.
// It is constructed once per webhook call and discarded after the
// orchestration run completes or fails.
type InboundEvent struct {
	// SenderID is the user's WhatsApp phone number (digits only, no prefix).
	SenderID string
	// MessageID is Meta's message identifier (wamid...), used for typing
	// indicators and log correlation.
	MessageID string
	// Timestamp is the message's unix time as reported by Meta. Zero when
	// Meta omitted it.
	Timestamp int64
	// Type classifies the message payload.
	Type MessageType
	// TextBody holds the message text for MessageTypeText events.
	TextBody string
	// RawType is Meta's original type string (image, audio, ...), kept for
	// the unsupported-type reply wording.
	RawType string
	// ReceivedAt is when this process extracted the event.
	ReceivedAt time.Time
}

// Age returns how old the event is relative to now, based on the sender's
// message timestamp. Events without a timestamp report zero age so they are
// never discarded as stale.
func (e InboundEvent) Age(now time.Time) time.Duration {
	if e.Timestamp == 0 {
		return 0
	}
	return now.Sub(time.Unix(e.Timestamp, 0))
}

// ThreadInfo describes the backend's view of a conversation thread.
type ThreadInfo struct {
	// ThreadID is the backend's thread identifier. Empty when the user has
	// no threads yet.
	ThreadID string `json:"thread_id"`
	// LastMessageTime is when the thread last saw activity. Nil when the
	// thread has never had a message.
	LastMessageTime *time.Time `json:"last_message_time"`
}

// Direction is the advisory rendering direction of an outbound segment.
type Direction string

const (
	// DirectionLTR marks left-to-right text.
	DirectionLTR Direction = "ltr"
	// DirectionRTL marks text dominated by right-to-left scripts.
	DirectionRTL Direction = "rtl"
)

// OutboundSegment is one bounded-size chunk of an outbound reply. Ordinal
// defines strict send order within one response.
type OutboundSegment struct {
	Ordinal   int
	Text      string
	Direction Direction
}
