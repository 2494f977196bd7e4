package gateway

import (
	"context"
	"sync"
)

// SentText records one SendText call on the mock.
type SentText struct {
	To   string
	Body string
}

// TypingEvent records one SendTypingIndicator call on the mock.
type TypingEvent struct {
	To        string
	MessageID string
}

// MockClient records every outbound call and can be scripted to fail. Safe
// for concurrent use so tests can inspect it while the orchestrator's
// background typing loop is still running.
type MockClient struct {
	mu           sync.Mutex
	sentTexts    []SentText
	typingEvents []TypingEvent

	// SendErrs is consumed one error per SendText call, in order. A nil
	// entry means that call succeeds.
	SendErrs []error
	// TypingErr is returned by every SendTypingIndicator call when set.
	TypingErr error
}

// NewMockClient creates an empty recording gateway.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendText(ctx context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	if len(m.SendErrs) > 0 {
		err = m.SendErrs[0]
		m.SendErrs = m.SendErrs[1:]
	}
	if err != nil {
		return err
	}
	m.sentTexts = append(m.sentTexts, SentText{To: to, Body: body})
	return nil
}

func (m *MockClient) SendTypingIndicator(ctx context.Context, to, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TypingErr != nil {
		return m.TypingErr
	}
	m.typingEvents = append(m.typingEvents, TypingEvent{To: to, MessageID: messageID})
	return nil
}

// SentTexts returns a copy of the recorded messages.
func (m *MockClient) SentTexts() []SentText {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentText, len(m.sentTexts))
	copy(out, m.sentTexts)
	return out
}

// TypingEvents returns a copy of the recorded typing calls.
func (m *MockClient) TypingEvents() []TypingEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TypingEvent, len(m.typingEvents))
	copy(out, m.typingEvents)
	return out
}
