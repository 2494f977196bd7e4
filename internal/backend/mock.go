package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/WhatsBridge/internal/models"
	"github.com/google/uuid"
)

// mockStreamFragmentSize is how many runes each mock reply fragment carries,
// so accumulation is exercised the same way as with the real backend.
const mockStreamFragmentSize = 64

// MockClient simulates the backend in memory for offline development and
// tests. It keeps stateful users and threads across calls and is safe for
// concurrent use.
type MockClient struct {
	mu      sync.Mutex
	users   map[string]mockUser
	threads map[string]*mockThread

	// Reply overrides the canned generation output when set.
	Reply string
	// FailOps maps operation names (user_exists, register_user,
	// create_thread, get_last_thread, get_thread_history, process_message)
	// to errors injected on every call.
	FailOps map[string]error

	now func() time.Time
}

type mockUser struct {
	id                string
	preferredLanguage string
}

type mockThread struct {
	id              string
	phoneNum        string
	title           string
	messages        []ThreadMessage
	lastMessageTime *time.Time
}

// NewMockClient creates an empty in-memory backend.
func NewMockClient() *MockClient {
	slog.Info("backend MockClient initialized, backend calls will be simulated")
	return &MockClient{
		users:   make(map[string]mockUser),
		threads: make(map[string]*mockThread),
		now:     time.Now,
	}
}

func (m *MockClient) fail(op string) error {
	if err, ok := m.FailOps[op]; ok {
		return err
	}
	return nil
}

// UserExists reports whether the phone number was registered on this mock.
func (m *MockClient) UserExists(ctx context.Context, phoneNum string) (bool, error) {
	if err := m.fail("user_exists"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.users[phoneNum]
	slog.Debug("mock backend UserExists", "phone", phoneNum, "exists", exists)
	return exists, nil
}

// RegisterUser stores a user, rejecting duplicates the way the real backend
// does.
func (m *MockClient) RegisterUser(ctx context.Context, phoneNum, preferredLanguage string) error {
	if err := m.fail("register_user"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[phoneNum]; exists {
		return &Error{Op: "register_user", Kind: KindRejected, Reason: "user already registered"}
	}
	m.users[phoneNum] = mockUser{id: uuid.NewString(), preferredLanguage: preferredLanguage}
	slog.Info("mock backend registered user", "phone", phoneNum, "lang", preferredLanguage)
	return nil
}

// CreateThread opens a new thread for a registered user.
func (m *MockClient) CreateThread(ctx context.Context, phoneNum, title string) (string, error) {
	if err := m.fail("create_thread"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[phoneNum]; !exists {
		return "", &Error{Op: "create_thread", Kind: KindRejected, Reason: "user not found"}
	}
	id := uuid.NewString()
	m.threads[id] = &mockThread{id: id, phoneNum: phoneNum, title: title}
	slog.Info("mock backend created thread", "phone", phoneNum, "thread_id", id)
	return id, nil
}

// GetLastThread returns the thread with the most recent activity, or a zero
// ThreadInfo when the user has none.
func (m *MockClient) GetLastThread(ctx context.Context, phoneNum string) (models.ThreadInfo, error) {
	if err := m.fail("get_last_thread"); err != nil {
		return models.ThreadInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *mockThread
	for _, t := range m.threads {
		if t.phoneNum != phoneNum {
			continue
		}
		if latest == nil || after(t.lastMessageTime, latest.lastMessageTime) {
			latest = t
		}
	}
	if latest == nil {
		return models.ThreadInfo{}, nil
	}
	return models.ThreadInfo{ThreadID: latest.id, LastMessageTime: latest.lastMessageTime}, nil
}

// GetThreadHistory returns a thread's stored messages.
func (m *MockClient) GetThreadHistory(ctx context.Context, phoneNum, threadID string) ([]ThreadMessage, error) {
	if err := m.fail("get_thread_history"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[threadID]
	if !ok || t.phoneNum != phoneNum {
		return nil, &Error{Op: "get_thread_history", Kind: KindRejected, Reason: "thread not found"}
	}
	history := make([]ThreadMessage, len(t.messages))
	copy(history, t.messages)
	return history, nil
}

// ProcessMessage records the user message and streams back a canned reply in
// fragments.
func (m *MockClient) ProcessMessage(ctx context.Context, phoneNum, threadID, message string) (Stream, error) {
	if err := m.fail("process_message"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[threadID]
	if !ok || t.phoneNum != phoneNum {
		return nil, &Error{Op: "process_message", Kind: KindRejected, Reason: "thread not found"}
	}

	reply := m.Reply
	if reply == "" {
		reply = fmt.Sprintf("This is a *mock assistant* running in test mode.\n\nYour message: %s", message)
	}

	now := m.now()
	t.messages = append(t.messages,
		ThreadMessage{Role: "user", Content: message},
		ThreadMessage{Role: "assistant", Content: reply},
	)
	t.lastMessageTime = &now

	slog.Info("mock backend processed message", "thread_id", threadID, "reply_length", len(reply))
	return newSliceStream(reply, mockStreamFragmentSize), nil
}

// sliceStream yields a fixed reply in rune-bounded fragments.
type sliceStream struct {
	fragments []string
	next      int
}

func newSliceStream(reply string, fragmentSize int) *sliceStream {
	runes := []rune(reply)
	var fragments []string
	for len(runes) > 0 {
		n := fragmentSize
		if n > len(runes) {
			n = len(runes)
		}
		fragments = append(fragments, string(runes[:n]))
		runes = runes[n:]
	}
	return &sliceStream{fragments: fragments}
}

func (s *sliceStream) Recv() (string, error) {
	if s.next >= len(s.fragments) {
		return "", io.EOF
	}
	f := s.fragments[s.next]
	s.next++
	return f, nil
}

func (s *sliceStream) Close() error { return nil }

func after(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}
