package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) (*HTTPClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewHTTPClient(WithBaseURL(srv.URL), WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	return client, srv
}

func TestHTTPClientRequiresBaseURL(t *testing.T) {
	if _, err := NewHTTPClient(); err == nil {
		t.Fatal("expected error for missing base URL")
	}
}

func TestUserExists(t *testing.T) {
	var gotPath, gotKey string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-Whatsapp-Api-Key")
		json.NewEncoder(w).Encode(map[string]bool{"exists": true})
	}))

	exists, err := client.UserExists(context.Background(), "15551234567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exists {
		t.Error("expected exists=true")
	}
	if gotPath != "/whatsapp/v2/users/exists" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotKey != "test-key" {
		t.Errorf("expected API key header, got %q", gotKey)
	}
}

func TestRegisterUserRejected(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "already registered", http.StatusConflict)
	}))

	err := client.RegisterUser(context.Background(), "15551234567", "en")
	var be *Error
	if !errors.As(err, &be) {
		t.Fatalf("expected backend.Error, got %v", err)
	}
	if be.Kind != KindRejected {
		t.Errorf("expected KindRejected, got %q", be.Kind)
	}
	if IsRetryable(err) {
		t.Error("rejected errors must not be retryable")
	}
}

func TestCreateThread(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["title"] != "What is the meaning of life" {
			t.Errorf("unexpected title %q", req["title"])
		}
		json.NewEncoder(w).Encode(map[string]string{"thread_id": "t-42"})
	}))

	threadID, err := client.CreateThread(context.Background(), "15551234567", "What is the meaning of life")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if threadID != "t-42" {
		t.Errorf("expected thread t-42, got %q", threadID)
	}
}

func TestCreateThreadMissingID(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))

	_, err := client.CreateThread(context.Background(), "15551234567", "title")
	var be *Error
	if !errors.As(err, &be) || be.Kind != KindRejected {
		t.Fatalf("expected rejected error, got %v", err)
	}
}

func TestGetLastThread(t *testing.T) {
	last := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"thread_id":         "t-7",
			"last_message_time": last,
		})
	}))

	info, err := client.GetLastThread(context.Background(), "15551234567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.ThreadID != "t-7" {
		t.Errorf("expected thread t-7, got %q", info.ThreadID)
	}
	if info.LastMessageTime == nil || !info.LastMessageTime.Equal(last) {
		t.Errorf("unexpected last message time %v", info.LastMessageTime)
	}
}

func TestProcessMessageStreams(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		for _, fragment := range []string{"Hello ", "from ", "the backend."} {
			w.Write([]byte(fragment))
			flusher.Flush()
		}
	}))

	stream, err := client.ProcessMessage(context.Background(), "15551234567", "t-7", "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reply, err := Collect(stream)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if reply != "Hello from the backend." {
		t.Errorf("unexpected reply %q", reply)
	}
}

func TestProcessMessageRejected(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such thread", http.StatusNotFound)
	}))

	_, err := client.ProcessMessage(context.Background(), "15551234567", "t-404", "hi")
	var be *Error
	if !errors.As(err, &be) || be.Kind != KindRejected {
		t.Fatalf("expected rejected error, got %v", err)
	}
}

func TestTransportErrorIsRetryable(t *testing.T) {
	client, err := NewHTTPClient(WithBaseURL("http://127.0.0.1:1"))
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	_, err = client.UserExists(context.Background(), "15551234567")
	var be *Error
	if !errors.As(err, &be) {
		t.Fatalf("expected backend.Error, got %v", err)
	}
	if be.Kind != KindUnreachable {
		t.Errorf("expected KindUnreachable, got %q", be.Kind)
	}
	if !IsRetryable(err) {
		t.Error("unreachable errors must be retryable")
	}
}
