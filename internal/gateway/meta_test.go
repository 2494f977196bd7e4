package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestMetaClient(t *testing.T, handler http.Handler) *MetaClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewMetaClient(
		WithMessagesURL(srv.URL+"/v22.0/111222333/messages"),
		WithAccessToken("test-token"),
		WithVerifyToken("verify-me"),
	)
	if err != nil {
		t.Fatalf("NewMetaClient: %v", err)
	}
	return client
}

func TestMetaSendText(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	client := newTestMetaClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))

	if err := client.SendText(context.Background(), "15551234567", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
	if gotBody["messaging_product"] != "whatsapp" {
		t.Errorf("expected messaging_product whatsapp, got %v", gotBody["messaging_product"])
	}
	if gotBody["to"] != "15551234567" {
		t.Errorf("unexpected recipient %v", gotBody["to"])
	}
	text, _ := gotBody["text"].(map[string]any)
	if text["body"] != "hello" {
		t.Errorf("unexpected body %v", text["body"])
	}
}

func TestMetaSendTypingIndicator(t *testing.T) {
	var gotBody map[string]any
	client := newTestMetaClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))

	if err := client.SendTypingIndicator(context.Background(), "15551234567", "wamid.abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotBody["status"] != "read" {
		t.Errorf("expected status read, got %v", gotBody["status"])
	}
	if gotBody["message_id"] != "wamid.abc" {
		t.Errorf("unexpected message_id %v", gotBody["message_id"])
	}
	indicator, _ := gotBody["typing_indicator"].(map[string]any)
	if indicator["type"] != "text" {
		t.Errorf("unexpected typing indicator %v", gotBody["typing_indicator"])
	}
}

func TestMetaErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   ErrorKind
	}{
		{"http 429", http.StatusTooManyRequests, `{"error":{"message":"too many","code":0}}`, KindRateLimited},
		{"throughput code", http.StatusBadRequest, `{"error":{"message":"throttled","code":130429}}`, KindRateLimited},
		{"undeliverable", http.StatusBadRequest, `{"error":{"message":"undeliverable","code":131026}}`, KindInvalidRecipient},
		{"re-engagement window", http.StatusBadRequest, `{"error":{"message":"window closed","code":131047}}`, KindInvalidRecipient},
		{"bad token", http.StatusUnauthorized, `{"error":{"message":"invalid token","code":190}}`, KindRejected},
		{"server error", http.StatusBadGateway, ``, KindUnreachable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestMetaClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			err := client.SendText(context.Background(), "15551234567", "hello")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := KindOf(err); got != tc.want {
				t.Errorf("expected kind %q, got %q", tc.want, got)
			}
		})
	}
}

func TestMetaVerifyChallenge(t *testing.T) {
	client := newTestMetaClient(t, http.NotFoundHandler())

	echo, err := client.VerifyChallenge("subscribe", "verify-me", "challenge-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if echo != "challenge-123" {
		t.Errorf("expected challenge echoed, got %q", echo)
	}

	if _, err := client.VerifyChallenge("subscribe", "wrong-token", "c"); err == nil {
		t.Error("expected error for wrong token")
	}
	if _, err := client.VerifyChallenge("unsubscribe", "verify-me", "c"); err == nil {
		t.Error("expected error for wrong mode")
	}
}

func TestMockClientRecordsAndScripts(t *testing.T) {
	ctx := context.Background()
	m := NewMockClient()
	m.SendErrs = []error{nil, &Error{Op: "send_text", Kind: KindRateLimited}}

	if err := m.SendText(ctx, "1", "first"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := m.SendText(ctx, "1", "second")
	if KindOf(err) != KindRateLimited {
		t.Fatalf("expected scripted rate limit, got %v", err)
	}
	if err := m.SendText(ctx, "1", "third"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent := m.SentTexts()
	if len(sent) != 2 {
		t.Fatalf("expected 2 recorded sends, got %d", len(sent))
	}
	if sent[0].Body != "first" || sent[1].Body != "third" {
		t.Errorf("unexpected recorded bodies: %v", sent)
	}

	if err := m.SendTypingIndicator(ctx, "1", "wamid.x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if events := m.TypingEvents(); len(events) != 1 || events[0].MessageID != "wamid.x" {
		t.Errorf("unexpected typing events: %v", events)
	}
}
