package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultSendTimeout bounds every Graph API call.
const DefaultSendTimeout = 30 * time.Second

// Graph API error codes that mean the recipient cannot receive messages.
// 131026 is "message undeliverable", 131047 the closed 24-hour customer
// service window, 131021 "cannot send to self".
var invalidRecipientCodes = map[int]bool{
	131026: true,
	131047: true,
	131021: true,
}

// Graph API error codes for throttling on top of HTTP 429. 130429 is the
// per-number throughput limit, 80007 the app-level rate limit, 4 the generic
// API call quota.
var rateLimitedCodes = map[int]bool{
	130429: true,
	80007:  true,
	4:      true,
}

// MetaOpts holds configuration options for the Meta Cloud API client.
type MetaOpts struct {
	MessagesURL string
	AccessToken string
	VerifyToken string
	HTTPClient  *http.Client
}

// MetaOption defines a configuration option for the Meta Cloud API client.
type MetaOption func(*MetaOpts)

// WithMessagesURL sets the full Graph API messages endpoint, including the
// API version and business phone number ID.
func WithMessagesURL(u string) MetaOption {
	return func(o *MetaOpts) { o.MessagesURL = u }
}

// WithAccessToken sets the Graph API bearer token.
func WithAccessToken(token string) MetaOption {
	return func(o *MetaOpts) { o.AccessToken = token }
}

// WithVerifyToken sets the webhook subscription verify token.
func WithVerifyToken(token string) MetaOption {
	return func(o *MetaOpts) { o.VerifyToken = token }
}

// WithMetaHTTPClient injects a custom HTTP client (tests).
func WithMetaHTTPClient(c *http.Client) MetaOption {
	return func(o *MetaOpts) { o.HTTPClient = c }
}

// MetaClient sends messages through the WhatsApp Business Cloud API.
type MetaClient struct {
	messagesURL string
	accessToken string
	verifyToken string
	http        *http.Client
}

// NewMetaClient creates the Cloud API client, applying any provided options.
func NewMetaClient(opts ...MetaOption) (*MetaClient, error) {
	var cfg MetaOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MessagesURL == "" {
		return nil, fmt.Errorf("messages URL must be provided")
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("access token must be provided")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultSendTimeout}
	}
	slog.Debug("gateway MetaClient created",
		"messages_url", cfg.MessagesURL,
		"verify_token_set", cfg.VerifyToken != "")
	return &MetaClient{
		messagesURL: cfg.MessagesURL,
		accessToken: cfg.AccessToken,
		verifyToken: cfg.VerifyToken,
		http:        cfg.HTTPClient,
	}, nil
}

// SendText delivers one text message via the Cloud API messages endpoint.
func (c *MetaClient) SendText(ctx context.Context, to, body string) error {
	const op = "send_text"
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": body},
	}
	if err := c.post(ctx, op, payload); err != nil {
		slog.Error("Meta SendText failed", "to", to, "error", err)
		return err
	}
	slog.Debug("Meta message sent", "to", to, "body_length", len(body))
	return nil
}

// SendTypingIndicator marks the inbound message read and turns on the typing
// indicator. The Cloud API keeps it visible for roughly 25 seconds, so the
// caller refreshes it while work is in flight.
func (c *MetaClient) SendTypingIndicator(ctx context.Context, to, messageID string) error {
	const op = "send_typing_indicator"
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
		"typing_indicator":  map[string]string{"type": "text"},
	}
	if err := c.post(ctx, op, payload); err != nil {
		slog.Debug("Meta typing indicator failed", "to", to, "error", err)
		return err
	}
	return nil
}

// VerifyChallenge validates a webhook subscription handshake.
func (c *MetaClient) VerifyChallenge(mode, token, challenge string) (string, error) {
	if mode != "subscribe" {
		return "", &Error{Op: "verify_challenge", Kind: KindRejected, Reason: "unexpected hub.mode " + mode}
	}
	if c.verifyToken == "" || token != c.verifyToken {
		return "", &Error{Op: "verify_challenge", Kind: KindRejected, Reason: "verify token mismatch"}
	}
	return challenge, nil
}

func (c *MetaClient) post(ctx context.Context, op string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &Error{Op: op, Kind: KindRejected, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messagesURL, bytes.NewReader(body))
	if err != nil {
		return &Error{Op: op, Kind: KindRejected, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: op, Kind: KindUnreachable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return classifyGraphError(op, resp)
}

// graphErrorBody is the Graph API error envelope.
type graphErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func classifyGraphError(op string, resp *http.Response) *Error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	var ge graphErrorBody
	_ = json.Unmarshal(detail, &ge)

	reason := ge.Error.Message
	if reason == "" {
		reason = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, detail)
	}

	kind := KindRejected
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || rateLimitedCodes[ge.Error.Code]:
		kind = KindRateLimited
	case invalidRecipientCodes[ge.Error.Code]:
		kind = KindInvalidRecipient
	case resp.StatusCode >= 500:
		kind = KindUnreachable
	}
	return &Error{Op: op, Kind: kind, Reason: reason}
}
