package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BTreeMap/WhatsBridge/internal/models"
)

// Constants for the HTTP backend client configuration.
const (
	// DefaultRequestTimeout bounds every non-streaming backend call.
	DefaultRequestTimeout = 60 * time.Second
	// streamReadChunkSize is the read buffer for ProcessMessage streaming.
	streamReadChunkSize = 4096
)

// Opts holds configuration options for the HTTP backend client.
type Opts struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// Option defines a configuration option for the HTTP backend client.
type Option func(*Opts)

// WithBaseURL sets the backend's base URL.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithAPIKey sets the shared service-to-service API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithHTTPClient injects a custom HTTP client (tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// HTTPClient talks to the real backend REST surface. A single instance is
// shared by all orchestration runs; it holds no per-request state.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPClient creates the real backend client, applying any provided
// options.
func NewHTTPClient(opts ...Option) (*HTTPClient, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend base URL must be provided")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	slog.Debug("backend HTTPClient created", "base_url", cfg.BaseURL, "api_key_set", cfg.APIKey != "")
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    cfg.HTTPClient,
	}, nil
}

// UserExists checks whether the phone number is already registered.
func (c *HTTPClient) UserExists(ctx context.Context, phoneNum string) (bool, error) {
	const op = "user_exists"
	var out struct {
		Exists bool `json:"exists"`
	}
	u := c.baseURL + "/whatsapp/v2/users/exists?phone_num=" + url.QueryEscape(phoneNum)
	if err := c.getJSON(ctx, op, u, &out); err != nil {
		return false, err
	}
	return out.Exists, nil
}

// RegisterUser registers a new user with the inferred preferred language.
func (c *HTTPClient) RegisterUser(ctx context.Context, phoneNum, preferredLanguage string) error {
	const op = "register_user"
	body := map[string]string{
		"phone_num":          phoneNum,
		"preferred_language": preferredLanguage,
	}
	return c.postJSON(ctx, op, c.baseURL+"/whatsapp/v2/users/register", body, nil)
}

// CreateThread opens a new conversation thread titled after the user's
// opening words.
func (c *HTTPClient) CreateThread(ctx context.Context, phoneNum, title string) (string, error) {
	const op = "create_thread"
	body := map[string]string{"phone_num": phoneNum, "title": title}
	var out struct {
		ThreadID string `json:"thread_id"`
	}
	if err := c.postJSON(ctx, op, c.baseURL+"/whatsapp/v2/threads", body, &out); err != nil {
		return "", err
	}
	if out.ThreadID == "" {
		return "", &Error{Op: op, Kind: KindRejected, Reason: "backend returned no thread_id"}
	}
	return out.ThreadID, nil
}

// GetLastThread returns the user's most recent thread, zero-valued when the
// user has none.
func (c *HTTPClient) GetLastThread(ctx context.Context, phoneNum string) (models.ThreadInfo, error) {
	const op = "get_last_thread"
	var out models.ThreadInfo
	u := c.baseURL + "/whatsapp/v2/threads/last?phone_num=" + url.QueryEscape(phoneNum)
	if err := c.getJSON(ctx, op, u, &out); err != nil {
		return models.ThreadInfo{}, err
	}
	return out, nil
}

// GetThreadHistory returns the message history of one thread.
func (c *HTTPClient) GetThreadHistory(ctx context.Context, phoneNum, threadID string) ([]ThreadMessage, error) {
	const op = "get_thread_history"
	var out struct {
		Messages []ThreadMessage `json:"messages"`
	}
	u := c.baseURL + "/whatsapp/v2/threads/" + url.PathEscape(threadID) + "/history?phone_num=" + url.QueryEscape(phoneNum)
	if err := c.getJSON(ctx, op, u, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// ProcessMessage submits a message for generation. The returned stream reads
// reply fragments directly off the response body; the caller owns closing it.
func (c *HTTPClient) ProcessMessage(ctx context.Context, phoneNum, threadID, message string) (Stream, error) {
	const op = "process_message"
	body := map[string]string{
		"phone_num": phoneNum,
		"thread_id": threadID,
		"message":   message,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindRejected, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/whatsapp/v2/messages/process", bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Op: op, Kind: KindRejected, Err: err}
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(op, err)
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		slog.Error("backend ProcessMessage rejected", "status", resp.StatusCode, "detail", string(detail))
		return nil, &Error{Op: op, Kind: KindRejected, Reason: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, detail)}
	}
	return &httpStream{op: op, body: resp.Body}, nil
}

// httpStream adapts a chunked HTTP response body to the Stream interface.
type httpStream struct {
	op   string
	body io.ReadCloser
}

func (s *httpStream) Recv() (string, error) {
	buf := make([]byte, streamReadChunkSize)
	n, err := s.body.Read(buf)
	if n > 0 {
		// Defer the error to the next Recv so the final fragment is not lost.
		return string(buf[:n]), nil
	}
	if err == io.EOF {
		return "", io.EOF
	}
	if err != nil {
		return "", transportError(s.op, err)
	}
	return "", nil
}

func (s *httpStream) Close() error { return s.body.Close() }

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Whatsapp-Api-Key", c.apiKey)
	}
}

func (c *HTTPClient) getJSON(ctx context.Context, op, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &Error{Op: op, Kind: KindRejected, Err: err}
	}
	c.setHeaders(req)
	return c.do(op, req, out)
}

func (c *HTTPClient) postJSON(ctx context.Context, op, u string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &Error{Op: op, Kind: KindRejected, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return &Error{Op: op, Kind: KindRejected, Err: err}
	}
	c.setHeaders(req)
	return c.do(op, req, out)
}

func (c *HTTPClient) do(op string, req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		slog.Error("backend request rejected", "op", op, "status", resp.StatusCode, "detail", string(detail))
		return &Error{Op: op, Kind: KindRejected, Reason: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, detail)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, Kind: KindRejected, Reason: "invalid response body", Err: err}
	}
	return nil
}

// transportError classifies a transport failure as timeout or unreachable.
func transportError(op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Op: op, Kind: KindTimeout, Err: err}
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return &Error{Op: op, Kind: KindTimeout, Err: err}
	}
	return &Error{Op: op, Kind: KindUnreachable, Err: err}
}
