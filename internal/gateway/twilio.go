package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioOpts holds configuration options for the Twilio WhatsApp client.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// TwilioOption defines a configuration option for the Twilio WhatsApp client.
type TwilioOption func(*TwilioOpts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithFromNumber sets the sending WhatsApp number; the "whatsapp:" prefix is
// added when missing.
func WithFromNumber(from string) TwilioOption {
	return func(o *TwilioOpts) { o.FromWhats = from }
}

// TwilioClient sends messages through Twilio's WhatsApp channel. It exists
// for deployments that front the Business number with Twilio instead of the
// Cloud API directly.
type TwilioClient struct {
	client    *twilio.RestClient
	fromWhats string
}

// NewTwilioClient creates the Twilio WhatsApp client.
func NewTwilioClient(opts ...TwilioOption) (*TwilioClient, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("from number must be provided")
	}
	if !strings.HasPrefix(cfg.FromWhats, "whatsapp:") {
		cfg.FromWhats = "whatsapp:" + cfg.FromWhats
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)
	slog.Debug("gateway TwilioClient created", "from", cfg.FromWhats)
	return &TwilioClient{client: client, fromWhats: cfg.FromWhats}, nil
}

// SendText sends a WhatsApp message through the Twilio API.
func (c *TwilioClient) SendText(ctx context.Context, to, body string) error {
	const op = "send_text"
	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:" + to)
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	if _, err := c.client.Api.CreateMessage(params); err != nil {
		slog.Error("Twilio SendText failed", "to", to, "error", err)
		return &Error{Op: op, Kind: KindUnreachable, Err: err}
	}
	slog.Debug("Twilio message sent", "to", to)
	return nil
}

// SendTypingIndicator is a no-op: the Twilio WhatsApp API has no typing
// indicator support.
func (c *TwilioClient) SendTypingIndicator(ctx context.Context, to, messageID string) error {
	slog.Debug("Twilio SendTypingIndicator ignored (unsupported)", "to", to)
	return nil
}
