// Package twiliovoice adapts MedTriage to Twilio Programmable Voice: it renders
// turn responses as TwiML, validates webhook signatures and looks up calls
// through the Twilio REST API.
package twiliovoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioClient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// ErrMissingCredentials is returned when no account SID or auth token is available.
var ErrMissingCredentials = errors.New("account SID and auth token must be provided")

// CallInfo is the subset of a Twilio call resource MedTriage reports.
type CallInfo struct {
	Sid      string `json:"sid"`
	From     string `json:"from"`
	To       string `json:"to"`
	Status   string `json:"status"`
	Duration string `json:"duration,omitempty"`
}

// CallLookup fetches call details from the telephony provider.
type CallLookup interface {
	FetchCall(ctx context.Context, callSid string) (CallInfo, error)
}

// Opts holds configuration options for the Twilio voice client.
type Opts struct {
	AccountSID string
	AuthToken  string
}

// Option defines a configuration option for the Twilio voice client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token used for REST calls and signatures.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// Client wraps the Twilio REST API for voice.
type Client struct {
	client    *twilio.RestClient
	validator twilioClient.RequestValidator
}

// NewClient builds a client, falling back to TWILIO_ACCOUNT_SID and
// TWILIO_AUTH_TOKEN for unset options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	slog.Debug("twiliovoice.NewClient: config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, ErrMissingCredentials
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{
		client:    client,
		validator: twilioClient.NewRequestValidator(cfg.AuthToken),
	}, nil
}

// FetchCall looks up a call by SID.
func (c *Client) FetchCall(ctx context.Context, callSid string) (CallInfo, error) {
	if err := ctx.Err(); err != nil {
		return CallInfo{}, err
	}
	call, err := c.client.Api.FetchCall(callSid, &twilioApi.FetchCallParams{})
	if err != nil {
		slog.Error("Client.FetchCall: Twilio lookup failed", "callSid", callSid, "error", err)
		return CallInfo{}, fmt.Errorf("failed to fetch call %s: %w", callSid, err)
	}
	info := CallInfo{
		Sid:      deref(call.Sid),
		From:     deref(call.From),
		To:       deref(call.To),
		Status:   deref(call.Status),
		Duration: deref(call.Duration),
	}
	slog.Debug("Client.FetchCall: call fetched", "callSid", callSid, "status", info.Status)
	return info, nil
}

// Validator returns the webhook signature validator for this account.
func (c *Client) Validator() *SignatureValidator {
	return &SignatureValidator{validator: c.validator}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// SignatureValidator checks the X-Twilio-Signature header of webhook requests.
type SignatureValidator struct {
	validator twilioClient.RequestValidator
}

// NewSignatureValidator creates a validator for authToken.
func NewSignatureValidator(authToken string) *SignatureValidator {
	return &SignatureValidator{validator: twilioClient.NewRequestValidator(authToken)}
}

// Validate reports whether signature matches the full request URL and the
// POSTed form parameters.
func (v *SignatureValidator) Validate(url string, params map[string]string, signature string) bool {
	if signature == "" {
		return false
	}
	return v.validator.Validate(url, params, signature)
}

// MockClient records lookups and returns canned calls.
type MockClient struct {
	Calls   map[string]CallInfo
	Fetched []string
	Err     error
}

func NewMockClient() *MockClient {
	return &MockClient{Calls: map[string]CallInfo{}, Fetched: []string{}}
}

func (m *MockClient) FetchCall(ctx context.Context, callSid string) (CallInfo, error) {
	m.Fetched = append(m.Fetched, callSid)
	if m.Err != nil {
		return CallInfo{}, m.Err
	}
	info, ok := m.Calls[callSid]
	if !ok {
		return CallInfo{}, fmt.Errorf("call %s not found", callSid)
	}
	return info, nil
}
