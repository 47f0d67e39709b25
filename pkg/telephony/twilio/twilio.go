// Package twilio is a thin client for the telephony provider's
// call-creation API. Signaling and media transport stay on the provider
// side; this package only places the call and points the provider's
// callbacks at the gateway's webhook endpoints.
package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/outdial/amd-gateway/pkg/engine"
)

const defaultBaseURL = "https://api.twilio.com/2010-04-01"

// Client talks to the Twilio REST API.
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

// New creates a Twilio client.
func New(accountSID, authToken string) *Client {
	return NewWithClient(accountSID, authToken, defaultBaseURL, &http.Client{})
}

// NewWithClient creates a Twilio client with a custom base URL and HTTP
// client.
func NewWithClient(accountSID, authToken, baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// CreateCallParams are the fields sent on call creation.
type CreateCallParams struct {
	To   string
	From string
	URL  string // TwiML URL executed when the call connects

	// Native AMD flags; zero values omit machine detection entirely.
	MachineDetection       string // "Enable" or "DetectMessageEnd"
	AsyncAMD               bool
	AsyncAMDStatusCallback string

	StatusCallback       string
	StatusCallbackEvents []string
}

// CreatedCall is the provider's acknowledgment.
type CreatedCall struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
	To     string `json:"to"`
}

// CreateCall places one outbound call and returns the provider's
// correlation identifier.
func (c *Client) CreateCall(ctx context.Context, p CreateCallParams) (*CreatedCall, error) {
	form := url.Values{}
	form.Set("To", p.To)
	form.Set("From", p.From)
	if p.URL != "" {
		form.Set("Url", p.URL)
	}
	if p.MachineDetection != "" {
		form.Set("MachineDetection", p.MachineDetection)
		if p.AsyncAMD {
			form.Set("AsyncAmd", "true")
		}
		if p.AsyncAMDStatusCallback != "" {
			form.Set("AsyncAmdStatusCallback", p.AsyncAMDStatusCallback)
			form.Set("AsyncAmdStatusCallbackMethod", "POST")
		}
	}
	if p.StatusCallback != "" {
		form.Set("StatusCallback", p.StatusCallback)
		form.Set("StatusCallbackMethod", "POST")
		events := p.StatusCallbackEvents
		if len(events) == 0 {
			events = []string{"initiated", "ringing", "answered", "completed"}
		}
		for _, ev := range events {
			form.Add("StatusCallbackEvent", ev)
		}
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twilio request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("twilio error %d: %s", resp.StatusCode, string(body))
	}

	var out CreatedCall
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if out.SID == "" {
		return nil, fmt.Errorf("twilio response missing sid")
	}
	return &out, nil
}

// Provider wraps the client with the gateway's webhook URLs and the
// caller id, and maps a call's strategy to the right AMD flags.
type Provider struct {
	client *Client

	from           string
	voiceURL       string
	amdCallbackURL string
	statusCallback string
}

// ProviderConfig configures a Provider.
type ProviderConfig struct {
	From              string
	VoiceURL          string
	AMDCallbackURL    string
	StatusCallbackURL string
}

// NewProvider creates a Provider around an existing client.
func NewProvider(client *Client, cfg ProviderConfig) *Provider {
	return &Provider{
		client:         client,
		from:           cfg.From,
		voiceURL:       cfg.VoiceURL,
		amdCallbackURL: cfg.AMDCallbackURL,
		statusCallback: cfg.StatusCallbackURL,
	}
}

// Dial places the call for a gateway call record and returns the
// provider's correlation identifier. Only the twilio_amd strategy asks
// the provider for native machine detection; the other strategies get
// their evidence elsewhere and only need status callbacks.
func (p *Provider) Dial(ctx context.Context, call *engine.Call) (string, error) {
	params := CreateCallParams{
		To:             call.To,
		From:           p.from,
		URL:            p.voiceURL,
		StatusCallback: p.statusCallback,
	}
	if call.Strategy == engine.StrategyTwilioAMD {
		params.MachineDetection = "DetectMessageEnd"
		params.AsyncAMD = true
		params.AsyncAMDStatusCallback = p.amdCallbackURL
	}

	created, err := p.client.CreateCall(ctx, params)
	if err != nil {
		return "", err
	}
	return created.SID, nil
}
