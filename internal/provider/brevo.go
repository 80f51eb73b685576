package provider

import (
	"context"
	"net/http"
	"strings"
)

// BrevoConfig contains Brevo settings
type BrevoConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Brevo sends through the Brevo transactional email API
type Brevo struct {
	cfg    BrevoConfig
	client *http.Client
}

// NewBrevo creates a Brevo adapter
func NewBrevo(cfg BrevoConfig) *Brevo {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.brevo.com"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = defaultHTTPClient()
	}
	return &Brevo{cfg: cfg, client: client}
}

// Name returns the provider name
func (p *Brevo) Name() string { return "brevo" }

// DisplayName returns the human readable provider name
func (p *Brevo) DisplayName() string { return "Brevo" }

type brevoContact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type brevoEmail struct {
	Sender      brevoContact   `json:"sender"`
	To          []brevoContact `json:"to"`
	ReplyTo     *brevoContact  `json:"replyTo,omitempty"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
	TextContent string         `json:"textContent"`
}

// Send sends msg as a transactional email
func (p *Brevo) Send(ctx context.Context, msg *Message) *Failure {
	if p.cfg.APIKey == "" {
		return &Failure{Kind: KindOther, Detail: "Brevo API key not configured"}
	}

	payload := brevoEmail{
		Sender:      brevoContact{Name: msg.SenderName, Email: msg.From},
		To:          []brevoContact{{Email: msg.To}},
		Subject:     msg.Subject,
		HTMLContent: msg.HTML,
		TextContent: msg.Text,
	}
	if msg.ReplyTo != "" {
		payload.ReplyTo = &brevoContact{Email: msg.ReplyTo}
	}

	header := http.Header{}
	header.Set("api-key", p.cfg.APIKey)

	return postJSON(ctx, p.client, strings.TrimRight(p.cfg.BaseURL, "/")+"/v3/smtp/email", payload, header)
}
