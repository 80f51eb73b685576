package provider

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
)

// NotificationAPIConfig contains NotificationAPI settings
type NotificationAPIConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	HTTPClient   *http.Client
}

// NotificationAPI sends through the NotificationAPI sender endpoint
type NotificationAPI struct {
	cfg    NotificationAPIConfig
	client *http.Client
}

// NewNotificationAPI creates a NotificationAPI adapter
func NewNotificationAPI(cfg NotificationAPIConfig) *NotificationAPI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.notificationapi.com"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = defaultHTTPClient()
	}
	return &NotificationAPI{cfg: cfg, client: client}
}

// Name returns the provider name
func (p *NotificationAPI) Name() string { return "notificationapi" }

// DisplayName returns the human readable provider name
func (p *NotificationAPI) DisplayName() string { return "NotificationAPI" }

type notificationRequest struct {
	Type  string              `json:"type"`
	To    notificationUser    `json:"to"`
	Email notificationContent `json:"email"`
}

type notificationUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type notificationContent struct {
	Subject     string `json:"subject"`
	HTML        string `json:"html"`
	SenderName  string `json:"senderName"`
	SenderEmail string `json:"senderEmail"`
}

// Send sends msg as a mail_relay notification
func (p *NotificationAPI) Send(ctx context.Context, msg *Message) *Failure {
	if p.cfg.ClientID == "" || p.cfg.ClientSecret == "" {
		return &Failure{Kind: KindOther, Detail: "NotificationAPI credentials not configured"}
	}

	payload := notificationRequest{
		Type: "mail_relay",
		To: notificationUser{
			ID:    msg.To,
			Email: msg.To,
		},
		Email: notificationContent{
			Subject:     msg.Subject,
			HTML:        msg.HTML,
			SenderName:  msg.SenderName,
			SenderEmail: msg.From,
		},
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/" + url.PathEscape(p.cfg.ClientID) + "/sender"

	credentials := base64.StdEncoding.EncodeToString([]byte(p.cfg.ClientID + ":" + p.cfg.ClientSecret))
	header := http.Header{}
	header.Set("Authorization", "Basic "+credentials)

	return postJSON(ctx, p.client, endpoint, payload, header)
}
