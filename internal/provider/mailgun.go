package provider

import (
	"context"
	"errors"
	"net/mail"
	"regexp"
	"strings"

	"github.com/mailgun/mailgun-go/v4"
)

// MailgunConfig contains Mailgun settings
type MailgunConfig struct {
	Domain  string
	APIKey  string
	BaseURL string // Empty keeps the library default; "/v3" is appended when no version is given
}

// versionSuffix matches the API version the library requires at the end of the base URL
var versionSuffix = regexp.MustCompile(`/v[1-5]$`)

// mailgunAPIBase appends the default API version to a base URL without one
func mailgunAPIBase(base string) string {
	base = strings.TrimRight(base, "/")
	if versionSuffix.MatchString(base) {
		return base
	}
	return base + "/v3"
}

// Mailgun sends through the Mailgun messages API
type Mailgun struct {
	mg *mailgun.MailgunImpl
}

// NewMailgun creates a Mailgun adapter
func NewMailgun(cfg MailgunConfig) *Mailgun {
	if cfg.Domain == "" || cfg.APIKey == "" {
		return &Mailgun{}
	}

	mg := mailgun.NewMailgun(cfg.Domain, cfg.APIKey)
	if cfg.BaseURL != "" {
		mg.SetAPIBase(mailgunAPIBase(cfg.BaseURL))
	}
	return &Mailgun{mg: mg}
}

// Name returns the provider name
func (p *Mailgun) Name() string { return "mailgun" }

// DisplayName returns the human readable provider name
func (p *Mailgun) DisplayName() string { return "Mailgun" }

// Send sends msg through Mailgun
func (p *Mailgun) Send(ctx context.Context, msg *Message) *Failure {
	if p.mg == nil {
		return &Failure{Kind: KindOther, Detail: "Mailgun credentials not configured"}
	}

	from := (&mail.Address{Name: msg.SenderName, Address: msg.From}).String()

	message := mailgun.NewMessage(from, msg.Subject, msg.Text, msg.To)
	message.SetHTML(msg.HTML)
	if msg.ReplyTo != "" {
		message.SetReplyTo(msg.ReplyTo)
	}

	if _, _, err := p.mg.Send(ctx, message); err != nil {
		status := 0
		var unexpected *mailgun.UnexpectedResponseError
		if errors.As(err, &unexpected) {
			status = unexpected.Actual
		}
		return NewFailure(status, err.Error())
	}

	return nil
}
