// Package provider wraps third-party email delivery services behind one send contract.
package provider

import (
	"context"
	"net/http"
	"strings"
)

const (
	// DefaultSenderName is used when a request has no sender name
	DefaultSenderName = "Falak Mail Relay"

	// DefaultFrom is used when neither the request nor the configuration sets a from address
	DefaultFrom = "noreply@alerts.falak.me"
)

// Kind classifies a failed send attempt
type Kind int

const (
	KindOther Kind = iota
	KindRateLimited
	KindAuthFailed
	KindTransient
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindAuthFailed:
		return "auth_failed"
	case KindTransient:
		return "transient"
	default:
		return "other"
	}
}

// Failure describes a failed send attempt
type Failure struct {
	Kind       Kind
	Detail     string
	StatusCode int // HTTP or SMTP status, 0 when none was received
}

// Error implements error
func (f *Failure) Error() string {
	return f.Detail
}

// NewFailure creates a failure classified from its status and detail
func NewFailure(status int, detail string) *Failure {
	return &Failure{
		Kind:       Classify(status, detail),
		Detail:     detail,
		StatusCode: status,
	}
}

// rateLimitTerms mark an error text as a rate limit or quota rejection
var rateLimitTerms = []string{"rate", "limit", "quota"}

// Classify maps a status and error text to a failure kind.
// Only the error text decides whether a failure counts as a rate limit.
func Classify(status int, detail string) Kind {
	lower := strings.ToLower(detail)
	for _, term := range rateLimitTerms {
		if strings.Contains(lower, term) {
			return KindRateLimited
		}
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthFailed
	case status == 0 || status >= 500:
		return KindTransient
	default:
		return KindOther
	}
}

// Message is a single-recipient email
type Message struct {
	To         string
	Subject    string
	Text       string
	HTML       string
	From       string
	SenderName string
	ReplyTo    string
}

// Defaults holds values applied to empty message fields
type Defaults struct {
	From       string
	SenderName string
}

// Normalize returns a copy of m with defaults applied
func (m *Message) Normalize(d Defaults) *Message {
	out := *m
	if out.HTML == "" {
		out.HTML = "<p>" + out.Text + "</p>"
	}
	if out.SenderName == "" {
		out.SenderName = d.SenderName
	}
	if out.SenderName == "" {
		out.SenderName = DefaultSenderName
	}
	if out.From == "" {
		out.From = d.From
	}
	if out.From == "" {
		out.From = DefaultFrom
	}
	return &out
}

// Provider sends a message through one delivery service.
// Send returns nil on success.
type Provider interface {
	Name() string
	DisplayName() string
	Send(ctx context.Context, msg *Message) *Failure
}
