package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/falak/mailrelay/internal/dkim"
	"github.com/falak/mailrelay/internal/email"
)

// SMTPConfig contains smarthost settings
type SMTPConfig struct {
	Addr     string // host:port
	Hostname string // HELO name
	Username string
	Password string
	StartTLS bool
	Signer   *dkim.Signer // Optional DKIM signer

	// TLSConfig overrides the STARTTLS client config
	TLSConfig *tls.Config
}

// SMTP submits mail to a smarthost
type SMTP struct {
	cfg    SMTPConfig
	logger *slog.Logger
}

// NewSMTP creates a smarthost adapter
func NewSMTP(cfg SMTPConfig, logger *slog.Logger) *SMTP {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	return &SMTP{cfg: cfg, logger: logger}
}

// Name returns the provider name
func (p *SMTP) Name() string { return "smtp" }

// DisplayName returns the human readable provider name
func (p *SMTP) DisplayName() string { return "SMTP" }

// Send submits msg to the smarthost
func (p *SMTP) Send(ctx context.Context, msg *Message) *Failure {
	if p.cfg.Addr == "" {
		return &Failure{Kind: KindOther, Detail: p.DisplayName() + " credentials not configured"}
	}

	data := email.Compose(&email.Envelope{
		From:       msg.From,
		SenderName: msg.SenderName,
		To:         msg.To,
		ReplyTo:    msg.ReplyTo,
		Subject:    msg.Subject,
		Text:       msg.Text,
		HTML:       msg.HTML,
	})

	if p.cfg.Signer != nil {
		signed, err := p.cfg.Signer.Sign(data)
		if err != nil {
			p.logger.Warn("DKIM signing failed, sending unsigned",
				"domain", p.cfg.Signer.Domain(),
				"error", err,
			)
		} else {
			data = signed
		}
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	if err != nil {
		return NewFailure(0, fmt.Sprintf("connection failed to %s: %v", p.cfg.Addr, err))
	}
	defer conn.Close()

	// The client resets conn deadlines per command, so the attempt context closes the conn instead
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	client, failure := p.newClient(conn)
	if failure != nil {
		return failure
	}
	defer client.Close()

	if p.cfg.Username != "" {
		if err := client.Auth(sasl.NewPlainClient("", p.cfg.Username, p.cfg.Password)); err != nil {
			return smtpFailure("AUTH", err)
		}
	}

	if err := client.SendMail(msg.From, []string{msg.To}, bytes.NewReader(data)); err != nil {
		return smtpFailure("send", err)
	}

	client.Quit()

	return nil
}

// newClient greets the smarthost and upgrades the connection when STARTTLS is on.
// The STARTTLS handshake greets with the library's local name, so Hostname applies to plain sessions only.
func (p *SMTP) newClient(conn net.Conn) (*smtp.Client, *Failure) {
	if !p.cfg.StartTLS {
		client := smtp.NewClient(conn)
		if err := client.Hello(p.cfg.Hostname); err != nil {
			client.Close()
			return nil, smtpFailure("HELO", err)
		}
		return client, nil
	}

	tlsConfig := p.cfg.TLSConfig
	if tlsConfig == nil {
		host, _, _ := net.SplitHostPort(p.cfg.Addr)
		tlsConfig = &tls.Config{
			ServerName: host,
			MinVersion: tls.VersionTLS12,
		}
	}

	client, err := smtp.NewClientStartTLS(conn, tlsConfig)
	if err != nil {
		return nil, smtpFailure("STARTTLS", err)
	}
	return client, nil
}

// smtpFailure classifies an SMTP client error by its reply code
func smtpFailure(stage string, err error) *Failure {
	detail := fmt.Sprintf("%s failed: %v", stage, err)

	var smtpErr *smtp.SMTPError
	if !errors.As(err, &smtpErr) {
		return NewFailure(0, detail)
	}

	f := &Failure{Kind: Classify(0, detail), Detail: detail, StatusCode: smtpErr.Code}
	if f.Kind == KindRateLimited {
		return f
	}

	switch {
	case smtpErr.Code == 530 || smtpErr.Code == 535:
		f.Kind = KindAuthFailed
	case smtpErr.Code >= 400 && smtpErr.Code < 500:
		f.Kind = KindTransient
	default:
		f.Kind = KindOther
	}
	return f
}
