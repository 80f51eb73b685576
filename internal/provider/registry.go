package provider

import (
	"fmt"
	"log/slog"

	"github.com/falak/mailrelay/internal/config"
	"github.com/falak/mailrelay/internal/dkim"
)

// New builds the provider registered under name from the providers configuration
func New(name string, cfg *config.ProvidersConfig, logger *slog.Logger) (Provider, error) {
	switch name {
	case "notificationapi":
		return NewNotificationAPI(NotificationAPIConfig{
			ClientID:     cfg.NotificationAPI.ClientID,
			ClientSecret: cfg.NotificationAPI.ClientSecret,
			BaseURL:      cfg.NotificationAPI.BaseURL,
		}), nil

	case "brevo":
		return NewBrevo(BrevoConfig{
			APIKey:  cfg.Brevo.APIKey,
			BaseURL: cfg.Brevo.BaseURL,
		}), nil

	case "mailgun":
		return NewMailgun(MailgunConfig{
			Domain:  cfg.Mailgun.Domain,
			APIKey:  cfg.Mailgun.APIKey,
			BaseURL: cfg.Mailgun.BaseURL,
		}), nil

	case "smtp":
		smtpCfg := SMTPConfig{
			Addr:     cfg.SMTP.Addr,
			Hostname: cfg.SMTP.Hostname,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			StartTLS: cfg.SMTP.StartTLS,
		}
		if cfg.SMTP.DKIM.Enabled {
			signer, err := dkim.NewSignerFromFile(cfg.SMTP.DKIM.KeyFile, cfg.SMTP.DKIM.Domain, cfg.SMTP.DKIM.Selector)
			if err != nil {
				return nil, err
			}
			smtpCfg.Signer = signer
			logger.Info("DKIM signing enabled",
				"domain", signer.Domain(),
				"selector", signer.Selector(),
			)
		}
		return NewSMTP(smtpCfg, logger), nil

	default:
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
}

// Pair builds the primary and secondary providers
func Pair(cfg *config.ProvidersConfig, logger *slog.Logger) (primary, secondary Provider, err error) {
	primary, err = New(cfg.Primary, cfg, logger.With("provider", cfg.Primary))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create primary provider: %w", err)
	}
	secondary, err = New(cfg.Secondary, cfg, logger.With("provider", cfg.Secondary))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create secondary provider: %w", err)
	}
	return primary, secondary, nil
}
