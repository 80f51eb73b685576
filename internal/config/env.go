package config

// LookupFunc matches os.LookupEnv
type LookupFunc func(key string) (string, bool)

// applyEnv overrides secrets and provider credentials from the environment.
// Values loaded from a .env file are visible here too.
func (c *Config) applyEnv(lookup LookupFunc) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set(&c.Auth.SiteKey, "SITE_KEY")
	set(&c.Auth.SessionSecret, "SESSION_SECRET")
	set(&c.Auth.APIKeySecret, "API_KEY_SECRET")

	set(&c.Providers.DefaultFrom, "DEFAULT_FROM_EMAIL")
	set(&c.Providers.NotificationAPI.ClientID, "NOTIFICATIONAPI_CLIENT_ID")
	set(&c.Providers.NotificationAPI.ClientSecret, "NOTIFICATIONAPI_CLIENT_SECRET")
	set(&c.Providers.Brevo.APIKey, "BREVO_API_KEY")
	set(&c.Providers.Mailgun.APIKey, "MAILGUN_API_KEY")
	set(&c.Providers.Mailgun.Domain, "MAILGUN_DOMAIN")
	set(&c.Providers.SMTP.Username, "SMTP_RELAY_USERNAME")
	set(&c.Providers.SMTP.Password, "SMTP_RELAY_PASSWORD")
}
