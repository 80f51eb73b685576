package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/falak/mailrelay/internal/ipfilter"
)

// Config is the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Auth      AuthConfig      `yaml:"auth"`
	Providers ProvidersConfig `yaml:"providers"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"` // Per API key quotas
	Metrics   MetricsConfig   `yaml:"metrics"`    // Prometheus metrics configuration
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`    // Default: :9090
	Path          string        `yaml:"path"`           // Default: /metrics
	FlushInterval time.Duration `yaml:"flush_interval"` // Default: 10s
	AllowedIPs    []string      `yaml:"allowed_ips"`    // IP addresses/CIDRs allowed to access metrics
}

// RateLimitConfig contains per API key quota settings
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`

	// Default limits for API keys
	DefaultAPIKey *LimitValues `yaml:"default_api_key,omitempty"`

	// Per key overrides, keyed by API key ID
	APIKeys map[string]*LimitValues `yaml:"api_keys,omitempty"`

	// How often counters are flushed to storage (default: 30s)
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// LimitValues contains rate limit values
type LimitValues struct {
	MessagesPerHour int `yaml:"messages_per_hour"`
	MessagesPerDay  int `yaml:"messages_per_day"`
}

// ServerConfig contains server-wide settings
type ServerConfig struct {
	Name string `yaml:"name"` // Instance name reported in logs
}

// TLSConfig contains TLS certificate settings
type TLSConfig struct {
	CertFile string     `yaml:"cert_file"`
	KeyFile  string     `yaml:"key_file"`
	ACME     ACMEConfig `yaml:"acme"`
}

// ACMEConfig contains Let's Encrypt settings
type ACMEConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Email    string   `yaml:"email"`
	Domains  []string `yaml:"domains"`
	CacheDir string   `yaml:"cache_dir"` // Default: /var/lib/mailrelay/certs
	HTTPAddr string   `yaml:"http_addr"` // HTTP-01 challenge listener (default: :80)
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes"`  // Max HTTP header size (default: 1MB)
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`    // Max request body size (default: 1MB)
	ReadTimeout     time.Duration `yaml:"read_timeout"`      // HTTP read timeout (default: 30s)
	WriteTimeout    time.Duration `yaml:"write_timeout"`     // HTTP write timeout (default: 90s)
	IdleTimeout     time.Duration `yaml:"idle_timeout"`      // HTTP idle timeout (default: 60s)
	TLS             TLSConfig     `yaml:"tls"`               // Serve HTTPS when cert and key are set
	AdminAllowedIPs []string      `yaml:"admin_allowed_ips"` // IP addresses/CIDRs allowed to reach admin endpoints (empty = allow all)
}

// AuthConfig contains admin and API key authentication settings
type AuthConfig struct {
	SiteKey       string        `yaml:"site_key"`       // Plain admin site key
	SiteKeyHash   string        `yaml:"site_key_hash"`  // bcrypt hash of the admin site key
	SessionSecret string        `yaml:"session_secret"` // HMAC secret for admin sessions
	SessionTTL    time.Duration `yaml:"session_ttl"`    // Default: 24h
	APIKeySecret  string        `yaml:"api_key_secret"` // HMAC secret for API key hashes
	CookieName    string        `yaml:"cookie_name"`    // Default: falak_admin_session
}

// ProvidersConfig contains email provider settings
type ProvidersConfig struct {
	Primary           string        `yaml:"primary"`             // Default: notificationapi
	Secondary         string        `yaml:"secondary"`           // Default: brevo
	Backoff           time.Duration `yaml:"backoff"`             // Cool-down after a rate limit (default: 60s)
	Timeout           time.Duration `yaml:"timeout"`             // Per attempt timeout (default: 30s)
	DefaultFrom       string        `yaml:"default_from"`        // Default: noreply@alerts.falak.me
	DefaultSenderName string        `yaml:"default_sender_name"` // Default: Falak Mail Relay

	NotificationAPI NotificationAPIConfig `yaml:"notificationapi"`
	Brevo           BrevoConfig           `yaml:"brevo"`
	Mailgun         MailgunConfig         `yaml:"mailgun"`
	SMTP            SMTPRelayConfig       `yaml:"smtp"`
}

// NotificationAPIConfig contains NotificationAPI credentials
type NotificationAPIConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	BaseURL      string `yaml:"base_url"` // Default: https://api.notificationapi.com
}

// BrevoConfig contains Brevo credentials
type BrevoConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"` // Default: https://api.brevo.com
}

// MailgunConfig contains Mailgun credentials
type MailgunConfig struct {
	Domain  string `yaml:"domain"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"` // Empty uses the US region; "/v3" is appended when no /vN suffix is given
}

// SMTPRelayConfig contains smarthost submission settings
type SMTPRelayConfig struct {
	Addr     string     `yaml:"addr"`     // host:port
	Hostname string     `yaml:"hostname"` // HELO name for plain sessions
	Username string     `yaml:"username"`
	Password string     `yaml:"password"`
	StartTLS bool       `yaml:"starttls"`
	DKIM     DKIMConfig `yaml:"dkim"`
}

// DKIMConfig contains DKIM signing settings
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
	Domain   string `yaml:"domain"`
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Driver    string           `yaml:"driver"` // bolt, sqlite
	Path      string           `yaml:"path"`
	Retention *RetentionConfig `yaml:"retention"` // Log retention settings
}

// RetentionConfig contains log retention settings
type RetentionConfig struct {
	MaxAge          time.Duration `yaml:"max_age"`          // Delete logs older than this (0 = keep forever)
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // How often to run cleanup
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.Name == "" {
		hostname, _ := os.Hostname()
		c.Server.Name = hostname
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.API.MaxBodyBytes == 0 {
		c.API.MaxBodyBytes = 1 << 20
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		// Two provider attempts must fit in one response
		c.API.WriteTimeout = 90 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}
	if c.API.TLS.ACME.CacheDir == "" {
		c.API.TLS.ACME.CacheDir = "/var/lib/mailrelay/certs"
	}
	if c.API.TLS.ACME.HTTPAddr == "" {
		c.API.TLS.ACME.HTTPAddr = ":80"
	}

	if c.Auth.SessionTTL == 0 {
		c.Auth.SessionTTL = 24 * time.Hour
	}
	if c.Auth.CookieName == "" {
		c.Auth.CookieName = "falak_admin_session"
	}

	if c.Providers.Primary == "" {
		c.Providers.Primary = "notificationapi"
	}
	if c.Providers.Secondary == "" {
		c.Providers.Secondary = "brevo"
	}
	if c.Providers.Backoff == 0 {
		c.Providers.Backoff = 60 * time.Second
	}
	if c.Providers.Timeout == 0 {
		c.Providers.Timeout = 30 * time.Second
	}
	if c.Providers.DefaultFrom == "" {
		c.Providers.DefaultFrom = "noreply@alerts.falak.me"
	}
	if c.Providers.DefaultSenderName == "" {
		c.Providers.DefaultSenderName = "Falak Mail Relay"
	}
	if c.Providers.NotificationAPI.BaseURL == "" {
		c.Providers.NotificationAPI.BaseURL = "https://api.notificationapi.com"
	}
	if c.Providers.Brevo.BaseURL == "" {
		c.Providers.Brevo.BaseURL = "https://api.brevo.com"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "bolt"
	}
	if c.Storage.Path == "" {
		if c.Storage.Driver == "sqlite" {
			c.Storage.Path = "/var/lib/mailrelay/mailrelay.sqlite"
		} else {
			c.Storage.Path = "/var/lib/mailrelay/mailrelay.db"
		}
	}
	if c.Storage.Retention == nil {
		c.Storage.Retention = &RetentionConfig{}
	}
	if c.Storage.Retention.CleanupInterval == 0 {
		c.Storage.Retention.CleanupInterval = time.Hour
	}

	if c.RateLimit.FlushInterval == 0 {
		c.RateLimit.FlushInterval = 30 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	// Metrics defaults
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.validateAuth(); err != nil {
		return err
	}

	if err := c.validateProviders(); err != nil {
		return err
	}

	validDrivers := map[string]bool{"bolt": true, "sqlite": true}
	if !validDrivers[c.Storage.Driver] {
		return fmt.Errorf("invalid storage.driver: %s (must be bolt or sqlite)", c.Storage.Driver)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if (c.API.TLS.CertFile == "") != (c.API.TLS.KeyFile == "") {
		return fmt.Errorf("api.tls requires both cert_file and key_file")
	}
	if acme := c.API.TLS.ACME; acme.Enabled {
		if c.API.TLS.CertFile != "" {
			return fmt.Errorf("cannot use both api.tls.cert_file and api.tls.acme")
		}
		if acme.Email == "" {
			return fmt.Errorf("api.tls.acme.email is required when ACME is enabled")
		}
		if len(acme.Domains) == 0 {
			return fmt.Errorf("api.tls.acme.domains is required when ACME is enabled")
		}
	}

	if err := ipfilter.Validate(c.API.AdminAllowedIPs); err != nil {
		return fmt.Errorf("invalid api.admin_allowed_ips: %w", err)
	}
	if err := ipfilter.Validate(c.Metrics.AllowedIPs); err != nil {
		return fmt.Errorf("invalid metrics.allowed_ips: %w", err)
	}

	if c.RateLimit.Enabled && c.RateLimit.DefaultAPIKey == nil && len(c.RateLimit.APIKeys) == 0 {
		return fmt.Errorf("rate_limit.default_api_key or rate_limit.api_keys is required when rate limiting is enabled")
	}

	return nil
}

// validateAuth validates secrets used for sessions and API keys
func (c *Config) validateAuth() error {
	if len(c.Auth.SessionSecret) < MinSecretLength {
		return fmt.Errorf("auth.session_secret must be at least %d characters", MinSecretLength)
	}
	if len(c.Auth.APIKeySecret) < MinSecretLength {
		return fmt.Errorf("auth.api_key_secret must be at least %d characters", MinSecretLength)
	}
	if c.Auth.SiteKey != "" && c.Auth.SiteKeyHash != "" {
		return fmt.Errorf("cannot use both auth.site_key and auth.site_key_hash")
	}
	return nil
}

// validateProviders validates the two provider slots
func (c *Config) validateProviders() error {
	p := c.Providers
	if !KnownProviders[p.Primary] {
		return fmt.Errorf("invalid providers.primary: %s", p.Primary)
	}
	if !KnownProviders[p.Secondary] {
		return fmt.Errorf("invalid providers.secondary: %s", p.Secondary)
	}
	if p.Primary == p.Secondary {
		return fmt.Errorf("providers.primary and providers.secondary must differ")
	}
	if p.Backoff < 0 || p.Timeout < 0 {
		return fmt.Errorf("providers.backoff and providers.timeout must not be negative")
	}

	dkim := p.SMTP.DKIM
	if dkim.Enabled {
		if dkim.Selector == "" {
			return fmt.Errorf("providers.smtp.dkim.selector is required when DKIM is enabled")
		}
		if dkim.KeyFile == "" {
			return fmt.Errorf("providers.smtp.dkim.key_file is required when DKIM is enabled")
		}
		if dkim.Domain == "" {
			return fmt.Errorf("providers.smtp.dkim.domain is required when DKIM is enabled")
		}
	}

	return nil
}

// MinSecretLength is the minimum length of HMAC secrets
const MinSecretLength = 32

// KnownProviders lists provider names accepted in providers.primary and providers.secondary
var KnownProviders = map[string]bool{
	"notificationapi": true,
	"brevo":           true,
	"mailgun":         true,
	"smtp":            true,
}

// HasTLS returns true if the API listener serves HTTPS
func (c *Config) HasTLS() bool {
	return (c.API.TLS.CertFile != "" && c.API.TLS.KeyFile != "") || c.API.TLS.ACME.Enabled
}

// HasSiteKey returns true if an admin site key is configured
func (c *Config) HasSiteKey() bool {
	return c.Auth.SiteKey != "" || c.Auth.SiteKeyHash != ""
}
