package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/platinummonkey/billingportal/pkg/api"
	"github.com/platinummonkey/billingportal/pkg/billing"
	"github.com/platinummonkey/billingportal/pkg/httputil"
	"github.com/platinummonkey/billingportal/pkg/identity"
	"github.com/platinummonkey/billingportal/pkg/observability"
	"github.com/platinummonkey/billingportal/pkg/portal"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Observability configuration
	Observability ObservabilityConfig

	// Identity verification
	Identity IdentityConfig

	// Billing provider
	Billing BillingConfig

	// Portal flow and HTTP behaviour
	Portal PortalConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// TrustedProxies lists the IPs and CIDRs whose forwarding headers are believed
	TrustedProxies []string
}

// Addr returns the API listen address
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, s.Port)
}

// HealthAddr returns the health server listen address
func (s ServerConfig) HealthAddr() string {
	return net.JoinHostPort(s.Host, s.HealthPort)
}

// Proxies parses TrustedProxies. It is nil when none are configured.
func (s ServerConfig) Proxies() (*httputil.TrustedProxies, error) {
	return httputil.ParseTrustedProxies(s.TrustedProxies)
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel  observability.LogLevel
	LogFormat observability.LogFormat

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// IdentityConfig holds identity verification settings
type IdentityConfig struct {
	Mode identity.Mode

	// GoTrue
	SupabaseURL     string
	SupabaseAnonKey string

	// Local JWT
	JWTSecret   string
	JWTAudience string
	JWTIssuer   string

	// OIDC
	OIDCIssuer            string
	OIDCClientID          string
	OIDCSkipClientIDCheck bool
	OIDCUserInfo          bool
}

// BillingConfig holds billing provider settings
type BillingConfig struct {
	StripeSecretKey string
	StripeAPIURL    string

	// CacheTTL enables the customer lookup cache when positive
	CacheTTL  time.Duration
	CacheSize int
	// CachePurgeSchedule is an optional cron expression that empties the cache
	CachePurgeSchedule string
}

// PortalConfig holds the portal flow and endpoint settings
type PortalConfig struct {
	ReturnPath     string
	DefaultOrigin  string
	MatchPolicy    portal.MatchPolicy
	ErrorStatus    api.StatusPolicy
	VerifyTimeout  time.Duration
	LookupTimeout  time.Duration
	SessionTimeout time.Duration

	// RedisURL switches rate limiting to Redis when set
	RedisURL string
	// RateLimitPerMinute of 0 disables rate limiting
	RateLimitPerMinute int

	// RequireSecrets makes missing secrets fatal at start-up
	RequireSecrets bool
}

// Environment variable names
const (
	EnvConfigFile = "PORTAL_CONFIG_FILE"

	EnvSupabaseURL     = "SUPABASE_URL"
	EnvSupabaseAnonKey = "SUPABASE_ANON_KEY"
	EnvSupabaseJWT     = "SUPABASE_JWT_SECRET"
	EnvStripeSecretKey = "STRIPE_SECRET_KEY"
	EnvOIDCIssuer      = "PORTAL_OIDC_ISSUER"
	EnvOIDCClientID    = "PORTAL_OIDC_CLIENT_ID"
)

var defaults = map[string]interface{}{
	"PORTAL_HOST":             "0.0.0.0",
	"PORTAL_PORT":             "8080",
	"PORTAL_HEALTH_PORT":      "9090",
	"PORTAL_READ_TIMEOUT":     15 * time.Second,
	"PORTAL_WRITE_TIMEOUT":    30 * time.Second,
	"PORTAL_IDLE_TIMEOUT":     60 * time.Second,
	"PORTAL_SHUTDOWN_TIMEOUT": 30 * time.Second,
	"PORTAL_TRUSTED_PROXIES":  "",

	"PORTAL_LOG_LEVEL":            "info",
	"PORTAL_LOG_FORMAT":           string(observability.FormatJSON),
	"PORTAL_METRICS_ENABLED":      true,
	"PORTAL_OTEL_ENABLED":         false,
	"PORTAL_OTEL_ENDPOINT":        "localhost:4317",
	"PORTAL_OTEL_SERVICE_NAME":    "billing-portal",
	"PORTAL_OTEL_SERVICE_VERSION": "1.0.0",
	"PORTAL_OTEL_INSECURE":        true,
	"PORTAL_OTEL_SAMPLE_RATIO":    1.0,

	"PORTAL_IDENTITY_MODE":             string(identity.ModeGoTrue),
	EnvSupabaseURL:                     "",
	EnvSupabaseAnonKey:                 "",
	EnvSupabaseJWT:                     "",
	"PORTAL_JWT_AUDIENCE":              identity.DefaultAudience,
	"PORTAL_JWT_ISSUER":                "",
	EnvOIDCIssuer:                      "",
	EnvOIDCClientID:                    "",
	"PORTAL_OIDC_SKIP_CLIENT_ID_CHECK": false,
	"PORTAL_OIDC_USERINFO":             false,

	EnvStripeSecretKey:                     "",
	"STRIPE_API_URL":                       "",
	"PORTAL_CUSTOMER_CACHE_TTL":            time.Duration(0),
	"PORTAL_CUSTOMER_CACHE_SIZE":           billing.DefaultCacheSize,
	"PORTAL_CUSTOMER_CACHE_PURGE_SCHEDULE": "",

	"PORTAL_RETURN_PATH":           portal.DefaultReturnPath,
	"PORTAL_DEFAULT_ORIGIN":        "",
	"PORTAL_CUSTOMER_MATCH":        string(portal.MatchFirst),
	"PORTAL_ERROR_STATUS":          string(api.StatusLegacy),
	"PORTAL_VERIFY_TIMEOUT":        portal.DefaultStepTimeout,
	"PORTAL_LOOKUP_TIMEOUT":        portal.DefaultStepTimeout,
	"PORTAL_SESSION_TIMEOUT":       portal.DefaultStepTimeout,
	"PORTAL_REDIS_URL":             "",
	"PORTAL_RATE_LIMIT_PER_MINUTE": 30,
	"PORTAL_REQUIRE_SECRETS":       false,
}

// Load reads the optional config file named by PORTAL_CONFIG_FILE, then the
// environment, and validates the result. Environment variables win over the file.
// Missing secrets are not an error here; see MissingSecrets.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if file := strings.TrimSpace(v.GetString(EnvConfigFile)); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	cfg, err := fromViper(v)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	if cfg.Portal.RequireSecrets {
		if err := cfg.CheckSecrets(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func fromViper(v *viper.Viper) (*Config, error) {
	logLevel, err := observability.ParseLogLevel(v.GetString("PORTAL_LOG_LEVEL"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORTAL_LOG_LEVEL: %w", err)
	}
	errorStatus, err := api.ParseStatusPolicy(v.GetString("PORTAL_ERROR_STATUS"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORTAL_ERROR_STATUS: %w", err)
	}

	return &Config{
		Server: ServerConfig{
			Host:            v.GetString("PORTAL_HOST"),
			Port:            v.GetString("PORTAL_PORT"),
			ReadTimeout:     v.GetDuration("PORTAL_READ_TIMEOUT"),
			WriteTimeout:    v.GetDuration("PORTAL_WRITE_TIMEOUT"),
			IdleTimeout:     v.GetDuration("PORTAL_IDLE_TIMEOUT"),
			ShutdownTimeout: v.GetDuration("PORTAL_SHUTDOWN_TIMEOUT"),
			HealthPort:      v.GetString("PORTAL_HEALTH_PORT"),
			TrustedProxies:  splitList(v.GetString("PORTAL_TRUSTED_PROXIES")),
		},
		Observability: ObservabilityConfig{
			LogLevel:           logLevel,
			LogFormat:          observability.LogFormat(strings.ToLower(v.GetString("PORTAL_LOG_FORMAT"))),
			MetricsEnabled:     v.GetBool("PORTAL_METRICS_ENABLED"),
			OTelEnabled:        v.GetBool("PORTAL_OTEL_ENABLED"),
			OTelEndpoint:       v.GetString("PORTAL_OTEL_ENDPOINT"),
			OTelServiceName:    v.GetString("PORTAL_OTEL_SERVICE_NAME"),
			OTelServiceVersion: v.GetString("PORTAL_OTEL_SERVICE_VERSION"),
			OTelInsecure:       v.GetBool("PORTAL_OTEL_INSECURE"),
			OTelSampleRatio:    v.GetFloat64("PORTAL_OTEL_SAMPLE_RATIO"),
		},
		Identity: IdentityConfig{
			Mode:                  identity.Mode(strings.ToLower(v.GetString("PORTAL_IDENTITY_MODE"))),
			SupabaseURL:           strings.TrimSpace(v.GetString(EnvSupabaseURL)),
			SupabaseAnonKey:       strings.TrimSpace(v.GetString(EnvSupabaseAnonKey)),
			JWTSecret:             v.GetString(EnvSupabaseJWT),
			JWTAudience:           v.GetString("PORTAL_JWT_AUDIENCE"),
			JWTIssuer:             v.GetString("PORTAL_JWT_ISSUER"),
			OIDCIssuer:            strings.TrimSpace(v.GetString(EnvOIDCIssuer)),
			OIDCClientID:          strings.TrimSpace(v.GetString(EnvOIDCClientID)),
			OIDCSkipClientIDCheck: v.GetBool("PORTAL_OIDC_SKIP_CLIENT_ID_CHECK"),
			OIDCUserInfo:          v.GetBool("PORTAL_OIDC_USERINFO"),
		},
		Billing: BillingConfig{
			StripeSecretKey: strings.TrimSpace(v.GetString(EnvStripeSecretKey)),
			StripeAPIURL:    strings.TrimSpace(v.GetString("STRIPE_API_URL")),
			CacheTTL:        v.GetDuration("PORTAL_CUSTOMER_CACHE_TTL"),
			CacheSize:       v.GetInt("PORTAL_CUSTOMER_CACHE_SIZE"),

			CachePurgeSchedule: strings.TrimSpace(v.GetString("PORTAL_CUSTOMER_CACHE_PURGE_SCHEDULE")),
		},
		Portal: PortalConfig{
			ReturnPath:         v.GetString("PORTAL_RETURN_PATH"),
			DefaultOrigin:      strings.TrimRight(strings.TrimSpace(v.GetString("PORTAL_DEFAULT_ORIGIN")), "/"),
			MatchPolicy:        portal.MatchPolicy(strings.ToLower(v.GetString("PORTAL_CUSTOMER_MATCH"))),
			ErrorStatus:        errorStatus,
			VerifyTimeout:      v.GetDuration("PORTAL_VERIFY_TIMEOUT"),
			LookupTimeout:      v.GetDuration("PORTAL_LOOKUP_TIMEOUT"),
			SessionTimeout:     v.GetDuration("PORTAL_SESSION_TIMEOUT"),
			RedisURL:           strings.TrimSpace(v.GetString("PORTAL_REDIS_URL")),
			RateLimitPerMinute: v.GetInt("PORTAL_RATE_LIMIT_PER_MINUTE"),
			RequireSecrets:     v.GetBool("PORTAL_REQUIRE_SECRETS"),
		},
	}, nil
}

// Validate checks if the configuration is valid. Secrets are checked separately.
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if _, err := c.Server.Proxies(); err != nil {
		return err
	}

	switch c.Observability.LogFormat {
	case observability.FormatJSON, observability.FormatText:
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Observability.LogFormat)
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	if !c.Identity.Mode.Valid() {
		return fmt.Errorf("invalid identity mode: %s (must be gotrue, jwt, or oidc)", c.Identity.Mode)
	}
	if !c.Portal.MatchPolicy.Valid() {
		return fmt.Errorf("invalid customer match policy: %s (must be first or strict)", c.Portal.MatchPolicy)
	}
	if !strings.HasPrefix(c.Portal.ReturnPath, "/") {
		return fmt.Errorf("return path must start with /: %q", c.Portal.ReturnPath)
	}

	for name, d := range map[string]time.Duration{
		"verify":  c.Portal.VerifyTimeout,
		"lookup":  c.Portal.LookupTimeout,
		"session": c.Portal.SessionTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s timeout must be positive", name)
		}
	}

	if c.Portal.RateLimitPerMinute < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if c.Billing.CacheTTL < 0 {
		return fmt.Errorf("customer cache TTL must not be negative")
	}
	if c.Billing.CacheTTL > 0 && c.Billing.CacheSize <= 0 {
		return fmt.Errorf("customer cache size must be positive when the cache is enabled")
	}
	if c.Billing.CachePurgeSchedule != "" {
		if _, err := cron.ParseStandard(c.Billing.CachePurgeSchedule); err != nil {
			return fmt.Errorf("invalid customer cache purge schedule %q: %w", c.Billing.CachePurgeSchedule, err)
		}
	}

	return nil
}

// MissingSecrets lists the secret variables the selected identity mode and the
// billing provider need but that are not set
func (c *Config) MissingSecrets() []string {
	var missing []string

	switch c.Identity.Mode {
	case identity.ModeGoTrue:
		if c.Identity.SupabaseURL == "" {
			missing = append(missing, EnvSupabaseURL)
		}
		if c.Identity.SupabaseAnonKey == "" {
			missing = append(missing, EnvSupabaseAnonKey)
		}
	case identity.ModeJWT:
		if c.Identity.JWTSecret == "" {
			missing = append(missing, EnvSupabaseJWT)
		}
	case identity.ModeOIDC:
		if c.Identity.OIDCIssuer == "" {
			missing = append(missing, EnvOIDCIssuer)
		}
		if c.Identity.OIDCClientID == "" && !c.Identity.OIDCSkipClientIDCheck {
			missing = append(missing, EnvOIDCClientID)
		}
	}

	if c.Billing.StripeSecretKey == "" {
		missing = append(missing, EnvStripeSecretKey)
	}

	return missing
}

// ErrMissingSecrets is wrapped by CheckSecrets failures
var ErrMissingSecrets = errors.New("required secrets are not set")

// CheckSecrets returns an error naming every missing secret, or nil
func (c *Config) CheckSecrets() error {
	if missing := c.MissingSecrets(); len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingSecrets, strings.Join(missing, ", "))
	}
	return nil
}

// IdentityVerifierConfig converts the identity settings for identity.NewVerifier
func (c *Config) IdentityVerifierConfig() identity.Config {
	return identity.Config{
		Mode: c.Identity.Mode,
		GoTrue: identity.GoTrueConfig{
			BaseURL: c.Identity.SupabaseURL,
			AnonKey: c.Identity.SupabaseAnonKey,
		},
		JWT: identity.JWTConfig{
			Secret:   c.Identity.JWTSecret,
			Audience: c.Identity.JWTAudience,
			Issuer:   c.Identity.JWTIssuer,
		},
		OIDC: identity.OIDCConfig{
			IssuerURL:         c.Identity.OIDCIssuer,
			ClientID:          c.Identity.OIDCClientID,
			SkipClientIDCheck: c.Identity.OIDCSkipClientIDCheck,
			UserInfo:          c.Identity.OIDCUserInfo,
		},
	}
}

// StripeConfig converts the billing settings for billing.NewStripeClient
func (c *Config) StripeConfig(logger billing.Logger) billing.StripeConfig {
	return billing.StripeConfig{
		SecretKey: c.Billing.StripeSecretKey,
		APIURL:    c.Billing.StripeAPIURL,
		Logger:    logger,
	}
}

// OTelConfig converts the observability settings for observability.InitOTel
func (c *Config) OTelConfig() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
		SampleRatio:    c.Observability.OTelSampleRatio,
	}
}
