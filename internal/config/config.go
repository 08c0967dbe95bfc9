// Package config builds and validates the application configuration from the
// environment using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	minJWTSecretLen = 16
)

// Config holds application configuration loaded from the environment.
type Config struct {
	Port string `mapstructure:"PORT"`
	// Env is the application environment ("development", "production"). In
	// production gin runs in release mode.
	Env string `mapstructure:"APP_ENV"`

	DatabaseDriver string `mapstructure:"DATABASE_DRIVER"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`

	JWTSecret         string        `mapstructure:"JWT_SECRET"`
	JWTIssuer         string        `mapstructure:"JWT_ISSUER"`
	TokenTTLTemporal  time.Duration `mapstructure:"TOKEN_TTL_TEMPORAL"`
	TokenTTLExtendido time.Duration `mapstructure:"TOKEN_TTL_EXTENDIDO"`

	// RedisAddr enables the dispatch event feed when set.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// VAPID keys are generated at startup when either is empty.
	VAPIDPublicKey  string        `mapstructure:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string        `mapstructure:"VAPID_PRIVATE_KEY"`
	VAPIDSubject    string        `mapstructure:"VAPID_SUBJECT"`
	PushTTL         int           `mapstructure:"PUSH_TTL"`
	PushSendTimeout time.Duration `mapstructure:"PUSH_SEND_TIMEOUT"`
	PushWorkers     int           `mapstructure:"PUSH_WORKERS"`

	LoginRateWindow   time.Duration `mapstructure:"LOGIN_RATE_WINDOW"`
	LoginRateLimit    int           `mapstructure:"LOGIN_RATE_LIMIT"`
	GeneralRateWindow time.Duration `mapstructure:"GENERAL_RATE_WINDOW"`
	GeneralRateLimit  int           `mapstructure:"GENERAL_RATE_LIMIT"`

	MaxBodyBytes int64  `mapstructure:"MAX_BODY_BYTES"`
	FrontendURL  string `mapstructure:"FRONTEND_URL"`

	// TrustedProxies is a comma-separated list of proxy IPs or CIDRs whose
	// X-Forwarded-For is believed. Empty means the socket address is the client.
	TrustedProxies string `mapstructure:"TRUSTED_PROXIES"`

	// AdminEmail and AdminPassword seed a default administrator when both are set.
	AdminEmail    string `mapstructure:"ADMIN_EMAIL"`
	AdminPassword string `mapstructure:"ADMIN_PASSWORD"`
}

// Load builds Config from the environment. The caller is expected to have
// loaded any .env file already. Returns an error if required fields are
// missing or invalid.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	// Every key needs a default so Unmarshal sees it.
	v.SetDefault("PORT", "8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("DATABASE_DRIVER", DriverPostgres)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "entornos-api")
	v.SetDefault("TOKEN_TTL_TEMPORAL", "1h")
	v.SetDefault("TOKEN_TTL_EXTENDIDO", "336h") // 14d
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("VAPID_PUBLIC_KEY", "")
	v.SetDefault("VAPID_PRIVATE_KEY", "")
	v.SetDefault("VAPID_SUBJECT", "mailto:admin@example.com")
	v.SetDefault("PUSH_TTL", 30)
	v.SetDefault("PUSH_SEND_TIMEOUT", "10s")
	v.SetDefault("PUSH_WORKERS", 4)
	v.SetDefault("LOGIN_RATE_WINDOW", "15m")
	v.SetDefault("LOGIN_RATE_LIMIT", 5)
	v.SetDefault("GENERAL_RATE_WINDOW", "5m")
	v.SetDefault("GENERAL_RATE_LIMIT", 100)
	v.SetDefault("MAX_BODY_BYTES", 1<<20)
	v.SetDefault("FRONTEND_URL", "http://localhost:3000")
	v.SetDefault("TRUSTED_PROXIES", "")
	v.SetDefault("ADMIN_EMAIL", "")
	v.SetDefault("ADMIN_PASSWORD", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required keys and positive limits.
func (c *Config) Validate() error {
	var errs []error

	c.DatabaseDriver = strings.ToLower(strings.TrimSpace(c.DatabaseDriver))
	if c.DatabaseDriver != DriverPostgres && c.DatabaseDriver != DriverSQLite {
		errs = append(errs, fmt.Errorf("config: DATABASE_DRIVER must be %q or %q", DriverPostgres, DriverSQLite))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("config: DATABASE_URL must be set"))
	}
	if len(c.JWTSecret) < minJWTSecretLen {
		errs = append(errs, fmt.Errorf("config: JWT_SECRET must be at least %d bytes", minJWTSecretLen))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("config: PORT must be set"))
	}

	positive := map[string]int64{
		"TOKEN_TTL_TEMPORAL":  int64(c.TokenTTLTemporal),
		"TOKEN_TTL_EXTENDIDO": int64(c.TokenTTLExtendido),
		"PUSH_TTL":            int64(c.PushTTL),
		"PUSH_SEND_TIMEOUT":   int64(c.PushSendTimeout),
		"PUSH_WORKERS":        int64(c.PushWorkers),
		"LOGIN_RATE_WINDOW":   int64(c.LoginRateWindow),
		"LOGIN_RATE_LIMIT":    int64(c.LoginRateLimit),
		"GENERAL_RATE_WINDOW": int64(c.GeneralRateWindow),
		"GENERAL_RATE_LIMIT":  int64(c.GeneralRateLimit),
		"MAX_BODY_BYTES":      c.MaxBodyBytes,
	}
	for _, key := range []string{
		"TOKEN_TTL_TEMPORAL", "TOKEN_TTL_EXTENDIDO", "PUSH_TTL", "PUSH_SEND_TIMEOUT",
		"PUSH_WORKERS", "LOGIN_RATE_WINDOW", "LOGIN_RATE_LIMIT", "GENERAL_RATE_WINDOW",
		"GENERAL_RATE_LIMIT", "MAX_BODY_BYTES",
	} {
		if positive[key] <= 0 {
			errs = append(errs, fmt.Errorf("config: %s must be positive", key))
		}
	}

	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		errs = append(errs, errors.New("config: VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together"))
	}

	return errors.Join(errs...)
}

// Addr is the listen address.
func (c *Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// TrustedProxyList splits TrustedProxies; nil when none are configured.
func (c *Config) TrustedProxyList() []string {
	var out []string
	for _, p := range strings.Split(c.TrustedProxies, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SeedAdmin reports whether a default administrator should be created.
func (c *Config) SeedAdmin() bool {
	return c.AdminEmail != "" && c.AdminPassword != ""
}
