package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix          = "CAUCODE"
	defaultHTTPAddress = "0.0.0.0:8080"
	defaultDatabase    = "caucode.db"
	defaultLogLevel    = "info"

	defaultGoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSolvedACURL   = "https://solved.ac/api/v3"

	defaultAccessTokenTTLMinutes  = 30
	defaultRefreshTokenTTLHours   = 168
	defaultSolvedACTimeoutSeconds = 15

	defaultCodeTTLMinutes        = 10
	defaultMaxAttempts           = 3
	defaultAttemptWindowMinutes  = 60
	defaultChecksPerMinute       = 6
	defaultSweepIntervalMinutes  = 5
	defaultProfileSyncStaleHours = 6
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string

	SigningSecret   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	GoogleClientID string
	GoogleJWKSURL  string

	SolvedACBaseURL string
	SolvedACTimeout time.Duration

	VerificationCodeTTL  time.Duration
	MaxAttempts          int
	AttemptWindow        time.Duration
	ChecksPerMinute      int
	SweepInterval        time.Duration
	ProfileSyncStaleness time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabase)
	configViper.SetDefault("log.level", defaultLogLevel)

	configViper.SetDefault("token.access_ttl_minutes", defaultAccessTokenTTLMinutes)
	configViper.SetDefault("token.refresh_ttl_hours", defaultRefreshTokenTTLHours)

	configViper.SetDefault("google.jwks_url", defaultGoogleJWKSURL)

	configViper.SetDefault("solvedac.base_url", defaultSolvedACURL)
	configViper.SetDefault("solvedac.timeout_seconds", defaultSolvedACTimeoutSeconds)

	configViper.SetDefault("verification.code_ttl_minutes", defaultCodeTTLMinutes)
	configViper.SetDefault("verification.max_attempts", defaultMaxAttempts)
	configViper.SetDefault("verification.attempt_window_minutes", defaultAttemptWindowMinutes)
	configViper.SetDefault("verification.checks_per_minute", defaultChecksPerMinute)
	configViper.SetDefault("verification.sweep_interval_minutes", defaultSweepIntervalMinutes)
	configViper.SetDefault("profile.sync_stale_hours", defaultProfileSyncStaleHours)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:  configViper.GetString("http.address"),
		DatabasePath: configViper.GetString("database.path"),
		LogLevel:     configViper.GetString("log.level"),

		SigningSecret:   configViper.GetString("auth.signing_secret"),
		AccessTokenTTL:  time.Duration(configViper.GetInt("token.access_ttl_minutes")) * time.Minute,
		RefreshTokenTTL: time.Duration(configViper.GetInt("token.refresh_ttl_hours")) * time.Hour,

		GoogleClientID: configViper.GetString("google.client_id"),
		GoogleJWKSURL:  configViper.GetString("google.jwks_url"),

		SolvedACBaseURL: configViper.GetString("solvedac.base_url"),
		SolvedACTimeout: time.Duration(configViper.GetInt("solvedac.timeout_seconds")) * time.Second,

		VerificationCodeTTL:  time.Duration(configViper.GetInt("verification.code_ttl_minutes")) * time.Minute,
		MaxAttempts:          configViper.GetInt("verification.max_attempts"),
		AttemptWindow:        time.Duration(configViper.GetInt("verification.attempt_window_minutes")) * time.Minute,
		ChecksPerMinute:      configViper.GetInt("verification.checks_per_minute"),
		SweepInterval:        time.Duration(configViper.GetInt("verification.sweep_interval_minutes")) * time.Minute,
		ProfileSyncStaleness: time.Duration(configViper.GetInt("profile.sync_stale_hours")) * time.Hour,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.GoogleClientID) == "" {
		return fmt.Errorf("google.client_id is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.VerificationCodeTTL <= 0 {
		return fmt.Errorf("verification.code_ttl_minutes must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("verification.max_attempts must be positive")
	}
	return nil
}
