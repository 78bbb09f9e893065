package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "EGH"
	defaultHTTPAddress  = "0.0.0.0:8000"
	defaultDatabasePath = "egh.db"
	defaultLogLevel     = "info"
	defaultAPNSHost     = "https://api.sandbox.push.apple.com"
	defaultPushTimeout  = 10 * time.Second
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string

	// APNs provider credentials. At most one key form is used; resolution
	// priority is inline PEM, then base64 PEM, then key file path.
	APNSKeyPEM      string
	APNSKeyBase64   string
	APNSKeyPath     string
	APNSKeyID       string
	APNSTeamID      string
	APNSTopic       string
	APNSHost        string
	APNSPushTimeout time.Duration
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
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("apns.host", defaultAPNSHost)
	configViper.SetDefault("apns.push_timeout_seconds", int(defaultPushTimeout/time.Second))
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		APNSKeyPEM:      configViper.GetString("apns.key_pem"),
		APNSKeyBase64:   configViper.GetString("apns.key_base64"),
		APNSKeyPath:     configViper.GetString("apns.key_path"),
		APNSKeyID:       configViper.GetString("apns.key_id"),
		APNSTeamID:      configViper.GetString("apns.team_id"),
		APNSTopic:       configViper.GetString("apns.topic"),
		APNSHost:        configViper.GetString("apns.host"),
		APNSPushTimeout: time.Duration(configViper.GetInt("apns.push_timeout_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.PushConfigured() {
		if strings.TrimSpace(c.APNSKeyID) == "" {
			return fmt.Errorf("apns.key_id is required when an APNs key is configured")
		}
		if strings.TrimSpace(c.APNSTeamID) == "" {
			return fmt.Errorf("apns.team_id is required when an APNs key is configured")
		}
		if strings.TrimSpace(c.APNSTopic) == "" {
			return fmt.Errorf("apns.topic is required when an APNs key is configured")
		}
	}
	return nil
}

// PushConfigured reports whether any APNs signing key material was supplied.
// The server runs without push delivery when none is present.
func (c AppConfig) PushConfigured() bool {
	return strings.TrimSpace(c.APNSKeyPEM) != "" ||
		strings.TrimSpace(c.APNSKeyBase64) != "" ||
		strings.TrimSpace(c.APNSKeyPath) != ""
}
