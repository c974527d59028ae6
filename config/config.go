// Package config loads the collector fleet configuration from environment
// variables.
//
// Every option has a default suitable for local development against a Redis
// instance on localhost; production deployments override via the process
// environment only (12-factor style, no config files). Validation failures
// are the single condition under which the process exits non-zero.
//
// Recognized variables:
//
//	STORE_MODE            remote | direct (default: direct)
//	STORE_URL             base URL of the remote HTTP store
//	STORE_TOKEN           bearer token for the remote store
//	STORE_DSN             redis URL for direct mode (default: redis://localhost:6379/0)
//	LOG_LEVEL             debug | info | warn | error (default: info)
//	HEALTH_PORT           health endpoint port (default: 8080)
//	DISABLE_<NAME>        any truthy value skips registering collector NAME
//	NASA_FIRMS_API_KEY    NASA FIRMS MAP_KEY
//	WAQI_API_KEY          World Air Quality Index token
//	APRS_CALLSIGN         callsign used for the APRS-IS login (default: N0CALL)
//	APRS_FI_API_KEY       aprs.fi API key
//	OPENSKY_CLIENT_ID     OpenSky OAuth2 client id
//	OPENSKY_CLIENT_SECRET OpenSky OAuth2 client secret
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// StoreConfig selects and parameterizes the snapshot store backend.
type StoreConfig struct {
	// Mode is "remote" (HTTP-fronted store) or "direct" (TCP redis).
	Mode string `mapstructure:"store_mode"`

	// URL and Token are the remote mode credentials.
	URL   string `mapstructure:"store_url"`
	Token string `mapstructure:"store_token"`

	// DSN is the redis URL used in direct mode.
	DSN string `mapstructure:"store_dsn"`
}

// ProviderConfig carries upstream API credentials. Collectors that need a
// missing credential are skipped at registration time.
type ProviderConfig struct {
	NASAFirmsKey        string `mapstructure:"nasa_firms_api_key"`
	WAQIKey             string `mapstructure:"waqi_api_key"`
	APRSCallsign        string `mapstructure:"aprs_callsign"`
	APRSFiKey           string `mapstructure:"aprs_fi_api_key"`
	OpenSkyClientID     string `mapstructure:"opensky_client_id"`
	OpenSkyClientSecret string `mapstructure:"opensky_client_secret"`
}

// Config is the complete supervisor configuration.
type Config struct {
	Store     StoreConfig    `mapstructure:",squash"`
	Providers ProviderConfig `mapstructure:",squash"`

	// LogLevel is the textual logrus level.
	LogLevel string `mapstructure:"log_level"`

	// HealthPort is the listen port of the health endpoint.
	HealthPort int `mapstructure:"health_port"`
}

// Load reads configuration from the environment with defaults applied.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("store_mode", "direct")
	v.SetDefault("store_url", "")
	v.SetDefault("store_token", "")
	v.SetDefault("store_dsn", "redis://localhost:6379/0")
	v.SetDefault("log_level", "info")
	v.SetDefault("health_port", 8080)
	v.SetDefault("nasa_firms_api_key", "")
	v.SetDefault("waqi_api_key", "")
	v.SetDefault("aprs_callsign", "N0CALL")
	v.SetDefault("aprs_fi_api_key", "")
	v.SetDefault("opensky_client_id", "")
	v.SetDefault("opensky_client_secret", "")

	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the loaded configuration for contradictions.
func Validate(cfg *Config) error {
	switch cfg.Store.Mode {
	case "direct":
		if cfg.Store.DSN == "" {
			return fmt.Errorf("STORE_DSN is required in direct mode")
		}
	case "remote":
		if cfg.Store.URL == "" {
			return fmt.Errorf("STORE_URL is required in remote mode")
		}
	default:
		return fmt.Errorf("invalid STORE_MODE: %q (want remote or direct)", cfg.Store.Mode)
	}

	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL: %q", cfg.LogLevel)
	}

	if cfg.HealthPort < 1 || cfg.HealthPort > 65535 {
		return fmt.Errorf("invalid HEALTH_PORT: %d", cfg.HealthPort)
	}

	return nil
}

// Disabled reports whether the collector with the given registration name
// was switched off via DISABLE_<NAME>. Any non-empty value other than
// "0" or "false" counts as truthy.
func Disabled(name string) bool {
	key := "DISABLE_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return val != "" && val != "0" && val != "false"
}
