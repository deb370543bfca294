package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Hubspace        HubspaceConfig  `yaml:"hubspace"`
	Database        DatabaseConfig  `yaml:"database"`
	Log             LogConfig       `yaml:"log"`
	Discovery       DiscoveryConfig `yaml:"discovery"`
	Cache           CacheConfig     `yaml:"cache"`
	Color           ColorConfig     `yaml:"color"`
	Ledger          LedgerConfig    `yaml:"ledger"`
	API             APIConfig       `yaml:"api"`
	ShutdownTimeout Duration        `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// HubspaceConfig contains Hubspace account and cloud API settings
type HubspaceConfig struct {
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	Timeout  Duration `yaml:"timeout"` // HTTP timeout for Afero API requests

	BaseURL  string `yaml:"base_url"`  // Afero API base (default: https://api2.afero.net/v1)
	TokenURL string `yaml:"token_url"` // OpenID token endpoint

	RateLimitRPS float64 `yaml:"rate_limit_rps"` // Sustained vendor requests per second
	Burst        int     `yaml:"burst"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"`
}

// DiscoveryConfig contains periodic discovery settings
type DiscoveryConfig struct {
	Interval Duration `yaml:"interval"`
}

// CacheConfig contains device status cache settings
type CacheConfig struct {
	Enabled bool     `yaml:"enabled"` // If false, every read hits the vendor (default: false)
	TTL     Duration `yaml:"ttl"`     // Only used if enabled
}

// ColorConfig tunes light color handling
type ColorConfig struct {
	PairingWindow Duration `yaml:"pairing_window"` // How long a hue or saturation write waits for its pair
	KelvinMin     float64  `yaml:"kelvin_min"`     // Used when a light reports no range
	KelvinMax     float64  `yaml:"kelvin_max"`
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// Retention returns the retention period as a duration
func (c LedgerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration from YAML, applies defaults and validates it
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./hubspaced.sqlite"
	}

	// Hubspace defaults
	if cfg.Hubspace.Timeout == 0 {
		cfg.Hubspace.Timeout = Duration(30 * time.Second)
	}
	if cfg.Hubspace.RateLimitRPS == 0 {
		cfg.Hubspace.RateLimitRPS = 5.0
	}
	if cfg.Hubspace.Burst == 0 {
		cfg.Hubspace.Burst = 5
	}

	if cfg.Discovery.Interval == 0 {
		cfg.Discovery.Interval = Duration(15 * time.Minute)
	}

	// Cache defaults - caching is OFF by default (always fetch fresh state)
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = Duration(5 * time.Second)
	}

	// Color defaults
	if cfg.Color.PairingWindow == 0 {
		cfg.Color.PairingWindow = Duration(2 * time.Second)
	}
	if cfg.Color.KelvinMin == 0 {
		cfg.Color.KelvinMin = 2200
	}
	if cfg.Color.KelvinMax == 0 {
		cfg.Color.KelvinMax = 6500
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// API defaults
	if cfg.API.Port == 0 {
		cfg.API.Port = 8581
	}
	if cfg.API.Host == "" {
		cfg.API.Host = "0.0.0.0"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks settings that have no usable default
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.Hubspace.Username == "" {
		errs = append(errs, errors.New("hubspace.username is required"))
	}
	if cfg.Hubspace.Password == "" {
		errs = append(errs, errors.New("hubspace.password is required"))
	}
	if cfg.Hubspace.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("hubspace.rate_limit_rps must not be negative, got %v", cfg.Hubspace.RateLimitRPS))
	}
	if cfg.Color.KelvinMin <= 0 || cfg.Color.KelvinMax <= cfg.Color.KelvinMin {
		errs = append(errs, fmt.Errorf("color.kelvin_min must be positive and below color.kelvin_max, got %v..%v", cfg.Color.KelvinMin, cfg.Color.KelvinMax))
	}
	if cfg.API.Port < 0 || cfg.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port out of range: %d", cfg.API.Port))
	}
	return errors.Join(errs...)
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

// ExpandEnvString expands a single string with environment variables
func ExpandEnvString(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return expandEnvVars(s)
	}
	return s
}
