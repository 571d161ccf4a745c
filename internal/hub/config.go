// Package hub provides configuration loading: environment variables layered
// over an optional YAML file, with a sanitize pass supplying defaults.
package hub

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimitConfig defines the parameters for per-connection frame rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the hub's runtime settings. SharedSecret is the out-of-band
// token world servers must present in SERVER_CONNECT; the hub never mints or
// stores per-server credentials.
type Config struct {
	Addr           string
	SharedSecret   string
	AllowedOrigins []string
	MaxMessageSize int64
	AuthTimeout    time.Duration
	SendTimeout    time.Duration
	CloseDisplaced bool
	RateLimit      RateLimitConfig
}

// DefaultConfig returns the baseline settings. The shared secret has no
// default; a hub without one refuses every registration.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		MaxMessageSize: 4096,
		AuthTimeout:    10 * time.Second,
		SendTimeout:    250 * time.Millisecond,
		CloseDisplaced: true,
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
	}
}

// fileConfig mirrors Config for the YAML file. Pointer and string fields
// distinguish "unset" from zero values so the file only overrides what it
// names.
type fileConfig struct {
	Addr           string   `yaml:"addr"`
	SharedSecret   string   `yaml:"shared_secret"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxMessageSize int64    `yaml:"max_message_size"`
	AuthTimeout    string   `yaml:"auth_timeout"`
	SendTimeout    string   `yaml:"send_timeout"`
	CloseDisplaced *bool    `yaml:"close_displaced"`
	RateLimit      struct {
		Burst          int    `yaml:"burst"`
		RefillInterval string `yaml:"refill_interval"`
	} `yaml:"rate_limit"`
}

// LoadConfig builds the effective configuration: defaults, then the YAML file
// named by HUB_CONFIG (if any), then environment variables, then a sanitize
// pass. Environment always wins over the file.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("HUB_CONFIG"); path != "" {
		if err := applyFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	return cfg.sanitize(), nil
}

// applyFile reads a YAML config file, expanding ${VAR} environment references
// before parsing.
func applyFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var fc fileConfig
	if err := yaml.Unmarshal([]byte(expanded), &fc); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if fc.Addr != "" {
		cfg.Addr = fc.Addr
	}
	if fc.SharedSecret != "" {
		cfg.SharedSecret = fc.SharedSecret
	}
	if len(fc.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = fc.AllowedOrigins
	}
	if fc.MaxMessageSize > 0 {
		cfg.MaxMessageSize = fc.MaxMessageSize
	}
	if fc.AuthTimeout != "" {
		cfg.AuthTimeout = parseDurationValue(fc.AuthTimeout, cfg.AuthTimeout)
	}
	if fc.SendTimeout != "" {
		cfg.SendTimeout = parseDurationValue(fc.SendTimeout, cfg.SendTimeout)
	}
	if fc.CloseDisplaced != nil {
		cfg.CloseDisplaced = *fc.CloseDisplaced
	}
	if fc.RateLimit.Burst > 0 {
		cfg.RateLimit.Burst = fc.RateLimit.Burst
	}
	if fc.RateLimit.RefillInterval != "" {
		cfg.RateLimit.RefillInterval = parseDurationValue(fc.RateLimit.RefillInterval, cfg.RateLimit.RefillInterval)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if addr := os.Getenv("HUB_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if secret := os.Getenv("HUB_SHARED_SECRET"); secret != "" {
		cfg.SharedSecret = secret
	}
	if origins := os.Getenv("HUB_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("HUB_MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseInt64Value(maxSize, cfg.MaxMessageSize)
	}
	if v := os.Getenv("HUB_AUTH_TIMEOUT"); v != "" {
		cfg.AuthTimeout = parseDurationValue(v, cfg.AuthTimeout)
	}
	if v := os.Getenv("HUB_SEND_TIMEOUT"); v != "" {
		cfg.SendTimeout = parseDurationValue(v, cfg.SendTimeout)
	}
	if v := os.Getenv("HUB_CLOSE_DISPLACED"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.CloseDisplaced = parsed
		}
	}
	if v := os.Getenv("HUB_RATE_LIMIT_BURST"); v != "" {
		cfg.RateLimit.Burst = parseIntValue(v, cfg.RateLimit.Burst)
	}
	if v := os.Getenv("HUB_RATE_LIMIT_REFILL_INTERVAL"); v != "" {
		cfg.RateLimit.RefillInterval = parseDurationValue(v, cfg.RateLimit.RefillInterval)
	}
}

// sanitize fills in anything left non-positive so a partially specified
// configuration still yields a working hub.
func (c Config) sanitize() Config {
	def := DefaultConfig()

	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = def.AuthTimeout
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = def.SendTimeout
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}

	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseInt64Value(value string, defaultValue int64) int64 {
	if parsed, err := strconv.ParseInt(value, 10, 64); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDurationValue accepts Go duration strings ("250ms", "10s") and, for
// convenience, bare integers meaning seconds.
func parseDurationValue(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
