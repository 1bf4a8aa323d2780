// Package config loads and validates the layered configuration tree
// spec.md §6.5 requires: server, rate limiting, access control,
// certificate authorization, Titan, and logging. The core packages
// never call into viper directly; they accept the validated Config
// value this package produces.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// PathRuleConfig is one entry of certificate_auth.paths.
type PathRuleConfig struct {
	Prefix              string   `mapstructure:"prefix"`
	RequireCert         bool     `mapstructure:"require_cert"`
	AllowedFingerprints []string `mapstructure:"allowed_fingerprints"`
}

// ServerConfig matches spec.md §6.5's server.* section.
type ServerConfig struct {
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	DocumentRoot      string `mapstructure:"document_root"`
	CertFile          string `mapstructure:"certfile"`
	KeyFile           string `mapstructure:"keyfile"`
	MaxFileSize       int64  `mapstructure:"max_file_size"`
	RequireClientCert bool   `mapstructure:"require_client_cert"`
}

// RateLimitConfig matches spec.md §6.5's rate_limit.* section.
type RateLimitConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Capacity   int     `mapstructure:"capacity"`
	RefillRate float64 `mapstructure:"refill_rate"`
	RetryAfter int     `mapstructure:"retry_after"`
}

// AccessControlConfig matches spec.md §6.5's access_control.* section.
type AccessControlConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	AllowList    []string `mapstructure:"allow_list"`
	DenyList     []string `mapstructure:"deny_list"`
	DefaultAllow bool     `mapstructure:"default_allow"`
}

// CertificateAuthConfig matches spec.md §6.5's certificate_auth.* section.
type CertificateAuthConfig struct {
	Paths []PathRuleConfig `mapstructure:"paths"`
}

// TitanConfig matches spec.md §6.5's titan.* section.
type TitanConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	UploadDir        string   `mapstructure:"upload_dir"`
	MaxUploadSize    int64    `mapstructure:"max_upload_size"`
	AllowedMimeTypes []string `mapstructure:"allowed_mime_types"`
	AuthTokens       []string `mapstructure:"auth_tokens"`
	EnableDelete     bool     `mapstructure:"enable_delete"`
}

// LoggingConfig matches spec.md §6.5's logging.* section.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	HashIPs bool   `mapstructure:"hash_ips"`
}

// Config is the full validated configuration tree consumed by
// cmd/nauyacad.
type Config struct {
	Server          ServerConfig          `mapstructure:"server"`
	RateLimit       RateLimitConfig       `mapstructure:"rate_limit"`
	AccessControl   AccessControlConfig   `mapstructure:"access_control"`
	CertificateAuth CertificateAuthConfig `mapstructure:"certificate_auth"`
	Titan           TitanConfig           `mapstructure:"titan"`
	Logging         LoggingConfig         `mapstructure:"logging"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 1965)
	v.SetDefault("server.document_root", ".")
	v.SetDefault("server.max_file_size", 10*1024*1024)
	v.SetDefault("server.require_client_cert", false)

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.capacity", 20)
	v.SetDefault("rate_limit.refill_rate", 1.0)
	v.SetDefault("rate_limit.retry_after", 30)

	v.SetDefault("access_control.enabled", false)
	v.SetDefault("access_control.default_allow", true)

	v.SetDefault("titan.enabled", false)
	v.SetDefault("titan.max_upload_size", 1024*1024)
	v.SetDefault("titan.enable_delete", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.hash_ips", false)
}

// Load reads configuration from configPath (if non-empty) or from
// "config.yaml" in "/etc/nauyaca/" and the current directory, applies
// NAUYACA_-prefixed environment overrides, and returns a validated
// Config. It mirrors the teacher's own SetConfigName/AddConfigPath/
// ReadInConfig sequence, extended with AutomaticEnv and a full-tree
// Unmarshal instead of per-section UnmarshalKey calls.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	defaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/nauyaca/")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("nauyaca")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section for internal consistency, mirroring
// the original implementation's __post_init__ validation style.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	if err := c.Titan.Validate(); err != nil {
		return err
	}
	return nil
}

// Validate checks the server section.
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("config: invalid server.port %d (must be 1-65535)", s.Port)
	}
	if info, err := os.Stat(s.DocumentRoot); err != nil || !info.IsDir() {
		return fmt.Errorf("config: server.document_root %q does not exist or is not a directory", s.DocumentRoot)
	}
	if (s.CertFile == "") != (s.KeyFile == "") {
		return fmt.Errorf("config: server.certfile and server.keyfile must be provided together, or both omitted")
	}
	return nil
}

// Validate checks the rate_limit section.
func (r *RateLimitConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	if r.Capacity <= 0 {
		return fmt.Errorf("config: rate_limit.capacity must be positive")
	}
	if r.RefillRate <= 0 {
		return fmt.Errorf("config: rate_limit.refill_rate must be positive")
	}
	return nil
}

// Validate checks the titan section.
func (t *TitanConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	if t.UploadDir == "" {
		return fmt.Errorf("config: titan.upload_dir is required when titan.enabled is true")
	}
	if t.MaxUploadSize <= 0 {
		return fmt.Errorf("config: titan.max_upload_size must be positive")
	}
	return nil
}
