// Package config loads the snapkeep YAML configuration and its
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/yairfalse/snapkeep/limits"
	"github.com/yairfalse/snapkeep/logstore"
	"github.com/yairfalse/snapkeep/orchestrator"
	"github.com/yairfalse/snapkeep/providers"
	"github.com/yairfalse/snapkeep/rotation"
	"github.com/yairfalse/snapkeep/types"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no --config flag is given
const DefaultPath = "/etc/snapkeep/config.yaml"

// Environment variables layered over the file
const (
	EnvAPIKey       = "SNAPKEEP_API_KEY"
	EnvVultrAPIKey  = "VULTR_API_KEY"
	EnvProvider     = "SNAPKEEP_PROVIDER"
	EnvDefaultLimit = "SNAPKEEP_DEFAULT_LIMIT"
)

// Lock backends
const (
	LockFile  = "file"
	LockRedis = "redis"
)

// Config represents the main configuration
type Config struct {
	Provider          string         `yaml:"provider"`
	Region            string         `yaml:"region"`
	Profile           string         `yaml:"profile,omitempty"`
	APIKey            string         `yaml:"api_key"`
	BaseURL           string         `yaml:"base_url,omitempty"`
	RequestsPerSecond float64        `yaml:"requests_per_second,omitempty"`
	RequestTimeoutStr string         `yaml:"request_timeout,omitempty"`
	RequestTimeout    time.Duration  `yaml:"-"`
	DefaultLimit      int            `yaml:"default_limit"`
	OverridesFile     string         `yaml:"overrides_file"`
	Overrides         map[string]int `yaml:"overrides,omitempty"`
	EvictionPolicy    string         `yaml:"eviction_policy"`
	ExitPolicy        string         `yaml:"exit_policy"`
	DryRun            bool           `yaml:"dry_run"`
	StateDir          string         `yaml:"state_dir"`
	Lock              LockConfig     `yaml:"lock"`
	Log               LogConfig      `yaml:"log"`
	OTEL              OTELConfig     `yaml:"otel"`
	Daemon            DaemonConfig   `yaml:"daemon"`
}

// LockConfig selects the run lock backend
type LockConfig struct {
	Backend   string        `yaml:"backend"`
	Path      string        `yaml:"path"`
	RedisAddr string        `yaml:"redis_addr"`
	RedisKey  string        `yaml:"redis_key"`
	TTLStr    string        `yaml:"ttl"`
	TTL       time.Duration `yaml:"-"`
}

// LogConfig selects the log store and level
type LogConfig struct {
	Backend    string `yaml:"backend"`
	Path       string `yaml:"path"`
	MaxEntries int    `yaml:"max_entries"`
	Level      string `yaml:"level"`
}

// OTELConfig holds OpenTelemetry settings
type OTELConfig struct {
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// DaemonConfig holds scheduler settings
type DaemonConfig struct {
	Schedule    string `yaml:"schedule"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns a config with every default filled in. Load unmarshals
// on top of it, so absent keys keep these values.
func Default() *Config {
	return &Config{
		Provider:       "vultr",
		DefaultLimit:   limits.DefaultLimit,
		EvictionPolicy: string(rotation.PolicySingle),
		ExitPolicy:     string(orchestrator.ExitLenient),
		StateDir:       "/var/lib/snapkeep",
		Lock: LockConfig{
			Backend:  LockFile,
			RedisKey: "snapkeep:run-lock",
			TTLStr:   "1h",
		},
		Log: LogConfig{
			Backend:    string(logstore.BackendFile),
			MaxEntries: logstore.DefaultMaxEntries,
			Level:      "info",
		},
		OTEL: OTELConfig{
			Insecure:    true,
			ServiceName: "snapkeep",
		},
		Daemon: DaemonConfig{
			Schedule:    "0 3 * * *",
			MetricsAddr: ":2112",
		},
	}
}

// ResolvePath picks the config file to load. An explicit flag always wins;
// otherwise DefaultPath is used only if it exists.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if _, err := os.Stat(DefaultPath); err == nil {
		return DefaultPath
	}
	return ""
}

// Load reads path (optional when empty), applies the environment, fills
// derived defaults and validates. Every error is a *types.ConfigError.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, types.NewConfigError("path", "config file %s does not exist", path)
			}
			return nil, types.NewConfigError("path", "failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, types.NewConfigError("", "failed to parse %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv(EnvAPIKey); v != "" {
		cfg.APIKey = v
	} else if v := getenv(EnvVultrAPIKey); v != "" && cfg.APIKey == "" {
		cfg.APIKey = v
	}

	if v := getenv(EnvProvider); v != "" {
		cfg.Provider = v
	}

	if v := getenv(EnvDefaultLimit); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return types.NewConfigError("default_limit", "%s=%q is not an integer", EnvDefaultLimit, v)
		}
		cfg.DefaultLimit = n
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Lock.Path == "" {
		cfg.Lock.Path = filepath.Join(cfg.StateDir, "snapkeep.lock")
	}
	if cfg.Log.Path == "" {
		cfg.Log.Path = logstore.DefaultPath(cfg.StateDir, logstore.Backend(cfg.Log.Backend))
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "snapkeep"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func parseDurations(cfg *Config) error {
	if cfg.Lock.TTLStr != "" {
		d, err := time.ParseDuration(cfg.Lock.TTLStr)
		if err != nil {
			return types.NewConfigError("lock.ttl", "parse %q: %w", cfg.Lock.TTLStr, err)
		}
		cfg.Lock.TTL = d
	}
	if cfg.RequestTimeoutStr != "" {
		d, err := time.ParseDuration(cfg.RequestTimeoutStr)
		if err != nil {
			return types.NewConfigError("request_timeout", "parse %q: %w", cfg.RequestTimeoutStr, err)
		}
		cfg.RequestTimeout = d
	}
	return nil
}

// Validate checks the configuration is valid
func (c *Config) Validate() error {
	if c.Provider == "" {
		return types.NewConfigError("provider", "is required")
	}
	if c.DefaultLimit < 0 {
		return types.NewConfigError("default_limit", "must be a non-negative integer, got %d", c.DefaultLimit)
	}
	for id, limit := range c.Overrides {
		if limit < 0 {
			return types.NewConfigError("overrides", "%s: limit %d is negative", id, limit)
		}
	}
	if _, err := rotation.ParsePolicy(c.EvictionPolicy); err != nil {
		return err
	}
	if _, err := orchestrator.ParseExitPolicy(c.ExitPolicy); err != nil {
		return err
	}
	if c.RequestsPerSecond < 0 {
		return types.NewConfigError("requests_per_second", "must not be negative")
	}

	switch c.Lock.Backend {
	case LockFile:
	case LockRedis:
		if c.Lock.RedisAddr == "" {
			return types.NewConfigError("lock.redis_addr", "is required for the redis backend")
		}
	default:
		return types.NewConfigError("lock.backend", "unknown backend %q (want file or redis)", c.Lock.Backend)
	}
	if c.Lock.TTL < 0 {
		return types.NewConfigError("lock.ttl", "must not be negative")
	}

	switch logstore.Backend(c.Log.Backend) {
	case logstore.BackendFile, logstore.BackendBolt:
	default:
		return types.NewConfigError("log.backend", "unknown backend %q (want file or bolt)", c.Log.Backend)
	}
	if c.Log.MaxEntries <= 0 {
		return types.NewConfigError("log.max_entries", "must be positive, got %d", c.Log.MaxEntries)
	}
	return nil
}

// ProviderConfig returns the inventory client settings
func (c *Config) ProviderConfig() providers.ProviderConfig {
	return providers.ProviderConfig{
		APIKey:            c.APIKey,
		BaseURL:           c.BaseURL,
		Region:            c.Region,
		Profile:           c.Profile,
		RequestTimeout:    c.RequestTimeout,
		RequestsPerSecond: c.RequestsPerSecond,
	}
}

// Policy returns the parsed eviction policy
func (c *Config) Policy() rotation.EvictionPolicy {
	policy, _ := rotation.ParsePolicy(c.EvictionPolicy)
	return policy
}

// Resolver loads the overrides file, merges the inline table under it and
// builds the limit resolver. The file wins on conflicting IDs.
func (c *Config) Resolver() (*limits.Resolver, limits.Overrides, error) {
	file, err := limits.LoadOverrides(c.OverridesFile)
	if err != nil {
		return nil, limits.Overrides{}, err
	}

	resolver, err := limits.NewResolver(c.DefaultLimit, limits.Merge(file.Limits, c.Overrides))
	if err != nil {
		return nil, limits.Overrides{}, err
	}
	return resolver, file, nil
}

// String renders the config with the credential redacted
func (c *Config) String() string {
	redacted := *c
	if redacted.APIKey != "" {
		redacted.APIKey = "REDACTED"
	}
	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(out)
}
