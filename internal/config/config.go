// Package config loads and validates the gateway's typed configuration
// using viper, the same way the teacher service's internal/config does:
// a nested struct tagged with mapstructure, defaults set before Unmarshal,
// environment overrides bound with a key replacer.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseEntry mirrors registry.Descriptor's configuration surface.
type DatabaseEntry struct {
	Name              string   `mapstructure:"name"`
	Dialect           string   `mapstructure:"dialect"`
	URI               string   `mapstructure:"uri"`
	PoolMin           int32    `mapstructure:"pool_min"`
	PoolMax           int32    `mapstructure:"pool_max"`
	StatementTimeoutS int      `mapstructure:"statement_timeout_s"`
	RowCap            int      `mapstructure:"row_cap"`
	AllowedTables     []string `mapstructure:"allowed_tables"`
}

// LLMConfig configures the external completion service client (C8).
type LLMConfig struct {
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
	TimeoutS    int     `mapstructure:"timeout_s"`
}

func (c LLMConfig) Timeout() time.Duration { return time.Duration(c.TimeoutS) * time.Second }

// SecurityConfig configures the SQL safety validator (C6).
type SecurityConfig struct {
	AllowWrite       bool     `mapstructure:"allow_write"`
	BlockedFunctions []string `mapstructure:"blocked_functions"`
	MaxRows          int      `mapstructure:"max_rows"`
	AllowExplain     bool     `mapstructure:"allow_explain"`
}

// CacheConfig configures the schema cache (C5).
type CacheConfig struct {
	SchemaTTLS        int  `mapstructure:"schema_ttl_s"`
	RefreshBackground bool `mapstructure:"refresh_background"`
}

func (c CacheConfig) TTL() time.Duration { return time.Duration(c.SchemaTTLS) * time.Second }

// ResilienceConfig configures retry/backoff/circuit-breaker/rate-limit for C8.
// BaseDelayMS and Backoff are loaded but not passed to the LLM client: its
// retries take MaxRetries from here and the base delay and multiplier of
// resilience.DefaultPolicy.
type ResilienceConfig struct {
	MaxRetries       int     `mapstructure:"max_retries"`
	BaseDelayMS      int     `mapstructure:"base_delay_ms"`
	Backoff          float64 `mapstructure:"backoff"`
	BreakerThreshold int     `mapstructure:"breaker_threshold"`
	BreakerCooldownS int     `mapstructure:"breaker_cooldown_s"`
	RateLimitRPS     float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst   int     `mapstructure:"rate_limit_burst"`
}

func (c ResilienceConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}
func (c ResilienceConfig) BreakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownS) * time.Second
}

// ObservabilityConfig configures logging and metrics (C12).
type ObservabilityConfig struct {
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// ShutdownConfig bounds graceful shutdown (§5).
type ShutdownConfig struct {
	DeadlineS int `mapstructure:"deadline_s"`
}

func (c ShutdownConfig) Deadline() time.Duration { return time.Duration(c.DeadlineS) * time.Second }

// ServerConfig configures the minimal HTTP transport (spec §6).
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	OverallTimeoutS int `mapstructure:"overall_timeout_s"`
}

func (c ServerConfig) OverallTimeout() time.Duration {
	return time.Duration(c.OverallTimeoutS) * time.Second
}

// HistoryConfig configures the append-only query history log (spec §6).
type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

// Config is the complete typed configuration surface (spec §6).
type Config struct {
	Databases     []DatabaseEntry     `mapstructure:"databases"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Security      SecurityConfig      `mapstructure:"security"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Resilience    ResilienceConfig    `mapstructure:"resilience"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Shutdown      ShutdownConfig      `mapstructure:"shutdown"`
	Server        ServerConfig        `mapstructure:"server"`
	History       HistoryConfig       `mapstructure:"history"`
}

// defaultBlockedFunctions mirrors spec §4.3's default blacklist: sleep-like,
// filesystem, network, process, large-object, and privilege-inspection
// functions across the supported dialects.
var defaultBlockedFunctions = []string{
	"pg_sleep", "sleep", "benchmark",
	"pg_read_file", "pg_read_binary_file", "lo_import", "lo_export", "load_file",
	"dblink", "dblink_connect",
	"pg_terminate_backend", "pg_cancel_backend",
	"current_setting", "set_config",
	"into_outfile", "into_dumpfile",
}

// Load reads configuration from the given file path (if non-empty), applies
// defaults, binds environment variables using the teacher's convention
// (upper-cased, dots replaced with underscores), and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if len(cfg.Security.BlockedFunctions) == 0 {
		cfg.Security.BlockedFunctions = defaultBlockedFunctions
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("security.allow_write", false)
	v.SetDefault("security.max_rows", 10000)
	v.SetDefault("security.allow_explain", false)
	v.SetDefault("cache.schema_ttl_s", 3600)
	v.SetDefault("cache.refresh_background", true)
	v.SetDefault("resilience.max_retries", 3)
	v.SetDefault("resilience.base_delay_ms", 100)
	v.SetDefault("resilience.backoff", 2.0)
	v.SetDefault("resilience.breaker_threshold", 5)
	v.SetDefault("resilience.breaker_cooldown_s", 30)
	v.SetDefault("resilience.rate_limit_rps", 5.0)
	v.SetDefault("resilience.rate_limit_burst", 10)
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
	v.SetDefault("observability.metrics_port", 9090)
	v.SetDefault("shutdown.deadline_s", 10)
	v.SetDefault("llm.timeout_s", 15)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.overall_timeout_s", 60)
	v.SetDefault("history.path", "./data/history.db")
}

// Validate enforces the invariants Load cannot express via defaults alone.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Databases))
	for _, d := range c.Databases {
		if d.Name == "" {
			return fmt.Errorf("config_error: database entry missing name")
		}
		if seen[d.Name] {
			return fmt.Errorf("config_error: duplicate database name %q", d.Name)
		}
		seen[d.Name] = true
		if d.Dialect != "postgres" && d.Dialect != "mysql" {
			return fmt.Errorf("config_error: database %q has unsupported dialect %q", d.Name, d.Dialect)
		}
		if d.URI == "" {
			return fmt.Errorf("config_error: database %q missing uri", d.Name)
		}
		if d.PoolMax <= 0 {
			return fmt.Errorf("config_error: database %q pool_max must be positive", d.Name)
		}
	}
	if c.Security.MaxRows <= 0 {
		return fmt.Errorf("config_error: security.max_rows must be positive")
	}
	if c.Resilience.MaxRetries < 0 {
		return fmt.Errorf("config_error: resilience.max_retries must be >= 0")
	}
	return nil
}
