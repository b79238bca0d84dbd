// SPDX-License-Identifier: Apache-2.0
// Package config loads the gateway configuration from defaults, an
// optional YAML file and TWSGW_-prefixed environment variables, in that
// order of precedence (last wins).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/netover/hwav5-sub002/pkg/errors"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Server    ServerConfig    `koanf:"server"`
	TWS       TWSConfig       `koanf:"tws"`
	Cache     CacheConfig     `koanf:"cache"`
	Graph     GraphConfig     `koanf:"graph"`
	Health    HealthConfig    `koanf:"health"`
	Poller    PollerConfig    `koanf:"poller"`
	LLM       LLMConfig       `koanf:"llm"`
	Redis     RedisConfig     `koanf:"redis"`
	Telemetry TelemetryConfig `koanf:"telemetry"`

	// Breakers overrides per-breaker settings, keyed by breaker name.
	Breakers map[string]BreakerConfig `koanf:"circuit_breaker"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type ServerConfig struct {
	Addr            string `koanf:"addr"`
	ReadTimeoutSec  int    `koanf:"read_timeout_seconds"`
	WriteTimeoutSec int    `koanf:"write_timeout_seconds"`
	ShutdownSec     int    `koanf:"shutdown_timeout_seconds"`
}

type TWSConfig struct {
	BaseURL     string `koanf:"base_url"`
	Username    string `koanf:"username"`
	Password    string `koanf:"password"`
	EngineName  string `koanf:"engine_name"`
	EngineOwner string `koanf:"engine_owner"`
	TimeoutSec  int    `koanf:"timeout_seconds"`
	PoolSize    int    `koanf:"pool_size"`
	TrustEnv    bool   `koanf:"trust_env"`
}

type CacheConfig struct {
	L1MaxSize         int    `koanf:"l1_max_size"`
	L1NumShards       int    `koanf:"l1_num_shards"`
	L2TTLSeconds      int    `koanf:"l2_ttl_seconds"`
	L2CleanupSeconds  int    `koanf:"l2_cleanup_interval_seconds"`
	KeyPrefix         string `koanf:"key_prefix"`
	EncryptionEnabled bool   `koanf:"encryption_enabled"`
}

type GraphConfig struct {
	TTLSeconds       int `koanf:"ttl_seconds"`
	MaxDepth         int `koanf:"max_depth"`
	TemporalRingSize int `koanf:"temporal_ring_size"`
}

type HealthConfig struct {
	ComponentTimeoutSec int `koanf:"component_timeout_seconds"`
	TimeoutSec          int `koanf:"timeout_seconds"`
	MaxHistoryEntries   int `koanf:"max_history_entries"`
	RetentionDays       int `koanf:"retention_days"`

	DiskWarningPercent    float64 `koanf:"disk_warning_percent"`
	DiskCriticalPercent   float64 `koanf:"disk_critical_percent"`
	MemoryWarningPercent  float64 `koanf:"memory_warning_percent"`
	MemoryCriticalPercent float64 `koanf:"memory_critical_percent"`
	CPUWarningPercent     float64 `koanf:"cpu_warning_percent"`
	CPUCriticalPercent    float64 `koanf:"cpu_critical_percent"`
	PoolWarningPercent    float64 `koanf:"db_conn_threshold_percent"`
	PoolCriticalPercent   float64 `koanf:"pool_critical_percent"`
}

type PollerConfig struct {
	IntervalSec      int `koanf:"polling_interval_seconds"`
	FailureThreshold int `koanf:"failure_threshold"`
	BackoffStepSec   int `koanf:"backoff_step_seconds"`
	BackoffCapSec    int `koanf:"backoff_cap_seconds"`
}

type LLMProviderConfig struct {
	Name       string `koanf:"name"`
	Model      string `koanf:"model"`
	Endpoint   string `koanf:"endpoint"`
	APIKey     string `koanf:"api_key"`
	TimeoutSec int    `koanf:"timeout_seconds"`
}

type LLMConfig struct {
	Primary        LLMProviderConfig   `koanf:"primary"`
	FallbackChain  []LLMProviderConfig `koanf:"fallback_chain"`
	MaxRetries     int                 `koanf:"max_retries_per_provider"`
	RetryBaseMsec  int                 `koanf:"retry_base_delay_ms"`
	DefaultTimeout int                 `koanf:"default_timeout_seconds"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
	Environment  string `koanf:"environment"`
}

type BreakerConfig struct {
	FailureThreshold   int `koanf:"failure_threshold"`
	RecoveryTimeoutSec int `koanf:"recovery_timeout_seconds"`
}

// EnvPrefix is the environment variable namespace. A double underscore
// separates nesting levels so snake_case keys survive:
// TWSGW_TWS__BASE_URL -> tws.base_url.
const EnvPrefix = "TWSGW_"

// Load reads the configuration. path may be empty.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults() {
		_ = k.Set(key, value)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.New(errors.CodeConfig, "loading config file failed", err).
				WithContext("path", path)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, errors.New(errors.CodeConfig, "loading environment failed", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.New(errors.CodeConfig, "unmarshaling config failed", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaults() map[string]any {
	return map[string]any{
		"log.level":  "info",
		"log.format": "json",

		"server.addr":                     ":8080",
		"server.read_timeout_seconds":     30,
		"server.write_timeout_seconds":    60,
		"server.shutdown_timeout_seconds": 15,

		"tws.timeout_seconds": 30,
		"tws.pool_size":       10,

		"cache.l1_max_size":                 1000,
		"cache.l1_num_shards":               16,
		"cache.l2_ttl_seconds":              300,
		"cache.l2_cleanup_interval_seconds": 60,
		"cache.key_prefix":                  "twsgw",
		"cache.encryption_enabled":          true,

		"graph.ttl_seconds":        300,
		"graph.max_depth":          5,
		"graph.temporal_ring_size": 1000,

		"health.component_timeout_seconds": 10,
		"health.timeout_seconds":           30,
		"health.max_history_entries":       100,
		"health.retention_days":            7,
		"health.disk_warning_percent":      85.0,
		"health.disk_critical_percent":     95.0,
		"health.memory_warning_percent":    85.0,
		"health.memory_critical_percent":   95.0,
		"health.cpu_warning_percent":       85.0,
		"health.cpu_critical_percent":      95.0,
		"health.db_conn_threshold_percent": 80.0,
		"health.pool_critical_percent":     95.0,

		"poller.polling_interval_seconds": 30,
		"poller.failure_threshold":        3,
		"poller.backoff_step_seconds":     30,
		"poller.backoff_cap_seconds":      300,

		"llm.max_retries_per_provider": 1,
		"llm.retry_base_delay_ms":      200,
		"llm.default_timeout_seconds":  60,

		"telemetry.exporter": "stdout",
	}
}

// Validate rejects configurations the gateway cannot start with.
func (c *Config) Validate() error {
	if c.TWS.BaseURL == "" {
		return errors.New(errors.CodeConfig, "tws.base_url is required", nil)
	}
	if c.Cache.L1MaxSize <= 0 {
		return errors.New(errors.CodeConfig, "cache.l1_max_size must be positive", nil)
	}
	if c.Cache.L1NumShards <= 0 {
		return errors.New(errors.CodeConfig, "cache.l1_num_shards must be positive", nil)
	}
	if c.Graph.MaxDepth < 1 || c.Graph.MaxDepth > 5 {
		return errors.New(errors.CodeConfig, "graph.max_depth must be between 1 and 5", nil)
	}
	if c.Poller.IntervalSec <= 0 {
		return errors.New(errors.CodeConfig, "poller.polling_interval_seconds must be positive", nil)
	}
	for name, b := range c.Breakers {
		if b.FailureThreshold < 0 || b.RecoveryTimeoutSec < 0 {
			return errors.New(errors.CodeConfig,
				fmt.Sprintf("circuit_breaker.%s has negative settings", name), nil)
		}
	}
	return nil
}

// Seconds converts a whole-second config value to a duration.
func Seconds(v int) time.Duration { return time.Duration(v) * time.Second }
