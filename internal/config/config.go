// Package config loads the engine's deployment configuration from YAML.
// Values of the form ${NAME} are expanded from the environment at load time;
// unset variables are left verbatim so missing secrets fail visibly rather
// than silently becoming empty strings.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Catalog CatalogConfig `yaml:"catalog"`
	Engine  EngineConfig  `yaml:"engine"`
	Oracle  OracleConfig  `yaml:"oracle"`
	Invoker InvokerConfig `yaml:"invoker"`
	Cache   CacheConfig   `yaml:"cache"`
	Bus     BusConfig     `yaml:"bus"`
	Metrics MetricsConfig `yaml:"metrics"`
	ToolSvc ToolSvcConfig `yaml:"toolsvc"`
}

type CatalogConfig struct {
	Path string `yaml:"path"`
}

type EngineConfig struct {
	MaxParallel   int    `yaml:"max_parallel"`
	MaxSteps      int    `yaml:"max_steps"`
	StepTimeout   string `yaml:"step_timeout"`
	PaymentWindow string `yaml:"payment_window"`
}

type OracleConfig struct {
	PromptDir string `yaml:"prompt_dir"`
	Prompt    string `yaml:"prompt"`
}

type InvokerConfig struct {
	MaxAttempts    int    `yaml:"max_attempts"`
	InitialBackoff string `yaml:"initial_backoff"`
	RequestTimeout string `yaml:"request_timeout"`
}

type CacheConfig struct {
	Backend       string `yaml:"backend"`
	Dir           string `yaml:"dir"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	TTL           string `yaml:"ttl"`
}

type BusConfig struct {
	BufferSize int `yaml:"buffer_size"`
	Workers    int `yaml:"workers"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type ToolSvcConfig struct {
	Addr string `yaml:"addr"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func expandEnvInConfig(cfg *Config) {
	cfg.Catalog.Path = expandEnv(cfg.Catalog.Path)
	cfg.Oracle.PromptDir = expandEnv(cfg.Oracle.PromptDir)
	cfg.Cache.Dir = expandEnv(cfg.Cache.Dir)
	cfg.Cache.RedisAddr = expandEnv(cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = expandEnv(cfg.Cache.RedisPassword)
	cfg.Metrics.Addr = expandEnv(cfg.Metrics.Addr)
	cfg.ToolSvc.Addr = expandEnv(cfg.ToolSvc.Addr)
}

func applyDefaults(cfg *Config) {
	if cfg.Engine.MaxParallel == 0 {
		cfg.Engine.MaxParallel = 4
	}
	if cfg.Engine.MaxSteps == 0 {
		cfg.Engine.MaxSteps = 20
	}
	if cfg.Engine.StepTimeout == "" {
		cfg.Engine.StepTimeout = "5m"
	}
	if cfg.Engine.PaymentWindow == "" {
		cfg.Engine.PaymentWindow = "10m"
	}
	if cfg.Oracle.Prompt == "" {
		cfg.Oracle.Prompt = "oracle_plan"
	}
	if cfg.Invoker.MaxAttempts == 0 {
		cfg.Invoker.MaxAttempts = 3
	}
	if cfg.Invoker.InitialBackoff == "" {
		cfg.Invoker.InitialBackoff = "200ms"
	}
	if cfg.Invoker.RequestTimeout == "" {
		cfg.Invoker.RequestTimeout = "30s"
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.TTL == "" {
		cfg.Cache.TTL = "1h"
	}
	if cfg.Bus.BufferSize == 0 {
		cfg.Bus.BufferSize = 100
	}
	if cfg.Bus.Workers == 0 {
		cfg.Bus.Workers = 4
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.ToolSvc.Addr == "" {
		cfg.ToolSvc.Addr = ":8080"
	}
}

// Validate rejects values no component can act on.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "memory", "file", "redis":
	default:
		return fmt.Errorf("unknown cache backend %q (expected memory, file, or redis)", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("cache backend redis requires redis_addr")
	}
	if c.Cache.Backend == "file" && c.Cache.Dir == "" {
		return fmt.Errorf("cache backend file requires dir")
	}
	if c.Engine.MaxParallel < 0 {
		return fmt.Errorf("engine max_parallel cannot be negative")
	}
	for name, value := range map[string]string{
		"engine.step_timeout":     c.Engine.StepTimeout,
		"engine.payment_window":   c.Engine.PaymentWindow,
		"invoker.initial_backoff": c.Invoker.InitialBackoff,
		"invoker.request_timeout": c.Invoker.RequestTimeout,
		"cache.ttl":               c.Cache.TTL,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: unparseable duration %q", name, value)
		}
	}
	return nil
}

// Duration parses a configured duration string, falling back when it is
// empty. Call Validate first; after that, parse failures cannot occur.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	expandEnvInConfig(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}
