package config

import (
	"os"
	"testing"
	"time"
)

const testYAML = `
catalog:
  path: "${TOLLGATE_CATALOG}"

engine:
  max_parallel: 8
  max_steps: 50
  step_timeout: "2m"
  payment_window: "10m"

oracle:
  prompt_dir: ./prompts
  prompt: oracle_plan

invoker:
  max_attempts: 5
  initial_backoff: "100ms"
  request_timeout: "15s"

cache:
  backend: redis
  redis_addr: "${REDIS_ADDR}"
  redis_password: "${REDIS_PASSWORD}"
  redis_db: 2
  ttl: "30m"

bus:
  buffer_size: 256
  workers: 8

metrics:
  addr: ":9191"

toolsvc:
  addr: "127.0.0.1:8088"
`

func TestParseConfig(t *testing.T) {
	cfg, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Engine.MaxParallel != 8 {
		t.Errorf("max_parallel = %d, want 8", cfg.Engine.MaxParallel)
	}
	if cfg.Engine.MaxSteps != 50 {
		t.Errorf("max_steps = %d, want 50", cfg.Engine.MaxSteps)
	}
	if cfg.Engine.StepTimeout != "2m" {
		t.Errorf("step_timeout = %q, want 2m", cfg.Engine.StepTimeout)
	}
	if cfg.Invoker.MaxAttempts != 5 {
		t.Errorf("max_attempts = %d, want 5", cfg.Invoker.MaxAttempts)
	}
	if cfg.Cache.Backend != "redis" {
		t.Errorf("cache backend = %q, want redis", cfg.Cache.Backend)
	}
	if cfg.Cache.RedisDB != 2 {
		t.Errorf("redis_db = %d, want 2", cfg.Cache.RedisDB)
	}
	if cfg.Bus.BufferSize != 256 {
		t.Errorf("buffer_size = %d, want 256", cfg.Bus.BufferSize)
	}
	if cfg.Metrics.Addr != ":9191" {
		t.Errorf("metrics addr = %q, want :9191", cfg.Metrics.Addr)
	}
	if cfg.ToolSvc.Addr != "127.0.0.1:8088" {
		t.Errorf("toolsvc addr = %q, want 127.0.0.1:8088", cfg.ToolSvc.Addr)
	}
}

func TestEnvSubstitution(t *testing.T) {
	t.Setenv("TOLLGATE_CATALOG", "/etc/tollgate/catalog.yaml")
	t.Setenv("REDIS_ADDR", "redis.internal:6379")
	t.Setenv("REDIS_PASSWORD", "hunter2")

	cfg, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Catalog.Path != "/etc/tollgate/catalog.yaml" {
		t.Errorf("catalog path = %q, want /etc/tollgate/catalog.yaml", cfg.Catalog.Path)
	}
	if cfg.Cache.RedisAddr != "redis.internal:6379" {
		t.Errorf("redis_addr = %q, want redis.internal:6379", cfg.Cache.RedisAddr)
	}
	if cfg.Cache.RedisPassword != "hunter2" {
		t.Errorf("redis_password = %q, want hunter2", cfg.Cache.RedisPassword)
	}
}

func TestEnvSubstitutionPreservesUnsetVars(t *testing.T) {
	//nolint:errcheck // test cleanup of env var
	os.Unsetenv("REDIS_ADDR")
	cfg, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Cache.RedisAddr != "${REDIS_ADDR}" {
		t.Errorf("unset env var should be preserved, got %q", cfg.Cache.RedisAddr)
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Engine.MaxParallel != 4 {
		t.Errorf("default max_parallel = %d, want 4", cfg.Engine.MaxParallel)
	}
	if cfg.Engine.MaxSteps != 20 {
		t.Errorf("default max_steps = %d, want 20", cfg.Engine.MaxSteps)
	}
	if cfg.Engine.PaymentWindow != "10m" {
		t.Errorf("default payment_window = %q, want 10m", cfg.Engine.PaymentWindow)
	}
	if cfg.Cache.Backend != "memory" {
		t.Errorf("default cache backend = %q, want memory", cfg.Cache.Backend)
	}
	if cfg.Invoker.MaxAttempts != 3 {
		t.Errorf("default max_attempts = %d, want 3", cfg.Invoker.MaxAttempts)
	}
	if cfg.Invoker.InitialBackoff != "200ms" {
		t.Errorf("default initial_backoff = %q, want 200ms", cfg.Invoker.InitialBackoff)
	}
	if cfg.Oracle.Prompt != "oracle_plan" {
		t.Errorf("default prompt = %q, want oracle_plan", cfg.Oracle.Prompt)
	}
	if cfg.Metrics.Addr != ":9090" {
		t.Errorf("default metrics addr = %q, want :9090", cfg.Metrics.Addr)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults pass", func(cfg *Config) {}, false},
		{"unknown backend", func(cfg *Config) { cfg.Cache.Backend = "memcached" }, true},
		{"redis without addr", func(cfg *Config) { cfg.Cache.Backend = "redis" }, true},
		{"file without dir", func(cfg *Config) { cfg.Cache.Backend = "file" }, true},
		{"file with dir", func(cfg *Config) { cfg.Cache.Backend = "file"; cfg.Cache.Dir = "/tmp/cache" }, false},
		{"negative parallelism", func(cfg *Config) { cfg.Engine.MaxParallel = -1 }, true},
		{"bad duration", func(cfg *Config) { cfg.Engine.StepTimeout = "soon" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte("{}"))
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("2m", time.Minute); got != 2*time.Minute {
		t.Errorf("Duration(2m) = %v, want 2m", got)
	}
	if got := Duration("", time.Minute); got != time.Minute {
		t.Errorf("Duration(empty) = %v, want fallback 1m", got)
	}
	if got := Duration("nonsense", 30*time.Second); got != 30*time.Second {
		t.Errorf("Duration(nonsense) = %v, want fallback 30s", got)
	}
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("{{invalid yaml"))
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"
	if err := os.WriteFile(path, []byte(testYAML), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.MaxParallel != 8 {
		t.Errorf("expected parsed engine config, got %+v", cfg.Engine)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}
