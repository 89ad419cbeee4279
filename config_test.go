package asyncexec_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xraph/asyncexec"
)

func TestDefaultConfig_Valid(t *testing.T) {
	if err := asyncexec.DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*asyncexec.Config)
	}{
		{"zero core pool", func(c *asyncexec.Config) { c.CorePoolSize = 0 }},
		{"max below core", func(c *asyncexec.Config) { c.MaxPoolSize = c.CorePoolSize - 1 }},
		{"zero queue", func(c *asyncexec.Config) { c.QueueSize = 0 }},
		{"zero timer batch", func(c *asyncexec.Config) { c.MaxTimerJobsPerAcquisition = 0 }},
		{"zero reset page", func(c *asyncexec.Config) { c.ResetExpiredPageSize = 0 }},
		{"negative wait", func(c *asyncexec.Config) { c.DefaultAsyncWait = -time.Second }},
		{"zero lock duration", func(c *asyncexec.Config) { c.AsyncLockDuration = 0 }},
		{"negative retries", func(c *asyncexec.Config) { c.DefaultRetries = -1 }},
		{"unknown backoff", func(c *asyncexec.Config) { c.RetryBackoff = "fibonacci" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := asyncexec.DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, asyncexec.ErrInvalidConfig) {
				t.Fatalf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asyncexec.yaml")
	yaml := []byte(`
lock_owner: node-file
core_pool_size: 2
max_pool_size: 4
queue_size: 16
default_async_wait: 2s
retry_backoff: exponential
retry_max_wait: 1m
`)
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ASYNCEXEC_LOCK_OWNER", "node-env")
	t.Setenv("ASYNCEXEC_MESSAGE_QUEUE_MODE", "true")

	cfg, err := asyncexec.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LockOwner != "node-env" {
		t.Errorf("LockOwner = %q, want env override", cfg.LockOwner)
	}
	if cfg.CorePoolSize != 2 || cfg.MaxPoolSize != 4 || cfg.QueueSize != 16 {
		t.Errorf("pool = %d/%d/%d, want 2/4/16", cfg.CorePoolSize, cfg.MaxPoolSize, cfg.QueueSize)
	}
	if cfg.DefaultAsyncWait != 2*time.Second {
		t.Errorf("DefaultAsyncWait = %v, want 2s", cfg.DefaultAsyncWait)
	}
	if !cfg.MessageQueueMode {
		t.Error("MessageQueueMode should come from the environment")
	}
	if cfg.DefaultTimerWait != asyncexec.DefaultConfig().DefaultTimerWait {
		t.Errorf("unset fields should keep defaults, DefaultTimerWait = %v", cfg.DefaultTimerWait)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := asyncexec.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("core_pool_size: 4\nmax_pool_size: 1\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := asyncexec.LoadConfig(path); !errors.Is(err, asyncexec.ErrInvalidConfig) {
		t.Errorf("invalid file: err = %v, want ErrInvalidConfig", err)
	}
}
