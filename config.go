package asyncexec

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/xraph/asyncexec/backoff"
)

// EnvPrefix is the prefix for environment overrides applied by LoadConfig.
const EnvPrefix = "ASYNCEXEC_"

// Config holds configuration for the async executor and its loops.
// Construct it once at startup and pass it to each component.
type Config struct {
	// LockOwner identifies this node in lock-owner columns. Empty means
	// the engine generates a node ID at construction.
	LockOwner string `yaml:"lock_owner" env:"LOCK_OWNER"`

	// CorePoolSize is the number of worker goroutines kept alive while idle.
	CorePoolSize int `yaml:"core_pool_size" env:"CORE_POOL_SIZE"`

	// MaxPoolSize is the upper bound of concurrently running workers.
	MaxPoolSize int `yaml:"max_pool_size" env:"MAX_POOL_SIZE"`

	// KeepAlive is how long a worker above CorePoolSize may sit idle before
	// it exits.
	KeepAlive time.Duration `yaml:"keep_alive" env:"KEEP_ALIVE"`

	// QueueSize is the capacity of the dispatcher queue. Submissions beyond
	// it are rejected and the job is unacquired.
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`

	// ShutdownTimeout bounds how long Shutdown waits for running jobs.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// MaxTimerJobsPerAcquisition bounds one timer acquisition batch.
	MaxTimerJobsPerAcquisition int `yaml:"max_timer_jobs_per_acquisition" env:"MAX_TIMER_JOBS_PER_ACQUISITION"`

	// MaxAsyncJobsPerAcquisition bounds one async-due acquisition batch.
	MaxAsyncJobsPerAcquisition int `yaml:"max_async_jobs_per_acquisition" env:"MAX_ASYNC_JOBS_PER_ACQUISITION"`

	// DefaultTimerWait is the timer loop sleep when the batch was not full.
	DefaultTimerWait time.Duration `yaml:"default_timer_wait" env:"DEFAULT_TIMER_WAIT"`

	// DefaultAsyncWait is the async loop sleep when the batch was not full.
	DefaultAsyncWait time.Duration `yaml:"default_async_wait" env:"DEFAULT_ASYNC_WAIT"`

	// DefaultQueueFullWait is the async loop sleep after the dispatcher
	// rejected at least one job of a partial batch.
	DefaultQueueFullWait time.Duration `yaml:"default_queue_full_wait" env:"DEFAULT_QUEUE_FULL_WAIT"`

	// TimerLockDuration is how long an acquired timer stays locked.
	TimerLockDuration time.Duration `yaml:"timer_lock_duration" env:"TIMER_LOCK_DURATION"`

	// AsyncLockDuration is how long an acquired executable job stays locked.
	AsyncLockDuration time.Duration `yaml:"async_lock_duration" env:"ASYNC_LOCK_DURATION"`

	// RetryWait is the delay before a failed job becomes due again.
	RetryWait time.Duration `yaml:"retry_wait" env:"RETRY_WAIT"`

	// RetryBackoff selects how RetryWait grows with repeated failures:
	// "constant" (default), "linear", "exponential" or "jitter".
	RetryBackoff string `yaml:"retry_backoff" env:"RETRY_BACKOFF"`

	// RetryMaxWait caps non-constant retry backoff. Zero means no cap.
	RetryMaxWait time.Duration `yaml:"retry_max_wait" env:"RETRY_MAX_WAIT"`

	// DefaultRetries is the retry budget given to newly created jobs.
	DefaultRetries int `yaml:"default_retries" env:"DEFAULT_RETRIES"`

	// ResetExpiredInterval is the period of the expired-lock reset loop.
	ResetExpiredInterval time.Duration `yaml:"reset_expired_interval" env:"RESET_EXPIRED_INTERVAL"`

	// ResetExpiredPageSize bounds how many expired jobs one reset
	// transaction touches.
	ResetExpiredPageSize int `yaml:"reset_expired_page_size" env:"RESET_EXPIRED_PAGE_SIZE"`

	// MessageQueueMode delegates job execution to an external broker. The
	// node still moves timers and heals expired locks but never runs the
	// async-due loop or the worker pool.
	MessageQueueMode bool `yaml:"message_queue_mode" env:"MESSAGE_QUEUE_MODE"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		CorePoolSize:               8,
		MaxPoolSize:                8,
		KeepAlive:                  5 * time.Second,
		QueueSize:                  100,
		ShutdownTimeout:            60 * time.Second,
		MaxTimerJobsPerAcquisition: 1,
		MaxAsyncJobsPerAcquisition: 1,
		DefaultTimerWait:           10 * time.Second,
		DefaultAsyncWait:           10 * time.Second,
		DefaultQueueFullWait:       0,
		TimerLockDuration:          time.Hour,
		AsyncLockDuration:          5 * time.Minute,
		RetryWait:                  10 * time.Second,
		DefaultRetries:             3,
		ResetExpiredInterval:       60 * time.Second,
		ResetExpiredPageSize:       3,
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig and then applies
// ASYNCEXEC_* environment overrides. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("asyncexec: read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("asyncexec: parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("asyncexec: parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings no executor can run with.
func (c Config) Validate() error {
	switch {
	case c.CorePoolSize < 1:
		return fmt.Errorf("%w: core_pool_size must be at least 1", ErrInvalidConfig)
	case c.MaxPoolSize < c.CorePoolSize:
		return fmt.Errorf("%w: max_pool_size %d below core_pool_size %d", ErrInvalidConfig, c.MaxPoolSize, c.CorePoolSize)
	case c.QueueSize < 1:
		return fmt.Errorf("%w: queue_size must be at least 1", ErrInvalidConfig)
	case c.MaxTimerJobsPerAcquisition < 1, c.MaxAsyncJobsPerAcquisition < 1:
		return fmt.Errorf("%w: acquisition batch sizes must be at least 1", ErrInvalidConfig)
	case c.ResetExpiredPageSize < 1:
		return fmt.Errorf("%w: reset_expired_page_size must be at least 1", ErrInvalidConfig)
	case c.DefaultTimerWait < 0, c.DefaultAsyncWait < 0, c.DefaultQueueFullWait < 0,
		c.RetryWait < 0, c.RetryMaxWait < 0, c.KeepAlive < 0, c.ShutdownTimeout < 0:
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	case c.TimerLockDuration <= 0, c.AsyncLockDuration <= 0, c.ResetExpiredInterval <= 0:
		return fmt.Errorf("%w: lock durations and reset interval must be positive", ErrInvalidConfig)
	case c.DefaultRetries < 0:
		return fmt.Errorf("%w: default_retries must not be negative", ErrInvalidConfig)
	}
	if _, err := backoff.Parse(c.RetryBackoff, c.RetryWait, c.RetryMaxWait); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
