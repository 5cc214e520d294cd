// Package config centralises runtime configuration for rivulet components:
// defaults, environment overrides, YAML files, and programmatic options.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/rivulet/errs"
	"github.com/coachpo/rivulet/queue"
)

// QueueConfig sets the defaults handed to bounded queues.
type QueueConfig struct {
	// Capacity 0 means unbounded.
	Capacity int
	Policy   string
}

// PoolConfig sets worker-pool sizing and lifecycle bounds.
type PoolConfig struct {
	MinWorkers  int
	MaxWorkers  int
	IdleTimeout time.Duration
	DrainGrace  time.Duration
}

// RPCConfig sets per-call bounds for rpc clients.
type RPCConfig struct {
	Timeout time.Duration
}

// TelemetryConfig controls the OTLP metric exporter; an empty endpoint keeps
// telemetry on the noop provider.
type TelemetryConfig struct {
	OTLPEndpoint string
	ServiceName  string
	Interval     time.Duration
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level string
}

// Settings is the rivulet configuration tree.
type Settings struct {
	Environment string
	Queue       QueueConfig
	Pool        PoolConfig
	RPC         RPCConfig
	Telemetry   TelemetryConfig
	Log         LogConfig
}

// Default returns the documented defaults: unbounded reject queues, a pool
// floor of one worker scaling to the hardware thread count, and 30s bounds.
func Default() Settings {
	return Settings{
		Environment: "development",
		Queue: QueueConfig{
			Capacity: 0,
			Policy:   string(queue.Reject),
		},
		Pool: PoolConfig{
			MinWorkers:  1,
			MaxWorkers:  runtime.GOMAXPROCS(0),
			IdleTimeout: 30 * time.Second,
			DrainGrace:  5 * time.Second,
		},
		RPC: RPCConfig{
			Timeout: 30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "rivulet",
			Interval:    15 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// FromEnv loads configuration from RIVULET_* environment variables, layered
// over the defaults. Unparseable values are ignored in favour of the default.
func FromEnv() Settings {
	cfg := Default()
	if v := strings.TrimSpace(os.Getenv("RIVULET_ENV")); v != "" {
		cfg.Environment = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("RIVULET_QUEUE_CAPACITY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.Capacity = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("RIVULET_QUEUE_POLICY")); v != "" {
		cfg.Queue.Policy = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("RIVULET_POOL_MIN_WORKERS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.MinWorkers = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("RIVULET_POOL_MAX_WORKERS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.MaxWorkers = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("RIVULET_POOL_IDLE_TIMEOUT")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Pool.IdleTimeout = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("RIVULET_POOL_DRAIN_GRACE")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Pool.DrainGrace = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("RIVULET_RPC_TIMEOUT")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.RPC.Timeout = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("RIVULET_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("RIVULET_SERVICE_NAME")); v != "" {
		cfg.Telemetry.ServiceName = v
	}
	if v := strings.TrimSpace(os.Getenv("RIVULET_TELEMETRY_INTERVAL")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Telemetry.Interval = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("RIVULET_LOG_LEVEL")); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	return cfg
}

// fileSettings is the YAML schema; durations are written in Go syntax
// ("250ms", "30s") and parsed during the merge.
type fileSettings struct {
	Environment string `yaml:"environment"`
	Queue       struct {
		Capacity *int   `yaml:"capacity"`
		Policy   string `yaml:"policy"`
	} `yaml:"queue"`
	Pool struct {
		MinWorkers  *int   `yaml:"min_workers"`
		MaxWorkers  *int   `yaml:"max_workers"`
		IdleTimeout string `yaml:"idle_timeout"`
		DrainGrace  string `yaml:"drain_grace"`
	} `yaml:"pool"`
	RPC struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"rpc"`
	Telemetry struct {
		OTLPEndpoint string `yaml:"otlp_endpoint"`
		ServiceName  string `yaml:"service_name"`
		Interval     string `yaml:"interval"`
	} `yaml:"telemetry"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// LoadFile layers a YAML document over the defaults and validates the result.
func LoadFile(path string) (Settings, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path is operator-provided configuration.
	if err != nil {
		return Settings{}, errs.New("config/load", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("read %q", path)),
			errs.WithCause(err))
	}
	var file fileSettings
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return Settings{}, errs.New("config/load", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("unmarshal %q", path)),
			errs.WithCause(err))
	}

	cfg := Default()
	if v := strings.TrimSpace(file.Environment); v != "" {
		cfg.Environment = strings.ToLower(v)
	}
	if file.Queue.Capacity != nil {
		cfg.Queue.Capacity = *file.Queue.Capacity
	}
	if v := strings.TrimSpace(file.Queue.Policy); v != "" {
		cfg.Queue.Policy = strings.ToLower(v)
	}
	if file.Pool.MinWorkers != nil {
		cfg.Pool.MinWorkers = *file.Pool.MinWorkers
	}
	if file.Pool.MaxWorkers != nil {
		cfg.Pool.MaxWorkers = *file.Pool.MaxWorkers
	}
	if err := mergeDuration(&cfg.Pool.IdleTimeout, "pool.idle_timeout", file.Pool.IdleTimeout); err != nil {
		return Settings{}, err
	}
	if err := mergeDuration(&cfg.Pool.DrainGrace, "pool.drain_grace", file.Pool.DrainGrace); err != nil {
		return Settings{}, err
	}
	if err := mergeDuration(&cfg.RPC.Timeout, "rpc.timeout", file.RPC.Timeout); err != nil {
		return Settings{}, err
	}
	if v := strings.TrimSpace(file.Telemetry.OTLPEndpoint); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(file.Telemetry.ServiceName); v != "" {
		cfg.Telemetry.ServiceName = v
	}
	if err := mergeDuration(&cfg.Telemetry.Interval, "telemetry.interval", file.Telemetry.Interval); err != nil {
		return Settings{}, err
	}
	if v := strings.TrimSpace(file.Log.Level); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}

	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

func mergeDuration(dst *time.Duration, field, raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	dur, err := time.ParseDuration(trimmed)
	if err != nil {
		return errs.New("config/load", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("%s: %q is not a duration", field, trimmed)),
			errs.WithCause(err))
	}
	*dst = dur
	return nil
}

// Option mutates Settings when applied via Apply.
type Option func(*Settings)

// WithEnvironment overrides the environment name.
func WithEnvironment(env string) Option {
	return func(s *Settings) { s.Environment = strings.ToLower(strings.TrimSpace(env)) }
}

// WithQueue overrides the queue defaults.
func WithQueue(capacity int, policy queue.OverflowPolicy) Option {
	return func(s *Settings) {
		s.Queue.Capacity = capacity
		s.Queue.Policy = string(policy)
	}
}

// WithPool overrides the pool sizing bounds.
func WithPool(minWorkers, maxWorkers int) Option {
	return func(s *Settings) {
		s.Pool.MinWorkers = minWorkers
		s.Pool.MaxWorkers = maxWorkers
	}
}

// WithRPCTimeout overrides the per-call deadline.
func WithRPCTimeout(d time.Duration) Option {
	return func(s *Settings) { s.RPC.Timeout = d }
}

// Apply applies the provided Option set to a copy of the base Settings.
func Apply(base Settings, opts ...Option) Settings {
	cfg := base
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// Validate checks cross-field consistency; failures come back as CodeInvalid
// envelopes naming the offending field.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Environment) == "" {
		return invalid("environment must be set")
	}
	if s.Queue.Capacity < 0 {
		return invalid("queue.capacity must be non-negative")
	}
	if _, err := queue.ParsePolicy(s.Queue.Policy); err != nil {
		return err
	}
	if s.Pool.MinWorkers < 0 {
		return invalid("pool.min_workers must be non-negative")
	}
	if s.Pool.MaxWorkers < 1 {
		return invalid("pool.max_workers must be at least 1")
	}
	if s.Pool.MaxWorkers < s.Pool.MinWorkers {
		return invalid("pool.max_workers must be >= pool.min_workers")
	}
	if s.Pool.IdleTimeout <= 0 {
		return invalid("pool.idle_timeout must be positive")
	}
	if s.Pool.DrainGrace <= 0 {
		return invalid("pool.drain_grace must be positive")
	}
	if s.RPC.Timeout <= 0 {
		return invalid("rpc.timeout must be positive")
	}
	if s.Telemetry.Interval <= 0 {
		return invalid("telemetry.interval must be positive")
	}
	switch s.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Sprintf("log.level %q not recognised", s.Log.Level))
	}
	return nil
}

func invalid(msg string) error {
	return errs.New("config/validate", errs.CodeInvalid, errs.WithMessage(msg))
}
