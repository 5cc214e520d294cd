package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/rivulet/errs"
	"github.com/coachpo/rivulet/queue"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, "development", cfg.Environment)
	require.Equal(t, 0, cfg.Queue.Capacity)
	require.Equal(t, string(queue.Reject), cfg.Queue.Policy)
	require.Equal(t, 1, cfg.Pool.MinWorkers)
	require.Equal(t, runtime.GOMAXPROCS(0), cfg.Pool.MaxWorkers)
	require.Equal(t, 30*time.Second, cfg.Pool.IdleTimeout)
	require.Equal(t, 30*time.Second, cfg.RPC.Timeout)
	require.NoError(t, cfg.Validate())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("RIVULET_ENV", "Staging")
	t.Setenv("RIVULET_QUEUE_CAPACITY", "128")
	t.Setenv("RIVULET_QUEUE_POLICY", "drop_oldest")
	t.Setenv("RIVULET_POOL_MAX_WORKERS", "8")
	t.Setenv("RIVULET_POOL_IDLE_TIMEOUT", "90s")
	t.Setenv("RIVULET_RPC_TIMEOUT", "5s")
	t.Setenv("RIVULET_LOG_LEVEL", "debug")

	cfg := FromEnv()
	require.Equal(t, "staging", cfg.Environment)
	require.Equal(t, 128, cfg.Queue.Capacity)
	require.Equal(t, string(queue.DropOldest), cfg.Queue.Policy)
	require.Equal(t, 8, cfg.Pool.MaxWorkers)
	require.Equal(t, 90*time.Second, cfg.Pool.IdleTimeout)
	require.Equal(t, 5*time.Second, cfg.RPC.Timeout)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestFromEnvIgnoresUnparseable(t *testing.T) {
	t.Setenv("RIVULET_QUEUE_CAPACITY", "lots")
	t.Setenv("RIVULET_RPC_TIMEOUT", "soon")

	cfg := FromEnv()
	require.Equal(t, 0, cfg.Queue.Capacity)
	require.Equal(t, 30*time.Second, cfg.RPC.Timeout)
}

func TestLoadFileLayersOverDefaults(t *testing.T) {
	doc := `
environment: production
queue:
  capacity: 256
  policy: suspend
pool:
  max_workers: 16
  idle_timeout: 2m
rpc:
  timeout: 750ms
telemetry:
  otlp_endpoint: collector:4318
log:
  level: warn
`
	path := filepath.Join(t.TempDir(), "rivulet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "production", cfg.Environment)
	require.Equal(t, 256, cfg.Queue.Capacity)
	require.Equal(t, string(queue.Suspend), cfg.Queue.Policy)
	require.Equal(t, 16, cfg.Pool.MaxWorkers)
	require.Equal(t, 2*time.Minute, cfg.Pool.IdleTimeout)
	require.Equal(t, 750*time.Millisecond, cfg.RPC.Timeout)
	require.Equal(t, "collector:4318", cfg.Telemetry.OTLPEndpoint)
	require.Equal(t, "warn", cfg.Log.Level)
	// Untouched fields keep their defaults.
	require.Equal(t, 1, cfg.Pool.MinWorkers)
	require.Equal(t, 5*time.Second, cfg.Pool.DrainGrace)
}

func TestLoadFileRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.yaml"))
	require.True(t, errs.IsCode(err, errs.CodeInvalid))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("rpc:\n  timeout: eventually\n"), 0o600))
	_, err = LoadFile(bad)
	require.True(t, errs.IsCode(err, errs.CodeInvalid))

	inconsistent := filepath.Join(dir, "inconsistent.yaml")
	require.NoError(t, os.WriteFile(inconsistent, []byte("pool:\n  min_workers: 8\n  max_workers: 2\n"), 0o600))
	_, err = LoadFile(inconsistent)
	require.True(t, errs.IsCode(err, errs.CodeInvalid))
}

func TestApplyCopiesBase(t *testing.T) {
	base := Default()
	cfg := Apply(base,
		WithEnvironment("Prod"),
		WithQueue(64, queue.DropNewest),
		WithPool(2, 4),
		WithRPCTimeout(time.Second),
		nil,
	)

	require.Equal(t, "prod", cfg.Environment)
	require.Equal(t, 64, cfg.Queue.Capacity)
	require.Equal(t, string(queue.DropNewest), cfg.Queue.Policy)
	require.Equal(t, 2, cfg.Pool.MinWorkers)
	require.Equal(t, 4, cfg.Pool.MaxWorkers)
	require.Equal(t, time.Second, cfg.RPC.Timeout)

	require.Equal(t, "development", base.Environment)
	require.Equal(t, 0, base.Queue.Capacity)
}

func TestValidateFlagsBadFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"empty environment", func(s *Settings) { s.Environment = " " }},
		{"negative capacity", func(s *Settings) { s.Queue.Capacity = -1 }},
		{"unknown policy", func(s *Settings) { s.Queue.Policy = "spill" }},
		{"negative min workers", func(s *Settings) { s.Pool.MinWorkers = -1 }},
		{"zero max workers", func(s *Settings) { s.Pool.MaxWorkers = 0 }},
		{"min above max", func(s *Settings) { s.Pool.MinWorkers = 9; s.Pool.MaxWorkers = 3 }},
		{"zero rpc timeout", func(s *Settings) { s.RPC.Timeout = 0 }},
		{"unknown log level", func(s *Settings) { s.Log.Level = "loud" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.True(t, errs.IsCode(err, errs.CodeInvalid), "expected invalid, got %v", err)
		})
	}
}
