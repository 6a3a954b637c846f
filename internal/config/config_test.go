package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/outpost/internal/fusion"
	"github.com/roach88/outpost/internal/ir"
	"github.com/roach88/outpost/internal/syncer"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "outpost.db", cfg.Node.DB)
	assert.Equal(t, syncer.DefaultOptions(), cfg.SyncOptions())
	assert.Equal(t, fusion.DefaultConfig(), cfg.FusionConfig())
	assert.Equal(t, "outpost:", cfg.Remote.KeyPrefix)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Empty(t, cfg.Metrics.Addr)

	assert.Equal(t, cfg, Default())
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "outpost.yaml", `
node:
  id: clinic-a
  db: /var/lib/outpost/a.db
sync:
  batch_size: 10
  interval: 5m
  remote_timeout: 2s
  rate_limit: 20
remote:
  redis_url: redis://localhost:6379/1
fusion:
  spatial_threshold_km: 2.5
  temporal_threshold: 12h
  authoritative: [laboratory]
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "clinic-a", cfg.Node.ID)
	assert.Equal(t, "/var/lib/outpost/a.db", cfg.Node.DB)

	opts := cfg.SyncOptions()
	assert.Equal(t, 10, opts.BatchSize)
	assert.Equal(t, 5*time.Minute, opts.Interval)
	assert.Equal(t, 2*time.Second, opts.RemoteTimeout)
	assert.Equal(t, 20.0, opts.RateLimit)
	assert.Equal(t, syncer.DefaultOptions().MaxRetries, opts.MaxRetries)

	assert.Equal(t, "redis://localhost:6379/1", cfg.Remote.RedisURL)

	fc := cfg.FusionConfig()
	assert.Equal(t, 2.5, fc.SpatialThresholdKm)
	assert.Equal(t, 12*time.Hour, fc.TemporalThreshold)
	assert.Equal(t, []ir.SourceKind{ir.SourceLaboratory}, fc.Authoritative)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "outpost.yaml", "sync:\n  batch_size: 10\n")
	t.Setenv("OUTPOST_SYNC_BATCH_SIZE", "7")
	t.Setenv("OUTPOST_NODE_ID", "clinic-b")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Sync.BatchSize)
	assert.Equal(t, "clinic-b", cfg.Node.ID)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"batch size", "sync:\n  batch_size: 0\n", "sync.batch_size"},
		{"retries", "sync:\n  max_retries: -1\n", "sync.max_retries"},
		{"rate", "sync:\n  rate_limit: -2\n", "sync.rate_limit"},
		{"log level", "logging:\n  level: loud\n", "logging.level"},
		{"log format", "logging:\n  format: xml\n", "logging.format"},
		{"fusion threshold", "fusion:\n  spatial_threshold_km: 0\n", "spatial_threshold_km"},
		{"source kind", "fusion:\n  authoritative: [rumour]\n", "authoritative"},
		{"yaml", "sync: [\n", "failed to read config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "outpost.yaml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
