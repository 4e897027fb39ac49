package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "sqlite", cfg.Storage.Backend)
	require.Equal(t, 1000, cfg.Pipeline.BatchSize)
	require.Equal(t, 2*time.Second, cfg.Pipeline.BatchInterval)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "unshub.yaml", `
log_level: debug
storage:
  backend: memory
pipeline:
  batch_size: 50
  batch_interval: 100ms
connectors:
  nats:
    - name: plant
      url: nats://localhost:4222
      subject: "factory.>"
      enabled: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.Equal(t, 50, cfg.Pipeline.BatchSize)
	require.Equal(t, 100*time.Millisecond, cfg.Pipeline.BatchInterval)
	require.Len(t, cfg.Connector.NATS, 1)
	require.Equal(t, "factory.>", cfg.Connector.NATS[0].Subject)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("UNSHUB_LOG_LEVEL", "warn")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.LogLevel)
}

func TestValidateRejectsBadValues(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"backend":   func(c *Config) { c.Storage.Backend = "oracle" },
		"log level": func(c *Config) { c.LogLevel = "loud" },
		"nats url":  func(c *Config) { c.Connector.NATS = []NATSConfig{{Name: "x", Enabled: true}} },
	} {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadHierarchy(t *testing.T) {
	path := writeFile(t, t.TempDir(), "hierarchy.yaml", `
levels:
  - id: enterprise
    name: Enterprise
    order: 0
    required: true
    allowed_children: [site]
  - id: site
    name: Site
    order: 1
    parent: enterprise
`)
	cfg, err := LoadHierarchy(path)
	require.NoError(t, err)
	require.Len(t, cfg.Levels, 2)
	require.Equal(t, "enterprise", cfg.Levels[0].ID)
	require.Equal(t, []string{"site"}, cfg.Levels[0].AllowedChilds)
	require.Equal(t, "enterprise", cfg.Levels[1].ParentLevelID)
}

func TestLoadHierarchyRejectsInvalid(t *testing.T) {
	path := writeFile(t, t.TempDir(), "hierarchy.yaml", `
levels:
  - id: a
    parent: missing
`)
	_, err := LoadHierarchy(path)
	require.Error(t, err)
}

func TestDefaultHierarchyIsValid(t *testing.T) {
	require.Empty(t, DefaultHierarchy().Validate())
}

func TestWatchFileFiresOnRewrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "hierarchy.yaml", "levels: []\n")

	var fired atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, WatchFile(ctx, path, slog.Default(), func() { fired.Add(1) }))

	// Give the watcher a moment to register, then rewrite the file.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("levels: []\n# changed\n"), 0o644))

	deadline := time.Now().Add(3 * time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	require.Positive(t, fired.Load(), "watcher never fired")
}
