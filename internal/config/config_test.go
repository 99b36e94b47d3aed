// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-dev/strata/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strata.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, 768, cfg.Storage.Dimensions)
	assert.Equal(t, 16, cfg.Index.MaxConnections)
	assert.Equal(t, 200, cfg.Index.EfConstruction)
	assert.Equal(t, 50, cfg.Index.EfSearch)
	assert.Equal(t, 4096, cfg.Cache.MaxEntries)
	assert.Equal(t, int64(64<<20), cfg.Cache.MaxBytes)
	assert.Equal(t, int64(5), cfg.Promotion.InteractMinAccess)
	assert.Equal(t, 2*time.Hour, cfg.Promotion.InteractMaxMeanInterval)
	assert.Equal(t, int64(10), cfg.Promotion.InsightsMinAccess)
	assert.Equal(t, 7*24*time.Hour, cfg.Promotion.InsightsMinAge)
	assert.Equal(t, "mock", cfg.Embedding.Provider)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
storage:
  data_dir: /var/lib/strata
  dimensions: 1536
  capacity:
    interact: 50000
index:
  ef_search: 100
promotion:
  interval: 15m
embedding:
  provider: openai
  api_key: sk-test
  model: text-embedding-3-large
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/strata", cfg.Storage.DataDir)
	assert.Equal(t, 1536, cfg.Storage.Dimensions)
	assert.Equal(t, int64(50000), cfg.Storage.Capacity.Interact)
	assert.Equal(t, int64(0), cfg.Storage.Capacity.Assets)
	assert.Equal(t, 100, cfg.Index.EfSearch)
	assert.Equal(t, 15*time.Minute, cfg.Promotion.Interval)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, "text-embedding-3-large", cfg.Embedding.Model)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("STRATA_STORAGE_DIMENSIONS", "384")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 384, cfg.Storage.Dimensions)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		message string
	}{
		{
			name:    "unknown backend",
			mutate:  func(c *config.Config) { c.Storage.Backend = "postgres" },
			message: "storage.backend",
		},
		{
			name:    "empty data dir",
			mutate:  func(c *config.Config) { c.Storage.DataDir = "" },
			message: "storage.data_dir",
		},
		{
			name:    "negative dimensions",
			mutate:  func(c *config.Config) { c.Storage.Dimensions = -1 },
			message: "storage.dimensions",
		},
		{
			name:    "negative capacity",
			mutate:  func(c *config.Config) { c.Storage.Capacity.Insights = -5 },
			message: "storage.capacity.insights",
		},
		{
			name:    "ef_construction below degree",
			mutate:  func(c *config.Config) { c.Index.EfConstruction = 4 },
			message: "ef_construction",
		},
		{
			name:    "zero promotion access",
			mutate:  func(c *config.Config) { c.Promotion.InteractMinAccess = 0 },
			message: "interact_min_access",
		},
		{
			name:    "openai without key",
			mutate:  func(c *config.Config) { c.Embedding.Provider = "openai"; c.Embedding.APIKey = "" },
			message: "embedding.api_key",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *config.Config) { c.Embedding.Provider = "cohere" },
			message: "embedding.provider",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load("")
			require.NoError(t, err)

			tt.mutate(cfg)
			errs := cfg.Validate()
			require.NotEmpty(t, errs)
			assert.Contains(t, errors.Join(errs...).Error(), tt.message)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.Storage.Backend = "bolt"
	cfg.Storage.DataDir = ""
	cfg.Cache.MaxEntries = 0

	errs := cfg.Validate()
	assert.GreaterOrEqual(t, len(errs), 3)
}
