// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	strataerr "github.com/strata-dev/strata/pkg/errors"
)

// Config is the top-level Strata configuration.
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Index     IndexConfig     `mapstructure:"index"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Promotion PromotionConfig `mapstructure:"promotion"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
}

// StorageConfig selects the storage backend and its location.
type StorageConfig struct {
	Backend    string `mapstructure:"backend"`
	DataDir    string `mapstructure:"data_dir"`
	Dimensions int    `mapstructure:"dimensions"`

	// Capacity caps the vector count per tier; 0 means unlimited.
	Capacity CapacityConfig `mapstructure:"capacity"`
}

// CapacityConfig holds per-tier maximum vector counts.
type CapacityConfig struct {
	Interact int64 `mapstructure:"interact"`
	Insights int64 `mapstructure:"insights"`
	Assets   int64 `mapstructure:"assets"`
}

// IndexConfig holds the vector index tunables.
type IndexConfig struct {
	MaxConnections int `mapstructure:"max_connections"`
	EfConstruction int `mapstructure:"ef_construction"`
	EfSearch       int `mapstructure:"ef_search"`
	MaxElements    int `mapstructure:"max_elements"`
}

// CacheConfig bounds the embedding cache.
type CacheConfig struct {
	MaxEntries int   `mapstructure:"max_entries"`
	MaxBytes   int64 `mapstructure:"max_bytes"`
}

// PromotionConfig holds the eligibility thresholds and the background
// cycle interval.
type PromotionConfig struct {
	InteractMinAccess       int64         `mapstructure:"interact_min_access"`
	InteractMaxMeanInterval time.Duration `mapstructure:"interact_max_mean_interval"`
	InsightsMinAccess       int64         `mapstructure:"insights_min_access"`
	InsightsMinAge          time.Duration `mapstructure:"insights_min_age"`
	Interval                time.Duration `mapstructure:"interval"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix STRATA_).
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.dimensions", 768)
	v.SetDefault("index.max_connections", 16)
	v.SetDefault("index.ef_construction", 200)
	v.SetDefault("index.ef_search", 50)
	v.SetDefault("index.max_elements", 100000)
	v.SetDefault("cache.max_entries", 4096)
	v.SetDefault("cache.max_bytes", 64<<20)
	v.SetDefault("promotion.interact_min_access", 5)
	v.SetDefault("promotion.interact_max_mean_interval", 2*time.Hour)
	v.SetDefault("promotion.insights_min_access", 10)
	v.SetDefault("promotion.insights_min_age", 7*24*time.Hour)
	v.SetDefault("promotion.interval", time.Hour)
	v.SetDefault("embedding.provider", "mock")
	v.SetDefault("embedding.model", "text-embedding-3-small")

	// Environment
	v.SetEnvPrefix("STRATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// File
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, strataerr.Errorf(strataerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, strataerr.Errorf(strataerr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, strataerr.Errorf(strataerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors. It returns a
// slice of all validation errors found, collecting all issues rather
// than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateIndex()...)
	errs = append(errs, c.validateCache()...)
	errs = append(errs, c.validatePromotion()...)
	errs = append(errs, c.validateEmbedding()...)

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	if c.Storage.Backend != "sqlite" {
		errs = append(errs, strataerr.Errorf(strataerr.CodeConfigValidateInvalidValue,
			"config: storage.backend must be sqlite, got %q", c.Storage.Backend))
	}
	if c.Storage.DataDir == "" {
		errs = append(errs, strataerr.Errorf(strataerr.CodeConfigValidateInvalidValue,
			"config: storage.data_dir must not be empty"))
	}
	if c.Storage.Dimensions <= 0 {
		errs = append(errs, strataerr.Errorf(strataerr.CodeConfigValidateInvalidValue,
			"config: storage.dimensions must be positive, got %d", c.Storage.Dimensions))
	}
	for name, capacity := range map[string]int64{
		"interact": c.Storage.Capacity.Interact,
		"insights": c.Storage.Capacity.Insights,
		"assets":   c.Storage.Capacity.Assets,
	} {
		if capacity < 0 {
			errs = append(errs, strataerr.Errorf(strataerr.CodeConfigValidateInvalidValue,
				"config: storage.capacity.%s must not be negative, got %d", name, capacity))
		}
	}

	return errs
}

func (c *Config) validateIndex() []error {
	var errs []error

	if c.Index.MaxConnections <= 0 {
		errs = append(errs, strataerr.Errorf(strataerr.CodeConfigValidateInvalidValue,
			"config: index.max_connections must be positive, got %d", c.Index.MaxConnections))
	}
	if c.Index.EfConstruction < c.Index.MaxConnections {
		errs = append(errs, strataerr.Errorf(strataerr.CodeConfigValidateInvalidValue,
			"config: index.ef_construction (%d) must be at least index.max_connections (%d)",
			c.Index.EfConstruction, c.Index.MaxConnections))
	}
	if c.Index.EfSearch <= 0 {
		errs = append(errs, strataerr.Errorf(strataerr.CodeConfigValidateInvalidValue,
			"config: index.ef_search must be positive, got %d", c.Index.EfSearch))
	}
	if c.Index.MaxElements <= 0 {
		errs = append(errs, strataerr.Errorf(strataerr.CodeConfigValidateInvalidValue,
			"config: index.max_elements must be positive, got %d", c.Index.MaxElements))
	}

	return errs
}

func (c *Config) validateCache() []error {
	var errs []error

	if c.Cache.MaxEntries <= 0 {
		errs = append(errs, strataerr.Errorf(strataerr.CodeConfigValidateInvalidValue,
			"config: cache.max_entries must be positive, got %d", c.Cache.MaxEntries))
	}
	if c.Cache.MaxBytes <= 0 {
		errs = append(errs, strataerr.Errorf(strataerr.CodeConfigValidateInvalidValue,
			"config: cache.max_bytes must be positive, got %d", c.Cache.MaxBytes))
	}

	return errs
}

func (c *Config) validatePromotion() []error {
	var errs []error

	if c.Promotion.InteractMinAccess <= 0 {
		errs = append(errs, strataerr.Errorf(strataerr.CodeConfigValidateInvalidValue,
			"config: promotion.interact_min_access must be positive, got %d", c.Promotion.InteractMinAccess))
	}
	if c.Promotion.InteractMaxMeanInterval <= 0 {
		errs = append(errs, strataerr.Errorf(strataerr.CodeConfigValidateInvalidValue,
			"config: promotion.interact_max_mean_interval must be positive, got %s", c.Promotion.InteractMaxMeanInterval))
	}
	if c.Promotion.InsightsMinAccess <= 0 {
		errs = append(errs, strataerr.Errorf(strataerr.CodeConfigValidateInvalidValue,
			"config: promotion.insights_min_access must be positive, got %d", c.Promotion.InsightsMinAccess))
	}
	if c.Promotion.InsightsMinAge <= 0 {
		errs = append(errs, strataerr.Errorf(strataerr.CodeConfigValidateInvalidValue,
			"config: promotion.insights_min_age must be positive, got %s", c.Promotion.InsightsMinAge))
	}
	if c.Promotion.Interval <= 0 {
		errs = append(errs, strataerr.Errorf(strataerr.CodeConfigValidateInvalidValue,
			"config: promotion.interval must be positive, got %s", c.Promotion.Interval))
	}

	return errs
}

func (c *Config) validateEmbedding() []error {
	var errs []error

	switch c.Embedding.Provider {
	case "mock":
	case "openai":
		if c.Embedding.APIKey == "" {
			errs = append(errs, strataerr.Errorf(strataerr.CodeConfigValidateInvalidValue,
				"config: embedding.api_key is required for the openai provider"))
		}
	default:
		errs = append(errs, strataerr.Errorf(strataerr.CodeConfigValidateInvalidValue,
			"config: embedding.provider must be one of [mock, openai], got %q", c.Embedding.Provider))
	}

	return errs
}
