// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/strata-dev/strata/internal/cache"
	"github.com/strata-dev/strata/internal/config"
	"github.com/strata-dev/strata/internal/embed"
	"github.com/strata-dev/strata/internal/memory"
	"github.com/strata-dev/strata/internal/store"
	_ "github.com/strata-dev/strata/internal/store/sqlite" // register sqlite backend
	strataerr "github.com/strata-dev/strata/pkg/errors"
)

// App holds the wired subsystems a command operates on.
type App struct {
	Config *config.Config
	Store  *memory.VectorStore
}

// wireApp creates the vector store facade from configuration: layer
// store, per-tier indexes, embedding cache, and provider.
func wireApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, strataerr.Errorf(strataerr.CodeCLISetupFailure, "creating data directory: %w", err)
	}

	ls, err := store.NewLayerStore(&store.StorageConfig{
		Backend:    cfg.Storage.Backend,
		Dimensions: cfg.Storage.Dimensions,
	}, cfg.Storage.DataDir)
	if err != nil {
		return nil, strataerr.Wrap(err, strataerr.CodeCLISetupFailure, "creating layer store")
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		_ = ls.Close()
		return nil, err
	}

	embCache, err := cache.New(cache.Config{
		MaxEntries: cfg.Cache.MaxEntries,
		MaxBytes:   cfg.Cache.MaxBytes,
	})
	if err != nil {
		_ = ls.Close()
		return nil, strataerr.Wrap(err, strataerr.CodeCLISetupFailure, "creating embedding cache")
	}

	vs, err := memory.New(ctx, memory.Options{
		Store:          ls,
		Cache:          embCache,
		Embedder:       embedder,
		Logger:         slog.Default(),
		MaxConnections: cfg.Index.MaxConnections,
		EfConstruction: cfg.Index.EfConstruction,
		EfSearch:       cfg.Index.EfSearch,
		MaxElements:    cfg.Index.MaxElements,
		TierCapacity: map[store.Layer]int64{
			store.LayerInteract: cfg.Storage.Capacity.Interact,
			store.LayerInsights: cfg.Storage.Capacity.Insights,
			store.LayerAssets:   cfg.Storage.Capacity.Assets,
		},
		Policy: memory.PromotionPolicy{
			InteractMinAccess:       cfg.Promotion.InteractMinAccess,
			InteractMaxMeanInterval: cfg.Promotion.InteractMaxMeanInterval,
			InsightsMinAccess:       cfg.Promotion.InsightsMinAccess,
			InsightsMinAge:          cfg.Promotion.InsightsMinAge,
		},
	})
	if err != nil {
		_ = ls.Close()
		return nil, err
	}

	return &App{Config: cfg, Store: vs}, nil
}

// newEmbedder builds the configured embedding provider. The mock
// provider needs no credentials and serves offline use.
func newEmbedder(cfg *config.Config) (store.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "openai":
		return embed.NewOpenAI(embed.OpenAIConfig{
			APIKey:     cfg.Embedding.APIKey,
			BaseURL:    cfg.Embedding.Endpoint,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Storage.Dimensions,
		})
	default:
		return embed.NewMock(cfg.Storage.Dimensions), nil
	}
}

// Close releases the app's resources.
func (a *App) Close() error {
	return a.Store.Close()
}
