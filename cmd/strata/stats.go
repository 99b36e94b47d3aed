// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strata-dev/strata/internal/store"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-layer, index, and cache statistics",
		RunE:  runStats,
	}
}

func runStats(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	app, err := wireApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer app.Close() //nolint:errcheck

	layerStats, err := app.Store.Stats(cmd.Context())
	if err != nil {
		return err
	}
	indexStats := app.Store.IndexStats()
	cacheStats := app.Store.CacheStats()
	sizeOnDisk, err := app.Store.SizeOnDisk()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, layer := range store.Layers() {
		ls := layerStats[layer]
		is := indexStats[layer]
		if _, err := fmt.Fprintf(out, "%-9s records=%-6d bytes=%-10d avg_dim=%.0f indexed=%d\n",
			layer, ls.RecordCount, ls.TotalSizeBytes, ls.AvgEmbeddingDim, is.Count); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintf(out, "cache     entries=%d bytes=%d hits=%d misses=%d hit_rate=%.2f\n",
		cacheStats.Entries, cacheStats.SizeBytes, cacheStats.Hits, cacheStats.Misses, cacheStats.HitRate); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "disk      bytes=%d\n", sizeOnDisk)
	return err
}
