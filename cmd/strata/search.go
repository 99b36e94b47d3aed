// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/strata-dev/strata/internal/store"
	strataerr "github.com/strata-dev/strata/pkg/errors"
)

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search memory records by semantic similarity",
		Args:  cobra.ExactArgs(1),
		RunE:  runSearch,
	}

	cmd.Flags().String("layers", "", "comma-separated layers to search (default: all)")
	cmd.Flags().IntP("top-k", "k", 5, "maximum number of results")

	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := args[0]
	topK, _ := cmd.Flags().GetInt("top-k")
	if topK <= 0 {
		return strataerr.Errorf(strataerr.CodeCLIInputInvalid, "top-k must be positive, got %d", topK)
	}

	var layers []store.Layer
	if raw, _ := cmd.Flags().GetString("layers"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			layer := store.Layer(strings.TrimSpace(part))
			if !layer.Valid() {
				return strataerr.Errorf(strataerr.CodeCLIInputInvalid, "unknown layer %q", part)
			}
			layers = append(layers, layer)
		}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	app, err := wireApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer app.Close() //nolint:errcheck

	records, err := app.Store.SearchText(cmd.Context(), query, layers, topK)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		_, err := fmt.Fprintln(out, "no matches")
		return err
	}

	for i, rec := range records {
		text := rec.Text
		if len(text) > 80 {
			text = text[:77] + "..."
		}
		if _, err := fmt.Fprintf(out, "%2d. [%s] %s  %s\n", i+1, rec.Layer, rec.ID, text); err != nil {
			return err
		}
	}
	return nil
}
