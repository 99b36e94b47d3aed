// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPromoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "promote",
		Short: "Run one promotion cycle over all tiers",
		RunE:  runPromote,
	}
}

func runPromote(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	app, err := wireApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer app.Close() //nolint:errcheck

	res, err := app.Store.RunPromotionCycle(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, err = fmt.Fprintf(out, "interact -> insights: %d\ninsights -> assets:   %d\n",
		res.InteractToInsights, res.InsightsToAssets)
	return err
}
