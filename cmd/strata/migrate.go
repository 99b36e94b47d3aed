// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/strata-dev/strata/internal/store/sqlite"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring the on-disk schema up to the current version",
		Long:  "Apply any pending schema migrations to the records database. Safe to run repeatedly; an up-to-date store is a no-op.",
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	dbPath := filepath.Join(cfg.Storage.DataDir, "records.db")
	report, err := sqlite.MigrateDatabase(cmd.Context(), dbPath, nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if report.FromVersion == report.ToVersion {
		_, err = fmt.Fprintf(out, "schema already at version %d\n", report.ToVersion)
		return err
	}

	_, err = fmt.Fprintf(out, "schema migrated %d -> %d (legacy records: %d, corrupted removed: %d)\n",
		report.FromVersion, report.ToVersion, report.LegacyMigrated, report.CorruptedRemoved)
	return err
}
