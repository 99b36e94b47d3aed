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

func newInsertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "insert TEXT",
		Short: "Embed a text and store it as a memory record",
		Args:  cobra.ExactArgs(1),
		RunE:  runInsert,
	}

	cmd.Flags().String("layer", string(store.LayerInteract), "target layer (interact, insights, assets)")
	cmd.Flags().String("id", "", "record id (generated when empty)")
	cmd.Flags().String("kind", "", "record kind")
	cmd.Flags().String("tags", "", "comma-separated tags")
	cmd.Flags().String("project", "", "project the record belongs to")
	cmd.Flags().String("session", "", "session the record belongs to")

	return cmd
}

func runInsert(cmd *cobra.Command, args []string) error {
	text := args[0]
	if strings.TrimSpace(text) == "" {
		return strataerr.New(strataerr.CodeCLIInputInvalid, "text must not be empty")
	}

	layerFlag, _ := cmd.Flags().GetString("layer")
	layer := store.Layer(layerFlag)
	if !layer.Valid() {
		return strataerr.Errorf(strataerr.CodeCLIInputInvalid, "unknown layer %q", layerFlag)
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

	id, _ := cmd.Flags().GetString("id")
	kind, _ := cmd.Flags().GetString("kind")
	project, _ := cmd.Flags().GetString("project")
	session, _ := cmd.Flags().GetString("session")
	var tags []string
	if raw, _ := cmd.Flags().GetString("tags"); raw != "" {
		tags = strings.Split(raw, ",")
	}

	rec := &store.Record{
		ID:      id,
		Text:    text,
		Layer:   layer,
		Kind:    kind,
		Tags:    tags,
		Project: project,
		Session: session,
	}
	if err := app.Store.InsertText(cmd.Context(), rec); err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "inserted %s into %s\n", rec.ID, rec.Layer)
	return err
}
