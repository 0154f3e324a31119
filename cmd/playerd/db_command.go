// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ManuGH/playerstate/internal/config"
	"github.com/ManuGH/playerstate/internal/persistence/sqlite"
	"github.com/ManuGH/playerstate/internal/resume"
	"github.com/spf13/cobra"
)

func newDBCommand(flags *rootFlags) *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Resume database maintenance",
	}
	dbCmd.AddCommand(newDBVerifyCommand(flags))
	return dbCmd
}

func newDBVerifyCommand(flags *rootFlags) *cobra.Command {
	var mode, path string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run an integrity check on the resume database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if mode != "quick" && mode != "full" {
				return fmt.Errorf("unknown mode %q (supported: quick, full)", mode)
			}
			target := strings.TrimSpace(path)
			if target == "" {
				cfg, err := config.Load(flags.resolveConfigPath())
				if err != nil {
					return err
				}
				target = filepath.Join(cfg.DataDir, resume.DBFile)
			}
			problems, err := sqlite.VerifyIntegrity(cmd.Context(), target, mode)
			if err != nil {
				return err
			}
			if len(problems) > 0 {
				out := cmd.ErrOrStderr()
				for _, p := range problems {
					fmt.Fprintf(out, "  - %s\n", p)
				}
				return fmt.Errorf("%s: integrity check failed with %d problem(s)", target, len(problems))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", target)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "quick", "Check depth: quick or full")
	cmd.Flags().StringVar(&path, "path", "", "Database path (defaults to the resume database in the data directory)")
	return cmd
}
