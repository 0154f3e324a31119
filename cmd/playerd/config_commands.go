// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ManuGH/playerstate/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCommand(flags *rootFlags) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	configCmd.AddCommand(newConfigValidateCommand(flags))
	configCmd.AddCommand(newConfigInitCommand(flags))
	configCmd.AddCommand(newConfigShowCommand(flags))
	return configCmd
}

func newConfigValidateCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file and environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := flags.resolveConfigPath()
			if _, err := config.Load(path); err != nil {
				var verr *config.ValidationError
				if errors.As(err, &verr) {
					out := cmd.ErrOrStderr()
					for _, p := range verr.Problems {
						fmt.Fprintf(out, "  - %s\n", p)
					}
				}
				return err
			}
			source := path
			if source == "" {
				source = "defaults"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration valid (%s)\n", source)
			return nil
		},
	}
}

func newConfigInitCommand(flags *rootFlags) *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the built-in defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target := strings.TrimSpace(flags.configPath)
			if target == "" {
				target = filepath.Join(config.Default().DataDir, "config.yaml")
			}
			if err := config.WriteFile(target, config.Default(), overwrite); err != nil {
				if errors.Is(err, config.ErrExists) {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				}
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", target)
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite an existing configuration file")
	return cmd
}

func newConfigShowCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.resolveConfigPath())
			if err != nil {
				return err
			}
			if cfg.Cache.Redis.Password != "" {
				cfg.Cache.Redis.Password = "***"
			}
			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
