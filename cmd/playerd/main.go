// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Command playerd serves descriptor-scoped player state over HTTP and SSE.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ManuGH/playerstate/internal/config"
	"github.com/ManuGH/playerstate/internal/version"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
}

// resolveConfigPath returns the explicit --config path, else PLAYERD_CONFIG,
// else config.yaml under the data directory when that file exists.
func (f *rootFlags) resolveConfigPath() string {
	if p := strings.TrimSpace(f.configPath); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(config.EnvPrefix + "CONFIG")); p != "" {
		return p
	}
	dataDir := config.ParseString(config.EnvPrefix+"DATA_DIR", config.Default().DataDir)
	auto := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(auto); err == nil {
		return auto
	}
	return ""
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "playerd",
		Short:         "Player state daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.String(),
	}
	root.SetVersionTemplate("{{.Version}}\n")
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Configuration file path (YAML)")

	root.AddCommand(newServeCommand(flags))
	root.AddCommand(newConfigCommand(flags))
	root.AddCommand(newDBCommand(flags))
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return err
		},
	}
}
