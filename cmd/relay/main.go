// Package main provides the relay CLI: a streaming chat-completion
// orchestration service with tool calling, prompt budgeting, and per-user
// token quotas.
//
// Start the server:
//
//	relay serve --config relay.yaml
//
// Check a configuration file without starting:
//
//	relay validate --config relay.yaml
//
// API keys come from the configuration file or from OPENAI_API_KEY and
// ANTHROPIC_API_KEY.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/relayhq/relay/internal/config"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "relay",
		Short:        "Relay - streaming chat-completion orchestration service",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildValidateCmd(),
	)
	return rootCmd
}

// loadConfig reads the config file, falling back to built-in defaults when
// no file exists at the default path.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = "relay.yaml"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}

func buildValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration ok: provider=%s model=%s\n",
				cfg.LLM.DefaultProvider, cfg.LLM.DefaultModel)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "relay.yaml", "Path to configuration file")
	return cmd
}
