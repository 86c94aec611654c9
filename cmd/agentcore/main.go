// Package main provides the CLI entry point for agentcore, a local-first,
// tool-using coding agent runtime.
//
// # Basic Usage
//
// Start an interactive session:
//
//	agentcore serve --config agentcore.yaml
//
// Decompose a goal into a task plan:
//
//	agentcore plan "migrate the auth package to the new session store"
//
// Run a plan across a pool of worker agents:
//
//	agentcore orchestrate run plan.json
//
// Serve the async tool job store to peer agents:
//
//	agentcore jobs serve
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY: LLM provider credentials
//   - AGENTCORE_BEARER_TOKEN / AGENTCORE_JWT_SECRET: job server peer auth
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentcore",
		Short: "agentcore - a local-first, tool-using coding agent runtime",
		Long: `agentcore runs an LLM-driven agent loop against a local tool-execution
substrate, with goal decomposition, DAG-scheduled multi-agent orchestration,
and an HTTP+SSE job service for peer agents.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "agentcore.yaml", "Path to YAML configuration file")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildPlanCmd(),
		buildOrchestrateCmd(),
		buildJobsCmd(),
	)
	return rootCmd
}
