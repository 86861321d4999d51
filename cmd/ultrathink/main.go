// Package main implements the ultrathink command: an HTTP service, an MCP
// stdio server and a one-shot runner around the iterative orchestrator.
//
// Usage:
//
//	# Serve the HTTP API on localhost:9191
//	ultrathink serve
//
//	# Answer one prompt and print the result document
//	echo "What is the capital of France?" | ultrathink run -
//
//	# Serve MCP tools on stdio
//	ultrathink mcp
//
// Configuration comes from the optional --config YAML file and
// ULTRATHINK_* environment variables.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the --config flag shared by every command.
var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ultrathink",
	Short: "Iterative confidence-driven orchestrator",
	Long: `ultrathink answers a prompt by gathering context, drafting a response and
validating it through seven guardrail layers and four verifiers, repeating
until the confidence score clears the configured threshold.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("ULTRATHINK_CONFIG"), "path to a YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		printVersion(cmd)
	},
}

func printVersion(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ultrathink %s\n", version)
	fmt.Fprintf(out, "  Git commit: %s\n", gitCommit)
	fmt.Fprintf(out, "  Build date: %s\n", buildDate)
	fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
}
