package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ultrathink/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools on stdio",
	Long: `Serve the orchestrator as MCP tools over stdin/stdout.

Tools:
  ultrathink_process   run a prompt through the loop
  ultrathink_stats     running totals
  tool_search          find tools by keyword
  tool_list            list tools by category

Logs go to stderr; stdout carries JSON-RPC only.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	deps, err := initDependencies(ctx, cfg, depOptions{stderrLogs: true})
	if err != nil {
		return err
	}
	defer func() { _ = deps.Close(context.Background()) }()

	mcpCfg := mcp.DefaultConfig()
	mcpCfg.Version = version
	mcpCfg.Logger = deps.logger
	srv, err := mcp.NewServer(mcpCfg, deps.orch, deps.secrets)
	if err != nil {
		return fmt.Errorf("creating mcp server: %w", err)
	}
	return srv.Run(ctx)
}
