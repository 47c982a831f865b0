package cmd

import (
	"context"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/isq/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This allows MCP clients to search issues natively. Configure a client with:

  {
    "mcpServers": {
      "isq": { "command": "isq", "args": ["mcp"] }
    }
  }

Available tools: isq_search_issues, isq_reindex`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	if err := setupTelemetry(ctx); err != nil {
		return err
	}
	e, err := getEngine(ctx)
	if err != nil {
		return err
	}
	r, err := getReader(ctx)
	if err != nil {
		return err
	}
	return mcp.NewServer(e, r).ServeStdio(ctx)
}
