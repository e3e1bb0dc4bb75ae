package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	sintelmcp "github.com/valter-silva-au/session-intel/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  "Commands for running the sintel MCP (Model Context Protocol) server.",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sintel MCP server on stdio",
	Long: `Start the sintel MCP server on stdio transport.

The server exposes session recaps and prompt suggestions as MCP tools that AI
coding assistants can call: list_sessions, get_digest, load_recap,
preview_plan, suggest_rewrite, get_metrics, get_alerts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Store == nil {
			return fmt.Errorf("artifact store not initialized")
		}

		srv := sintelmcp.NewServer(sintelmcp.Deps{
			Store:       Store,
			Planner:     Planner,
			Rewriter:    Rewriter,
			Metrics:     MetricsCalc,
			Alerts:      AlertEngine,
			RecapLimits: recapLimits(),
			DigestLimit: digestLimit(),
		}, appVersion)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("running MCP server: %w", err)
		}

		return nil
	},
}

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}
