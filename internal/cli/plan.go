package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/session-intel/internal/core"
)

var planSession string

var planCmd = &cobra.Command{
	Use:   "plan <question>",
	Short: "Preview a plan for a new request from a session's learnings",
	Long: `Draft a plan for a new request from the digest of a prior session.

The plan recaps the approach taken before and asks whether to proceed with
the same steps. Nothing is executed or logged.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Planner == nil {
			return fmt.Errorf("planner not initialized")
		}
		if planSession == "" {
			return fmt.Errorf("--session is required")
		}

		preview, err := Planner.Preview(context.Background(), planSession, args[0])
		out := cmd.OutOrStdout()
		if errors.Is(err, core.ErrNoGenerator) {
			fmt.Fprintln(out, preview.Digest)
			fmt.Fprintln(out)
			fmt.Fprintln(out, noteStyle.Render("No text generator configured; showing the digest only."))
			return nil
		}
		if err != nil {
			return fmt.Errorf("previewing plan: %w", err)
		}

		fmt.Fprintln(out, preview.Digest)
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderMarkdown(preview.Plan))
		return nil
	},
}

func init() {
	planCmd.Flags().StringVar(&planSession, "session", "", "Session whose learnings seed the plan")
	rootCmd.AddCommand(planCmd)
}
