package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var summarizeSession string

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Write a retrospective summary for a session",
	Long: `Ask the text generator for a retrospective of a session's turns and store
it as a synthesised learning. Chat sessions do this automatically at exit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Summarizer == nil {
			return fmt.Errorf("summarizer not initialized")
		}
		if summarizeSession == "" {
			return fmt.Errorf("--session is required")
		}

		summary, err := Summarizer.Summarize(context.Background(), summarizeSession)
		if err != nil {
			return fmt.Errorf("summarizing session %s: %w", summarizeSession, err)
		}

		out := cmd.OutOrStdout()
		if summary == "" {
			fmt.Fprintln(out, "No summary written (no turns, no text generator, or generation failed).")
			return nil
		}
		fmt.Fprint(out, renderMarkdown(summary))
		return nil
	},
}

func init() {
	summarizeCmd.Flags().StringVar(&summarizeSession, "session", "", "Session to summarize")
	rootCmd.AddCommand(summarizeCmd)
}
