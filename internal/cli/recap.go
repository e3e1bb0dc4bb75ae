package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/valter-silva-au/session-intel/internal/core"
	"github.com/valter-silva-au/session-intel/pkg/models"
)

var (
	recapSession string
	recapExclude string
	recapRaw     bool
)

var recapCmd = &cobra.Command{
	Use:   "recap",
	Short: "Show the recap a learn-mode session would start from",
	Long: `Show a bounded recap of a prior session: its synthesised summaries, the
tail of its turn log and its most recent user queries.

Without --session the most recently updated session other than --exclude is
recapped. Use --raw to print markdown instead of rendering it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Store == nil {
			return fmt.Errorf("artifact store not initialized")
		}

		recap, err := core.LoadRecap(Store, recapSession, recapExclude, recapLimits())
		if err != nil {
			return fmt.Errorf("loading recap: %w", err)
		}

		out := cmd.OutOrStdout()
		if recap == nil {
			fmt.Fprintln(out, "No prior session to recap.")
			return nil
		}

		md := recapMarkdown(recap)
		if recapRaw {
			fmt.Fprint(out, md)
			return nil
		}
		fmt.Fprint(out, renderMarkdown(md))
		return nil
	},
}

// recapMarkdown lays a recap out as a markdown document.
func recapMarkdown(r *models.SessionRecap) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Recap of %s\n\n", r.SessionID)
	fmt.Fprintf(&b, "Documents: `%s`\n\n", r.DocumentsDir)

	b.WriteString("## Summaries\n\n")
	if r.SummaryMarkdown == "" {
		b.WriteString(models.NoContentPlaceholder + "\n\n")
	} else {
		b.WriteString(r.SummaryMarkdown + "\n\n")
	}

	b.WriteString("## Turn Log\n\n")
	if len(r.TurnLogTail) == 0 {
		b.WriteString(models.NoContentPlaceholder + "\n\n")
	} else {
		b.WriteString(strings.Join(r.TurnLogTail, "\n") + "\n\n")
	}

	b.WriteString("## Recent Queries\n\n")
	if len(r.RecentUserQueries) == 0 {
		b.WriteString(models.NoContentPlaceholder + "\n")
	}
	for _, q := range r.RecentUserQueries {
		b.WriteString("- " + models.Headline(q, 0) + "\n")
	}
	return b.String()
}

// renderMarkdown renders md for the terminal, falling back to the source
// when no renderer can be built.
func renderMarkdown(md string) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md
	}
	rendered, err := renderer.Render(md)
	if err != nil {
		return md
	}
	return rendered
}

func init() {
	recapCmd.Flags().StringVar(&recapSession, "session", "", "Session to recap (defaults to the most recent one)")
	recapCmd.Flags().StringVar(&recapExclude, "exclude", "", "Session to skip when picking the most recent one")
	recapCmd.Flags().BoolVar(&recapRaw, "raw", false, "Print markdown without rendering")
	rootCmd.AddCommand(recapCmd)
}
