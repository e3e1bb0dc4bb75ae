package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	sessionsLimit int
	sessionsJSON  bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded sessions with their digests",
	Long: `List recorded sessions, most recently updated first.

Each session shows its digest of recent learnings and the kinds of its
latest entries.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Store == nil {
			return fmt.Errorf("artifact store not initialized")
		}
		if sessionsLimit < 0 {
			return fmt.Errorf("--limit must not be negative")
		}

		snaps, err := Store.ListSessions(sessionsLimit)
		if err != nil {
			return fmt.Errorf("listing sessions: %w", err)
		}

		out := cmd.OutOrStdout()
		if sessionsJSON {
			data, err := json.MarshalIndent(snaps, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting sessions as JSON: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		}

		if len(snaps) == 0 {
			fmt.Fprintln(out, "No sessions recorded.")
			return nil
		}

		for _, s := range snaps {
			fmt.Fprintf(out, "%s  (updated %s)\n", s.SessionID, s.UpdatedAt.UTC().Format("2006-01-02 15:04 UTC"))
			for _, line := range strings.Split(s.Digest, "\n") {
				fmt.Fprintf(out, "    %s\n", line)
			}
			if len(s.Recent) > 0 {
				kinds := make([]string, len(s.Recent))
				for i, r := range s.Recent {
					kinds[i] = string(r.Kind)
				}
				fmt.Fprintf(out, "    latest: %s\n", strings.Join(kinds, ", "))
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

func init() {
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum number of sessions to list (0 lists all)")
	sessionsCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Output sessions as JSON")
	rootCmd.AddCommand(sessionsCmd)
}
