package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/session-intel/internal/observability"
)

var (
	metricsJSON  bool
	metricsSince string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Display session and augmentation metrics",
	Long: `Display aggregated metrics derived from the event log.

Metrics include sessions started and resumed, turns by mode, the decisions
taken on suggested rewrites, rewrite failures and summaries written.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if MetricsCalc == nil {
			return fmt.Errorf("metrics calculator not initialized (event log may be disabled)")
		}

		sinceTime, err := parseSinceDuration(metricsSince)
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}

		metrics, err := MetricsCalc.Calculate(sinceTime)
		if err != nil {
			return fmt.Errorf("calculating metrics: %w", err)
		}

		out := cmd.OutOrStdout()
		if metricsJSON {
			data, err := json.MarshalIndent(metricsView{
				Metrics:        metrics,
				AcceptanceRate: metrics.AcceptanceRate(),
				FailureRate:    metrics.FailureRate(),
			}, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting metrics as JSON: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		}

		// Table format.
		fmt.Fprintf(out, "Metrics (since %s)\n\n", sinceTime.Format("2006-01-02"))
		fmt.Fprintf(out, "  %-24s %d\n", "Events recorded:", metrics.EventCount)
		fmt.Fprintf(out, "  %-24s %d\n", "Sessions started:", metrics.SessionsStarted)
		fmt.Fprintf(out, "  %-24s %d\n", "Sessions resumed:", metrics.SessionsResumed)
		fmt.Fprintf(out, "  %-24s %d\n", "Turns forwarded:", metrics.Turns)
		fmt.Fprintf(out, "  %-24s %d\n", "Augmented turns:", metrics.AugmentedTurns)
		fmt.Fprintf(out, "  %-24s %d / %d / %d\n", "Accepted/edited/rejected:", metrics.Accepted, metrics.Edited, metrics.Rejected)
		fmt.Fprintf(out, "  %-24s %d\n", "Aborted turns:", metrics.Aborted)
		fmt.Fprintf(out, "  %-24s %d\n", "Rewrite failures:", metrics.RewriteFailures)
		fmt.Fprintf(out, "  %-24s %d\n", "Summaries written:", metrics.Summaries)
		fmt.Fprintf(out, "  %-24s %.0f%%\n", "Acceptance rate:", metrics.AcceptanceRate()*100)
		fmt.Fprintf(out, "  %-24s %.0f%%\n", "Rewrite failure rate:", metrics.FailureRate()*100)

		if len(metrics.TurnsByMode) > 0 {
			fmt.Fprintln(out, "\n  Turns by mode:")
			for _, mode := range sortedKeys(metrics.TurnsByMode) {
				fmt.Fprintf(out, "    %-20s %d\n", mode+":", metrics.TurnsByMode[mode])
			}
		}

		if len(metrics.TurnsBySession) > 0 {
			fmt.Fprintln(out, "\n  Turns by session:")
			for _, id := range sortedKeys(metrics.TurnsBySession) {
				fmt.Fprintf(out, "    %-28s %d\n", id+":", metrics.TurnsBySession[id])
			}
		}

		if metrics.OldestEvent != nil {
			fmt.Fprintf(out, "\n  %-24s %s\n", "Oldest event:", metrics.OldestEvent.Format(time.RFC3339))
		}
		if metrics.NewestEvent != nil {
			fmt.Fprintf(out, "  %-24s %s\n", "Newest event:", metrics.NewestEvent.Format(time.RFC3339))
		}

		return nil
	},
}

// metricsView adds the derived rates to the JSON output.
type metricsView struct {
	*observability.Metrics
	AcceptanceRate float64 `json:"acceptance_rate"`
	FailureRate    float64 `json:"failure_rate"`
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// parseSinceDuration parses a human-friendly duration string like "7d", "30d",
// or "24h" and returns the corresponding time in the past.
func parseSinceDuration(s string) (time.Time, error) {
	now := time.Now().UTC()
	s = strings.TrimSpace(s)
	if s == "" {
		return now.AddDate(0, 0, -7), nil
	}

	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid day duration %q", s)
		}
		return now.AddDate(0, 0, -days), nil
	}

	if strings.HasSuffix(s, "h") {
		hours, err := strconv.Atoi(strings.TrimSuffix(s, "h"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid hour duration %q", s)
		}
		return now.Add(-time.Duration(hours) * time.Hour), nil
	}

	return time.Time{}, fmt.Errorf("unsupported duration format %q (use e.g. 7d, 30d, 24h)", s)
}

func init() {
	metricsCmd.Flags().BoolVar(&metricsJSON, "json", false, "Output metrics as JSON")
	metricsCmd.Flags().StringVar(&metricsSince, "since", "7d", "Time window for metrics (e.g. 7d, 30d, 24h)")
	rootCmd.AddCommand(metricsCmd)
}
