package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	alertsSince  string
	alertsNotify bool
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Show augmentation quality alerts",
	Long: `Evaluate alert conditions against the event log and display any triggered alerts.

Alerts check for a high rate of failed prompt rewrites, a low acceptance rate
of suggested rewrites, and finalized sessions that never produced a summary.
With --notify the alerts are also posted to the configured Slack webhook.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if AlertEngine == nil {
			return fmt.Errorf("alert engine not initialized (event log may be disabled)")
		}

		sinceTime, err := parseSinceDuration(alertsSince)
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}

		alerts, err := AlertEngine.Evaluate(sinceTime)
		if err != nil {
			return fmt.Errorf("evaluating alerts: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(alerts) == 0 {
			fmt.Fprintln(out, "No active alerts.")
			return nil
		}

		fmt.Fprintf(out, "%d active alert(s):\n\n", len(alerts))
		for _, alert := range alerts {
			severity := strings.ToUpper(string(alert.Severity))
			fmt.Fprintf(out, "  [%s] %s\n", severity, alert.Message)
			fmt.Fprintf(out, "         triggered at %s\n\n", alert.TriggeredAt.Format("2006-01-02 15:04 UTC"))
		}

		if !alertsNotify {
			return nil
		}
		if Notifier == nil {
			return fmt.Errorf("notifier not configured (set alerts.slack_webhook)")
		}
		if err := Notifier.Notify(context.Background(), alerts); err != nil {
			return fmt.Errorf("sending alert notification: %w", err)
		}
		fmt.Fprintln(out, "Notification sent.")
		return nil
	},
}

func init() {
	alertsCmd.Flags().StringVar(&alertsSince, "since", "7d", "Time window to evaluate (e.g. 7d, 24h)")
	alertsCmd.Flags().BoolVar(&alertsNotify, "notify", false, "Post the alerts to the Slack webhook")
	rootCmd.AddCommand(alertsCmd)
}
