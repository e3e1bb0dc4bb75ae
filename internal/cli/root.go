package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

var verbose bool

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

var rootCmd = &cobra.Command{
	Use:   "sintel",
	Short: "Session Intel - session recaps and prompt augmentation",
	Long: `Session Intel (sintel) records every turn of a human/agent session as
durable artifacts, recaps prior sessions, and in learn mode suggests an
improved prompt that the human accepts, edits or rejects before it is sent.

It provides commands for interactive chat, single turns, session listings,
recaps, plan previews, augmentation metrics and an MCP server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose && LogLevel != nil {
			LogLevel.SetLevel(zapcore.DebugLevel)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if Logger != nil {
			_ = Logger.Sync()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sintel %s\ncommit: %s\nbuilt:  %s\n", appVersion, appCommit, appDate)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
