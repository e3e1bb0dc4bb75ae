package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/valter-silva-au/session-intel/internal/core"
	"github.com/valter-silva-au/session-intel/pkg/models"
)

var (
	chatSession   string
	chatLearn     bool
	chatSource    string
	chatNoSummary bool
	chatNoSynth   bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive session",
	Long: `Start or resume an interactive session with the task agent.

Every prompt and reply is logged to the session workspace. With --learn the
most recent other session (or --source) is recapped, each prompt gets a
suggested rewrite, and you choose to accept (y), reject (n) or edit (e) it
before it is sent. After each reply a short learning is distilled from the turn
unless --no-synthesis is given. Type :exit, :quit or :end to end the session; a
summary is written on the way out unless --no-summary is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Sessions == nil || Store == nil {
			return fmt.Errorf("session manager not initialized")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		coord, err := openCoordinator(chatSession, chatLearn, chatSource, !chatNoSynth)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Session %s (%s mode)\n", coord.SessionID(), coord.Mode())
		if coord.Mode() == models.ModeLearn {
			if recap := coord.Recap(); recap != nil {
				fmt.Fprintf(out, "Recapping session %s\n", recap.SessionID)
			} else {
				fmt.Fprintln(out, "No prior session to recap; suggestions use no extra context.")
			}
		}
		fmt.Fprintln(out, "Type :exit to end the session.")
		fmt.Fprintln(out)

		prompter := newTermPrompter(cmd.InOrStdin(), out)
		defer prompter.Close()
		if err := coord.Loop(ctx, prompter); err != nil && ctx.Err() == nil {
			return fmt.Errorf("running session %s: %w", coord.SessionID(), err)
		}

		if chatNoSummary {
			return nil
		}
		// Teardown runs after an interrupt too, on a fresh context.
		summary, err := coord.Finalize(context.Background())
		if err != nil {
			return fmt.Errorf("finalizing session %s: %w", coord.SessionID(), err)
		}
		if summary != "" {
			fmt.Fprintf(out, "Session summary written to %s\n", Store.SessionDir(coord.SessionID()))
		}
		return nil
	},
}

// openCoordinator creates or resumes sessionID and wires a Coordinator
// around it. synthesize enables a learning entry after every turn.
func openCoordinator(sessionID string, learn bool, source string, synthesize bool) (*core.Coordinator, error) {
	handle, err := Sessions.CreateOrResume(sessionID)
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}
	mode := models.ModeFirstPass
	if learn {
		mode = models.ModeLearn
	}
	var synth *core.Synthesizer
	if synthesize {
		synth = Synthesizer
	}
	coord, err := core.NewCoordinator(core.CoordinatorConfig{
		Session:       handle,
		Mode:          mode,
		SourceSession: source,
		Store:         Store,
		Rewriter:      Rewriter,
		Runner:        Runner,
		Summarizer:    Summarizer,
		Synthesizer:   synth,
		Events:        Events,
		Logger:        logger(),
		RecapLimits:   recapLimits(),
	})
	if err != nil {
		return nil, fmt.Errorf("starting session %s: %w", handle.ID, err)
	}
	logger().Debug("coordinator ready", zap.String("session_id", handle.ID), zap.String("mode", string(mode)))
	return coord, nil
}

func init() {
	chatCmd.Flags().StringVar(&chatSession, "session", "", "Session id to resume (a new one is minted when empty)")
	chatCmd.Flags().BoolVar(&chatLearn, "learn", false, "Suggest recap-informed rewrites before each prompt is sent")
	chatCmd.Flags().StringVar(&chatSource, "source", "", "Session to recap in learn mode (defaults to the most recent other session)")
	chatCmd.Flags().BoolVar(&chatNoSummary, "no-summary", false, "Skip the session summary at exit")
	chatCmd.Flags().BoolVar(&chatNoSynth, "no-synthesis", false, "Skip distilling a learning after each turn")
	rootCmd.AddCommand(chatCmd)
}
