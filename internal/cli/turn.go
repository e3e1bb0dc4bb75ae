package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/session-intel/internal/core"
)

var (
	turnSession  string
	turnLearn    bool
	turnSource   string
	turnDecision string
	turnEdited   string
	turnJSON     bool
	turnNoSynth  bool
)

type turnResult struct {
	SessionID     string   `json:"session_id"`
	Turn          int      `json:"turn"`
	Decision      string   `json:"decision"`
	Suggestion    string   `json:"suggestion,omitempty"`
	Justification []string `json:"justification,omitempty"`
	FinalPrompt   string   `json:"final_prompt"`
	Reply         string   `json:"reply"`
	Learning      string   `json:"learning,omitempty"`
}

var turnCmd = &cobra.Command{
	Use:   "turn <prompt>",
	Short: "Run a single non-interactive turn",
	Long: `Run one turn of a session without prompting.

In learn mode the rewrite is resolved with --decision (accept, reject or
edit; edit requires --edited). The decision trail, prompt and reply are
logged exactly as in an interactive session, including the learning distilled
from the turn unless --no-synthesis is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Sessions == nil || Store == nil {
			return fmt.Errorf("session manager not initialized")
		}
		if turnSession == "" {
			return fmt.Errorf("--session is required")
		}

		kind, err := parseDecisionFlag(turnDecision)
		if err != nil {
			return err
		}
		if kind == core.DecisionEdit && turnEdited == "" {
			return fmt.Errorf("--edited is required with --decision edit")
		}

		coord, err := openCoordinator(turnSession, turnLearn, turnSource, !turnNoSynth)
		if err != nil {
			return err
		}

		ctx := context.Background()
		preview := coord.Prepare(ctx, args[0])
		outcome, err := coord.Commit(ctx, preview, core.Decision{Kind: kind, Edited: turnEdited})
		if errors.Is(err, core.ErrBlankEdit) {
			return fmt.Errorf("--edited must not be blank")
		}
		if err != nil {
			return fmt.Errorf("running turn: %w", err)
		}

		out := cmd.OutOrStdout()
		if turnJSON {
			res := turnResult{
				SessionID:   coord.SessionID(),
				Turn:        outcome.Turn,
				Decision:    string(outcome.Decision),
				FinalPrompt: outcome.FinalPrompt,
				Reply:       outcome.Reply.Output,
			}
			if preview.RequiresConfirmation {
				res.Suggestion = preview.Suggestion
				res.Justification = preview.Justification
			}
			if outcome.Learning != nil {
				res.Learning = outcome.Learning.Content
			}
			data, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting turn as JSON: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		}

		if preview.RequiresConfirmation {
			fmt.Fprintln(out, renderPreview(preview))
			fmt.Fprintf(out, "Decision: %s\n\n", outcome.Decision)
		}
		fmt.Fprintf(out, "%s %s\n", agentStyle.Render("Agent>"), outcome.Reply.Output)
		if outcome.Learning != nil {
			fmt.Fprintln(out, noteStyle.Render("Learning logged: "+outcome.Learning.Summary(0)))
		}
		return nil
	},
}

// parseDecisionFlag accepts the decision names as well as the short answers
// of the interactive prompt. Exit commands are not decisions here.
func parseDecisionFlag(s string) (core.DecisionKind, error) {
	switch core.DecisionKind(strings.ToLower(strings.TrimSpace(s))) {
	case core.DecisionAccept:
		return core.DecisionAccept, nil
	case core.DecisionReject:
		return core.DecisionReject, nil
	case core.DecisionEdit:
		return core.DecisionEdit, nil
	}
	if kind, ok := core.ParseDecision(s); ok && kind != core.DecisionAbort && strings.TrimSpace(s) != "" {
		return kind, nil
	}
	return "", fmt.Errorf("invalid --decision %q: must be accept, reject or edit", s)
}

func init() {
	turnCmd.Flags().StringVar(&turnSession, "session", "", "Session id to log the turn under")
	turnCmd.Flags().BoolVar(&turnLearn, "learn", false, "Rewrite the prompt with a recap before sending it")
	turnCmd.Flags().StringVar(&turnSource, "source", "", "Session to recap in learn mode")
	turnCmd.Flags().StringVar(&turnDecision, "decision", "accept", "How to resolve the rewrite: accept, reject or edit")
	turnCmd.Flags().StringVar(&turnEdited, "edited", "", "Revised prompt used with --decision edit")
	turnCmd.Flags().BoolVar(&turnJSON, "json", false, "Output the turn as JSON")
	turnCmd.Flags().BoolVar(&turnNoSynth, "no-synthesis", false, "Skip distilling a learning from the turn")
	rootCmd.AddCommand(turnCmd)
}
