package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/valter-silva-au/session-intel/internal/storage"
	"github.com/valter-silva-au/session-intel/pkg/models"
)

// LogAugmentedTurn persists one learn-mode decision. TurnIndex and both
// diffs are derived here; the index is one more than the number of
// augmented turns already stored for the session.
func LogAugmentedTurn(store storage.ArtifactStore, sessionID string, rec models.AugmentedTurnRecord) (models.AugmentedTurnRecord, error) {
	prior, err := store.Count(sessionID, models.KindAugmentedTurn)
	if err != nil {
		return models.AugmentedTurnRecord{}, fmt.Errorf("counting augmented turns: %w", err)
	}
	rec.TurnIndex = prior + 1
	rec.SuggestionDiff = DiffPrompts(rec.Original, rec.Suggestion)
	rec.FinalDiff = DiffPrompts(rec.Original, rec.FinalPrompt)
	if len(rec.Justification) == 0 {
		rec.Justification = []string{"(not provided)"}
	}

	firstReason := rec.Justification[0]
	metadata := map[string]any{
		"turn":            rec.TurnIndex,
		"accepted":        rec.Accepted,
		"justification":   rec.Justification,
		"suggestion_diff": rec.SuggestionDiff,
		"final_diff":      rec.FinalDiff,
		"raw": map[string]any{
			"original":     rec.Original,
			"suggestion":   rec.Suggestion,
			"final_prompt": rec.FinalPrompt,
		},
		"summary": fmt.Sprintf("Augmented turn %d: %s", rec.TurnIndex, firstReason),
	}

	content := renderAugmentedTurn(rec, time.Now().UTC())
	if _, err := store.Append(sessionID, models.KindAugmentedTurn, content, metadata); err != nil {
		return models.AugmentedTurnRecord{}, fmt.Errorf("logging augmented turn: %w", err)
	}
	return rec, nil
}

func renderAugmentedTurn(rec models.AugmentedTurnRecord, ts time.Time) string {
	orEmpty := func(s, placeholder string) string {
		if t := strings.TrimSpace(s); t != "" {
			return t
		}
		return placeholder
	}

	lines := []string{
		fmt.Sprintf("## Turn %d — %s", rec.TurnIndex, ts.Format(time.RFC3339)),
		"",
		"**Original**",
		"```",
		orEmpty(rec.Original, "(empty)"),
		"```",
		"",
		"**Suggested Augmentation**",
		"```",
		orEmpty(rec.Suggestion, "(empty)"),
		"```",
		"",
		"**Final Prompt Sent**",
		"```",
		orEmpty(rec.FinalPrompt, "(empty)"),
		"```",
		"",
		"**Diff (original vs. suggestion)**",
		"```diff",
		orEmpty(rec.SuggestionDiff, "(no diff)"),
		"```",
		"",
	}

	if strings.TrimSpace(rec.FinalPrompt) != strings.TrimSpace(rec.Suggestion) {
		lines = append(lines,
			"**Diff (original vs. final prompt)**",
			"```diff",
			orEmpty(rec.FinalDiff, "(no diff)"),
			"```",
			"",
		)
	}

	lines = append(lines, "**Why it changed**")
	for _, reason := range rec.Justification {
		lines = append(lines, "- "+reason)
	}
	accepted := "No"
	if rec.Accepted {
		accepted = "Yes"
	}
	lines = append(lines, "", "**Human accepted augmentation?**", "- "+accepted, "")

	return strings.Join(lines, "\n")
}
