package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/valter-silva-au/session-intel/internal/llm"
	"github.com/valter-silva-au/session-intel/internal/storage"
	"github.com/valter-silva-au/session-intel/pkg/models"
)

const summarySystemPrompt = "You are an assistant that produces concise session retrospectives for developers. " +
	"Summaries must help a human revisit the session quickly."

// Summarizer writes a markdown retrospective of a session as a synthesised
// learning entry.
type Summarizer struct {
	gen    llm.Client
	model  string
	store  storage.ArtifactStore
	events EventLogger
	logger *zap.Logger
}

// NewSummarizer creates a Summarizer. A nil gen disables summaries.
func NewSummarizer(gen llm.Client, model string, store storage.ArtifactStore, events EventLogger, logger *zap.Logger) *Summarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{gen: gen, model: model, store: store, events: events, logger: logger}
}

type transcriptTurn struct {
	Timestamp time.Time `json:"timestamp"`
	Turn      int       `json:"turn"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
}

// Summarize generates and stores the retrospective. It returns "" without
// an error when there is nothing to summarize or generation fails; only a
// failed store write is reported.
func (s *Summarizer) Summarize(ctx context.Context, sessionID string) (string, error) {
	if s == nil || s.gen == nil {
		return "", nil
	}

	var turns []transcriptTurn
	for e := range s.store.IterateAll(sessionID) {
		var role string
		switch e.Kind {
		case models.KindUserAction:
			role = "user"
		case models.KindAgentOutput:
			role = "agent"
		default:
			continue
		}
		turn, _ := models.MetaInt(e.Metadata, "turn")
		turns = append(turns, transcriptTurn{Timestamp: e.CreatedAt, Turn: turn, Role: role, Content: e.Content})
	}
	if len(turns) == 0 {
		return "", nil
	}

	transcript, err := json.MarshalIndent(turns, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding transcript: %w", err)
	}
	user := "Here is the chronological log of user and agent turns for a coding session.\n" +
		"Return markdown with three sections: 'Timeline Highlights' (3-5 bullets), " +
		"'Unresolved Questions' (bullets, or 'None'), and 'Suggested Next Reps' (bullets).\n" +
		"Focus on knowledge gaps and learning opportunities.\n" +
		"Transcript JSON:```json\n" + string(transcript) + "\n```"

	text, err := s.gen.Complete(ctx, summarySystemPrompt, user, s.model)
	if err != nil {
		s.logger.Warn("session summary failed", zap.String("session_id", sessionID), zap.Error(err))
		return "", nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}

	metadata := map[string]any{
		"summary": fmt.Sprintf("Session summary (%d turns)", len(turns)),
		"suffix":  "summary",
	}
	if _, err := s.store.Append(sessionID, models.KindSynthesisedLearning, text, metadata); err != nil {
		return "", fmt.Errorf("storing session summary: %w", err)
	}
	logEvent(s.events, EventSummaryWritten, map[string]any{"session_id": sessionID, "turns": len(turns)})
	return text, nil
}
