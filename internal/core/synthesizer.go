package core

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/valter-silva-au/session-intel/internal/llm"
	"github.com/valter-silva-au/session-intel/internal/storage"
	"github.com/valter-silva-au/session-intel/pkg/models"
)

const synthesisSystemPrompt = "You are the Knowledge Exchange agent. Synthesise a concise learning entry capturing " +
	"what changed in the latest turn. Focus on reusable insights, constraints, and decisions, " +
	"and finish with actionable next steps."

// learningSummaryRunes bounds the summary metadata line of a learning.
const learningSummaryRunes = 120

// Synthesizer distils each completed turn into a synthesised learning so
// that recaps pick it up while the session is still running.
type Synthesizer struct {
	gen    llm.Client
	model  string
	store  storage.ArtifactStore
	events EventLogger
	logger *zap.Logger
}

// NewSynthesizer creates a Synthesizer. A nil gen disables synthesis.
func NewSynthesizer(gen llm.Client, model string, store storage.ArtifactStore, events EventLogger, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{gen: gen, model: model, store: store, events: events, logger: logger}
}

// Enabled reports whether learnings can be generated.
func (s *Synthesizer) Enabled() bool { return s != nil && s.gen != nil && s.store != nil }

// Synthesize asks the generator for a learning about one turn and stores
// it. It returns nil without an error when synthesis is disabled, the
// generator fails or returns nothing; only a failed store write is
// reported.
func (s *Synthesizer) Synthesize(ctx context.Context, sessionID string, turn int, request, output string) (*models.Entry, error) {
	if !s.Enabled() {
		return nil, nil
	}

	user := "User request:\n" + strings.TrimSpace(request) +
		"\n\nTask agent output:\n" + strings.TrimSpace(output)
	text, err := s.gen.Complete(ctx, synthesisSystemPrompt, user, s.model)
	if err != nil {
		s.logger.Warn("learning synthesis failed",
			zap.String("session_id", sessionID), zap.Int("turn", turn), zap.Error(err))
		return nil, nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	entry, err := s.store.Append(sessionID, models.KindSynthesisedLearning, text, map[string]any{
		"summary": models.Headline(text, learningSummaryRunes),
		"turn":    turn,
		"suffix":  "learning",
	})
	if err != nil {
		return nil, fmt.Errorf("storing synthesised learning: %w", err)
	}
	logEvent(s.events, EventLearningSynthesized, map[string]any{"session_id": sessionID, "turn": turn})
	return &entry, nil
}
