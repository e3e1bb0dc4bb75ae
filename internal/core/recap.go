package core

import (
	"fmt"
	"slices"
	"strings"

	"github.com/valter-silva-au/session-intel/internal/storage"
	"github.com/valter-silva-au/session-intel/pkg/models"
)

// DefaultRecapLimits are the pull sizes used when none are configured.
var DefaultRecapLimits = models.RecapLimits{Summaries: 3, TurnTail: 8, UserQueries: 5}

// LoadRecap assembles a recap of sessionID. With an empty sessionID the most
// recently updated session other than excludeID is used. A nil recap means
// there is no prior context; errors only come from the store.
func LoadRecap(store storage.ArtifactStore, sessionID, excludeID string, limits models.RecapLimits) (*models.SessionRecap, error) {
	if sessionID == "" {
		picked, err := pickSourceSession(store, excludeID)
		if err != nil {
			return nil, err
		}
		if picked == "" {
			return nil, nil
		}
		sessionID = picked
	}
	if limits == (models.RecapLimits{}) {
		limits = DefaultRecapLimits
	}

	summaries, err := pull(store, sessionID, models.KindSynthesisedLearning, limits.Summaries)
	if err != nil {
		return nil, err
	}
	tail, err := pull(store, sessionID, "", limits.TurnTail)
	if err != nil {
		return nil, err
	}
	queries, err := pull(store, sessionID, models.KindUserAction, limits.UserQueries)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 && len(tail) == 0 && len(queries) == 0 {
		return nil, nil
	}

	// Pulls are newest first; the recap reads oldest first.
	slices.Reverse(summaries)
	slices.Reverse(tail)
	slices.Reverse(queries)

	recap := &models.SessionRecap{
		SessionID:         sessionID,
		DocumentsDir:      store.SessionDir(sessionID),
		TurnLogTail:       []string{},
		RecentUserQueries: []string{},
	}

	var blocks []string
	for _, e := range summaries {
		if s := strings.TrimSpace(e.Content); s != "" {
			blocks = append(blocks, s)
		}
	}
	recap.SummaryMarkdown = strings.Join(blocks, "\n\n")

	for _, e := range tail {
		recap.TurnLogTail = append(recap.TurnLogTail, fmt.Sprintf("- [%s] %s", e.Kind, models.Headline(e.Content, 0)))
	}
	for _, e := range queries {
		if s := strings.TrimSpace(e.Content); s != "" {
			recap.RecentUserQueries = append(recap.RecentUserQueries, s)
		}
	}
	return recap, nil
}

func pull(store storage.ArtifactStore, sessionID string, kind models.ArtifactKind, limit int) ([]models.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	entries, err := store.List(sessionID, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("loading recap for %s: %w", sessionID, err)
	}
	return entries, nil
}

// pickSourceSession returns the most recently updated session id that is
// not excludeID and holds at least one entry, or "" when there is none.
func pickSourceSession(store storage.ArtifactStore, excludeID string) (string, error) {
	snaps, err := store.ListSessions(0)
	if err != nil {
		return "", fmt.Errorf("selecting recap session: %w", err)
	}
	for _, s := range snaps {
		if s.SessionID != excludeID && len(s.Recent) > 0 {
			return s.SessionID, nil
		}
	}
	return "", nil
}
