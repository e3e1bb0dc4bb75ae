package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/valter-silva-au/session-intel/pkg/models"
)

const (
	// LearningsFile is the human-readable turn log of a session.
	LearningsFile = "learnings.md"
	// AugmentedTurnsFile collects the rendered learn-mode audit records.
	AugmentedTurnsFile = "augmented_turns.md"
	// LogFile is the line-per-entry JSONL index of a session.
	LogFile = "log.jsonl"

	learningsHeader      = "# Session %s — %s\n\n## Turn Log\n"
	summaryHeader        = "\n## Session Summary\n"
	augmentedTurnsHeader = "# Augmented Turns\n\n" +
		"Entries capture how the Knowledge Exchange agent rewrote prompts before " +
		"they were sent to the task agent.\n\n"
)

// Sidecar mirrors appended entries into derived, human-facing files. The
// entry files remain the source of truth; sidecar output is never read back.
type Sidecar interface {
	Record(entry models.Entry) error
}

// logLine is one record of log.jsonl.
type logLine struct {
	Timestamp time.Time           `json:"timestamp"`
	Seq       int64               `json:"seq"`
	Kind      models.ArtifactKind `json:"kind"`
	Turn      int                 `json:"turn,omitempty"`
	Content   string              `json:"content"`
}

type markdownSidecar struct {
	dirFor func(sessionID string) string
	mu     sync.Mutex
}

// NewMarkdownSidecar creates a Sidecar that writes learnings.md,
// augmented_turns.md and log.jsonl into the directory returned by dirFor.
func NewMarkdownSidecar(dirFor func(sessionID string) string) Sidecar {
	return &markdownSidecar{dirFor: dirFor}
}

func (m *markdownSidecar) Record(entry models.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := m.dirFor(entry.SessionID)
	turn, _ := models.MetaInt(entry.Metadata, "turn")

	line, err := json.Marshal(logLine{
		Timestamp: entry.CreatedAt,
		Seq:       entry.Seq,
		Kind:      entry.Kind,
		Turn:      turn,
		Content:   entry.Content,
	})
	if err != nil {
		return fmt.Errorf("encoding log line: %w", err)
	}
	if err := appendText(filepath.Join(dir, LogFile), string(line)+"\n"); err != nil {
		return err
	}

	switch entry.Kind {
	case models.KindUserAction, models.KindAgentOutput:
		return m.appendTurn(dir, entry, turn)
	case models.KindSynthesisedLearning:
		if err := m.ensureLearnings(dir, entry); err != nil {
			return err
		}
		return appendText(filepath.Join(dir, LearningsFile), summaryHeader+strings.TrimSpace(entry.Content)+"\n")
	case models.KindAugmentedTurn:
		path := filepath.Join(dir, AugmentedTurnsFile)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, []byte(augmentedTurnsHeader), 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", AugmentedTurnsFile, err)
			}
		}
		return appendText(path, entry.Content+"\n")
	}
	return nil
}

func (m *markdownSidecar) appendTurn(dir string, entry models.Entry, turn int) error {
	if err := m.ensureLearnings(dir, entry); err != nil {
		return err
	}
	role := "User"
	if entry.Kind == models.KindAgentOutput {
		role = "Agent"
	}
	content := strings.TrimSpace(entry.Content)
	if content == "" {
		content = models.NoContentPlaceholder
	}
	turnLabel := "?"
	if turn > 0 {
		turnLabel = fmt.Sprint(turn)
	}
	return appendText(filepath.Join(dir, LearningsFile),
		fmt.Sprintf("- Turn %s – **%s**: %s\n", turnLabel, role, content))
}

func (m *markdownSidecar) ensureLearnings(dir string, entry models.Entry) error {
	path := filepath.Join(dir, LearningsFile)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	header := fmt.Sprintf(learningsHeader, entry.SessionID, entry.CreatedAt.UTC().Format(time.RFC3339))
	if err := os.WriteFile(path, []byte(header), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", LearningsFile, err)
	}
	return nil
}

func appendText(path, text string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		return fmt.Errorf("appending to %s: %w", filepath.Base(path), err)
	}
	return nil
}
