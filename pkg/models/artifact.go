package models

import "time"

// ArtifactKind tags what an artifact entry records.
type ArtifactKind string

const (
	KindUserAction          ArtifactKind = "user_action"
	KindAgentOutput         ArtifactKind = "agent_output"
	KindSynthesisedLearning ArtifactKind = "synthesised_learning"
	KindAugmentedTurn       ArtifactKind = "augmented_turn"
)

// Entry is one immutable logged fact belonging to a session. Seq is the
// per-session monotonically increasing key that orders entries.
type Entry struct {
	SessionID string         `json:"session_id"`
	Seq       int64          `json:"seq"`
	Kind      ArtifactKind   `json:"kind"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
	Path      string         `json:"-"`
}

// Summary returns the metadata summary if present, otherwise the first line
// of the content trimmed to max runes (max <= 0 means no trimming).
func (e Entry) Summary(max int) string {
	if s, ok := e.Metadata["summary"].(string); ok && s != "" {
		return s
	}
	return Headline(e.Content, max)
}

// SessionSnapshotEntry is a short view of a recent entry.
type SessionSnapshotEntry struct {
	Kind    ArtifactKind `json:"kind" yaml:"kind"`
	Summary string       `json:"summary" yaml:"summary"`
}

// SessionSnapshot summarizes a session for listings.
type SessionSnapshot struct {
	SessionID string                 `json:"session_id" yaml:"session_id"`
	UpdatedAt time.Time              `json:"updated_at" yaml:"updated_at"`
	Digest    string                 `json:"digest" yaml:"digest"`
	Recent    []SessionSnapshotEntry `json:"recent" yaml:"recent"`
}
