package models

import "time"

// SessionMode selects whether turns are rewritten before being forwarded.
type SessionMode string

const (
	ModeFirstPass SessionMode = "first-pass"
	ModeLearn     SessionMode = "learn"
)

// SessionManifest is persisted as session.yaml in every session workspace.
type SessionManifest struct {
	SessionID string    `yaml:"session_id"`
	CreatedAt time.Time `yaml:"created_at"`
	Resumes   int       `yaml:"resumes"`
	LastSeen  time.Time `yaml:"last_seen"`
}

// Message is one replayable exchange stored in conversational memory.
type Message struct {
	Seq       int64     `json:"seq"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Usage holds the counters reported by the conversational step.
type Usage struct {
	Requests    int `json:"requests"`
	PromptChars int `json:"prompt_chars"`
	OutputChars int `json:"output_chars"`
}

// Reply is what the conversational step returns for one forwarded prompt.
type Reply struct {
	Output string `json:"output"`
	Usage  Usage  `json:"usage"`
}
