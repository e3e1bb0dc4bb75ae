package models

// SessionRecap is a bounded view of a prior session, rebuilt on every
// request. A nil *SessionRecap means there is no prior context.
type SessionRecap struct {
	SessionID         string   `json:"session_id"`
	DocumentsDir      string   `json:"documents_dir"`
	SummaryMarkdown   string   `json:"summary_markdown,omitempty"`
	TurnLogTail       []string `json:"turn_log_tail"`
	RecentUserQueries []string `json:"recent_user_queries"`
}

// RewriteResult is the outcome of attempting to rewrite a user prompt.
// Justification always has at least one element.
type RewriteResult struct {
	RewrittenPrompt string   `json:"rewritten_prompt"`
	Justification   []string `json:"justification"`
	RawText         string   `json:"raw_text"`
}

// AugmentedTurnRecord is the audit record of one learn-mode decision.
type AugmentedTurnRecord struct {
	TurnIndex      int      `json:"turn"`
	Original       string   `json:"original"`
	Suggestion     string   `json:"suggestion"`
	FinalPrompt    string   `json:"final_prompt"`
	SuggestionDiff string   `json:"suggestion_diff"`
	FinalDiff      string   `json:"final_diff"`
	Justification  []string `json:"justification"`
	Accepted       bool     `json:"accepted"`
}
