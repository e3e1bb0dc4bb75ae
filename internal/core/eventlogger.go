package core

// EventLogger is the subset of the observability event log that core
// services need. Defining it here avoids importing the observability package.
type EventLogger interface {
	LogEvent(eventType string, data map[string]any) error
}

// Domain event types written by core services.
const (
	EventSessionStarted      = "session.started"
	EventSessionResumed      = "session.resumed"
	EventTurnAugmented       = "turn.augmented"
	EventRewriteFailed       = "turn.rewrite_failed"
	EventTurnForwarded       = "turn.forwarded"
	EventTurnAborted         = "turn.aborted"
	EventLearningSynthesized = "turn.learning_synthesized"
	EventSummaryWritten      = "session.summary_written"
	EventSessionFinalized    = "session.finalized"
)

func logEvent(events EventLogger, eventType string, data map[string]any) {
	if events == nil {
		return
	}
	_ = events.LogEvent(eventType, data)
}
