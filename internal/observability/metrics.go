package observability

import (
	"fmt"
	"time"
)

// Metrics holds augmentation metrics derived from the event log.
type Metrics struct {
	SessionsStarted int            `json:"sessions_started"`
	SessionsResumed int            `json:"sessions_resumed"`
	Turns           int            `json:"turns"`
	TurnsBySession  map[string]int `json:"turns_by_session"`
	TurnsByMode     map[string]int `json:"turns_by_mode"`
	AugmentedTurns  int            `json:"augmented_turns"`
	Accepted        int            `json:"accepted"`
	Edited          int            `json:"edited"`
	Rejected        int            `json:"rejected"`
	Aborted         int            `json:"aborted"`
	RewriteFailures int            `json:"rewrite_failures"`
	Summaries       int            `json:"summaries"`
	EventCount      int            `json:"event_count"`
	OldestEvent     *time.Time     `json:"oldest_event,omitempty"`
	NewestEvent     *time.Time     `json:"newest_event,omitempty"`
}

// AcceptanceRate is the share of augmented turns whose suggestion was sent
// unchanged. It is 0 when nothing was augmented.
func (m *Metrics) AcceptanceRate() float64 {
	if m.AugmentedTurns == 0 {
		return 0
	}
	return float64(m.Accepted) / float64(m.AugmentedTurns)
}

// FailureRate is the share of rewrite attempts that fell back to the
// original prompt because the generator failed. Every attempt ends as an
// augmented or an aborted turn.
func (m *Metrics) FailureRate() float64 {
	attempts := max(m.AugmentedTurns+m.Aborted, m.RewriteFailures)
	if attempts == 0 {
		return 0
	}
	return float64(m.RewriteFailures) / float64(attempts)
}

// MetricsCalculator derives metrics from the event log.
type MetricsCalculator interface {
	Calculate(since time.Time) (*Metrics, error)
}

type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a MetricsCalculator that reads from eventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

// Calculate aggregates all events at or after since.
func (mc *metricsCalculator) Calculate(since time.Time) (*Metrics, error) {
	events, err := mc.eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &Metrics{
		TurnsBySession: make(map[string]int),
		TurnsByMode:    make(map[string]int),
		EventCount:     len(events),
	}

	for i, event := range events {
		if i == 0 {
			t := event.Time
			m.OldestEvent = &t
		}
		t := event.Time
		m.NewestEvent = &t

		switch event.Type {
		case "session.started":
			m.SessionsStarted++
		case "session.resumed":
			m.SessionsResumed++
		case "turn.forwarded":
			m.Turns++
			if id := event.SessionID(); id != "" {
				m.TurnsBySession[id]++
			}
			if mode, ok := event.Data["mode"].(string); ok {
				m.TurnsByMode[mode]++
			}
		case "turn.augmented":
			m.AugmentedTurns++
			switch event.Data["decision"] {
			case "accept":
				m.Accepted++
			case "edit":
				m.Edited++
			case "reject":
				m.Rejected++
			}
		case "turn.aborted":
			m.Aborted++
		case "turn.rewrite_failed":
			m.RewriteFailures++
		case "session.summary_written":
			m.Summaries++
		}
	}

	return m, nil
}
