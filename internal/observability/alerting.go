package observability

import (
	"fmt"
	"slices"
	"time"
)

// AlertSeverity represents the urgency of an alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// Alert represents a triggered alert condition.
type Alert struct {
	ID          string        `json:"id"`
	Condition   string        `json:"condition"`
	Severity    AlertSeverity `json:"severity"`
	Message     string        `json:"message"`
	TriggeredAt time.Time     `json:"triggered_at"`
}

// AlertThresholds configures when alerts fire. Rate conditions need at least
// MinTurns observations before they are evaluated.
type AlertThresholds struct {
	MinTurns          int
	MaxFailureRate    float64
	MinAcceptanceRate float64
}

// DefaultAlertThresholds returns the thresholds used when none are configured.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		MinTurns:          5,
		MaxFailureRate:    0.5,
		MinAcceptanceRate: 0.2,
	}
}

// AlertEngine evaluates alert conditions against the event log.
type AlertEngine interface {
	Evaluate(since time.Time) ([]Alert, error)
}

type alertEngine struct {
	eventLog   EventLog
	thresholds AlertThresholds
	now        func() time.Time
}

// NewAlertEngine creates an AlertEngine over eventLog.
func NewAlertEngine(eventLog EventLog, thresholds AlertThresholds) AlertEngine {
	return &alertEngine{
		eventLog:   eventLog,
		thresholds: thresholds,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate checks every condition over the events at or after since.
func (ae *alertEngine) Evaluate(since time.Time) ([]Alert, error) {
	now := ae.now()
	m, err := NewMetricsCalculator(ae.eventLog).Calculate(since)
	if err != nil {
		return nil, fmt.Errorf("evaluating alerts: %w", err)
	}

	var alerts []Alert
	alerts = append(alerts, ae.checkFailureRate(m, now)...)
	alerts = append(alerts, ae.checkAcceptanceRate(m, now)...)

	missing, err := ae.checkMissingSummaries(since, now)
	if err != nil {
		return nil, fmt.Errorf("checking session summaries: %w", err)
	}
	alerts = append(alerts, missing...)

	return alerts, nil
}

// checkFailureRate fires when the generator fails on too many rewrites.
func (ae *alertEngine) checkFailureRate(m *Metrics, now time.Time) []Alert {
	attempts := max(m.AugmentedTurns+m.Aborted, m.RewriteFailures)
	if attempts < ae.thresholds.MinTurns || m.FailureRate() <= ae.thresholds.MaxFailureRate {
		return nil
	}
	return []Alert{{
		ID:        "rewrite-failures",
		Condition: "rewrite_failures_high",
		Severity:  SeverityHigh,
		Message: fmt.Sprintf("%d of %d prompt rewrites failed (%.0f%%, limit %.0f%%)",
			m.RewriteFailures, attempts, m.FailureRate()*100, ae.thresholds.MaxFailureRate*100),
		TriggeredAt: now,
	}}
}

// checkAcceptanceRate fires when humans keep declining the suggestions.
func (ae *alertEngine) checkAcceptanceRate(m *Metrics, now time.Time) []Alert {
	if m.AugmentedTurns < ae.thresholds.MinTurns || m.AcceptanceRate() >= ae.thresholds.MinAcceptanceRate {
		return nil
	}
	return []Alert{{
		ID:        "acceptance-low",
		Condition: "acceptance_low",
		Severity:  SeverityMedium,
		Message: fmt.Sprintf("only %d of %d augmented prompts were accepted (%.0f%%, minimum %.0f%%)",
			m.Accepted, m.AugmentedTurns, m.AcceptanceRate()*100, ae.thresholds.MinAcceptanceRate*100),
		TriggeredAt: now,
	}}
}

// checkMissingSummaries reports finalized sessions with at least MinTurns
// turns that never produced a summary.
func (ae *alertEngine) checkMissingSummaries(since, now time.Time) ([]Alert, error) {
	events, err := ae.eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, err
	}

	turns := make(map[string]int)
	summarized := make(map[string]bool)
	finalized := make(map[string]bool)
	for _, event := range events {
		id := event.SessionID()
		if id == "" {
			continue
		}
		switch event.Type {
		case "turn.forwarded":
			turns[id]++
		case "session.summary_written":
			summarized[id] = true
		case "session.finalized":
			finalized[id] = true
		}
	}

	var ids []string
	for id := range finalized {
		if !summarized[id] && turns[id] >= ae.thresholds.MinTurns {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	alerts := make([]Alert, 0, len(ids))
	for _, id := range ids {
		alerts = append(alerts, Alert{
			ID:          fmt.Sprintf("summary-%s", id),
			Condition:   "summary_missing",
			Severity:    SeverityLow,
			Message:     fmt.Sprintf("session %s ended after %d turns without a summary", id, turns[id]),
			TriggeredAt: now,
		})
	}
	return alerts, nil
}
