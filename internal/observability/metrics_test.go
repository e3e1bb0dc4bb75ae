package observability

import (
	"math"
	"testing"
	"time"
)

func turnEvent(ts time.Time, eventType, session string, data map[string]any) Event {
	d := map[string]any{"session_id": session}
	for k, v := range data {
		d[k] = v
	}
	return Event{Time: ts, Level: LevelFor(eventType), Type: eventType, Message: eventType, Data: d}
}

func TestMetricsCalculator_Calculate(t *testing.T) {
	log, _ := newTestLog(t)

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	mustWrite(t, log,
		turnEvent(base, "session.started", "a", nil),
		turnEvent(base.Add(1*time.Minute), "turn.augmented", "a", map[string]any{"decision": "accept"}),
		turnEvent(base.Add(2*time.Minute), "turn.forwarded", "a", map[string]any{"mode": "learn"}),
		turnEvent(base.Add(3*time.Minute), "turn.rewrite_failed", "a", nil),
		turnEvent(base.Add(4*time.Minute), "turn.augmented", "a", map[string]any{"decision": "reject"}),
		turnEvent(base.Add(5*time.Minute), "turn.forwarded", "a", map[string]any{"mode": "learn"}),
		turnEvent(base.Add(6*time.Minute), "session.summary_written", "a", nil),
		turnEvent(base.Add(7*time.Minute), "session.resumed", "b", nil),
		turnEvent(base.Add(8*time.Minute), "turn.forwarded", "b", map[string]any{"mode": "first-pass"}),
		turnEvent(base.Add(9*time.Minute), "turn.augmented", "b", map[string]any{"decision": "edit"}),
		turnEvent(base.Add(10*time.Minute), "turn.aborted", "b", nil),
	)

	m, err := NewMetricsCalculator(log).Calculate(base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("calculating metrics: %v", err)
	}

	checks := []struct {
		name      string
		got, want int
	}{
		{"sessions started", m.SessionsStarted, 1},
		{"sessions resumed", m.SessionsResumed, 1},
		{"turns", m.Turns, 3},
		{"augmented", m.AugmentedTurns, 3},
		{"accepted", m.Accepted, 1},
		{"edited", m.Edited, 1},
		{"rejected", m.Rejected, 1},
		{"aborted", m.Aborted, 1},
		{"rewrite failures", m.RewriteFailures, 1},
		{"summaries", m.Summaries, 1},
		{"events", m.EventCount, 11},
		{"turns in a", m.TurnsBySession["a"], 2},
		{"learn turns", m.TurnsByMode["learn"], 2},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}

	if got := m.AcceptanceRate(); math.Abs(got-1.0/3) > 1e-9 {
		t.Errorf("AcceptanceRate = %v, want 1/3", got)
	}
	if got := m.FailureRate(); got != 0.25 {
		t.Errorf("FailureRate = %v, want 0.25", got)
	}
	if m.OldestEvent == nil || !m.OldestEvent.Equal(base) {
		t.Errorf("expected oldest event at %v, got %v", base, m.OldestEvent)
	}
	if want := base.Add(10 * time.Minute); m.NewestEvent == nil || !m.NewestEvent.Equal(want) {
		t.Errorf("expected newest event at %v, got %v", want, m.NewestEvent)
	}
}

func TestMetricsCalculator_EmptyLog(t *testing.T) {
	log, _ := newTestLog(t)

	m, err := NewMetricsCalculator(log).Calculate(time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("calculating metrics: %v", err)
	}
	if m.EventCount != 0 || m.Turns != 0 {
		t.Errorf("expected zero metrics, got %+v", m)
	}
	if m.OldestEvent != nil {
		t.Errorf("expected nil oldest event, got %v", m.OldestEvent)
	}
	if m.AcceptanceRate() != 0 || m.FailureRate() != 0 {
		t.Error("expected zero rates without turns")
	}
}

func TestMetricsCalculator_FiltersBySince(t *testing.T) {
	log, _ := newTestLog(t)

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	mustWrite(t, log,
		turnEvent(base, "turn.forwarded", "old", nil),
		turnEvent(base.Add(48*time.Hour), "turn.forwarded", "new", nil),
	)

	m, err := NewMetricsCalculator(log).Calculate(base.Add(24 * time.Hour))
	if err != nil {
		t.Fatalf("calculating metrics: %v", err)
	}
	if m.Turns != 1 || m.TurnsBySession["new"] != 1 {
		t.Errorf("expected only the newer turn, got %+v", m)
	}
}
