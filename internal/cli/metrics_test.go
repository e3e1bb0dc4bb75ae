package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/session-intel/internal/observability"
)

// --- parseSinceDuration unit tests ---

func TestParseSinceDuration(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		errMsg  string
	}{
		{"empty defaults to 7d", "", false, ""},
		{"whitespace defaults to 7d", "  ", false, ""},
		{"valid 7d", "7d", false, ""},
		{"valid 30d", "30d", false, ""},
		{"valid 24h", "24h", false, ""},
		{"valid 1h", "1h", false, ""},
		{"invalid suffix", "abc", true, "unsupported duration format"},
		{"invalid day number", "xd", true, "invalid day duration"},
		{"invalid hour number", "yh", true, "invalid hour duration"},
		{"negative day is still valid", "-5d", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSinceDuration(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("error %q should contain %q", err.Error(), tt.errMsg)
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}
		})
	}
}

// --- metricsCmd tests ---

type metricsMock struct {
	calcFn func(since time.Time) (*observability.Metrics, error)
}

func (m *metricsMock) Calculate(since time.Time) (*observability.Metrics, error) {
	return m.calcFn(since)
}

func TestMetricsCmd_NilCalculator(t *testing.T) {
	orig := MetricsCalc
	defer func() { MetricsCalc = orig }()
	MetricsCalc = nil

	err := metricsCmd.RunE(metricsCmd, []string{})
	if err == nil {
		t.Fatal("expected error when MetricsCalc is nil")
	}
	if !strings.Contains(err.Error(), "not initialized") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMetricsCmd_InvalidSinceFormat(t *testing.T) {
	orig := MetricsCalc
	origSince := metricsSince
	defer func() {
		MetricsCalc = orig
		metricsSince = origSince
	}()

	MetricsCalc = &metricsMock{
		calcFn: func(since time.Time) (*observability.Metrics, error) {
			return &observability.Metrics{}, nil
		},
	}

	tests := []struct {
		name   string
		since  string
		errMsg string
	}{
		{"invalid suffix", "abc", "unsupported duration format"},
		{"invalid day number", "xd", "invalid day duration"},
		{"invalid hour number", "yh", "invalid hour duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metricsSince = tt.since
			err := metricsCmd.RunE(metricsCmd, []string{})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error %q should contain %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestMetricsCmd_Success_TableFormat(t *testing.T) {
	orig := MetricsCalc
	origSince := metricsSince
	origJSON := metricsJSON
	defer func() {
		MetricsCalc = orig
		metricsSince = origSince
		metricsJSON = origJSON
	}()

	metricsSince = "7d"
	metricsJSON = false

	MetricsCalc = &metricsMock{
		calcFn: func(since time.Time) (*observability.Metrics, error) {
			return &observability.Metrics{
				SessionsStarted: 2,
				Turns:           8,
				AugmentedTurns:  4,
				Accepted:        3,
				Rejected:        1,
				EventCount:      42,
				TurnsByMode:     map[string]int{"learn": 4, "first_pass": 4},
				TurnsBySession:  map[string]int{"s2": 5, "s1": 3},
			}, nil
		},
	}

	out, err := runCmd(t, metricsCmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"Sessions started:", "Acceptance rate:", "75%", "first_pass:", "learn:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "s1:") > strings.Index(out, "s2:") {
		t.Errorf("sessions should be listed in sorted order:\n%s", out)
	}
}

func TestMetricsCmd_Success_JSONFormat(t *testing.T) {
	orig := MetricsCalc
	origSince := metricsSince
	origJSON := metricsJSON
	defer func() {
		MetricsCalc = orig
		metricsSince = origSince
		metricsJSON = origJSON
	}()

	metricsSince = "7d"
	metricsJSON = true

	MetricsCalc = &metricsMock{
		calcFn: func(since time.Time) (*observability.Metrics, error) {
			return &observability.Metrics{
				AugmentedTurns:  4,
				Accepted:        1,
				RewriteFailures: 1,
				EventCount:      10,
			}, nil
		},
	}

	out, err := runCmd(t, metricsCmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if got["event_count"] != float64(10) || got["acceptance_rate"] != 0.25 {
		t.Errorf("unexpected JSON: %v", got)
	}
	if got["failure_rate"] != 0.25 {
		t.Errorf("failure_rate = %v, want 0.25", got["failure_rate"])
	}
}

func TestMetricsCmd_CalculateError(t *testing.T) {
	orig := MetricsCalc
	origSince := metricsSince
	defer func() {
		MetricsCalc = orig
		metricsSince = origSince
	}()

	metricsSince = "7d"

	MetricsCalc = &metricsMock{
		calcFn: func(since time.Time) (*observability.Metrics, error) {
			return nil, fmt.Errorf("event log corrupted")
		},
	}

	err := metricsCmd.RunE(metricsCmd, []string{})
	if err == nil {
		t.Fatal("expected error from Calculate")
	}
	if !strings.Contains(err.Error(), "calculating metrics") {
		t.Errorf("unexpected error: %v", err)
	}
}
