package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/session-intel/internal/core"
	"github.com/valter-silva-au/session-intel/internal/llm"
	"github.com/valter-silva-au/session-intel/internal/storage"
	"github.com/valter-silva-au/session-intel/pkg/models"
)

// fakeRunner answers every prompt with a fixed prefix.
type fakeRunner struct {
	mu      sync.Mutex
	prompts []string
}

func (r *fakeRunner) Run(_ context.Context, _ storage.MemoryHandle, _, prompt string) (models.Reply, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, prompt)
	return models.Reply{Output: "ok: " + prompt}, nil
}

type recordingEvents struct {
	mu    sync.Mutex
	types []string
}

func (e *recordingEvents) LogEvent(eventType string, _ map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.types = append(e.types, eventType)
	return nil
}

func stubGenerator(text string) llm.Client {
	return llm.ClientFunc(func(context.Context, string, string, string) (string, error) {
		return text, nil
	})
}

func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

// withServices points the package-level services at a fresh temp store and
// restores the previous values when the test ends. gen may be nil.
func withServices(t *testing.T, gen llm.Client) (*fakeRunner, *recordingEvents) {
	t.Helper()

	origStore, origSessions, origRewriter := Store, Sessions, Rewriter
	origSummarizer, origPlanner, origRunner, origEvents := Summarizer, Planner, Runner, Events
	origConfig, origSynthesizer := Config, Synthesizer
	t.Cleanup(func() {
		Store, Sessions, Rewriter = origStore, origSessions, origRewriter
		Summarizer, Planner, Runner, Events = origSummarizer, origPlanner, origRunner, origEvents
		Config, Synthesizer = origConfig, origSynthesizer
	})

	runner := &fakeRunner{}
	events := &recordingEvents{}
	Store = storage.NewArtifactStore(filepath.Join(t.TempDir(), "documents"), nil,
		storage.WithSidecar(nil), storage.WithClock(steppingClock()))
	Sessions = core.NewSessionManager(Store, nil, events, nil)
	Rewriter = core.NewRewriter(gen, "m", time.Second, nil)
	Summarizer = core.NewSummarizer(gen, "m", Store, events, nil)
	// Per-turn synthesis is opted into by the tests that exercise it.
	Synthesizer = nil
	Planner = core.NewPlanner(gen, "m", Store, 3)
	Runner = runner
	Events = events
	Config = core.DefaultConfig()
	return runner, events
}

// runCmd invokes cmd's RunE with args and returns what it printed.
func runCmd(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	defer cmd.SetOut(nil)
	err := cmd.RunE(cmd, args)
	return out.String(), err
}

func seed(t *testing.T, sessionID string, kind models.ArtifactKind, content string, meta map[string]any) {
	t.Helper()
	if _, err := Store.Append(sessionID, kind, content, meta); err != nil {
		t.Fatalf("seeding %s: %v", sessionID, err)
	}
}
