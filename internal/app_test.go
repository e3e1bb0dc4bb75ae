package internal

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/valter-silva-au/session-intel/internal/cli"
	"github.com/valter-silva-au/session-intel/internal/core"
	"github.com/valter-silva-au/session-intel/internal/observability"
	"github.com/valter-silva-au/session-intel/internal/storage"
	"github.com/valter-silva-au/session-intel/pkg/models"
)

// clearEnv keeps the developer's own configuration out of NewApp.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"SINTEL_HOME", "SINTEL_DATA_ROOT", "SINTEL_LLM_API_KEY", "SINTEL_LLM_PROVIDER",
		"OPENAI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"} {
		t.Setenv(key, "")
	}
}

func newTestApp(t *testing.T, dir string) *App {
	t.Helper()
	app, err := NewApp(dir)
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func TestResolveBasePath_HomeSet(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("SINTEL_HOME", tmpDir)

	got := ResolveBasePath()
	if got != tmpDir {
		t.Errorf("ResolveBasePath() = %q, want %q", got, tmpDir)
	}
}

func TestResolveBasePath_FindsConfigFile(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "sub", "nested")
	if err := os.MkdirAll(subDir, 0o755); err != nil {
		t.Fatal(err)
	}

	configPath := filepath.Join(tmpDir, ".sintel.yaml")
	if err := os.WriteFile(configPath, []byte("data_root: documents\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Chdir(subDir)

	got := ResolveBasePath()
	if got != tmpDir {
		t.Errorf("ResolveBasePath() = %q, want %q (should find .sintel.yaml in parent)", got, tmpDir)
	}
}

func TestResolveBasePath_FallbackToCwd(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)

	got := ResolveBasePath()
	if got != tmpDir {
		t.Errorf("ResolveBasePath() = %q, want %q (should fall back to cwd)", got, tmpDir)
	}
}

func TestNewApp_Success(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()
	app := newTestApp(t, tmpDir)

	if app.BasePath != tmpDir {
		t.Errorf("app.BasePath = %q, want %q", app.BasePath, tmpDir)
	}
	if app.DataRoot != filepath.Join(tmpDir, "documents") {
		t.Errorf("app.DataRoot = %q", app.DataRoot)
	}
	if app.Store == nil || app.Sessions == nil || app.Rewriter == nil || app.Planner == nil || app.Synthesizer == nil {
		t.Error("core services are not wired")
	}
	if app.EventLog == nil || app.MetricsCalc == nil || app.AlertEngine == nil {
		t.Error("observability is not wired")
	}
	if app.Memory == nil {
		t.Error("conversational memory should open under the data root")
	}
	if app.Generator != nil {
		t.Error("no generator should be built without an API key")
	}
	if app.Synthesizer.Enabled() {
		t.Error("learning synthesis should be disabled without a generator")
	}
	if app.Notifier != nil {
		t.Error("no notifier should be built without a webhook")
	}
	if _, err := os.Stat(filepath.Join(app.DataRoot, storage.MemoryFile)); err != nil {
		t.Errorf("memory database not created: %v", err)
	}

	// The CLI layer sees the same instances.
	if cli.Store != app.Store || cli.Sessions != app.Sessions || cli.Planner != app.Planner {
		t.Error("cli package variables not wired to the app")
	}
	if cli.LogLevel == nil || cli.LogLevel.Level() != zapcore.InfoLevel {
		t.Error("cli.LogLevel should expose the app's info level")
	}
}

func TestNewApp_ConfigFile(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()
	dataRoot := filepath.Join(t.TempDir(), "data")
	config := "data_root: " + dataRoot + "\n" +
		"logging:\n  level: debug\n  json: true\n" +
		"alerts:\n  min_turns: 2\n  slack_webhook: https://hooks.slack.invalid/services/T/B/X\n"
	if err := os.WriteFile(filepath.Join(tmpDir, ".sintel.yaml"), []byte(config), 0o644); err != nil {
		t.Fatal(err)
	}

	app := newTestApp(t, tmpDir)
	if app.DataRoot != dataRoot {
		t.Errorf("absolute data_root should be used as is, got %q", app.DataRoot)
	}
	if app.LogLevel.Level() != zapcore.DebugLevel {
		t.Errorf("log level = %s, want debug", app.LogLevel.Level())
	}
	if app.Notifier == nil {
		t.Error("expected a Slack notifier when a webhook is configured")
	}
	if _, err := os.Stat(filepath.Join(dataRoot, observability.EventsFile)); err != nil {
		t.Errorf("event log not created under the data root: %v", err)
	}
}

func TestNewApp_APIKeyEnablesGenerator(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	app := newTestApp(t, t.TempDir())
	if !app.Config.HasAPIKey() {
		t.Fatal("expected the provider key to be picked up")
	}
	if app.Generator == nil {
		t.Error("expected a generator when an API key is configured")
	}
	if !app.Rewriter.Enabled() || !app.Synthesizer.Enabled() {
		t.Error("rewriter and synthesizer should use the generator")
	}
}

func TestNewApp_InvalidConfig(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()
	config := "llm:\n  provider: bogus\ndigest_limit: 0\n"
	if err := os.WriteFile(filepath.Join(tmpDir, ".sintel.yaml"), []byte(config), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := NewApp(tmpDir)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"config validation failed", "llm.provider", "digest_limit"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err, want)
		}
	}
}

func TestNewApp_FirstPassTurnIsObserved(t *testing.T) {
	clearEnv(t)
	app := newTestApp(t, t.TempDir())

	handle, err := app.Sessions.CreateOrResume("s1")
	if err != nil {
		t.Fatal(err)
	}
	coord, err := core.NewCoordinator(core.CoordinatorConfig{
		Session:     handle,
		Store:       app.Store,
		Rewriter:    app.Rewriter,
		Runner:      app.Agent,
		Summarizer:  app.Summarizer,
		Synthesizer: app.Synthesizer,
		Events:      cli.Events,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	outcome, err := coord.Commit(ctx, coord.Prepare(ctx, "hello"), core.Decision{Kind: core.DecisionAccept})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	// Without a generator the agent fails and the failure becomes the reply.
	if !strings.HasPrefix(outcome.Reply.Output, "[Error calling agent:") {
		t.Errorf("reply = %q", outcome.Reply.Output)
	}

	summary, err := coord.Finalize(ctx)
	if err != nil || summary != "" {
		t.Errorf("Finalize() = %q, %v; want no summary without a generator", summary, err)
	}

	m, err := app.MetricsCalc.Calculate(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if m.SessionsStarted != 1 || m.Turns != 1 || m.TurnsByMode[string(models.ModeFirstPass)] != 1 {
		t.Errorf("unexpected metrics %+v", m)
	}

	entries, err := app.Store.List("s1", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("expected user action and agent output, got %d entries", len(entries))
	}
}

func TestApp_CloseNilComponents(t *testing.T) {
	app := &App{}
	if err := app.Close(); err != nil {
		t.Errorf("Close() on empty app = %v", err)
	}
}
