// Package internal provides the App struct that wires all components of the
// Session Intel system together and initializes the CLI layer.
package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/valter-silva-au/session-intel/internal/agent"
	"github.com/valter-silva-au/session-intel/internal/cli"
	"github.com/valter-silva-au/session-intel/internal/core"
	"github.com/valter-silva-au/session-intel/internal/llm"
	"github.com/valter-silva-au/session-intel/internal/observability"
	"github.com/valter-silva-au/session-intel/internal/storage"
	"github.com/valter-silva-au/session-intel/pkg/models"
)

// App holds all service dependencies for the Session Intel system.
type App struct {
	BasePath string
	DataRoot string

	// Configuration
	ConfigMgr core.ConfigurationManager
	Config    *models.Config

	// Logging
	Logger   *zap.Logger
	LogLevel zap.AtomicLevel

	// Storage layer
	Store  storage.ArtifactStore
	Memory storage.MemoryStore

	// Text generation and the conversational step. Generator is nil when
	// no API key is configured.
	Generator llm.Client
	Agent     *agent.TaskAgent

	// Core services
	Sessions    *core.SessionManager
	Rewriter    *core.Rewriter
	Summarizer  *core.Summarizer
	Synthesizer *core.Synthesizer
	Planner     *core.Planner

	// Observability
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
}

// NewApp creates and wires all components of the Session Intel system.
// basePath is the directory holding .sintel.yaml; relative data roots are
// resolved against it.
func NewApp(basePath string) (*App, error) {
	app := &App{BasePath: basePath}

	// --- Configuration ---
	app.ConfigMgr = core.NewConfigurationManager(basePath)
	cfg, err := app.ConfigMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := app.ConfigMgr.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	app.Config = cfg

	// --- Logging ---
	app.Logger, app.LogLevel, err = newLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	app.DataRoot = cfg.DataRoot
	if !filepath.IsAbs(app.DataRoot) {
		app.DataRoot = filepath.Join(basePath, app.DataRoot)
	}
	if err := os.MkdirAll(app.DataRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating data root: %w", err)
	}

	// --- Storage layer ---
	app.Store = storage.NewArtifactStore(app.DataRoot, app.Logger)

	// Memory is optional: without it the agent runs without history.
	app.Memory, err = storage.NewMemoryStore(filepath.Join(app.DataRoot, storage.MemoryFile))
	if err != nil {
		app.Logger.Warn("conversational memory disabled", zap.Error(err))
		app.Memory = nil
	}

	// --- Text generation ---
	// Without a generator the rewriter takes its "Augmentation skipped" path.
	if cfg.HasAPIKey() {
		app.Generator, err = llm.New(cfg.LLM)
		if err != nil {
			app.Logger.Warn("text generator disabled", zap.String("provider", cfg.LLM.Provider), zap.Error(err))
			app.Generator = nil
		}
	} else {
		app.Logger.Debug("no API key configured; prompt augmentation is skipped")
	}

	// --- Observability ---
	// Non-fatal: if the event log cannot be created, observability is disabled.
	app.EventLog, err = observability.NewJSONLEventLog(filepath.Join(app.DataRoot, observability.EventsFile))
	if err != nil {
		app.Logger.Warn("event log disabled", zap.Error(err))
		app.EventLog = nil
	}
	if app.EventLog != nil {
		thresholds := observability.DefaultAlertThresholds()
		if cfg.Alerts.MinTurns > 0 {
			thresholds.MinTurns = cfg.Alerts.MinTurns
		}
		if cfg.Alerts.MaxFailureRate > 0 {
			thresholds.MaxFailureRate = cfg.Alerts.MaxFailureRate
		}
		if cfg.Alerts.MinAcceptanceRate > 0 {
			thresholds.MinAcceptanceRate = cfg.Alerts.MinAcceptanceRate
		}
		app.AlertEngine = observability.NewAlertEngine(app.EventLog, thresholds)
		app.MetricsCalc = observability.NewMetricsCalculator(app.EventLog)
	}
	if cfg.Alerts.SlackWebhook != "" {
		app.Notifier = observability.NewSlackNotifier(cfg.Alerts.SlackWebhook, cfg.WorkflowName)
	}

	var events core.EventLogger
	if app.EventLog != nil {
		events = &eventLogAdapter{log: app.EventLog}
	}

	// --- Core services ---
	app.Agent = agent.New(app.Generator, cfg.LLM.Model, app.Logger.Named("agent"))
	app.Sessions = core.NewSessionManager(app.Store, app.Memory, events, app.Logger.Named("sessions"))
	app.Rewriter = core.NewRewriter(app.Generator, cfg.LLM.Model, cfg.LLM.Timeout, app.Logger.Named("rewriter"))
	app.Summarizer = core.NewSummarizer(app.Generator, cfg.LLM.Model, app.Store, events, app.Logger.Named("summarizer"))
	app.Synthesizer = core.NewSynthesizer(app.Generator, cfg.LLM.Model, app.Store, events, app.Logger.Named("synthesizer"))
	app.Planner = core.NewPlanner(app.Generator, cfg.LLM.Model, app.Store, cfg.DigestLimit)

	// --- Wire CLI package-level variables ---
	cli.BasePath = basePath
	cli.Config = cfg
	cli.Logger = app.Logger
	cli.LogLevel = &app.LogLevel
	cli.Store = app.Store
	cli.Sessions = app.Sessions
	cli.Rewriter = app.Rewriter
	cli.Summarizer = app.Summarizer
	cli.Synthesizer = app.Synthesizer
	cli.Planner = app.Planner
	cli.Runner = app.Agent
	cli.Events = events
	cli.EventLog = app.EventLog
	cli.AlertEngine = app.AlertEngine
	cli.MetricsCalc = app.MetricsCalc
	cli.Notifier = app.Notifier

	app.Logger.Debug("app initialized",
		zap.String("base_path", basePath),
		zap.String("data_root", app.DataRoot),
		zap.Bool("generator", app.Generator != nil),
		zap.Bool("memory", app.Memory != nil),
		zap.Bool("event_log", app.EventLog != nil))
	return app, nil
}

// newLogger builds the process logger. The returned level can be raised
// after construction.
func newLogger(cfg models.LoggingConfig) (*zap.Logger, zap.AtomicLevel, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	atom := zap.NewAtomicLevelAt(level)

	config := zap.NewProductionConfig()
	config.Level = atom
	config.Sampling = nil
	config.OutputPaths = []string{"stderr"}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if !cfg.JSON {
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	logger, err := config.Build()
	if err != nil {
		return nil, atom, err
	}
	return logger, atom, nil
}

// Close releases resources held by the App: the memory database, the event
// log file handle and buffered log output. It is safe to call Close on an
// App whose optional components are nil.
func (a *App) Close() error {
	var firstErr error
	if a.Memory != nil {
		if err := a.Memory.Close(); err != nil {
			firstErr = fmt.Errorf("closing memory store: %w", err)
		}
	}
	if a.EventLog != nil {
		if err := a.EventLog.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing event log: %w", err)
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return firstErr
}

// ResolveBasePath determines the directory holding the configuration.
// It checks SINTEL_HOME first, then walks up from the current directory
// looking for .sintel.yaml, and falls back to the current directory.
func ResolveBasePath() string {
	if home := os.Getenv("SINTEL_HOME"); home != "" {
		return home
	}

	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	cwd := dir

	// Walk up to find a directory containing .sintel.yaml.
	for {
		if _, err := os.Stat(filepath.Join(dir, core.ConfigFileName+".yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return cwd
}

// eventLogAdapter adapts observability.EventLog to core.EventLogger.
type eventLogAdapter struct {
	log observability.EventLog
}

func (a *eventLogAdapter) LogEvent(eventType string, data map[string]any) error {
	return a.log.Write(observability.Event{
		Time:    time.Now().UTC(),
		Level:   observability.LevelFor(eventType),
		Type:    eventType,
		Message: eventType,
		Data:    data,
	})
}
