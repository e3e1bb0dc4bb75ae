package cli

import (
	"go.uber.org/zap"

	"github.com/valter-silva-au/session-intel/internal/core"
	"github.com/valter-silva-au/session-intel/internal/observability"
	"github.com/valter-silva-au/session-intel/internal/storage"
	"github.com/valter-silva-au/session-intel/pkg/models"
)

// Service instances, set during app initialization in app.go.
var (
	BasePath string
	Config   *models.Config
	Logger   *zap.Logger
	// LogLevel is raised to debug by --verbose. It is nil when the logger
	// was not built by the app.
	LogLevel *zap.AtomicLevel

	Store       storage.ArtifactStore
	Sessions    *core.SessionManager
	Rewriter    *core.Rewriter
	Summarizer  *core.Summarizer
	Synthesizer *core.Synthesizer
	Planner     *core.Planner
	Runner      core.TaskRunner
	Events      core.EventLogger
)

// Observability service instances, set during app initialization in app.go.
var (
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
)

func logger() *zap.Logger {
	if Logger == nil {
		return zap.NewNop()
	}
	return Logger
}

func recapLimits() models.RecapLimits {
	if Config == nil {
		return models.RecapLimits{}
	}
	return Config.Recap
}

func digestLimit() int {
	if Config == nil || Config.DigestLimit <= 0 {
		return 3
	}
	return Config.DigestLimit
}
