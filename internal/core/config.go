// Package core contains the session intelligence business logic: recaps,
// prompt rewriting, diffs, augmented-turn logging, the turn coordinator,
// session lifecycle, summaries and plan previews.
package core

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/valter-silva-au/session-intel/pkg/models"
)

// ConfigFileName is the base name (without extension) of the config file.
const ConfigFileName = ".sintel"

var validProviders = map[string]bool{
	"openai": true,
	"gemini": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ConfigurationManager loads and validates runtime configuration.
type ConfigurationManager interface {
	Load() (*models.Config, error)
	ValidateConfig(cfg *models.Config) error
}

// viperConfigManager reads .sintel.yaml from basePath and overlays SINTEL_*
// environment variables.
type viperConfigManager struct {
	basePath string
}

// NewConfigurationManager creates a ConfigurationManager that reads
// configuration relative to basePath.
func NewConfigurationManager(basePath string) ConfigurationManager {
	return &viperConfigManager{basePath: basePath}
}

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() *models.Config {
	return &models.Config{
		DataRoot:     "documents",
		WorkflowName: "session-intel",
		LLM: models.LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			Timeout:  60 * time.Second,
		},
		Logging: models.LoggingConfig{Level: "info"},
		Recap: models.RecapLimits{
			Summaries:   3,
			TurnTail:    8,
			UserQueries: 5,
		},
		DigestLimit: 3,
		Alerts: models.AlertsConfig{
			MinTurns:          5,
			MaxFailureRate:    0.5,
			MinAcceptanceRate: 0.2,
		},
	}
}

// Load reads the config file if present. A missing file is not an error:
// defaults and environment overrides still apply.
func (cm *viperConfigManager) Load() (*models.Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)
	v.SetEnvPrefix("SINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("data_root", cfg.DataRoot)
	v.SetDefault("workflow_name", cfg.WorkflowName)
	v.SetDefault("llm.provider", cfg.LLM.Provider)
	v.SetDefault("llm.model", cfg.LLM.Model)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.timeout", cfg.LLM.Timeout)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.json", cfg.Logging.JSON)
	v.SetDefault("recap.summaries", cfg.Recap.Summaries)
	v.SetDefault("recap.turn_tail", cfg.Recap.TurnTail)
	v.SetDefault("recap.user_queries", cfg.Recap.UserQueries)
	v.SetDefault("digest_limit", cfg.DigestLimit)
	v.SetDefault("alerts.min_turns", cfg.Alerts.MinTurns)
	v.SetDefault("alerts.max_failure_rate", cfg.Alerts.MaxFailureRate)
	v.SetDefault("alerts.min_acceptance_rate", cfg.Alerts.MinAcceptanceRate)
	v.SetDefault("alerts.slack_webhook", "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading %s.yaml: %w", ConfigFileName, err)
		}
	}

	cfg.DataRoot = v.GetString("data_root")
	cfg.WorkflowName = v.GetString("workflow_name")
	cfg.LLM.Provider = strings.ToLower(v.GetString("llm.provider"))
	cfg.LLM.Model = v.GetString("llm.model")
	cfg.LLM.APIKey = v.GetString("llm.api_key")
	cfg.LLM.BaseURL = v.GetString("llm.base_url")
	cfg.LLM.Timeout = v.GetDuration("llm.timeout")
	cfg.Logging.Level = strings.ToLower(v.GetString("logging.level"))
	cfg.Logging.JSON = v.GetBool("logging.json")
	cfg.Recap.Summaries = v.GetInt("recap.summaries")
	cfg.Recap.TurnTail = v.GetInt("recap.turn_tail")
	cfg.Recap.UserQueries = v.GetInt("recap.user_queries")
	cfg.DigestLimit = v.GetInt("digest_limit")
	cfg.Alerts.MinTurns = v.GetInt("alerts.min_turns")
	cfg.Alerts.MaxFailureRate = v.GetFloat64("alerts.max_failure_rate")
	cfg.Alerts.MinAcceptanceRate = v.GetFloat64("alerts.min_acceptance_rate")
	cfg.Alerts.SlackWebhook = v.GetString("alerts.slack_webhook")

	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = providerAPIKey(cfg.LLM.Provider)
	}

	return cfg, nil
}

// providerAPIKey falls back to the provider's conventional environment
// variable.
func providerAPIKey(provider string) string {
	switch provider {
	case "gemini":
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_API_KEY")
	default:
		return os.Getenv("OPENAI_API_KEY")
	}
}

// ValidateConfig reports every invalid value in a single error.
func (cm *viperConfigManager) ValidateConfig(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var errs []string

	if strings.TrimSpace(cfg.DataRoot) == "" {
		errs = append(errs, "data_root must not be empty")
	}
	if !validProviders[cfg.LLM.Provider] {
		errs = append(errs, fmt.Sprintf("llm.provider %q is invalid, must be one of: openai, gemini", cfg.LLM.Provider))
	}
	if cfg.LLM.Timeout <= 0 {
		errs = append(errs, fmt.Sprintf("llm.timeout must be positive, got %s", cfg.LLM.Timeout))
	}
	if !validLogLevels[cfg.Logging.Level] {
		errs = append(errs, fmt.Sprintf("logging.level %q is invalid, must be one of: debug, info, warn, error", cfg.Logging.Level))
	}
	if cfg.Recap.Summaries < 0 || cfg.Recap.TurnTail < 0 || cfg.Recap.UserQueries < 0 {
		errs = append(errs, "recap limits must be non-negative")
	}
	if cfg.DigestLimit < 1 {
		errs = append(errs, fmt.Sprintf("digest_limit must be at least 1, got %d", cfg.DigestLimit))
	}
	if cfg.Alerts.MinTurns < 1 {
		errs = append(errs, fmt.Sprintf("alerts.min_turns must be at least 1, got %d", cfg.Alerts.MinTurns))
	}
	if r := cfg.Alerts.MaxFailureRate; r < 0 || r > 1 {
		errs = append(errs, fmt.Sprintf("alerts.max_failure_rate must be between 0 and 1, got %g", r))
	}
	if r := cfg.Alerts.MinAcceptanceRate; r < 0 || r > 1 {
		errs = append(errs, fmt.Sprintf("alerts.min_acceptance_rate must be between 0 and 1, got %g", r))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
