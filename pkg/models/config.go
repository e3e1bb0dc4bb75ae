package models

import "time"

// LLMConfig configures the text-generation collaborator.
type LLMConfig struct {
	Provider string        `yaml:"provider" mapstructure:"provider"`
	Model    string        `yaml:"model" mapstructure:"model"`
	APIKey   string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL  string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	JSON  bool   `yaml:"json" mapstructure:"json"`
}

// RecapLimits bounds how much prior context is pulled into a recap.
type RecapLimits struct {
	Summaries   int `yaml:"summaries" mapstructure:"summaries"`
	TurnTail    int `yaml:"turn_tail" mapstructure:"turn_tail"`
	UserQueries int `yaml:"user_queries" mapstructure:"user_queries"`
}

// AlertsConfig sets the quality thresholds evaluated over the event log and
// an optional Slack webhook for notifications.
type AlertsConfig struct {
	MinTurns          int     `yaml:"min_turns" mapstructure:"min_turns"`
	MaxFailureRate    float64 `yaml:"max_failure_rate" mapstructure:"max_failure_rate"`
	MinAcceptanceRate float64 `yaml:"min_acceptance_rate" mapstructure:"min_acceptance_rate"`
	SlackWebhook      string  `yaml:"slack_webhook,omitempty" mapstructure:"slack_webhook"`
}

// Config holds runtime settings read from .sintel.yaml and the environment.
type Config struct {
	DataRoot     string        `yaml:"data_root" mapstructure:"data_root"`
	WorkflowName string        `yaml:"workflow_name" mapstructure:"workflow_name"`
	LLM          LLMConfig     `yaml:"llm" mapstructure:"llm"`
	Logging      LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Recap        RecapLimits   `yaml:"recap" mapstructure:"recap"`
	DigestLimit  int           `yaml:"digest_limit" mapstructure:"digest_limit"`
	Alerts       AlertsConfig  `yaml:"alerts" mapstructure:"alerts"`
}

// HasAPIKey reports whether a credential for the text generator is set.
func (c *Config) HasAPIKey() bool {
	return c != nil && c.LLM.APIKey != ""
}
