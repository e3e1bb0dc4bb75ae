// Package llm provides the text-generation collaborators used to rewrite
// prompts, summarize sessions and answer turns.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/valter-silva-au/session-intel/pkg/models"
)

// Client completes a single system + user exchange.
type Client interface {
	Complete(ctx context.Context, system, user, model string) (string, error)
}

// ClientFunc adapts a plain function to the Client interface.
type ClientFunc func(ctx context.Context, system, user, model string) (string, error)

func (f ClientFunc) Complete(ctx context.Context, system, user, model string) (string, error) {
	return f(ctx, system, user, model)
}

// New builds the client selected by cfg.Provider. It returns a nil client and
// nil error when no API key is configured so callers can take the skip path.
func New(cfg models.LLMConfig) (Client, error) {
	if cfg.APIKey == "" {
		return nil, nil
	}
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOpenAI:
		return NewOpenAIClient(cfg), nil
	case ProviderGemini:
		return NewGeminiClient(context.Background(), cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)
