// Package agent implements the task agent: the conversational step that
// answers a forwarded prompt with replayed session memory.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/valter-silva-au/session-intel/internal/llm"
	"github.com/valter-silva-au/session-intel/internal/storage"
	"github.com/valter-silva-au/session-intel/pkg/models"
)

// DefaultHistory is how many prior messages are replayed into each request.
const DefaultHistory = 20

const baseInstructions = "You are the Task Agent. Work with human users on software and learning tasks. " +
	"Explain your reasoning and finish with a 'Next steps' section tailored to the user. " +
	"Keep tone collaborative and precise."

// ErrNoClient is returned when the agent has no text generator to call.
var ErrNoClient = errors.New("task agent: no text generator configured")

// TaskAgent answers prompts using an llm.Client and a session's memory.
type TaskAgent struct {
	gen     llm.Client
	model   string
	history int
	logger  *zap.Logger
}

// New creates a TaskAgent.
func New(gen llm.Client, model string, logger *zap.Logger) *TaskAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskAgent{gen: gen, model: model, history: DefaultHistory, logger: logger}
}

// Run sends prompt with the replayed history and records both sides of the
// exchange in mem. mem may be nil for stateless calls.
func (a *TaskAgent) Run(ctx context.Context, mem storage.MemoryHandle, instructions, prompt string) (models.Reply, error) {
	if a.gen == nil {
		return models.Reply{}, ErrNoClient
	}

	var history []models.Message
	if mem != nil {
		var err error
		history, err = mem.Replay(ctx, a.history)
		if err != nil {
			return models.Reply{}, fmt.Errorf("replaying session memory: %w", err)
		}
	}

	system := baseInstructions
	if strings.TrimSpace(instructions) != "" {
		system = instructions + "\n\n" + baseInstructions
	}
	user := composeUserMessage(history, prompt)

	out, err := a.gen.Complete(ctx, system, user, a.model)
	if err != nil {
		return models.Reply{}, fmt.Errorf("task agent: %w", err)
	}
	out = strings.TrimSpace(out)

	if mem != nil {
		if _, err := mem.Append(ctx, "user", prompt); err != nil {
			return models.Reply{}, fmt.Errorf("storing user message: %w", err)
		}
		if _, err := mem.Append(ctx, "assistant", out); err != nil {
			return models.Reply{}, fmt.Errorf("storing assistant message: %w", err)
		}
	}

	a.logger.Debug("task agent replied",
		zap.Int("history", len(history)),
		zap.Int("output_chars", len(out)))

	return models.Reply{
		Output: out,
		Usage: models.Usage{
			Requests:    1,
			PromptChars: len(system) + len(user),
			OutputChars: len(out),
		},
	}, nil
}

func composeUserMessage(history []models.Message, prompt string) string {
	if len(history) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", roleLabel(m.Role), m.Content)
	}
	b.WriteString("\nUser request:\n")
	b.WriteString(prompt)
	return b.String()
}

func roleLabel(role string) string {
	switch role {
	case "assistant":
		return "Assistant"
	case "user":
		return "User"
	default:
		return role
	}
}
