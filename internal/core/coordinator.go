package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/valter-silva-au/session-intel/internal/storage"
	"github.com/valter-silva-au/session-intel/pkg/models"
)

// TurnState is a step of the per-turn state machine.
type TurnState string

const (
	StateAwaitingInput         TurnState = "awaiting_input"
	StateRecapLoaded           TurnState = "recap_loaded"
	StateSuggested             TurnState = "suggested"
	StateAwaitingHumanDecision TurnState = "awaiting_human_decision"
	StateAccepted              TurnState = "accepted"
	StateEdited                TurnState = "edited"
	StateRejected              TurnState = "rejected"
	StateAborted               TurnState = "aborted"
	StateLogged                TurnState = "logged"
	StateForwarded             TurnState = "forwarded"
	StateReplied               TurnState = "replied"
)

// DecisionKind is the human's verdict on a suggested rewrite.
type DecisionKind string

const (
	DecisionAccept DecisionKind = "accept"
	DecisionReject DecisionKind = "reject"
	DecisionEdit   DecisionKind = "edit"
	DecisionAbort  DecisionKind = "abort"
)

// Decision resolves a preview. Edited is used only with DecisionEdit.
type Decision struct {
	Kind   DecisionKind
	Edited string
}

// Prompts shown by the interactive loop.
const (
	InputPrompt    = "You> "
	DecisionPrompt = "Use augmented prompt? [Y/n/e]: "
	EditPrompt     = "Enter revised prompt: "
)

const firstPassJustification = "First-pass mode (no augmentation applied)."

// ExitCommands end a session when entered as input or as a decision.
var ExitCommands = []string{":exit", ":quit", ":end", "exit", "quit", "end"}

var (
	// ErrAborted is returned by Commit when the human aborts the turn.
	ErrAborted = errors.New("turn aborted")
	// ErrBlankEdit is returned by Commit for an edit decision without text.
	ErrBlankEdit = errors.New("edited prompt is blank")
)

// IsExitCommand reports whether s is one of ExitCommands, ignoring case and
// surrounding whitespace.
func IsExitCommand(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, c := range ExitCommands {
		if s == c {
			return true
		}
	}
	return false
}

// ParseDecision maps a typed answer to a decision. Blank input accepts.
func ParseDecision(s string) (DecisionKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "y", "yes":
		return DecisionAccept, true
	case "n", "no":
		return DecisionReject, true
	case "e", "edit":
		return DecisionEdit, true
	}
	if IsExitCommand(s) {
		return DecisionAbort, true
	}
	return "", false
}

// TaskRunner is the conversational step a final prompt is forwarded to.
type TaskRunner interface {
	Run(ctx context.Context, mem storage.MemoryHandle, instructions, prompt string) (models.Reply, error)
}

// TurnPreview is what the human reviews before deciding.
type TurnPreview struct {
	Original             string   `json:"original"`
	Suggestion           string   `json:"suggestion"`
	Justification        []string `json:"justification"`
	Diff                 string   `json:"diff"`
	RawText              string   `json:"raw_text,omitempty"`
	RequiresConfirmation bool     `json:"requires_confirmation"`
}

// TurnOutcome is the result of a committed turn.
type TurnOutcome struct {
	Turn        int                         `json:"turn"`
	Decision    DecisionKind                `json:"decision"`
	FinalPrompt string                      `json:"final_prompt"`
	Accepted    bool                        `json:"accepted"`
	Record      *models.AugmentedTurnRecord `json:"record,omitempty"`
	Reply       models.Reply                `json:"reply"`
	Learning    *models.Entry               `json:"learning,omitempty"`
}

// Prompter is the human side of the interactive loop.
type Prompter interface {
	// ReadLine shows prompt and returns one line. io.EOF ends the session.
	ReadLine(ctx context.Context, prompt string) (string, error)
	ShowPreview(preview TurnPreview)
	ShowReply(outcome TurnOutcome)
	Notify(message string)
}

// CoordinatorConfig wires a Coordinator.
type CoordinatorConfig struct {
	Session       *SessionHandle
	Mode          models.SessionMode
	SourceSession string
	Store         storage.ArtifactStore
	Rewriter      *Rewriter
	Runner        TaskRunner
	Summarizer    *Summarizer
	Synthesizer   *Synthesizer
	Events        EventLogger
	Logger        *zap.Logger
	RecapLimits   models.RecapLimits
}

// Coordinator drives turns for one session. It is the only writer of the
// session's turn entries.
type Coordinator struct {
	session       *SessionHandle
	mode          models.SessionMode
	sourceSession string
	store         storage.ArtifactStore
	rewriter      *Rewriter
	runner        TaskRunner
	summarizer    *Summarizer
	synthesizer   *Synthesizer
	events        EventLogger
	logger        *zap.Logger
	limits        models.RecapLimits

	mu          sync.Mutex
	state       TurnState
	turn        int
	recap       *models.SessionRecap
	recapLoaded bool
}

// NewCoordinator creates a Coordinator. Turn numbering continues from the
// user actions already stored for the session.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Session == nil || cfg.Store == nil {
		return nil, errors.New("coordinator requires a session and a store")
	}
	if cfg.Mode == "" {
		cfg.Mode = models.ModeFirstPass
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Rewriter == nil {
		cfg.Rewriter = NewRewriter(nil, "", 0, cfg.Logger)
	}
	turns, err := cfg.Store.Count(cfg.Session.ID, models.KindUserAction)
	if err != nil {
		return nil, fmt.Errorf("counting prior turns: %w", err)
	}
	return &Coordinator{
		session:       cfg.Session,
		mode:          cfg.Mode,
		sourceSession: cfg.SourceSession,
		store:         cfg.Store,
		rewriter:      cfg.Rewriter,
		runner:        cfg.Runner,
		summarizer:    cfg.Summarizer,
		synthesizer:   cfg.Synthesizer,
		events:        cfg.Events,
		logger:        cfg.Logger.With(zap.String("session_id", cfg.Session.ID)),
		limits:        cfg.RecapLimits,
		state:         StateAwaitingInput,
		turn:          turns,
	}, nil
}

// State returns the current turn state.
func (c *Coordinator) State() TurnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the id of the coordinated session.
func (c *Coordinator) SessionID() string { return c.session.ID }

// Mode returns the session mode.
func (c *Coordinator) Mode() models.SessionMode { return c.mode }

func (c *Coordinator) setState(s TurnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.logger.Debug("turn state", zap.String("state", string(s)))
}

// Recap returns the recap used for learn mode, loading it on first use.
// Load failures are logged and treated as no prior context.
func (c *Coordinator) Recap() *models.SessionRecap {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recapLoaded {
		return c.recap
	}
	recap, err := LoadRecap(c.store, c.sourceSession, c.session.ID, c.limits)
	if err != nil {
		c.logger.Warn("loading recap failed", zap.Error(err))
	}
	c.recap, c.recapLoaded = recap, true
	return c.recap
}

// Prepare builds the preview for input. In first-pass mode the suggestion
// is the input itself and no confirmation is needed.
func (c *Coordinator) Prepare(ctx context.Context, input string) TurnPreview {
	if c.mode != models.ModeLearn {
		return TurnPreview{
			Original:      input,
			Suggestion:    input,
			Justification: []string{firstPassJustification},
		}
	}

	recap := c.Recap()
	c.setState(StateRecapLoaded)

	result := c.rewriter.Rewrite(ctx, input, recap)
	c.setState(StateSuggested)
	if strings.HasPrefix(result.Justification[0], "Augmentation failed") {
		logEvent(c.events, EventRewriteFailed, map[string]any{
			"session_id": c.session.ID,
			"reason":     result.Justification[0],
		})
	}

	preview := TurnPreview{
		Original:             input,
		Suggestion:           result.RewrittenPrompt,
		Justification:        result.Justification,
		Diff:                 DiffPrompts(input, result.RewrittenPrompt),
		RawText:              result.RawText,
		RequiresConfirmation: true,
	}
	c.setState(StateAwaitingHumanDecision)
	return preview
}

// Commit resolves preview with d, logs the decision trail, forwards the
// final prompt and logs the reply, followed by a synthesised learning when
// a Synthesizer is configured. Abort returns ErrAborted and a cancelled ctx
// returns its error; neither logs anything.
func (c *Coordinator) Commit(ctx context.Context, preview TurnPreview, d Decision) (TurnOutcome, error) {
	if d.Kind == DecisionAbort {
		c.setState(StateAborted)
		logEvent(c.events, EventTurnAborted, map[string]any{"session_id": c.session.ID})
		return TurnOutcome{Decision: DecisionAbort}, ErrAborted
	}
	if err := ctx.Err(); err != nil {
		c.setState(StateAborted)
		logEvent(c.events, EventTurnAborted, map[string]any{"session_id": c.session.ID, "interrupted": true})
		return TurnOutcome{}, err
	}

	outcome := TurnOutcome{Decision: d.Kind}
	if c.mode == models.ModeLearn {
		switch d.Kind {
		case DecisionAccept, "":
			outcome.Decision = DecisionAccept
			outcome.FinalPrompt = preview.Suggestion
			outcome.Accepted = true
			c.setState(StateAccepted)
		case DecisionReject:
			outcome.FinalPrompt = preview.Original
			c.setState(StateRejected)
		case DecisionEdit:
			if strings.TrimSpace(d.Edited) == "" {
				return TurnOutcome{}, ErrBlankEdit
			}
			outcome.FinalPrompt = strings.TrimSpace(d.Edited)
			c.setState(StateEdited)
		default:
			return TurnOutcome{}, fmt.Errorf("unknown decision %q", d.Kind)
		}

		rec, err := LogAugmentedTurn(c.store, c.session.ID, models.AugmentedTurnRecord{
			Original:      preview.Original,
			Suggestion:    preview.Suggestion,
			FinalPrompt:   outcome.FinalPrompt,
			Justification: preview.Justification,
			Accepted:      outcome.Accepted,
		})
		if err != nil {
			return TurnOutcome{}, err
		}
		outcome.Record = &rec
		c.setState(StateLogged)
		logEvent(c.events, EventTurnAugmented, map[string]any{
			"session_id": c.session.ID,
			"turn":       rec.TurnIndex,
			"decision":   string(outcome.Decision),
			"accepted":   rec.Accepted,
		})
	} else {
		outcome.Decision = DecisionAccept
		outcome.FinalPrompt = preview.Original
	}

	c.mu.Lock()
	c.turn++
	outcome.Turn = c.turn
	c.mu.Unlock()

	if _, err := c.store.Append(c.session.ID, models.KindUserAction, outcome.FinalPrompt, map[string]any{
		"turn": outcome.Turn,
		"role": "user",
	}); err != nil {
		return TurnOutcome{}, fmt.Errorf("logging user action: %w", err)
	}

	c.setState(StateForwarded)
	outcome.Reply = c.forward(ctx, outcome.FinalPrompt)

	if _, err := c.store.Append(c.session.ID, models.KindAgentOutput, outcome.Reply.Output, map[string]any{
		"turn":         outcome.Turn,
		"role":         "agent",
		"prompt_chars": outcome.Reply.Usage.PromptChars,
		"output_chars": outcome.Reply.Usage.OutputChars,
	}); err != nil {
		return TurnOutcome{}, fmt.Errorf("logging agent output: %w", err)
	}
	c.setState(StateReplied)
	logEvent(c.events, EventTurnForwarded, map[string]any{
		"session_id": c.session.ID,
		"turn":       outcome.Turn,
		"mode":       string(c.mode),
	})

	learning, err := c.synthesizer.Synthesize(ctx, c.session.ID, outcome.Turn, outcome.FinalPrompt, outcome.Reply.Output)
	if err != nil {
		return outcome, err
	}
	outcome.Learning = learning
	return outcome, nil
}

// forward runs the conversational step. Its failures become the reply text
// so the turn is still recorded.
func (c *Coordinator) forward(ctx context.Context, prompt string) models.Reply {
	if c.runner == nil {
		return models.Reply{Output: "[Error calling agent: no task agent configured]"}
	}
	reply, err := c.runner.Run(ctx, c.session.Memory, c.Instructions(), prompt)
	if err != nil {
		c.logger.Warn("task agent failed", zap.Error(err))
		return models.Reply{Output: fmt.Sprintf("[Error calling agent: %v]", err)}
	}
	if strings.TrimSpace(reply.Output) == "" {
		reply.Output = "(no response)"
	}
	return reply
}

// Instructions returns the preamble passed to the task agent. Learn mode
// adds the recap summary and turn-log bullets.
func (c *Coordinator) Instructions() string {
	lines := []string{
		"You are a collaborative coding assistant helping developers learn new skills.",
		"Provide concise, actionable help while calling out knowledge gaps to revisit.",
	}
	if c.mode == models.ModeLearn {
		lines = append(lines, "Lean on previous insights to accelerate progress; remind the developer of "+
			"strategies that worked last time.")
		if recap := c.Recap(); recap != nil {
			if recap.SummaryMarkdown != "" {
				lines = append(lines, "Previous session summary:\n"+recap.SummaryMarkdown)
			}
			if len(recap.TurnLogTail) > 0 {
				lines = append(lines, "Recent turn log bullets:\n"+strings.Join(recap.TurnLogTail, "\n"))
			}
		}
	}
	return strings.Join(lines, "\n\n")
}

// Loop runs the interactive state machine until an exit command, an abort
// or end of input. It returns nil in all of those cases.
func (c *Coordinator) Loop(ctx context.Context, p Prompter) error {
	for {
		c.setState(StateAwaitingInput)
		input, err := p.ReadLine(ctx, InputPrompt)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(input) == "" {
			continue
		}
		if IsExitCommand(input) {
			return nil
		}

		preview := c.Prepare(ctx, input)
		decision := Decision{Kind: DecisionAccept}
		if preview.RequiresConfirmation {
			p.ShowPreview(preview)
			decision, err = c.askDecision(ctx, p)
			if err != nil {
				return err
			}
		}

		outcome, err := c.Commit(ctx, preview, decision)
		if errors.Is(err, ErrAborted) {
			p.Notify("Ending session...")
			return nil
		}
		if err != nil {
			return err
		}
		p.ShowReply(outcome)
	}
}

func (c *Coordinator) askDecision(ctx context.Context, p Prompter) (Decision, error) {
	for {
		raw, err := p.ReadLine(ctx, DecisionPrompt)
		if errors.Is(err, io.EOF) {
			return Decision{Kind: DecisionAbort}, nil
		}
		if err != nil {
			return Decision{}, err
		}
		kind, ok := ParseDecision(raw)
		if !ok {
			p.Notify("Please enter 'y', 'n', 'e', or an exit command like ':exit'.")
			continue
		}
		if kind != DecisionEdit {
			return Decision{Kind: kind}, nil
		}
		for {
			edited, err := p.ReadLine(ctx, EditPrompt)
			if errors.Is(err, io.EOF) {
				return Decision{Kind: DecisionAbort}, nil
			}
			if err != nil {
				return Decision{}, err
			}
			if strings.TrimSpace(edited) != "" {
				return Decision{Kind: DecisionEdit, Edited: edited}, nil
			}
			p.Notify("Edited prompt was empty; enter a revised prompt.")
		}
	}
}

// Finalize writes the session summary. It returns "" when no summary was
// produced.
func (c *Coordinator) Finalize(ctx context.Context) (string, error) {
	summary, err := c.summarizer.Summarize(ctx, c.session.ID)
	if err != nil {
		return "", err
	}
	logEvent(c.events, EventSessionFinalized, map[string]any{
		"session_id": c.session.ID,
		"turns":      c.turn,
		"summarized": summary != "",
	})
	return summary, nil
}
