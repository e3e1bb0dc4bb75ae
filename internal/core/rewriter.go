package core

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/valter-silva-au/session-intel/internal/llm"
	"github.com/valter-silva-au/session-intel/pkg/models"
)

const rewriteSystemPrompt = "You are the Knowledge Exchange agent. Improve the user's request so the task agent " +
	"benefits from lessons learned in prior sessions. Use the context below to add reminders, " +
	"clarify intent, or highlight prior solutions."

// Justifications used when the rewrite cannot be applied.
const (
	JustificationNoContent      = "No content provided"
	JustificationSkipped        = "Augmentation skipped: no API key configured"
	JustificationInvalidJSON    = "Model response was not valid JSON"
	JustificationMissingPrompt  = "Model did not provide a rewritten prompt"
	JustificationMissingReasons = "Model did not provide justification"
)

const noAdditionalContext = "(No additional context)"

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// Rewriter asks the text generator to improve a prompt with recap context.
// It never returns an error: every failure degrades to the original prompt
// with a justification describing what happened.
type Rewriter struct {
	gen     llm.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewRewriter creates a Rewriter. A nil gen makes every rewrite take the
// deterministic skip path. timeout <= 0 disables the per-call deadline.
func NewRewriter(gen llm.Client, model string, timeout time.Duration, logger *zap.Logger) *Rewriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rewriter{gen: gen, model: model, timeout: timeout, logger: logger}
}

// Enabled reports whether rewrites reach a text generator.
func (r *Rewriter) Enabled() bool { return r != nil && r.gen != nil }

// Rewrite returns the improved prompt. The generator runs on its own
// goroutine so a stalled call is abandoned once the timeout expires.
func (r *Rewriter) Rewrite(ctx context.Context, original string, recap *models.SessionRecap) models.RewriteResult {
	if strings.TrimSpace(original) == "" {
		return fallback(original, "", JustificationNoContent)
	}
	if !r.Enabled() {
		return fallback(original, "", JustificationSkipped)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	type completion struct {
		text string
		err  error
	}
	done := make(chan completion, 1)
	user := buildRewriteRequest(original, recap)
	go func() {
		text, err := r.gen.Complete(ctx, rewriteSystemPrompt, user, r.model)
		done <- completion{text: text, err: err}
	}()

	var res completion
	select {
	case res = <-done:
	case <-ctx.Done():
		res = completion{err: ctx.Err()}
	}
	if res.err != nil {
		r.logger.Warn("prompt rewrite failed", zap.Error(res.err))
		return fallback(original, "", fmt.Sprintf("Augmentation failed: %v", res.err))
	}

	return parseRewrite(original, res.text)
}

// parseRewrite applies the tolerant parsing ladder to a raw model response.
func parseRewrite(original, raw string) models.RewriteResult {
	parsed := extractJSONObject(raw)
	if parsed == nil {
		return fallback(original, raw, JustificationInvalidJSON)
	}

	rewritten, ok := parsed["rewritten_prompt"].(string)
	if !ok || strings.TrimSpace(rewritten) == "" {
		return fallback(original, raw, JustificationMissingPrompt)
	}

	reasons := normalizeJustification(parsed["justification"])
	if len(reasons) == 0 {
		reasons = []string{JustificationMissingReasons}
	}

	return models.RewriteResult{
		RewrittenPrompt: strings.TrimSpace(rewritten),
		Justification:   reasons,
		RawText:         raw,
	}
}

func fallback(original, raw, reason string) models.RewriteResult {
	return models.RewriteResult{
		RewrittenPrompt: original,
		Justification:   []string{reason},
		RawText:         raw,
	}
}

// extractJSONObject strips code fence lines and parses the outermost {...}
// span. It returns nil when no object can be decoded.
func extractJSONObject(text string) map[string]any {
	stripped := strings.TrimSpace(text)
	if strings.HasPrefix(stripped, "```") {
		var kept []string
		for _, line := range strings.Split(stripped, "\n") {
			if !strings.HasPrefix(line, "```") {
				kept = append(kept, line)
			}
		}
		stripped = strings.TrimSpace(strings.Join(kept, "\n"))
	}
	span := jsonObjectPattern.FindString(stripped)
	if span == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(span), &obj); err != nil {
		return nil
	}
	return obj
}

// normalizeJustification turns a decoded justification value into a list of
// non-blank strings. Objects and scalars other than strings yield nil.
func normalizeJustification(v any) []string {
	switch val := v.(type) {
	case string:
		if strings.TrimSpace(val) == "" {
			return nil
		}
		return []string{val}
	case []any:
		var out []string
		for _, item := range val {
			s, ok := stringify(item)
			if ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func stringify(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return "", false
		}
		return string(data), true
	}
}

// buildRewriteRequest renders the user payload: the original request and the
// labelled recap sections.
func buildRewriteRequest(original string, recap *models.SessionRecap) string {
	var sections []string
	if recap != nil {
		if recap.SummaryMarkdown != "" {
			sections = append(sections, "Summary of previous session:\n"+recap.SummaryMarkdown)
		}
		if len(recap.TurnLogTail) > 0 {
			sections = append(sections, "Recent turn log entries:\n"+strings.Join(recap.TurnLogTail, "\n"))
		}
		if len(recap.RecentUserQueries) > 0 {
			queries := make([]string, len(recap.RecentUserQueries))
			for i, q := range recap.RecentUserQueries {
				queries[i] = "- " + q
			}
			sections = append(sections, "Recent direct user questions:\n"+strings.Join(queries, "\n"))
		}
	}
	contextBlob := noAdditionalContext
	if len(sections) > 0 {
		contextBlob = strings.Join(sections, "\n\n")
	}

	return "Original user request:\n```\n" + original + "\n```\n\n" +
		"Context for augmentation:\n```\n" + contextBlob + "\n```\n\n" +
		"Respond with JSON containing `rewritten_prompt` (string) and `justification` (array of short bullet strings)."
}
