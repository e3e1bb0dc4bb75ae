package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/valter-silva-au/session-intel/internal/llm"
	"github.com/valter-silva-au/session-intel/internal/storage"
)

// ErrNoGenerator is returned by operations that cannot degrade without a
// text generator.
var ErrNoGenerator = errors.New("no text generator configured")

// PlanPreview is a proposed plan for a new request, built from a session's
// digest. Nothing is executed or logged.
type PlanPreview struct {
	SessionID string `json:"session_id"`
	Digest    string `json:"digest"`
	Plan      string `json:"plan_markdown"`
}

// Planner produces plan previews.
type Planner struct {
	gen         llm.Client
	model       string
	store       storage.ArtifactStore
	digestLimit int
}

// NewPlanner creates a Planner. digestLimit <= 0 uses 3.
func NewPlanner(gen llm.Client, model string, store storage.ArtifactStore, digestLimit int) *Planner {
	if digestLimit <= 0 {
		digestLimit = 3
	}
	return &Planner{gen: gen, model: model, store: store, digestLimit: digestLimit}
}

// Preview asks the generator to recap the prior approach as a plan for
// question. The digest is returned even when generation fails.
func (p *Planner) Preview(ctx context.Context, sessionID, question string) (PlanPreview, error) {
	digest, err := p.store.RenderDigest(sessionID, p.digestLimit)
	if err != nil {
		return PlanPreview{}, fmt.Errorf("building plan preview: %w", err)
	}
	preview := PlanPreview{SessionID: sessionID, Digest: digest}
	if p.gen == nil {
		return preview, ErrNoGenerator
	}

	prompt := "You previously solved a similar task. Summarize the prior approach in a clear plan, " +
		"then ask the human if they would like to proceed with the same steps. " +
		"Do not execute the task yet.\n\n" +
		"Previous learnings:\n" + digest + "\n\n" +
		"New request:\n" + question

	plan, err := p.gen.Complete(ctx, "", prompt, p.model)
	if err != nil {
		return preview, fmt.Errorf("generating plan preview: %w", err)
	}
	preview.Plan = strings.TrimSpace(plan)
	return preview, nil
}
