// Package mcp provides an MCP (Model Context Protocol) server that exposes
// session recaps, digests and prompt rewrites as tools for AI coding
// assistants.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/valter-silva-au/session-intel/internal/core"
	"github.com/valter-silva-au/session-intel/internal/observability"
	"github.com/valter-silva-au/session-intel/internal/storage"
	"github.com/valter-silva-au/session-intel/pkg/models"
)

// Deps are the services the server exposes. Planner, Rewriter, Metrics and
// Alerts may be nil; the matching tools then report an error result.
type Deps struct {
	Store       storage.ArtifactStore
	Planner     *core.Planner
	Rewriter    *core.Rewriter
	Metrics     observability.MetricsCalculator
	Alerts      observability.AlertEngine
	RecapLimits models.RecapLimits
	DigestLimit int
}

// Server wraps sintel services and exposes them as MCP tools.
type Server struct {
	server *gomcp.Server
	deps   Deps
}

// NewServer creates a new MCP server over deps.
func NewServer(deps Deps, version string) *Server {
	if version == "" {
		version = "dev"
	}
	if deps.DigestLimit <= 0 {
		deps.DigestLimit = 3
	}

	s := &Server{deps: deps}
	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "sintel", Version: version},
		nil,
	)

	s.registerTools()

	return s
}

// Run serves over stdio, blocking until the client disconnects or the
// context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type listSessionsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of sessions to return, newest first. 0 returns all."`
}

type recentEntryOutput struct {
	Kind    string `json:"kind"`
	Summary string `json:"summary"`
}

type sessionOutput struct {
	SessionID string              `json:"session_id"`
	UpdatedAt string              `json:"updated_at"`
	Digest    string              `json:"digest"`
	Recent    []recentEntryOutput `json:"recent"`
}

type listSessionsOutput struct {
	Sessions []sessionOutput `json:"sessions"`
	Count    int             `json:"count"`
}

type getDigestInput struct {
	SessionID string `json:"session_id" jsonschema:"required,the session identifier (e.g. 20250301-091500-a1b2c3)"`
	Limit     int    `json:"limit,omitempty" jsonschema:"number of most recent entries of any kind to include. Defaults to the configured digest limit."`
}

type getDigestOutput struct {
	SessionID string `json:"session_id"`
	Digest    string `json:"digest"`
}

type loadRecapInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"session to recap. Empty selects the most recently updated session."`
	ExcludeID string `json:"exclude_id,omitempty" jsonschema:"session to skip when selecting the most recent one (usually the active session)"`
}

type loadRecapOutput struct {
	Found             bool     `json:"found"`
	SessionID         string   `json:"session_id,omitempty"`
	DocumentsDir      string   `json:"documents_dir,omitempty"`
	SummaryMarkdown   string   `json:"summary_markdown,omitempty"`
	TurnLogTail       []string `json:"turn_log_tail"`
	RecentUserQueries []string `json:"recent_user_queries"`
}

type previewPlanInput struct {
	SessionID string `json:"session_id" jsonschema:"required,the session whose learnings seed the plan"`
	Question  string `json:"question" jsonschema:"required,the new request to plan for"`
}

type previewPlanOutput struct {
	SessionID string `json:"session_id"`
	Digest    string `json:"digest"`
	Plan      string `json:"plan_markdown"`
}

type suggestRewriteInput struct {
	Prompt          string `json:"prompt" jsonschema:"required,the user prompt to improve"`
	SourceSessionID string `json:"source_session_id,omitempty" jsonschema:"session whose recap informs the rewrite. Empty selects the most recent session."`
	ExcludeID       string `json:"exclude_id,omitempty" jsonschema:"session to skip when selecting the most recent one"`
}

type suggestRewriteOutput struct {
	Original        string   `json:"original"`
	RewrittenPrompt string   `json:"rewritten_prompt"`
	Justification   []string `json:"justification"`
	Diff            string   `json:"diff"`
	RecapSessionID  string   `json:"recap_session_id,omitempty"`
}

type getMetricsInput struct {
	Since string `json:"since,omitempty" jsonschema:"time window for metrics (e.g. 7d, 30d, 24h). Defaults to 7d."`
}

type metricsOutput struct {
	SessionsStarted int            `json:"sessions_started"`
	SessionsResumed int            `json:"sessions_resumed"`
	Turns           int            `json:"turns"`
	TurnsBySession  map[string]int `json:"turns_by_session"`
	TurnsByMode     map[string]int `json:"turns_by_mode"`
	AugmentedTurns  int            `json:"augmented_turns"`
	Accepted        int            `json:"accepted"`
	Edited          int            `json:"edited"`
	Rejected        int            `json:"rejected"`
	Aborted         int            `json:"aborted"`
	RewriteFailures int            `json:"rewrite_failures"`
	Summaries       int            `json:"summaries"`
	AcceptanceRate  float64        `json:"acceptance_rate"`
	FailureRate     float64        `json:"failure_rate"`
	EventCount      int            `json:"event_count"`
	OldestEvent     string         `json:"oldest_event,omitempty"`
	NewestEvent     string         `json:"newest_event,omitempty"`
}

type getAlertsInput struct {
	Since string `json:"since,omitempty" jsonschema:"time window to evaluate (e.g. 7d, 24h). Defaults to 7d."`
}

type alertOutput struct {
	ID          string `json:"id"`
	Condition   string `json:"condition"`
	Severity    string `json:"severity"`
	Message     string `json:"message"`
	TriggeredAt string `json:"triggered_at"`
}

type getAlertsOutput struct {
	Alerts []alertOutput `json:"alerts"`
	Count  int           `json:"count"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_sessions",
		Description: "List recorded sessions, newest first, with each session's digest and most recent entries.",
	}, s.handleListSessions)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_digest",
		Description: "Render the digest of a session's newest synthesised learnings.",
	}, s.handleGetDigest)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "load_recap",
		Description: "Load a bounded recap of a prior session: summaries, the turn log tail and recent user queries.",
	}, s.handleLoadRecap)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "preview_plan",
		Description: "Draft a plan for a new request from a session's prior learnings. Nothing is executed or logged.",
	}, s.handlePreviewPlan)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "suggest_rewrite",
		Description: "Suggest an improved prompt using the recap of a prior session. Returns the rewrite, its justification and a unified diff. Nothing is logged.",
	}, s.handleSuggestRewrite)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_metrics",
		Description: "Get augmentation metrics from the event log: turns, decisions, acceptance and rewrite failure rates.",
	}, s.handleGetMetrics)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_alerts",
		Description: "Evaluate augmentation quality alerts (rewrite failures, low acceptance, missing summaries).",
	}, s.handleGetAlerts)
}

// --- Tool handlers ---

func (s *Server) handleListSessions(_ context.Context, _ *gomcp.CallToolRequest, input listSessionsInput) (*gomcp.CallToolResult, listSessionsOutput, error) {
	if input.Limit < 0 {
		return errorResult("limit must not be negative"), listSessionsOutput{Sessions: []sessionOutput{}}, nil
	}

	snaps, err := s.deps.Store.ListSessions(input.Limit)
	if err != nil {
		return errorResult(fmt.Sprintf("listing sessions: %s", err)), listSessionsOutput{Sessions: []sessionOutput{}}, nil
	}

	out := listSessionsOutput{
		Sessions: make([]sessionOutput, len(snaps)),
		Count:    len(snaps),
	}
	for i, snap := range snaps {
		out.Sessions[i] = snapshotToOutput(snap)
	}
	return nil, out, nil
}

func (s *Server) handleGetDigest(_ context.Context, _ *gomcp.CallToolRequest, input getDigestInput) (*gomcp.CallToolResult, getDigestOutput, error) {
	if input.SessionID == "" {
		return errorResult("session_id is required"), getDigestOutput{}, nil
	}
	limit := input.Limit
	if limit <= 0 {
		limit = s.deps.DigestLimit
	}

	digest, err := s.deps.Store.RenderDigest(input.SessionID, limit)
	if err != nil {
		return errorResult(fmt.Sprintf("rendering digest for %s: %s", input.SessionID, err)), getDigestOutput{}, nil
	}
	return nil, getDigestOutput{SessionID: input.SessionID, Digest: digest}, nil
}

func (s *Server) handleLoadRecap(_ context.Context, _ *gomcp.CallToolRequest, input loadRecapInput) (*gomcp.CallToolResult, loadRecapOutput, error) {
	recap, err := core.LoadRecap(s.deps.Store, input.SessionID, input.ExcludeID, s.deps.RecapLimits)
	if err != nil {
		return errorResult(fmt.Sprintf("loading recap: %s", err)), emptyRecapOutput(), nil
	}
	if recap == nil {
		return nil, emptyRecapOutput(), nil
	}
	return nil, loadRecapOutput{
		Found:             true,
		SessionID:         recap.SessionID,
		DocumentsDir:      recap.DocumentsDir,
		SummaryMarkdown:   recap.SummaryMarkdown,
		TurnLogTail:       recap.TurnLogTail,
		RecentUserQueries: recap.RecentUserQueries,
	}, nil
}

func (s *Server) handlePreviewPlan(ctx context.Context, _ *gomcp.CallToolRequest, input previewPlanInput) (*gomcp.CallToolResult, previewPlanOutput, error) {
	if input.SessionID == "" {
		return errorResult("session_id is required"), previewPlanOutput{}, nil
	}
	if input.Question == "" {
		return errorResult("question is required"), previewPlanOutput{}, nil
	}
	if s.deps.Planner == nil {
		return errorResult("planner not available"), previewPlanOutput{}, nil
	}

	preview, err := s.deps.Planner.Preview(ctx, input.SessionID, input.Question)
	out := previewPlanOutput{SessionID: preview.SessionID, Digest: preview.Digest, Plan: preview.Plan}
	if errors.Is(err, core.ErrNoGenerator) {
		return errorResult("no text generator configured; digest only:\n" + preview.Digest), out, nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("previewing plan: %s", err)), out, nil
	}
	return nil, out, nil
}

func (s *Server) handleSuggestRewrite(ctx context.Context, _ *gomcp.CallToolRequest, input suggestRewriteInput) (*gomcp.CallToolResult, suggestRewriteOutput, error) {
	if input.Prompt == "" {
		return errorResult("prompt is required"), suggestRewriteOutput{}, nil
	}

	recap, err := core.LoadRecap(s.deps.Store, input.SourceSessionID, input.ExcludeID, s.deps.RecapLimits)
	if err != nil {
		return errorResult(fmt.Sprintf("loading recap: %s", err)), suggestRewriteOutput{}, nil
	}

	// A nil Rewriter still reports the skip justification.
	result := s.deps.Rewriter.Rewrite(ctx, input.Prompt, recap)
	out := suggestRewriteOutput{
		Original:        input.Prompt,
		RewrittenPrompt: result.RewrittenPrompt,
		Justification:   result.Justification,
		Diff:            core.DiffPrompts(input.Prompt, result.RewrittenPrompt),
	}
	if recap != nil {
		out.RecapSessionID = recap.SessionID
	}
	return nil, out, nil
}

func (s *Server) handleGetMetrics(_ context.Context, _ *gomcp.CallToolRequest, input getMetricsInput) (*gomcp.CallToolResult, metricsOutput, error) {
	if s.deps.Metrics == nil {
		return errorResult("metrics calculator not available (event log may be disabled)"), emptyMetricsOutput(), nil
	}

	sinceTime, err := parseSince(defaultSince(input.Since))
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), emptyMetricsOutput(), nil
	}

	m, err := s.deps.Metrics.Calculate(sinceTime)
	if err != nil {
		return errorResult(fmt.Sprintf("calculating metrics: %s", err)), emptyMetricsOutput(), nil
	}

	out := metricsOutput{
		SessionsStarted: m.SessionsStarted,
		SessionsResumed: m.SessionsResumed,
		Turns:           m.Turns,
		TurnsBySession:  m.TurnsBySession,
		TurnsByMode:     m.TurnsByMode,
		AugmentedTurns:  m.AugmentedTurns,
		Accepted:        m.Accepted,
		Edited:          m.Edited,
		Rejected:        m.Rejected,
		Aborted:         m.Aborted,
		RewriteFailures: m.RewriteFailures,
		Summaries:       m.Summaries,
		AcceptanceRate:  m.AcceptanceRate(),
		FailureRate:     m.FailureRate(),
		EventCount:      m.EventCount,
	}
	if m.OldestEvent != nil {
		out.OldestEvent = m.OldestEvent.Format(time.RFC3339)
	}
	if m.NewestEvent != nil {
		out.NewestEvent = m.NewestEvent.Format(time.RFC3339)
	}

	return nil, out, nil
}

func (s *Server) handleGetAlerts(_ context.Context, _ *gomcp.CallToolRequest, input getAlertsInput) (*gomcp.CallToolResult, getAlertsOutput, error) {
	if s.deps.Alerts == nil {
		return errorResult("alert engine not available (event log may be disabled)"), getAlertsOutput{Alerts: []alertOutput{}}, nil
	}

	sinceTime, err := parseSince(defaultSince(input.Since))
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), getAlertsOutput{Alerts: []alertOutput{}}, nil
	}

	alerts, err := s.deps.Alerts.Evaluate(sinceTime)
	if err != nil {
		return errorResult(fmt.Sprintf("evaluating alerts: %s", err)), getAlertsOutput{Alerts: []alertOutput{}}, nil
	}

	out := getAlertsOutput{
		Alerts: make([]alertOutput, len(alerts)),
		Count:  len(alerts),
	}
	for i, a := range alerts {
		out.Alerts[i] = alertOutput{
			ID:          a.ID,
			Condition:   a.Condition,
			Severity:    string(a.Severity),
			Message:     a.Message,
			TriggeredAt: a.TriggeredAt.Format(time.RFC3339),
		}
	}

	return nil, out, nil
}

// --- Helpers ---

func snapshotToOutput(snap models.SessionSnapshot) sessionOutput {
	out := sessionOutput{
		SessionID: snap.SessionID,
		Digest:    snap.Digest,
		Recent:    make([]recentEntryOutput, len(snap.Recent)),
	}
	if !snap.UpdatedAt.IsZero() {
		out.UpdatedAt = snap.UpdatedAt.UTC().Format(time.RFC3339)
	}
	for i, r := range snap.Recent {
		out.Recent[i] = recentEntryOutput{Kind: string(r.Kind), Summary: r.Summary}
	}
	return out
}

func emptyRecapOutput() loadRecapOutput {
	return loadRecapOutput{TurnLogTail: []string{}, RecentUserQueries: []string{}}
}

func emptyMetricsOutput() metricsOutput {
	return metricsOutput{
		TurnsBySession: make(map[string]int),
		TurnsByMode:    make(map[string]int),
	}
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

func defaultSince(s string) string {
	if s == "" {
		return "7d"
	}
	return s
}

// parseSince parses a human-friendly duration string like "7d", "30d", or "24h"
// into the corresponding time in the past.
func parseSince(s string) (time.Time, error) {
	return ParseSince(s, time.Now().UTC())
}

// ParseSince resolves a "7d" or "24h" style window relative to now.
func ParseSince(s string, now time.Time) (time.Time, error) {
	if len(s) < 2 {
		return time.Time{}, fmt.Errorf("invalid duration %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]
	var num int
	if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
		return time.Time{}, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	switch suffix {
	case 'd':
		return now.AddDate(0, 0, -num), nil
	case 'h':
		return now.Add(-time.Duration(num) * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported duration suffix %q (use d or h)", string(suffix))
	}
}
