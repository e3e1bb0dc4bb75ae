package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// Dashboard panel indices.
const (
	panelSessions = iota
	panelMetrics
	panelAlerts
	panelCount
)

const dashboardSessionLimit = 50

type dashboardModel struct {
	activePanel int
	cursor      int
	width       int
	height      int

	// Data.
	sessions    []sessionSnapshot
	metricsData *metricsSnapshot
	alerts      []alertSnapshot

	// State.
	loading bool
	err     error
}

type sessionSnapshot struct {
	id      string
	updated string
	digest  string
	recent  []string
}

type metricsSnapshot struct {
	sessionsStarted int
	turns           int
	augmentedTurns  int
	acceptanceRate  float64
	failureRate     float64
	summaries       int
	eventCount      int
}

type alertSnapshot struct {
	severity string
	message  string
	time     string
}

// dataLoadedMsg carries loaded data back to the model.
type dataLoadedMsg struct {
	sessions []sessionSnapshot
	metrics  *metricsSnapshot
	alerts   []alertSnapshot
	err      error
}

// Style definitions.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(1, 2)

	activePanelStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62")).
				Padding(1, 2)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			MarginBottom(1)

	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	severityHigh   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	severityMedium = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	severityLow    = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func newDashboardModel() dashboardModel {
	return dashboardModel{
		activePanel: panelSessions,
		loading:     true,
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return loadData
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.activePanel = (m.activePanel + 1) % panelCount
			return m, nil
		case "shift+tab":
			m.activePanel = (m.activePanel - 1 + panelCount) % panelCount
			return m, nil
		case "up", "k":
			if m.activePanel == panelSessions && m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case "down", "j":
			if m.activePanel == panelSessions && m.cursor < len(m.sessions)-1 {
				m.cursor++
			}
			return m, nil
		case "r":
			m.loading = true
			return m, loadData
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case dataLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.sessions = msg.sessions
		m.metricsData = msg.metrics
		m.alerts = msg.alerts
		if m.cursor >= len(m.sessions) {
			m.cursor = max(len(m.sessions)-1, 0)
		}
		m.err = nil
		return m, nil
	}

	return m, nil
}

func (m dashboardModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := titleStyle.Render(" Session Intel Dashboard ")
	help := helpStyle.Render("tab: switch panel | j/k: select session | r: refresh | q: quit")

	if m.loading {
		return fmt.Sprintf("%s\n\n  Loading data...\n\n%s", title, help)
	}

	if m.err != nil {
		return fmt.Sprintf("%s\n\n  Error: %s\n\n%s", title, m.err, help)
	}

	sessionsPanel := m.renderSessionsPanel()
	metricsPanel := m.renderMetricsPanel()
	alertsPanel := m.renderAlertsPanel()

	// Available width for panels after accounting for margins.
	availableWidth := m.width - 2

	var body string
	if availableWidth > 120 {
		colWidth := availableWidth / 3
		sessionsPanel = m.applyPanelStyle(panelSessions, sessionsPanel, colWidth-4)
		metricsPanel = m.applyPanelStyle(panelMetrics, metricsPanel, colWidth-4)
		alertsPanel = m.applyPanelStyle(panelAlerts, alertsPanel, colWidth-4)
		body = lipgloss.JoinHorizontal(lipgloss.Top, sessionsPanel, metricsPanel, alertsPanel)
	} else {
		panelWidth := availableWidth - 4
		if panelWidth < 20 {
			panelWidth = 20
		}
		sessionsPanel = m.applyPanelStyle(panelSessions, sessionsPanel, panelWidth)
		metricsPanel = m.applyPanelStyle(panelMetrics, metricsPanel, panelWidth)
		alertsPanel = m.applyPanelStyle(panelAlerts, alertsPanel, panelWidth)
		body = lipgloss.JoinVertical(lipgloss.Left, sessionsPanel, metricsPanel, alertsPanel)
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s", title, body, help)
}

func (m dashboardModel) applyPanelStyle(panel int, content string, width int) string {
	style := panelStyle
	if m.activePanel == panel {
		style = activePanelStyle
	}
	return style.Width(width).Render(content)
}

func (m dashboardModel) renderSessionsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Sessions"))
	b.WriteString("\n")

	if len(m.sessions) == 0 {
		b.WriteString("  No sessions recorded.")
		return b.String()
	}

	for i, s := range m.sessions {
		line := fmt.Sprintf("  %s  %s", s.id, dimStyle.Render(s.updated))
		if i == m.cursor {
			line = selectedStyle.Render("> "+s.id) + "  " + dimStyle.Render(s.updated)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	selected := m.sessions[m.cursor]
	b.WriteString("\n")
	b.WriteString(selected.digest)
	b.WriteString("\n")
	for _, r := range selected.recent {
		b.WriteString(dimStyle.Render("  "+r) + "\n")
	}
	b.WriteString(fmt.Sprintf("\n  Total: %d", len(m.sessions)))

	return b.String()
}

func (m dashboardModel) renderMetricsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Metrics (7d)"))
	b.WriteString("\n")

	if m.metricsData == nil {
		b.WriteString("  No metrics available.")
		return b.String()
	}

	md := m.metricsData
	lines := []struct {
		label string
		value string
	}{
		{"Events", fmt.Sprint(md.eventCount)},
		{"Sessions", fmt.Sprint(md.sessionsStarted)},
		{"Turns", fmt.Sprint(md.turns)},
		{"Augmented", fmt.Sprint(md.augmentedTurns)},
		{"Accepted", fmt.Sprintf("%.0f%%", md.acceptanceRate*100)},
		{"Failures", fmt.Sprintf("%.0f%%", md.failureRate*100)},
		{"Summaries", fmt.Sprint(md.summaries)},
	}

	for _, l := range lines {
		b.WriteString(fmt.Sprintf("  %-14s %s\n", l.label, l.value))
	}

	return b.String()
}

func (m dashboardModel) renderAlertsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Alerts"))
	b.WriteString("\n")

	if len(m.alerts) == 0 {
		b.WriteString("  No active alerts.")
		return b.String()
	}

	for _, a := range m.alerts {
		sev := styleForSeverity(a.severity).Render(fmt.Sprintf("[%s]", strings.ToUpper(a.severity)))
		b.WriteString(fmt.Sprintf("  %s %s\n", sev, a.message))
	}

	b.WriteString(fmt.Sprintf("\n  Total: %d alert(s)", len(m.alerts)))

	return b.String()
}

func styleForSeverity(severity string) lipgloss.Style {
	switch strings.ToLower(severity) {
	case "high":
		return severityHigh
	case "medium":
		return severityMedium
	case "low":
		return severityLow
	default:
		return lipgloss.NewStyle()
	}
}

func loadData() tea.Msg {
	var result dataLoadedMsg

	if Store != nil {
		snaps, err := Store.ListSessions(dashboardSessionLimit)
		if err != nil {
			result.err = fmt.Errorf("loading sessions: %w", err)
			return result
		}
		for _, s := range snaps {
			snap := sessionSnapshot{
				id:      s.SessionID,
				updated: s.UpdatedAt.UTC().Format("2006-01-02 15:04"),
				digest:  s.Digest,
			}
			for _, r := range s.Recent {
				snap.recent = append(snap.recent, fmt.Sprintf("[%s] %s", r.Kind, r.Summary))
			}
			result.sessions = append(result.sessions, snap)
		}
	}

	since := time.Now().UTC().AddDate(0, 0, -7)

	if MetricsCalc != nil {
		metrics, err := MetricsCalc.Calculate(since)
		if err != nil {
			result.err = fmt.Errorf("loading metrics: %w", err)
			return result
		}
		result.metrics = &metricsSnapshot{
			sessionsStarted: metrics.SessionsStarted,
			turns:           metrics.Turns,
			augmentedTurns:  metrics.AugmentedTurns,
			acceptanceRate:  metrics.AcceptanceRate(),
			failureRate:     metrics.FailureRate(),
			summaries:       metrics.Summaries,
			eventCount:      metrics.EventCount,
		}
	}

	if AlertEngine != nil {
		alerts, err := AlertEngine.Evaluate(since)
		if err != nil {
			result.err = fmt.Errorf("loading alerts: %w", err)
			return result
		}
		result.alerts = make([]alertSnapshot, 0, len(alerts))

		// Sort alerts by severity: high first, then medium, then low.
		sort.SliceStable(alerts, func(i, j int) bool {
			return severityRank(string(alerts[i].Severity)) < severityRank(string(alerts[j].Severity))
		})

		for _, a := range alerts {
			result.alerts = append(result.alerts, alertSnapshot{
				severity: string(a.Severity),
				message:  a.Message,
				time:     a.TriggeredAt.Format("2006-01-02 15:04 UTC"),
			})
		}
	}

	return result
}

func severityRank(s string) int {
	switch s {
	case "high":
		return 0
	case "medium":
		return 1
	case "low":
		return 2
	default:
		return 3
	}
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Interactive TUI for sessions, metrics and alerts",
	Long: `Launch an interactive terminal dashboard showing recorded sessions with
their digests, augmentation metrics, and alerts.

Navigate between panels with Tab, select sessions with j/k, refresh with r,
quit with q.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Store == nil {
			return fmt.Errorf("artifact store not initialized")
		}
		p := tea.NewProgram(newDashboardModel(), tea.WithAltScreen())
		_, err := p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
