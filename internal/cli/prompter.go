package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/valter-silva-au/session-intel/internal/core"
)

var (
	previewLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	previewBoxStyle   = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240")).
				Padding(0, 1)
	diffAddStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	diffDelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	diffHunkStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	agentStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("141"))
	noteStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// termPrompter implements core.Prompter over a line reader and a writer.
// Lines are read on a background goroutine so that ReadLine returns as soon
// as its context is cancelled.
type termPrompter struct {
	in  *bufio.Reader
	out io.Writer

	startOnce sync.Once
	closeOnce sync.Once
	lines     chan lineResult
	stop      chan struct{}
	err       error
}

type lineResult struct {
	line string
	err  error
}

func newTermPrompter(in io.Reader, out io.Writer) *termPrompter {
	return &termPrompter{
		in:    bufio.NewReader(in),
		out:   out,
		lines: make(chan lineResult),
		stop:  make(chan struct{}),
	}
}

// ReadLine returns one line without its terminator. A final line without a
// newline is returned before io.EOF. A line still being typed when ctx is
// cancelled is delivered to the next call.
func (p *termPrompter) ReadLine(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.err != nil {
		return "", p.err
	}
	p.startOnce.Do(func() { go p.readLines() })

	fmt.Fprint(p.out, prompt)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-p.lines:
		if res.err != nil {
			p.err = res.err
			return "", res.err
		}
		return res.line, nil
	}
}

// Close stops the reader goroutine once its current read returns.
func (p *termPrompter) Close() {
	p.closeOnce.Do(func() { close(p.stop) })
}

func (p *termPrompter) readLines() {
	for {
		line, err := p.in.ReadString('\n')
		if err == io.EOF && line != "" {
			err = nil
		}
		select {
		case p.lines <- lineResult{line: strings.TrimRight(line, "\r\n"), err: err}:
		case <-p.stop:
			return
		}
		if err != nil {
			return
		}
	}
}

func (p *termPrompter) ShowPreview(preview core.TurnPreview) {
	fmt.Fprintln(p.out, renderPreview(preview))
}

func (p *termPrompter) ShowReply(outcome core.TurnOutcome) {
	fmt.Fprintf(p.out, "%s %s\n", agentStyle.Render("Agent>"), outcome.Reply.Output)
	if outcome.Learning != nil {
		fmt.Fprintln(p.out, noteStyle.Render("Learning logged: "+outcome.Learning.Summary(0)))
	}
	fmt.Fprintln(p.out)
}

func (p *termPrompter) Notify(message string) {
	fmt.Fprintln(p.out, noteStyle.Render(message))
}

// renderPreview formats a suggestion for the human to judge.
func renderPreview(preview core.TurnPreview) string {
	var b strings.Builder
	b.WriteString(previewLabelStyle.Render("Suggested prompt"))
	b.WriteString("\n")
	b.WriteString(previewBoxStyle.Render(preview.Suggestion))
	b.WriteString("\n")

	b.WriteString(previewLabelStyle.Render("Why"))
	b.WriteString("\n")
	for _, j := range preview.Justification {
		b.WriteString("  - " + j + "\n")
	}

	b.WriteString(previewLabelStyle.Render("Diff"))
	b.WriteString("\n")
	if preview.Diff == "" {
		b.WriteString(noteStyle.Render("  (no changes)"))
		b.WriteString("\n")
	} else {
		b.WriteString(renderDiff(preview.Diff))
	}
	return b.String()
}

// renderDiff colours unified diff lines by their marker.
func renderDiff(diff string) string {
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			b.WriteString(noteStyle.Render(line))
		case strings.HasPrefix(line, "@@"):
			b.WriteString(diffHunkStyle.Render(line))
		case strings.HasPrefix(line, "+"):
			b.WriteString(diffAddStyle.Render(line))
		case strings.HasPrefix(line, "-"):
			b.WriteString(diffDelStyle.Render(line))
		default:
			b.WriteString(line)
		}
		b.WriteString("\n")
	}
	return b.String()
}
