package core

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DiffPrompts returns a unified diff of original against rewritten without
// the two file header lines. Equal line sequences produce "".
func DiffPrompts(original, rewritten string) string {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        diffLines(original),
		B:        diffLines(rewritten),
		FromFile: "original",
		ToFile:   "augmented",
		Context:  3,
		Eol:      "\n",
	})
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if len(lines) <= 2 {
		return ""
	}
	return strings.Join(lines[2:], "\n")
}

// diffLines splits s into lines on \n, \r\n and \r. Each returned line keeps
// a trailing "\n" because difflib writes lines verbatim.
func diffLines(s string) []string {
	lines := splitPromptLines(s)
	for i := range lines {
		lines[i] += "\n"
	}
	return lines
}

// splitPromptLines splits s into lines without terminators. A trailing line
// break does not start a new empty line.
func splitPromptLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
