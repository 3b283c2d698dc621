// Package report renders the outcome of checking paths against an
// ignore.Rules set as a human-readable explanation, for the CLI's "explain"
// command and for debugging tricky rule interactions.
package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/rybkr/pathsieve/internal/ignore"
)

// Entry is one explained path: the arbitration result plus the pattern that
// decided it (nil when the result is NoMatch).
type Entry struct {
	Path    string
	Result  ignore.MatchResult
	Pattern *ignore.Pattern
}

// Explain runs Rules.Explain over every path and packages the result for
// rendering.
func Explain(rules *ignore.Rules, paths []string, isDir func(string) bool) []Entry {
	entries := make([]Entry, 0, len(paths))
	for _, p := range paths {
		result, pattern := rules.Explain(p, isDir(p))
		entries = append(entries, Entry{Path: p, Result: result, Pattern: pattern})
	}
	return entries
}

// Markdown renders entries as a Markdown table: path, result, the winning
// rule's original text, and where it came from.
func Markdown(entries []Entry) string {
	var b strings.Builder
	b.WriteString("# Ignore rule report\n\n")
	b.WriteString("| Path | Result | Rule | Source |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, e := range entries {
		rule, source := "-", "-"
		if e.Pattern != nil {
			rule = "`" + e.Pattern.Original + "`"
			source = describeSource(e.Pattern.Source)
		}
		fmt.Fprintf(&b, "| `%s` | %s | %s | %s |\n", e.Path, e.Result, rule, source)
	}
	return b.String()
}

// HTML renders the same report as Markdown, converted with goldmark.
func HTML(entries []Entry) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(Markdown(entries)), &buf); err != nil {
		return "", fmt.Errorf("report: render markdown: %w", err)
	}
	return buf.String(), nil
}

func describeSource(s ignore.Source) string {
	switch s.Kind {
	case ignore.SourceFile:
		return fmt.Sprintf("%s:%d", s.Path, s.Line)
	case ignore.SourceCommandLine:
		return "command line"
	default:
		return "global default"
	}
}
