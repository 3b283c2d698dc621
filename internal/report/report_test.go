package report

import (
	"strings"
	"testing"

	"github.com/rybkr/pathsieve/internal/ignore"
)

func TestMarkdownIncludesWinningRule(t *testing.T) {
	rules := ignore.New("/repo", ".gitignore")
	rules.AddPatterns(ignore.ParseFile(".gitignore", "*.log\n"))

	entries := Explain(rules, []string{"trace.log", "keep.txt"}, func(string) bool { return false })
	out := Markdown(entries)

	if !strings.Contains(out, "trace.log") || !strings.Contains(out, "ignore") {
		t.Errorf("expected an ignore row for trace.log, got:\n%s", out)
	}
	if !strings.Contains(out, "keep.txt") || !strings.Contains(out, "no-match") {
		t.Errorf("expected a no-match row for keep.txt, got:\n%s", out)
	}
}

func TestHTMLRendersViaGoldmark(t *testing.T) {
	rules := ignore.New("/repo", ".gitignore")
	rules.AddPatterns(ignore.ParseFile(".gitignore", "*.log\n"))

	entries := Explain(rules, []string{"trace.log"}, func(string) bool { return false })
	html, err := HTML(entries)
	if err != nil {
		t.Fatalf("HTML: %v", err)
	}
	if !strings.Contains(html, "<table>") {
		t.Errorf("expected a rendered table, got:\n%s", html)
	}
}
