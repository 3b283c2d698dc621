package ignore

import "strings"

// ParseFile compiles the contents of an ignore file into Patterns. filePath
// must already be expressed relative to the walk root (forward-slash
// separated) since it becomes each Pattern's Source.Path.
//
// Blank lines and comment lines (those starting with "#") are skipped. A
// pattern compiled from a line keeps the 1-based line number for reporting.
func ParseFile(filePath, content string) []*Pattern {
	lines := strings.Split(content, "\n")
	patterns := make([]*Pattern, 0, len(lines))
	for i, line := range lines {
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		source := Source{Kind: SourceFile, Path: filePath, Line: i + 1}
		patterns = append(patterns, NewPattern(source, line))
	}
	return patterns
}

// ParseGlobalDefaults compiles a newline-separated list of patterns that
// have no backing file, such as a caller-supplied default ignore set.
func ParseGlobalDefaults(content string) []*Pattern {
	lines := strings.Split(content, "\n")
	patterns := make([]*Pattern, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, NewPattern(Source{Kind: SourceGlobal}, line))
	}
	return patterns
}

// ParseCommandLine compiles patterns typed directly as CLI arguments, all
// anchored to the same working directory (expressed relative to the walk
// root).
func ParseCommandLine(workingDir string, args []string) []*Pattern {
	patterns := make([]*Pattern, 0, len(args))
	for _, arg := range args {
		if arg == "" {
			continue
		}
		patterns = append(patterns, NewPattern(Source{Kind: SourceCommandLine, Dir: workingDir}, arg))
	}
	return patterns
}
