package ignore

import (
	"strings"
	"sync"

	"github.com/rybkr/pathsieve/internal/glob"
)

// MatchResult is the arbitration outcome of Rules.Check for one path.
type MatchResult int

const (
	NoMatch MatchResult = iota
	MatchIgnore
	MatchWhitelist
)

func (r MatchResult) String() string {
	switch r {
	case MatchIgnore:
		return "ignore"
	case MatchWhitelist:
		return "whitelist"
	default:
		return "no-match"
	}
}

// Rules is an append-only, concurrency-safe accumulation of Patterns for one
// walked root. Patterns are appended as ignore files are discovered deeper in
// the tree; Check is safe to call concurrently with AddPatterns, which is the
// shape a bounded-worker parallel walk needs: many goroutines read the rule
// set while any one of them may be appending freshly loaded rules for a
// directory it just visited.
type Rules struct {
	root           string
	ignoreFilename string

	mu       sync.RWMutex
	patterns []*Pattern
}

// New creates an empty rule set rooted at root. ignoreFilename (e.g.
// ".gitignore") is the filename to look for in each directory; BuildAll
// reads it to locate nested ignore files, and callers can retrieve it via
// IgnoreFilename.
func New(root, ignoreFilename string) *Rules {
	return &Rules{root: root, ignoreFilename: ignoreFilename}
}

// Root returns the walk root this rule set was created for.
func (r *Rules) Root() string { return r.root }

// IgnoreFilename returns the ignore filename configured for this rule set,
// or "" if ignore-file ingestion is disabled.
func (r *Rules) IgnoreFilename() string { return r.ignoreFilename }

// AddPatterns appends newly discovered patterns. It never removes or
// reorders existing patterns: insertion order is load-bearing for
// Check's tie-breaking rule.
func (r *Rules) AddPatterns(patterns []*Pattern) {
	if len(patterns) == 0 {
		return
	}
	r.mu.Lock()
	r.patterns = append(r.patterns, patterns...)
	r.mu.Unlock()
}

// Merge appends all of other's patterns into r, preserving other's relative
// order, so a rule set built for a sub-scan can be folded into an
// accumulated set.
func (r *Rules) Merge(other *Rules) {
	other.mu.RLock()
	toAdd := append([]*Pattern(nil), other.patterns...)
	other.mu.RUnlock()
	r.AddPatterns(toAdd)
}

// Check arbitrates whether relPath (forward-slash separated, relative to
// Root, no leading or trailing slash) should be ignored, whitelisted, or left
// alone, given isDir.
func (r *Rules) Check(relPath string, isDir bool) MatchResult {
	res, _ := r.explain(relPath, isDir)
	return res
}

// Explain behaves like Check but also returns the Pattern that decided the
// outcome, or nil for NoMatch. It exists for reporting/debugging tools (see
// package report) and costs nothing extra since Check already computes it
// internally.
func (r *Rules) Explain(relPath string, isDir bool) (MatchResult, *Pattern) {
	return r.explain(relPath, isDir)
}

func (r *Rules) explain(relPath string, isDir bool) (MatchResult, *Pattern) {
	r.mu.RLock()
	patterns := r.patterns
	r.mu.RUnlock()

	var ignoreMatch, whitelistMatch *Pattern
	ignoreMatchIdx, whitelistMatchIdx := -1, -1

	pathWithSlash := relPath
	if isDir && !strings.HasSuffix(pathWithSlash, "/") {
		pathWithSlash += "/"
	}

	for i := len(patterns) - 1; i >= 0; i-- {
		if ignoreMatch != nil && whitelistMatch != nil {
			break
		}
		p := patterns[i]

		// A directory's own ignore file never ignores the directory that
		// contains it.
		if p.Source.Kind == SourceFile && dirname(p.Source.Path) == relPath {
			continue
		}

		if p.PathKind == KindDirectory && !isDir {
			continue
		}

		if !patternMatches(p, relPath, pathWithSlash, isDir) {
			continue
		}

		if p.Effect == Ignore {
			if ignoreMatch == nil {
				ignoreMatch, ignoreMatchIdx = p, i
			}
		} else {
			if whitelistMatch == nil {
				whitelistMatch, whitelistMatchIdx = p, i
			}
		}
	}

	switch {
	case ignoreMatch == nil && whitelistMatch == nil:
		return NoMatch, nil
	case ignoreMatch != nil && whitelistMatch == nil:
		return MatchIgnore, ignoreMatch
	case ignoreMatch == nil && whitelistMatch != nil:
		return MatchWhitelist, whitelistMatch
	default:
		ignoreDir := ignoreMatch.Source.dirPath()
		whitelistDir := whitelistMatch.Source.dirPath()

		if strings.HasPrefix(whitelistDir, ignoreDir) && whitelistDir != ignoreDir {
			if !strings.Contains(whitelistMatch.Original, "/") && !hasWildcardChars(whitelistMatch.Original) {
				return MatchIgnore, ignoreMatch
			}
		}

		if whitelistMatchIdx > ignoreMatchIdx {
			return MatchWhitelist, whitelistMatch
		}
		return MatchIgnore, ignoreMatch
	}
}

// patternMatches implements the directory-form and "dir/*" self-exclusion
// special cases from Check's matching step, on top of the plain glob test.
func patternMatches(p *Pattern, relPath, pathWithSlash string, isDir bool) bool {
	if !isDir {
		return glob.Match(p.Glob, relPath)
	}

	if strings.HasSuffix(p.Glob, "/*") {
		prefix := strings.TrimSuffix(p.Glob, "/*")
		if relPath == prefix {
			// "dir/*" ignores dir's children, not dir itself.
			return false
		}
	}

	return glob.Match(p.Glob, pathWithSlash) || glob.Match(p.Glob, relPath)
}
