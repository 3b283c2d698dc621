// Package glob matches single gitignore-style patterns against slash-separated
// path strings. It wraps doublestar so that "**" spans any number of path
// components while "*" and "?" stay within one, and normalizes the "[!...]"
// negated-class spelling onto doublestar's "[^...]" form.
package glob

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Match reports whether path satisfies pattern. Both must use "/" as the
// separator regardless of host OS. Trailing slashes are significant: a
// pattern ending in "/" only matches a path that also ends in "/", and vice
// versa, since doublestar treats the empty final segment literally.
//
// A malformed pattern (unbalanced "[" or "{") never produced by the
// compilation pipeline in package ignore falls back to a literal string
// comparison rather than panicking or silently matching everything.
func Match(pattern, path string) bool {
	ok, err := doublestar.Match(negateClasses(pattern), path)
	if err != nil {
		return pattern == path
	}
	return ok
}

// negateClasses rewrites the gitignore "[!abc]" negated-class spelling into
// doublestar/filepath.Match's "[^abc]" spelling. A bare "[!" that isn't part
// of a real character class still round-trips safely: if the result doesn't
// parse as a valid class, Match's fallback takes over.
func negateClasses(pattern string) string {
	if !strings.Contains(pattern, "[!") {
		return pattern
	}
	return strings.ReplaceAll(pattern, "[!", "[^")
}
