package glob

import "testing"

func TestMatch(t *testing.T) {
	cases := []struct {
		name    string
		pattern string
		path    string
		want    bool
	}{
		{"literal hit", "b.js", "b.js", true},
		{"literal miss", "b.js", "a.js", false},
		{"star within component", "*.js", "b.js", true},
		{"star does not cross slash", "*.js", "a/b.js", false},
		{"anywhere prefix via doublestar", "**/*.js", "a/b.js", true},
		{"anywhere prefix matches top level too", "**/*.js", "b.js", true},
		{"anchored globstar middle", "a/**/z.txt", "a/b/c/z.txt", true},
		{"anchored globstar zero segments", "a/**/z.txt", "a/z.txt", true},
		{"dir trailing slash required", "dir/", "dir/", true},
		{"dir trailing slash mismatch", "dir/", "dir", false},
		{"no trailing slash rejects trailing slash path", "dir", "dir/", false},
		{"question mark single char", "a?.txt", "ab.txt", true},
		{"question mark does not span slash", "a?.txt", "a/.txt", false},
		{"character class range", "data[0-9].csv", "data3.csv", true},
		{"character class range miss", "data[0-9].csv", "dataX.csv", false},
		{"negated class gitignore style", "data[!0-9].csv", "dataX.csv", true},
		{"negated class gitignore style excludes digit", "data[!0-9].csv", "data3.csv", false},
		{"negated class caret style", "data[^0-9].csv", "dataX.csv", true},
		{"anchored at root has no anywhere prefix", "a.js", "a.js", true},
		{"anchored at root does not match nested", "a.js", "sub/a.js", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Match(tc.pattern, tc.path); got != tc.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tc.pattern, tc.path, got, tc.want)
			}
		})
	}
}

func TestMatchMalformedPatternFallsBackToLiteral(t *testing.T) {
	if !Match("a[b", "a[b") {
		t.Error("malformed class pattern should still match its own literal text")
	}
	if Match("a[b", "ab") {
		t.Error("malformed class pattern should not match a different string")
	}
}
