package walker

import (
	"fmt"
	"os"

	"github.com/rybkr/pathsieve/internal/ignore"
)

// WalkSerial stats an explicit list of candidate paths (already expressed
// relative to root) and emits the ones that survive rules.Check, without any
// directory descent or ignore-file discovery of its own. It is the targeted
// counterpart to WalkParallel: the caller already knows which files it cares
// about (e.g. a git diff's changed-file list) and only needs ignore-rule
// filtering, not traversal. Callers that also need nested ignore files
// folded into rules before calling this should build them first, e.g. via
// ignore.BuildAll.
func WalkSerial(rules *ignore.Rules, root string, relTargets []string) []Result {
	results := make([]Result, 0, len(relTargets))
	for _, rel := range relTargets {
		full := root + string(os.PathSeparator) + rel
		info, err := os.Lstat(full)
		if err != nil {
			results = append(results, Result{Err: fmt.Errorf("walker: stat %s: %w", rel, err)})
			continue
		}

		if rules.Check(rel, info.IsDir()) == ignore.MatchIgnore {
			continue
		}

		results = append(results, Result{PathMetadata: PathMetadata{Path: full, Info: info}})
	}
	return results
}
