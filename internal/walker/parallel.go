package walker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/rybkr/pathsieve/internal/ignore"
)

// WalkParallel traverses root with up to MaxParallelWorkers directories being
// listed concurrently. rules is mutated in place as nested ignore files are
// discovered: a directory's own ignore file, if any, is loaded and its rules
// appended before that directory's children are checked, so a file never
// loses out to a rule that should have already been in effect for it.
//
// A structural failure to stat or list root itself is returned directly,
// before any goroutine starts. Every other per-entry or per-directory error
// (a child that vanished mid-listing, a permission-denied subdirectory, an
// unreadable ignore file) is instead delivered as a Result on the returned
// channel so that one bad entry never aborts the rest of the walk. The
// channel is always closed once traversal (and any in-flight sends) finishes
// or ctx is canceled.
func WalkParallel(ctx context.Context, rules *ignore.Rules, root string, opts Options) (<-chan Result, error) {
	rootInfo, err := os.Lstat(root)
	if err != nil {
		return nil, fmt.Errorf("walker: stat root: %w", err)
	}
	if !rootInfo.IsDir() {
		return nil, fmt.Errorf("walker: root %q is not a directory", root)
	}

	out := make(chan Result, DefaultChannelBuffer)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxParallelWorkers)

	send := func(r Result) bool {
		select {
		case out <- r:
			return true
		case <-gctx.Done():
			return false
		}
	}

	var walkDir func(dir string) error
	walkDir = func(dir string) error {
		if err := loadIgnoreFile(rules, root, dir, opts.IgnoreFilename); err != nil {
			send(Result{Err: fmt.Errorf("walker: load ignore file in %s: %w", dir, err)})
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			send(Result{Err: fmt.Errorf("walker: list %s: %w", dir, err)})
			return nil
		}

		for _, entry := range entries {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			name := entry.Name()
			if opts.IgnoreDotGit && name == ".git" {
				continue
			}

			childPath := filepath.Join(dir, name)
			childRel := relPath(root, childPath)
			isDir := entry.IsDir()

			if rules.Check(childRel, isDir) == ignore.MatchIgnore {
				continue
			}

			if isDir {
				g.Go(func() error { return walkDir(childPath) })
				continue
			}

			info, infoErr := entry.Info()
			if !send(Result{PathMetadata: PathMetadata{Path: childPath, Info: info}, Err: infoErr}) {
				return gctx.Err()
			}
		}
		return nil
	}

	go func() {
		defer close(out)
		g.Go(func() error { return walkDir(root) })
		_ = g.Wait()
	}()

	return out, nil
}
