// Package walker traverses a directory tree, consulting an ignore.Rules set
// (loading nested ignore files as they're discovered) to decide what to
// prune and what to emit.
package walker

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rybkr/pathsieve/internal/ignore"
)

// MaxParallelWorkers bounds how many directories WalkParallel visits
// concurrently.
const MaxParallelWorkers = 8

// DefaultChannelBuffer bounds the in-flight result queue for WalkParallel.
// It keeps memory use predictable under a slow consumer without the
// head-of-line stall an unbuffered channel would impose on every worker.
const DefaultChannelBuffer = 256

// PathMetadata is one emitted, non-ignored filesystem entry.
type PathMetadata struct {
	// Path is the entry's full path (root-joined), OS-separated.
	Path string
	Info fs.FileInfo
}

// Result is one item on a walk's output channel: either a successfully
// stat'd entry, or a non-fatal error encountered while listing or stat'ing
// one directory or file. Errors here never abort the walk; only a failure to
// read the root itself does, and that is reported synchronously by the
// driver functions instead of over this channel.
type Result struct {
	PathMetadata PathMetadata
	Err          error
}

// Options mirrors the two knobs a caller has over traversal: which filename
// (if any) introduces ignore rules in each directory, and whether ".git" is
// always skipped regardless of rules.
type Options struct {
	// IgnoreFilename is the name of the ignore file to load from each
	// directory (e.g. ".gitignore"). Empty disables ignore-file ingestion
	// entirely; only rules already present when the walk starts apply.
	IgnoreFilename string
	// IgnoreDotGit causes ".git" directories to be skipped unconditionally,
	// without consulting the rule set.
	IgnoreDotGit bool
}

// GitIgnoreOptions returns the conventional options for a git-style walk.
func GitIgnoreOptions() Options {
	return Options{IgnoreFilename: ".gitignore", IgnoreDotGit: true}
}

func relPath(root, full string) string {
	rel, err := filepath.Rel(root, full)
	if err != nil {
		return full
	}
	return filepath.ToSlash(rel)
}

func loadIgnoreFile(rules *ignore.Rules, root, dir, ignoreFilename string) error {
	if ignoreFilename == "" {
		return nil
	}
	full := filepath.Join(dir, ignoreFilename)
	content, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	rules.AddPatterns(ignore.ParseFile(relPath(root, full), string(content)))
	return nil
}
