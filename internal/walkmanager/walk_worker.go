package walkmanager

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rybkr/pathsieve/internal/ignore"
	"github.com/rybkr/pathsieve/internal/walker"
)

// normalizeRoot resolves rawPath to a cleaned absolute path and verifies it
// names an existing directory, rejecting anything a walk couldn't sensibly
// start from.
func normalizeRoot(rawPath string) (string, error) {
	if rawPath == "" {
		return "", fmt.Errorf("empty path")
	}

	abs, err := filepath.Abs(rawPath)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}
	abs = filepath.Clean(abs)

	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stat: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", abs)
	}

	return abs, nil
}

// hashPath returns the first 16 characters of the SHA-256 hex digest of the
// normalized path. The result is deterministic and filesystem-safe, used as
// a root's public ID.
func hashPath(normalizedPath string) string {
	h := sha256.Sum256([]byte(normalizedPath))
	return fmt.Sprintf("%x", h)[:16]
}

// performWalk builds a fresh ignore.Rules for rootPath and runs a full
// parallel walk, materializing every emitted entry into a Snapshot.
// onProgress is called periodically with the running entry count.
func performWalk(ctx context.Context, rootPath, ignoreFilename string, ignoreDotGit bool, onProgress func(WalkProgress)) (*Snapshot, *ignore.Rules, error) {
	rules := ignore.New(rootPath, ignoreFilename)

	opts := walker.Options{IgnoreFilename: ignoreFilename, IgnoreDotGit: ignoreDotGit}
	out, err := walker.WalkParallel(ctx, rules, rootPath, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("start walk: %w", err)
	}

	var entries []walker.PathMetadata
	errCount := 0
	reportEvery := 512

	for r := range out {
		if r.Err != nil {
			errCount++
			continue
		}
		entries = append(entries, r.PathMetadata)
		if onProgress != nil && len(entries)%reportEvery == 0 {
			onProgress(WalkProgress{Phase: "walking", Emitted: len(entries)})
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("walk canceled: %w", err)
	}

	return &Snapshot{Entries: entries, ErrorCount: errCount, WalkedAt: time.Now()}, rules, nil
}
