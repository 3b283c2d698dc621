package ignore

import (
	"os"
	"path/filepath"
	"sort"
)

// BuildAll eagerly scans root for every ignore file and returns a fully
// populated Rules, without emitting any path to a caller. It performs the
// same descend-and-prune decision a walk makes (a directory excluded by its
// ancestors' rules is not scanned for its own ignore file) but does it
// serially and up front, which is what a one-off "is this path ignored"
// query or the serial walk variant need: they want the complete rule set
// before they ever ask Check a question, rather than discovering it lazily
// alongside emission.
func BuildAll(root, ignoreFilename string, ignoreDotGit bool) (*Rules, error) {
	rules := New(root, ignoreFilename)
	if ignoreFilename == "" {
		return rules, nil
	}
	if err := scanDir(rules, root, "", ignoreDotGit); err != nil {
		return nil, err
	}
	return rules, nil
}

func scanDir(rules *Rules, root, relDir string, ignoreDotGit bool) error {
	ignoreFile := filepath.Join(root, relDir, rules.ignoreFilename)
	if content, err := os.ReadFile(ignoreFile); err == nil {
		filePath := rules.ignoreFilename
		if relDir != "" {
			filePath = relDir + "/" + rules.ignoreFilename
		}
		rules.AddPatterns(ParseFile(filePath, string(content)))
	} else if !os.IsNotExist(err) {
		return err
	}

	entries, err := os.ReadDir(filepath.Join(root, relDir))
	if err != nil {
		return err
	}

	var subdirs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if ignoreDotGit && entry.Name() == ".git" {
			continue
		}
		subdirs = append(subdirs, entry.Name())
	}
	sort.Strings(subdirs)

	for _, name := range subdirs {
		childRel := name
		if relDir != "" {
			childRel = relDir + "/" + name
		}
		if rules.Check(childRel, true) == MatchIgnore {
			continue
		}
		if err := scanDir(rules, root, childRel, ignoreDotGit); err != nil {
			return err
		}
	}
	return nil
}
