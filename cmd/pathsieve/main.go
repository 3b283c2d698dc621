// Package main is the entry point for the pathsieve CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rybkr/pathsieve/internal/cli"
	"github.com/rybkr/pathsieve/internal/ignore"
	"github.com/rybkr/pathsieve/internal/progress"
	"github.com/rybkr/pathsieve/internal/report"
	"github.com/rybkr/pathsieve/internal/selfupdate"
	"github.com/rybkr/pathsieve/internal/termcolor"
	"github.com/rybkr/pathsieve/internal/walker"
)

// Build-time variables set via -ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const ghRepo = "rybkr/pathsieve"

func main() {
	colorMode := termcolor.ColorAuto
	args := os.Args[1:]
	args = stripGlobalColorFlags(args, &colorMode)
	cw := termcolor.NewWriter(os.Stdout, colorMode)

	app := cli.NewApp("pathsieve", version)
	app.Register(walkCommand(cw))
	app.Register(checkCommand(cw))
	app.Register(explainCommand(cw))
	app.Register(versionCommand(cw))
	app.Register(updateCommand())

	os.Exit(app.Run(args, cw))
}

// stripGlobalColorFlags extracts --color/--no-color before dispatch, since
// the lightweight App has no notion of flags preceding the subcommand name.
func stripGlobalColorFlags(args []string, mode *termcolor.ColorMode) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--no-color":
			*mode = termcolor.ColorNever
		case "--color":
			if i+1 < len(args) {
				if m, err := termcolor.ParseColorMode(args[i+1]); err == nil {
					*mode = m
				}
				i++
			}
			continue
		default:
			if strings.HasPrefix(args[i], "--color=") {
				if m, err := termcolor.ParseColorMode(strings.TrimPrefix(args[i], "--color=")); err == nil {
					*mode = m
				}
				continue
			}
			out = append(out, args[i])
			continue
		}
	}
	return out
}

func updateCommand() *cli.Command {
	return &cli.Command{
		Name:     "update",
		Summary:  "Update to the latest release",
		Usage:    "pathsieve update [--check]",
		Examples: []string{"pathsieve update", "pathsieve update --check"},
		Run:      func(args []string) int { return runUpdate(args) },
	}
}

func runUpdate(args []string) int {
	checkOnly := false
	for _, a := range args {
		if a == "--check" || a == "-check" {
			checkOnly = true
		}
	}

	fmt.Printf("Current version: %s\n", version)

	latest, err := selfupdate.CheckLatest(ghRepo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error checking for updates: %v\n", err)
		return 1
	}
	fmt.Printf("Latest version:  %s\n", latest)

	if !selfupdate.NeedsUpdate(version, latest) {
		if version == "dev" {
			fmt.Println("Development build — skipping update.")
		} else {
			fmt.Println("Already up to date.")
		}
		return 0
	}

	if checkOnly {
		fmt.Printf("Update available: %s → %s\n", version, latest)
		fmt.Println("Run 'pathsieve update' to install it.")
		return 0
	}

	fmt.Printf("Updating to %s...\n", latest)
	if err := selfupdate.Update(ghRepo, "pathsieve", latest); err != nil {
		fmt.Fprintf(os.Stderr, "Update failed: %v\n", err)
		return 1
	}

	fmt.Printf("Successfully updated to %s\n", latest)
	return 0
}

func versionCommand(cw *termcolor.Writer) *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Show version information",
		Run: func(args []string) int {
			fmt.Printf("pathsieve %s\n", version)
			fmt.Printf("  commit:     %s\n", commit)
			fmt.Printf("  built:      %s\n", buildDate)
			fmt.Printf("  go version: %s\n", runtime.Version())
			fmt.Printf("  platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
			return 0
		},
	}
}

// walkCommand walks a root and prints a colored summary of emitted/errored entries.
func walkCommand(cw *termcolor.Writer) *cli.Command {
	return &cli.Command{
		Name:      "walk",
		Summary:   "Walk a directory tree, applying ignore rules",
		Usage:     "pathsieve walk [-ignore-file=.gitignore] [-no-dot-git] [-quiet] <root>",
		Examples:  []string{"pathsieve walk .", "pathsieve walk -ignore-file=.pathsieveignore ./project"},
		NeedsRoot: true,
		Run: func(args []string) int {
			fs := flag.NewFlagSet("walk", flag.ContinueOnError)
			ignoreFile := fs.String("ignore-file", ".gitignore", "Name of the ignore file to load from each directory")
			noDotGit := fs.Bool("no-dot-git", false, "Do not skip .git directories unconditionally")
			quiet := fs.Bool("quiet", false, "Suppress the spinner and summary table")
			if err := fs.Parse(args); err != nil {
				return 2
			}
			if fs.NArg() != 1 {
				fmt.Fprintln(os.Stderr, "pathsieve walk: exactly one root argument is required")
				return 2
			}
			root, err := filepath.Abs(fs.Arg(0))
			if err != nil {
				fmt.Fprintf(os.Stderr, "pathsieve walk: %v\n", err)
				return 1
			}

			opts := walker.Options{IgnoreFilename: *ignoreFile, IgnoreDotGit: !*noDotGit}

			var spin *progress.Spinner
			if !*quiet {
				spin = progress.New("Walking " + root + "...")
				spin.Start()
			}

			rules, err := ignore.BuildAll(root, opts.IgnoreFilename, opts.IgnoreDotGit)
			if err != nil {
				if spin != nil {
					spin.Stop()
				}
				fmt.Fprintf(os.Stderr, "pathsieve walk: build rules: %v\n", err)
				return 1
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			resultsCh, err := walker.WalkParallel(ctx, rules, root, opts)
			if err != nil {
				if spin != nil {
					spin.Stop()
				}
				fmt.Fprintf(os.Stderr, "pathsieve walk: %v\n", err)
				return 1
			}

			var results []walker.Result
			for r := range resultsCh {
				results = append(results, r)
			}
			if spin != nil {
				spin.Stop()
			}

			for _, r := range results {
				if r.Err != nil {
					fmt.Fprintf(os.Stderr, "%s %v\n", cw.Red("error:"), r.Err)
				}
			}

			if *quiet {
				for _, r := range results {
					if r.Err == nil {
						fmt.Println(r.PathMetadata.Path)
					}
				}
				return 0
			}

			counts := report.CountResults(results)
			if err := report.PrintSummary(os.Stdout, root, counts); err != nil {
				fmt.Fprintf(os.Stderr, "pathsieve walk: %v\n", err)
				return 1
			}
			return 0
		},
	}
}

// checkCommand reports whether a single path would be ignored under a root's rules.
func checkCommand(cw *termcolor.Writer) *cli.Command {
	return &cli.Command{
		Name:      "check",
		Summary:   "Check whether a path is ignored under a root",
		Usage:     "pathsieve check [-ignore-file=.gitignore] [-dir] <root> <path>",
		Examples:  []string{"pathsieve check . build/output.o", "pathsieve check -dir . node_modules"},
		NeedsRoot: true,
		Run: func(args []string) int {
			fs := flag.NewFlagSet("check", flag.ContinueOnError)
			ignoreFile := fs.String("ignore-file", ".gitignore", "Name of the ignore file to load from each directory")
			noDotGit := fs.Bool("no-dot-git", false, "Do not skip .git directories unconditionally")
			isDir := fs.Bool("dir", false, "Treat the path as a directory")
			if err := fs.Parse(args); err != nil {
				return 2
			}
			if fs.NArg() != 2 {
				fmt.Fprintln(os.Stderr, "pathsieve check: exactly two arguments required: <root> <path>")
				return 2
			}
			root, err := filepath.Abs(fs.Arg(0))
			if err != nil {
				fmt.Fprintf(os.Stderr, "pathsieve check: %v\n", err)
				return 1
			}
			path := fs.Arg(1)

			rules, err := ignore.BuildAll(root, *ignoreFile, !*noDotGit)
			if err != nil {
				fmt.Fprintf(os.Stderr, "pathsieve check: %v\n", err)
				return 1
			}

			result, pattern := rules.Explain(path, *isDir)
			if result == ignore.MatchIgnore {
				fmt.Println(cw.Red(path + " is ignored"))
			} else {
				fmt.Println(cw.Green(path + " is not ignored"))
			}
			if pattern != nil {
				fmt.Printf("  rule: %q\n", pattern.Original)
			}

			if result == ignore.MatchIgnore {
				return 1
			}
			return 0
		},
	}
}

// explainCommand renders a Markdown or HTML report of the winning rule for
// one or more paths.
func explainCommand(cw *termcolor.Writer) *cli.Command {
	return &cli.Command{
		Name:      "explain",
		Summary:   "Render a report explaining which rule matched each path",
		Usage:     "pathsieve explain [-ignore-file=.gitignore] [-html] <root> <path>...",
		Examples:  []string{"pathsieve explain . src/main.go build/", "pathsieve explain -html . src/main.go > report.html"},
		NeedsRoot: true,
		Run: func(args []string) int {
			fs := flag.NewFlagSet("explain", flag.ContinueOnError)
			ignoreFile := fs.String("ignore-file", ".gitignore", "Name of the ignore file to load from each directory")
			noDotGit := fs.Bool("no-dot-git", false, "Do not skip .git directories unconditionally")
			asHTML := fs.Bool("html", false, "Render as HTML instead of Markdown")
			if err := fs.Parse(args); err != nil {
				return 2
			}
			if fs.NArg() < 2 {
				fmt.Fprintln(os.Stderr, "pathsieve explain: at least two arguments required: <root> <path>...")
				return 2
			}
			root, err := filepath.Abs(fs.Arg(0))
			if err != nil {
				fmt.Fprintf(os.Stderr, "pathsieve explain: %v\n", err)
				return 1
			}
			paths := fs.Args()[1:]

			rules, err := ignore.BuildAll(root, *ignoreFile, !*noDotGit)
			if err != nil {
				fmt.Fprintf(os.Stderr, "pathsieve explain: %v\n", err)
				return 1
			}

			isDir := func(p string) bool {
				info, statErr := os.Stat(filepath.Join(root, p))
				return statErr == nil && info.IsDir()
			}

			entries := report.Explain(rules, paths, isDir)

			if *asHTML {
				html, err := report.HTML(entries)
				if err != nil {
					fmt.Fprintf(os.Stderr, "pathsieve explain: %v\n", err)
					return 1
				}
				fmt.Println(html)
				return 0
			}

			fmt.Println(report.Markdown(entries))
			return 0
		},
	}
}
