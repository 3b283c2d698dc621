// Package main is the entry point for the pathsieved server daemon.
package main

import (
	"context"
	"embed"
	"encoding/json"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/rybkr/pathsieve/internal/progress"
	"github.com/rybkr/pathsieve/internal/selfupdate"
	"github.com/rybkr/pathsieve/internal/server"
	"github.com/rybkr/pathsieve/internal/termcolor"
	"github.com/rybkr/pathsieve/internal/walkmanager"
)

const (
	modeLocal      = "local"
	outputFormatJS = "json"
)

// Build-time variables set via -ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	initLogger()

	// CLI flags
	rootPath := flag.String("root", getEnv("PATHSIEVE_ROOT", ""), "Path to walk (local mode)")
	maxRoots := flag.Int("max-roots", atoiOr(getEnv("PATHSIEVE_MAX_ROOTS", "0"), 0), "Maximum managed roots (managed mode, 0 = default of 100)")
	port := flag.String("port", getEnv("PATHSIEVE_PORT", "8080"), "Port to listen on")
	host := flag.String("host", getEnv("PATHSIEVE_HOST", ""), "Host to bind to (empty = all interfaces)")
	ignoreFile := flag.String("ignore-file", getEnv("PATHSIEVE_IGNORE_FILE", ".gitignore"), "Name of the ignore file to load from each directory")
	colorFlag := flag.String("color", "auto", "Color output: auto, always, never")
	noColor := flag.Bool("no-color", false, "Disable color output")
	showVersion := flag.Bool("version", false, "Show version and exit")
	checkUpdate := flag.Bool("check-update", false, "Check for a newer release and exit")
	showHelp := flag.Bool("help", false, "Show help and exit")
	outputFormat := flag.String("output", "", "Startup output format: json (default: human-readable)")

	flag.Parse()

	// Resolve color mode.
	colorMode := termcolor.ColorAuto
	if *noColor {
		colorMode = termcolor.ColorNever
	} else if *colorFlag != "auto" {
		var err error
		colorMode, err = termcolor.ParseColorMode(*colorFlag)
		if err != nil {
			slog.Error("Invalid color flag", "value", *colorFlag, "err", err)
			os.Exit(1)
		}
	}
	cw := termcolor.NewWriter(os.Stdout, colorMode)

	portNum, _ := strconv.Atoi(*port)
	if err := validateConfig(*outputFormat, portNum); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", cw.Red("error:"), err)
		os.Exit(1)
	}

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if *checkUpdate {
		runCheckUpdate()
		os.Exit(0)
	}

	if *showHelp {
		printHelp(cw)
		os.Exit(0)
	}

	// The daemon serves its REST/WebSocket API only; there is no embedded
	// frontend bundle, so webFS is an empty filesystem.
	var webFS fs.FS = embed.FS{}

	addr := fmt.Sprintf("%s:%s", *host, *port)

	var serv interface {
		Start() error
		Shutdown()
	}

	var wm *walkmanager.Manager
	var rootLoadDur time.Duration

	if *rootPath != "" {
		// LOCAL MODE: walk the given root once at startup, create a local server.
		spin := progress.New("Walking root...")
		spin.Start()
		rootLoadStart := time.Now()
		serv = server.NewLocalServer(*rootPath, addr, webFS)
		rootLoadDur = time.Since(rootLoadStart).Round(time.Millisecond)
		spin.Stop()

		slog.Info("Starting pathsieved", "version", version, "mode", modeLocal)
		slog.Info("Root configured", "path", *rootPath)
	} else {
		// MANAGED MODE: create a walkmanager, start it, create a managed server.
		var err error
		wm, err = walkmanager.New(walkmanager.Config{
			MaxRoots:       *maxRoots,
			IgnoreFilename: *ignoreFile,
			IgnoreDotGit:   true,
		})
		if err != nil {
			slog.Error("Failed to create walk manager", "err", err)
			os.Exit(1)
		}

		if err := wm.Start(); err != nil {
			slog.Error("Failed to start walk manager", "err", err)
			os.Exit(1)
		}

		serv = server.NewManagedServer(wm, addr, webFS)

		slog.Info("Starting pathsieved", "version", version, "mode", "managed")
		slog.Info("Max roots", "value", *maxRoots)
	}

	slog.Info("Listening", "addr", "http://"+addr)

	mode := "managed"
	if *rootPath != "" {
		mode = modeLocal
	}
	if *outputFormat == outputFormatJS {
		printStartupJSON(mode, addr, *rootPath, rootLoadDur)
	} else {
		printStartupBanner(cw, mode, addr, *rootPath, rootLoadDur)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- serv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("Server error", "err", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		slog.Info("Shutdown initiated, press Ctrl+C again to force exit")
		stop()
		serv.Shutdown()
		if wm != nil {
			slog.Info("Stopping walk manager")
			wm.Close()
			slog.Info("Walk manager stopped")
		}
	}
}

// initLogger reads PATHSIEVE_LOG_LEVEL and PATHSIEVE_LOG_FORMAT from the
// environment, constructs the appropriate slog.Handler, and installs it as the
// default logger via slog.SetDefault.
func initLogger() {
	level := slog.LevelInfo
	switch getEnv("PATHSIEVE_LOG_LEVEL", "info") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if getEnv("PATHSIEVE_LOG_FORMAT", "text") == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func printVersion() {
	fmt.Printf("pathsieved %s\n", version)
	fmt.Printf("  commit:     %s\n", commit)
	fmt.Printf("  built:      %s\n", buildDate)
	fmt.Printf("  go version: %s\n", runtime.Version())
	fmt.Printf("  platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func runCheckUpdate() {
	const repo = "rybkr/pathsieve"
	fmt.Printf("Current version: %s\n", version)

	latest, err := selfupdate.CheckLatest(repo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error checking for updates: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Latest version:  %s\n", latest)

	if !selfupdate.NeedsUpdate(version, latest) {
		if version == "dev" {
			fmt.Println("Development build — skipping update check.")
		} else {
			fmt.Println("Already up to date.")
		}
		return
	}

	fmt.Printf("\nUpdate available: %s → %s\n", version, latest)
	fmt.Println("To update, run one of:")
	fmt.Println("  pathsieve update")
	fmt.Println("  brew upgrade pathsieve")
}

func validateConfig(outputFormat string, portNum int) error {
	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if outputFormat != "" && outputFormat != outputFormatJS {
		return fmt.Errorf("-output %q is not valid; only \"json\" is supported", outputFormat)
	}
	return nil
}

func printStartupBanner(cw *termcolor.Writer, mode, addr, rootPath string, rootLoadDur time.Duration) {
	fmt.Printf("%s %s\n", cw.BoldCyan("pathsieved"), cw.Green(version))
	fmt.Printf("  mode:    %s\n", mode)
	if mode == modeLocal {
		timing := fmt.Sprintf("(walked in %s)", cw.Yellow(rootLoadDur.String()))
		fmt.Printf("  root:    %s  %s\n", rootPath, timing)
	} else {
		fmt.Printf("  mode:    managed (roots added via API)\n")
	}
	fmt.Printf("  listen:  http://%s\n", addr)
	fmt.Printf("  commit:  %s\n", commit)
	if termcolor.IsTerminal(os.Stdout.Fd()) {
		fmt.Printf("\n%s\n", cw.Bold("Press Ctrl+C to stop."))
	}
}

type startupInfo struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	BuildDate  string `json:"build_date"`
	Mode       string `json:"mode"`
	Listen     string `json:"listen"`
	RootPath   string `json:"root_path,omitempty"`
	RootLoadMs int64  `json:"root_load_ms,omitempty"`
}

func printStartupJSON(mode, addr, rootPath string, rootLoadDur time.Duration) {
	info := startupInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		Mode:      mode,
		Listen:    "http://" + addr,
	}
	if mode == modeLocal {
		info.RootPath = rootPath
		info.RootLoadMs = rootLoadDur.Milliseconds()
	}
	data, _ := json.Marshal(info)
	fmt.Println(string(data))
}

func printHelp(cw *termcolor.Writer) {
	fmt.Println("pathsieved - Parallel directory walking and ignore-rule evaluation server")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println(cw.Bold("Usage:"))
	fmt.Println("  pathsieved [flags]")
	fmt.Println()
	fmt.Println(cw.Bold("Flags:"))
	fmt.Printf("  %s string\n", cw.Yellow("-root"))
	fmt.Println("        Path to walk (local mode)")
	fmt.Println("        Environment: PATHSIEVE_ROOT")
	fmt.Println()
	fmt.Printf("  %s int\n", cw.Yellow("-max-roots"))
	fmt.Println("        Maximum managed roots (managed mode, default: 100)")
	fmt.Println("        Environment: PATHSIEVE_MAX_ROOTS")
	fmt.Println()
	fmt.Printf("  %s string\n", cw.Yellow("-port"))
	fmt.Println("        Port to listen on (default: 8080)")
	fmt.Println("        Environment: PATHSIEVE_PORT")
	fmt.Println()
	fmt.Printf("  %s string\n", cw.Yellow("-host"))
	fmt.Println("        Host to bind to (default: all interfaces)")
	fmt.Println("        Environment: PATHSIEVE_HOST")
	fmt.Println()
	fmt.Printf("  %s string\n", cw.Yellow("-ignore-file"))
	fmt.Println("        Name of the ignore file to load from each directory (default: .gitignore)")
	fmt.Println("        Environment: PATHSIEVE_IGNORE_FILE")
	fmt.Println()
	fmt.Printf("  %s string\n", cw.Yellow("-output"))
	fmt.Println("        Startup output format: json (default: human-readable)")
	fmt.Println()
	fmt.Printf("  %s\n", cw.Yellow("-version"))
	fmt.Println("        Show version and exit")
	fmt.Println()
	fmt.Printf("  %s\n", cw.Yellow("-check-update"))
	fmt.Println("        Check for a newer release and exit")
	fmt.Println()
	fmt.Printf("  %s\n", cw.Yellow("-help"))
	fmt.Println("        Show this help message")
	fmt.Println()
	fmt.Println(cw.Bold("Examples:"))
	fmt.Println("  pathsieved -root .              # local mode: walk the current directory")
	fmt.Println("  pathsieved -root /path/to/tree  # local mode: specific root")
	fmt.Println("  pathsieved                      # managed mode: add roots via API")
	fmt.Println("  pathsieved -port 3000")
	fmt.Println("  pathsieved -host localhost -port 9090")
	fmt.Println()
	fmt.Println(cw.Bold("Environment Variables:"))
	fmt.Println("  PATHSIEVE_ROOT          Root path (sets local mode)")
	fmt.Println("  PATHSIEVE_MAX_ROOTS     Maximum managed roots for managed mode")
	fmt.Println("  PATHSIEVE_PORT          Default port")
	fmt.Println("  PATHSIEVE_HOST          Default host")
	fmt.Println("  PATHSIEVE_IGNORE_FILE   Ignore filename (default: .gitignore)")
	fmt.Println("  PATHSIEVE_CACHE_SIZE    Per-session LRU cache size")
	fmt.Println("  PATHSIEVE_LOG_LEVEL     Log level: debug, info, warn, error (default: info)")
	fmt.Println("  PATHSIEVE_LOG_FORMAT    Log format: text, json (default: text)")
}
