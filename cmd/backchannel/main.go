package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"
	"golang.org/x/time/rate"

	"github.com/odvcencio/backchannel/pkg/backchannel/console"
	"github.com/odvcencio/backchannel/pkg/bridge"
	"github.com/odvcencio/backchannel/pkg/browser/chrome"
	"github.com/odvcencio/backchannel/pkg/config"
	"github.com/odvcencio/backchannel/pkg/diag"
	"github.com/odvcencio/backchannel/pkg/logging"
	"github.com/odvcencio/backchannel/pkg/observability"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// installRefreshTimeout bounds the session probe after a login attempt.
// A logged-out browser never publishes the session node, so without a
// bound the probe would poll forever.
const installRefreshTimeout = 30 * time.Second

type startupOptions struct {
	configPath  string
	model       string
	timeoutSecs int
	headlessSet bool
	headless    bool
	profileDir  string
	proxy       string
	attachURL   string
	stream      bool
	debugLog    string
	diagListen  string
	trace       bool
	noColor     bool
	args        []string
}

func main() {
	opts, err := parseStartupOptions(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if handled, exitCode := dispatchSubcommand(opts.args); handled {
		os.Exit(exitCode)
	}

	os.Exit(run(opts))
}

func run(opts *startupOptions) int {
	if err := runMain(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeForError(err)
	}
	return 0
}

func runMain(opts *startupOptions) error {
	var cfg *config.Config
	var err error
	if opts.configPath != "" {
		cfg, err = config.LoadFromPath(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return withExitCode(err, 2)
	}
	applyFlagOverrides(cfg, opts)

	command, prompt, err := splitCommand(opts.args)
	if err != nil {
		return err
	}
	if command == "install" {
		// A human has to see the window to log in.
		cfg.Browser.Headless = false
	}
	if err := cfg.Validate(); err != nil {
		return withExitCode(err, 2)
	}

	out := console.NewWithOptions(os.Stdout, opts.noColor || !isInteractiveTerminal(), 0)

	logger := logging.NewLogger(cfg.DebugLogPath())
	defer logger.Close()
	if cfg.Logging.Level != "" {
		logger.SetMinLevel(logging.Level(cfg.Logging.Level))
	}

	if cfg.Tracing.Enabled {
		tp, err := observability.NewTracerProvider("backchannel", version)
		if err != nil {
			out.Warningf("tracing disabled: %v", err)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host, err := chrome.New(chromeConfig(cfg))
	if err != nil {
		return fmt.Errorf("browser setup: %w", err)
	}
	defer host.Close()

	logger.Info(logging.CategoryBrowser, "browser_starting", "launching browser", map[string]any{
		"headless": cfg.Browser.Headless,
		"attach":   cfg.Browser.AttachURL != "",
	})
	if err := host.Start(ctx); err != nil {
		return fmt.Errorf("browser start: %w", err)
	}

	b, err := bridge.New(host, bridgeOptions(cfg, logger))
	if err != nil {
		return err
	}

	if cfg.Diag.Enabled {
		server := diag.NewServer(cfg.Diag.Listen, func() diag.Status {
			return diag.Status{
				SessionUsable:  b.SessionUsable(),
				ConversationID: b.ConversationID(),
				Model:          b.Model(),
			}
		}, logger)
		if err := server.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	switch command {
	case "install":
		return runInstall(ctx, out, b, cfg)
	case "session":
		return runSession(ctx, out, b)
	case "repl":
		return runREPL(ctx, out, b, opts.stream)
	}

	if prompt != "" {
		runOneShot(ctx, out, b, prompt, opts.stream)
		return nil
	}

	// No command and no prompt: piped stdin becomes one ask, a terminal
	// becomes the REPL.
	if !isInteractiveTerminal() {
		if piped := readPipedInput(); piped != "" {
			runOneShot(ctx, out, b, piped, opts.stream)
			return nil
		}
	}
	return runREPL(ctx, out, b, opts.stream)
}

func parseStartupOptions(raw []string) (*startupOptions, error) {
	opts := &startupOptions{timeoutSecs: -1}
	if val, ok := parseBoolEnv("NO_COLOR"); ok {
		opts.noColor = val
	}

	filtered := make([]string, 0, len(raw))
	var pending string

	for _, arg := range raw {
		if pending != "" {
			if err := opts.setValue(pending, arg); err != nil {
				return nil, err
			}
			pending = ""
			continue
		}

		switch arg {
		case "--config", "-c":
			pending = "config"
		case "--model", "-m":
			pending = "model"
		case "--timeout":
			pending = "timeout"
		case "--profile-dir":
			pending = "profile-dir"
		case "--proxy":
			pending = "proxy"
		case "--attach":
			pending = "attach"
		case "--debug-log":
			pending = "debug-log"
		case "--diag":
			pending = "diag"
		case "--headless":
			opts.headlessSet = true
			opts.headless = true
		case "--stream":
			opts.stream = true
		case "--trace":
			opts.trace = true
		case "--no-color":
			opts.noColor = true
		default:
			if name, value, ok := splitFlagValue(arg); ok {
				if err := opts.setValue(name, value); err != nil {
					return nil, err
				}
				continue
			}
			filtered = append(filtered, arg)
		}
	}

	if pending != "" {
		return nil, fmt.Errorf("--%s requires a value", pending)
	}

	opts.args = filtered
	return opts, nil
}

// splitFlagValue handles the --flag=value form for every value flag.
func splitFlagValue(arg string) (name, value string, ok bool) {
	if !strings.HasPrefix(arg, "--") || !strings.Contains(arg, "=") {
		return "", "", false
	}
	name, value, _ = strings.Cut(strings.TrimPrefix(arg, "--"), "=")
	switch name {
	case "config", "model", "timeout", "profile-dir", "proxy", "attach", "debug-log", "diag", "headless":
		return name, value, true
	}
	return "", "", false
}

func (o *startupOptions) setValue(name, value string) error {
	switch name {
	case "config":
		o.configPath = value
	case "model":
		o.model = value
	case "timeout":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("--timeout wants a positive number of seconds, got %q", value)
		}
		o.timeoutSecs = n
	case "profile-dir":
		o.profileDir = value
	case "proxy":
		o.proxy = value
	case "attach":
		o.attachURL = value
	case "debug-log":
		o.debugLog = value
	case "diag":
		o.diagListen = value
	case "headless":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("--headless wants true or false, got %q", value)
		}
		o.headlessSet = true
		o.headless = b
	default:
		return fmt.Errorf("unknown flag --%s", name)
	}
	return nil
}

func parseBoolEnv(key string) (bool, bool) {
	val := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if val == "" {
		return false, false
	}
	switch val {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func applyFlagOverrides(cfg *config.Config, opts *startupOptions) {
	if opts.model != "" {
		cfg.Bridge.Model = opts.model
	}
	if opts.timeoutSecs > 0 {
		cfg.Bridge.TimeoutSecs = opts.timeoutSecs
	}
	if opts.headlessSet {
		cfg.Browser.Headless = opts.headless
	}
	if opts.profileDir != "" {
		cfg.Browser.ProfileDir = opts.profileDir
	}
	if opts.proxy != "" {
		cfg.Browser.Proxy = opts.proxy
	}
	if opts.attachURL != "" {
		cfg.Browser.AttachURL = opts.attachURL
	}
	if opts.debugLog != "" {
		cfg.Logging.DebugLog = opts.debugLog
	}
	if opts.diagListen != "" {
		cfg.Diag.Enabled = true
		cfg.Diag.Listen = opts.diagListen
	}
	if opts.trace {
		cfg.Tracing.Enabled = true
	}
}

// splitCommand separates a leading command word from a prompt. Commands
// take no trailing arguments; everything else is joined into one prompt.
func splitCommand(args []string) (command, prompt string, err error) {
	if len(args) == 0 {
		return "", "", nil
	}
	switch args[0] {
	case "install", "session", "repl":
		if len(args) > 1 {
			return "", "", fmt.Errorf("%s takes no arguments", args[0])
		}
		return args[0], "", nil
	}
	return "", strings.Join(args, " "), nil
}

func dispatchSubcommand(args []string) (bool, int) {
	if len(args) == 0 {
		return false, 0
	}
	switch args[0] {
	case "--version", "-v", "version":
		printVersion()
		return true, 0
	case "--help", "-h", "help":
		printHelp()
		return true, 0
	}
	return false, 0
}

func chromeConfig(cfg *config.Config) chrome.Config {
	return chrome.Config{
		ProfileDir:        cfg.ProfileDir(),
		Headless:          cfg.Browser.Headless,
		Proxy:             cfg.Browser.Proxy,
		AttachURL:         cfg.Browser.AttachURL,
		StartURL:          cfg.StartURL(),
		UserAgent:         cfg.Browser.UserAgent,
		NavigationTimeout: time.Duration(cfg.Browser.NavigationTimeoutSecs) * time.Second,
		WindowWidth:       cfg.Browser.WindowWidth,
		WindowHeight:      cfg.Browser.WindowHeight,
	}
}

func bridgeOptions(cfg *config.Config, logger *logging.Logger) bridge.Options {
	return bridge.Options{
		Model:        cfg.Bridge.Model,
		BaseURL:      cfg.Bridge.BaseURL,
		Timeout:      time.Duration(cfg.Bridge.TimeoutSecs) * time.Second,
		PollInterval: time.Duration(cfg.Bridge.PollIntervalMS) * time.Millisecond,
		RESTRate:     rate.Limit(cfg.Bridge.RESTRatePerSec),
		RESTBurst:    cfg.Bridge.RESTBurst,
		Logger:       logger,
	}
}

func runOneShot(ctx context.Context, out *console.Console, b *bridge.Bridge, prompt string, stream bool) {
	if stream {
		for chunk := range b.AskStream(ctx, prompt) {
			out.Stream(chunk)
		}
		out.Stream("\n")
		return
	}
	out.Println(b.Ask(ctx, prompt))
}

// runInstall opens a visible browser window, waits for the user to log
// in, and then probes the session so the user knows whether it took.
func runInstall(ctx context.Context, out *console.Console, b *bridge.Bridge, cfg *config.Config) error {
	out.Println("A browser window is open at " + cfg.StartURL() + ".")
	out.Println("Log in to ChatGPT there, then come back to this terminal.")
	out.Prompt("Press Enter once you are logged in (Ctrl-C aborts): ")

	if err := waitForEnter(ctx); err != nil {
		return err
	}

	probeCtx, cancel := context.WithTimeout(ctx, installRefreshTimeout)
	defer cancel()
	if err := b.RefreshSession(probeCtx); err != nil {
		out.Warningf("could not read a session: %v", err)
		out.Println("Log in in the browser window and run the `session` command to retry.")
		return nil
	}
	reportSession(out, b)
	return nil
}

// runSession refreshes the session and reports whether it is usable.
func runSession(ctx context.Context, out *console.Console, b *bridge.Bridge) error {
	probeCtx, cancel := context.WithTimeout(ctx, installRefreshTimeout)
	defer cancel()
	if err := b.RefreshSession(probeCtx); err != nil {
		return err
	}
	reportSession(out, b)
	return nil
}

func reportSession(out *console.Console, b *bridge.Bridge) {
	if b.SessionUsable() {
		out.Success("Your session is usable. Ask away.")
		return
	}
	out.Warning("No access token in the session; you are probably not logged in.")
	out.Println("Run the `install` command and log in to ChatGPT.")
}

func waitForEnter(ctx context.Context) error {
	lines := make(chan struct{})
	go func() {
		reader := bufio.NewReader(os.Stdin)
		_, _ = reader.ReadString('\n')
		close(lines)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-lines:
		return nil
	}
}

// readPipedInput drains stdin when it is not a terminal. Empty input
// returns "".
func readPipedInput() string {
	stat, err := os.Stdin.Stat()
	if err != nil || (stat.Mode()&os.ModeCharDevice) != 0 {
		return ""
	}
	scanner := bufio.NewScanner(os.Stdin)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func isInteractiveTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) &&
		term.IsTerminal(int(os.Stdout.Fd()))
}

func printVersion() {
	fmt.Printf("backchannel %s\n", version)
	if commit != "unknown" {
		fmt.Printf("  Commit:     %s\n", commit)
	}
	if buildDate != "unknown" {
		fmt.Printf("  Built:      %s\n", buildDate)
	}
	fmt.Printf("  Go version: %s\n", runtime.Version())
}

func printHelp() {
	fmt.Println("backchannel - drive the ChatGPT web app from your terminal")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  backchannel [FLAGS] [COMMAND | PROMPT...]")
	fmt.Println()
	fmt.Println("MODES:")
	fmt.Println("  backchannel                      Start the interactive REPL (with a terminal)")
	fmt.Println("  backchannel \"prompt...\"          One-shot: ask once, print the answer, exit")
	fmt.Println("  echo prompt | backchannel        Piped stdin is read whole and asked once")
	fmt.Println()
	fmt.Println("COMMANDS:")
	fmt.Println("  install                          Open a visible browser window to log in to ChatGPT")
	fmt.Println("  session                          Refresh the session and report whether it is usable")
	fmt.Println("  repl                             Force the interactive loop even without a terminal")
	fmt.Println()
	fmt.Println("FLAGS:")
	fmt.Println("  -c, --config <path>              Use a specific config file")
	fmt.Println("  -m, --model <key>                Model key: default, legacy-paid, legacy-free")
	fmt.Println("  --timeout <secs>                 Seconds a silent stream may run before giving up")
	fmt.Println("  --headless[=bool]                Run the browser without a window (install forces it off)")
	fmt.Println("  --profile-dir <path>             Browser profile directory (holds the login cookie jar)")
	fmt.Println("  --proxy <url>                    Proxy server for the browser")
	fmt.Println("  --attach <ws-url>                Drive an already-running Chrome over its CDP websocket")
	fmt.Println("  --stream                         Print one-shot answers as they stream")
	fmt.Println("  --debug-log <path>               Write JSONL debug events to this file")
	fmt.Println("  --diag <addr>                    Serve /healthz, /metrics, /api/status on this address")
	fmt.Println("  --trace                          Print OpenTelemetry spans to stdout")
	fmt.Println("  --no-color                       Disable colored output")
	fmt.Println("  -v, --version                    Show version information")
	fmt.Println("  -h, --help                       Show this help")
	fmt.Println()
	fmt.Println("ENVIRONMENT:")
	fmt.Println("  BACKCHANNEL_MODEL                Model key override")
	fmt.Println("  BACKCHANNEL_BASE_URL             Site root (default https://chat.openai.com)")
	fmt.Println("  BACKCHANNEL_HEADLESS             true/false browser window toggle")
	fmt.Println("  BACKCHANNEL_PROFILE_DIR          Browser profile directory")
	fmt.Println("  BACKCHANNEL_PROXY                Browser proxy URL")
	fmt.Println("  BACKCHANNEL_ATTACH_URL           CDP websocket URL to attach to")
	fmt.Println("  BACKCHANNEL_TIMEOUT_SECS         Stream timeout in seconds")
	fmt.Println("  BACKCHANNEL_DIAG_LISTEN          Enable the diagnostics server on this address")
	fmt.Println("  BACKCHANNEL_DEBUG_LOG            JSONL debug log path")
	fmt.Println()
	fmt.Println("Inside the REPL, type !help for conversation commands.")
}
