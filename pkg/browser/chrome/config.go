package chrome

import (
	"errors"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// Config controls how the Chrome adapter launches or attaches to a browser.
type Config struct {
	// ProfileDir is the persistent user data directory. The logged-in
	// cookie jar lives here and must survive restarts.
	ProfileDir string
	// Headless launches Chrome without a window. Login flows need it off.
	Headless bool
	// Proxy is an optional proxy server URL passed to Chrome.
	Proxy string
	// AttachURL is a CDP websocket URL. When set the adapter drives an
	// already-running Chrome instead of launching one; ProfileDir,
	// Headless, Proxy and ExecPath are ignored.
	AttachURL string
	// StartURL is the page Start navigates to.
	StartURL string
	// UserAgent optionally overrides the browser user agent.
	UserAgent string
	// ExecPath optionally points at a specific Chrome binary.
	ExecPath string
	// NavigationTimeout bounds Start and Navigate.
	NavigationTimeout time.Duration
	WindowWidth       int
	WindowHeight      int
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		Headless:          true,
		StartURL:          "https://chat.openai.com",
		NavigationTimeout: 45 * time.Second,
		WindowWidth:       1280,
		WindowHeight:      800,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	defaults.Headless = c.Headless
	if strings.TrimSpace(c.ProfileDir) != "" {
		defaults.ProfileDir = c.ProfileDir
	}
	if strings.TrimSpace(c.Proxy) != "" {
		defaults.Proxy = c.Proxy
	}
	if strings.TrimSpace(c.AttachURL) != "" {
		defaults.AttachURL = c.AttachURL
	}
	if strings.TrimSpace(c.StartURL) != "" {
		defaults.StartURL = c.StartURL
	}
	if strings.TrimSpace(c.UserAgent) != "" {
		defaults.UserAgent = c.UserAgent
	}
	if strings.TrimSpace(c.ExecPath) != "" {
		defaults.ExecPath = c.ExecPath
	}
	if c.NavigationTimeout != 0 {
		defaults.NavigationTimeout = c.NavigationTimeout
	}
	if c.WindowWidth != 0 {
		defaults.WindowWidth = c.WindowWidth
	}
	if c.WindowHeight != 0 {
		defaults.WindowHeight = c.WindowHeight
	}
	return defaults
}

// Validate checks whether the config is usable.
func (c Config) Validate() error {
	if strings.TrimSpace(c.AttachURL) == "" && strings.TrimSpace(c.ProfileDir) == "" {
		return errors.New("profile_dir is required when not attaching")
	}
	if strings.TrimSpace(c.StartURL) == "" {
		return errors.New("start_url is required")
	}
	if c.NavigationTimeout <= 0 {
		return errors.New("navigation_timeout must be greater than zero")
	}
	return nil
}

// execOptions assembles the Chrome launch flags for local execution.
func (c Config) execOptions() []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.UserDataDir(c.ProfileDir),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,

		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-session-crashed-bubble", true),
		chromedp.Flag("hide-crash-restore-bubble", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-hang-monitor", true),

		chromedp.WindowSize(c.WindowWidth, c.WindowHeight),
	}

	if c.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if c.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(c.Proxy))
	}
	if c.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.UserAgent))
	}
	if c.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.ExecPath))
	}

	return opts
}
