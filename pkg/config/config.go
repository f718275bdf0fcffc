package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Default configuration values
const (
	DefaultBaseURL               = "https://chat.openai.com"
	DefaultModel                 = "default"
	DefaultTimeoutSecs           = 60
	DefaultPollIntervalMS        = 200
	DefaultNavigationTimeoutSecs = 45
	DefaultWindowWidth           = 1280
	DefaultWindowHeight          = 800
	DefaultDiagListen            = "127.0.0.1:9915"
	DefaultRESTRatePerSec        = 1
	DefaultRESTBurst             = 5
)

// ModelKeys are the recognized values for bridge.model. The key is
// translated to the backend's render-model name by the bridge.
var ModelKeys = []string{"default", "legacy-paid", "legacy-free"}

// Config is the root backchannel configuration
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Diag    DiagConfig    `yaml:"diag"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// BrowserConfig controls the Chrome instance the bridge drives
type BrowserConfig struct {
	Headless              bool   `yaml:"headless"`
	ProfileDir            string `yaml:"profile_dir"` // persistent profile; keeps the login cookie jar
	Proxy                 string `yaml:"proxy"`
	AttachURL             string `yaml:"attach_url"` // CDP websocket URL; set to drive an already-running Chrome
	StartURL              string `yaml:"start_url"`  // defaults to bridge.base_url
	UserAgent             string `yaml:"user_agent"`
	NavigationTimeoutSecs int    `yaml:"navigation_timeout_secs"`
	WindowWidth           int    `yaml:"window_width"`
	WindowHeight          int    `yaml:"window_height"`
}

// BridgeConfig controls the conversation bridge
type BridgeConfig struct {
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"` // default, legacy-paid, legacy-free
	TimeoutSecs    int    `yaml:"timeout_secs"`
	PollIntervalMS int    `yaml:"poll_interval_ms"`
	RESTRatePerSec int    `yaml:"rest_rate_per_sec"`
	RESTBurst      int    `yaml:"rest_burst"`
}

// DiagConfig controls the optional diagnostics HTTP server
type DiagConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig controls the structured debug log
type LoggingConfig struct {
	DebugLog string `yaml:"debug_log"` // JSONL file path; empty disables the file
	Level    string `yaml:"level"`
}

// TracingConfig controls optional span tracing to stdout
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns a config populated with defaults
func DefaultConfig() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless:              true,
			ProfileDir:            defaultProfileDir(),
			NavigationTimeoutSecs: DefaultNavigationTimeoutSecs,
			WindowWidth:           DefaultWindowWidth,
			WindowHeight:          DefaultWindowHeight,
		},
		Bridge: BridgeConfig{
			BaseURL:        DefaultBaseURL,
			Model:          DefaultModel,
			TimeoutSecs:    DefaultTimeoutSecs,
			PollIntervalMS: DefaultPollIntervalMS,
			RESTRatePerSec: DefaultRESTRatePerSec,
			RESTBurst:      DefaultRESTBurst,
		},
		Diag: DiagConfig{
			Enabled: false,
			Listen:  DefaultDiagListen,
		},
		Logging: LoggingConfig{
			Level: "debug",
		},
		Tracing: TracingConfig{
			Enabled: false,
		},
	}
}

// Load loads configuration from default locations with proper precedence:
// defaults, then ~/.backchannel/config.yaml, then ./.backchannel/config.yaml,
// then environment variables.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	home, err := os.UserHomeDir()
	if err != nil {
		// Fall back to HOME env var if UserHomeDir fails
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".backchannel", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	projectConfigPath := filepath.Join(".", ".backchannel", "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BACKCHANNEL_BASE_URL"); v != "" {
		cfg.Bridge.BaseURL = v
	}
	if v := os.Getenv("BACKCHANNEL_MODEL"); v != "" {
		cfg.Bridge.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("BACKCHANNEL_TIMEOUT_SECS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Bridge.TimeoutSecs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("BACKCHANNEL_HEADLESS")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Browser.Headless = b
		}
	}
	if v := os.Getenv("BACKCHANNEL_PROFILE_DIR"); v != "" {
		cfg.Browser.ProfileDir = v
	}
	if v := os.Getenv("BACKCHANNEL_PROXY"); v != "" {
		cfg.Browser.Proxy = v
	}
	if v := os.Getenv("BACKCHANNEL_ATTACH_URL"); v != "" {
		cfg.Browser.AttachURL = v
	}
	if v := os.Getenv("BACKCHANNEL_USER_AGENT"); v != "" {
		cfg.Browser.UserAgent = v
	}
	if v := os.Getenv("BACKCHANNEL_DIAG_LISTEN"); v != "" {
		cfg.Diag.Enabled = true
		cfg.Diag.Listen = v
	}
	if v := os.Getenv("BACKCHANNEL_DEBUG_LOG"); v != "" {
		cfg.Logging.DebugLog = v
	}
	if v := strings.TrimSpace(os.Getenv("BACKCHANNEL_TRACE")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tracing.Enabled = b
		}
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	modelOK := false
	for _, key := range ModelKeys {
		if c.Bridge.Model == key {
			modelOK = true
			break
		}
	}
	if !modelOK {
		return fmt.Errorf("bridge.model %q is not recognized (valid: %s)",
			c.Bridge.Model, strings.Join(ModelKeys, ", "))
	}

	if c.Bridge.TimeoutSecs <= 0 {
		return fmt.Errorf("bridge.timeout_secs must be positive, got %d", c.Bridge.TimeoutSecs)
	}
	if c.Bridge.PollIntervalMS <= 0 {
		return fmt.Errorf("bridge.poll_interval_ms must be positive, got %d", c.Bridge.PollIntervalMS)
	}
	if !strings.HasPrefix(c.Bridge.BaseURL, "http://") && !strings.HasPrefix(c.Bridge.BaseURL, "https://") {
		return fmt.Errorf("bridge.base_url must be an http(s) URL, got %q", c.Bridge.BaseURL)
	}

	if c.Browser.NavigationTimeoutSecs <= 0 {
		return fmt.Errorf("browser.navigation_timeout_secs must be positive, got %d", c.Browser.NavigationTimeoutSecs)
	}

	if c.Diag.Enabled {
		if _, _, err := net.SplitHostPort(c.Diag.Listen); err != nil {
			return fmt.Errorf("diag.listen %q is not a host:port address: %w", c.Diag.Listen, err)
		}
	}

	return nil
}

// StartURL returns the URL the browser should open, defaulting to the
// bridge base URL when unset.
func (c *Config) StartURL() string {
	if c.Browser.StartURL != "" {
		return c.Browser.StartURL
	}
	return c.Bridge.BaseURL
}

// ProfileDir returns the browser profile directory with ~ expanded.
func (c *Config) ProfileDir() string {
	return expandHomeDir(c.Browser.ProfileDir)
}

// DebugLogPath returns the debug log path with ~ expanded.
func (c *Config) DebugLogPath() string {
	return expandHomeDir(c.Logging.DebugLog)
}

func defaultProfileDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = os.Getenv("HOME")
	}
	if home == "" {
		return filepath.Join(os.TempDir(), "backchannel-profile")
	}
	return filepath.Join(home, ".backchannel", "profile")
}
