package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base. Zero values only win when the
// raw document shows the field was set explicitly.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	if boolFieldSet(raw, "browser", "headless") {
		base.Browser.Headless = override.Browser.Headless
	}
	if override.Browser.ProfileDir != "" {
		base.Browser.ProfileDir = override.Browser.ProfileDir
	}
	if boolFieldSet(raw, "browser", "proxy") {
		base.Browser.Proxy = override.Browser.Proxy
	}
	if boolFieldSet(raw, "browser", "attach_url") {
		base.Browser.AttachURL = override.Browser.AttachURL
	}
	if override.Browser.StartURL != "" {
		base.Browser.StartURL = override.Browser.StartURL
	}
	if override.Browser.UserAgent != "" {
		base.Browser.UserAgent = override.Browser.UserAgent
	}
	if override.Browser.NavigationTimeoutSecs != 0 {
		base.Browser.NavigationTimeoutSecs = override.Browser.NavigationTimeoutSecs
	}
	if override.Browser.WindowWidth != 0 {
		base.Browser.WindowWidth = override.Browser.WindowWidth
	}
	if override.Browser.WindowHeight != 0 {
		base.Browser.WindowHeight = override.Browser.WindowHeight
	}

	if override.Bridge.BaseURL != "" {
		base.Bridge.BaseURL = override.Bridge.BaseURL
	}
	if override.Bridge.Model != "" {
		base.Bridge.Model = override.Bridge.Model
	}
	if override.Bridge.TimeoutSecs != 0 {
		base.Bridge.TimeoutSecs = override.Bridge.TimeoutSecs
	}
	if override.Bridge.PollIntervalMS != 0 {
		base.Bridge.PollIntervalMS = override.Bridge.PollIntervalMS
	}
	if override.Bridge.RESTRatePerSec != 0 {
		base.Bridge.RESTRatePerSec = override.Bridge.RESTRatePerSec
	}
	if override.Bridge.RESTBurst != 0 {
		base.Bridge.RESTBurst = override.Bridge.RESTBurst
	}

	if boolFieldSet(raw, "diag", "enabled") {
		base.Diag.Enabled = override.Diag.Enabled
	}
	if override.Diag.Listen != "" {
		base.Diag.Listen = override.Diag.Listen
	}

	if boolFieldSet(raw, "logging", "debug_log") {
		base.Logging.DebugLog = override.Logging.DebugLog
	}
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	if boolFieldSet(raw, "tracing", "enabled") {
		base.Tracing.Enabled = override.Tracing.Enabled
	}
}

func boolFieldSet(raw map[string]any, path ...string) bool {
	if len(path) == 0 || raw == nil {
		return false
	}
	current := any(raw)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		val, ok := m[key]
		if !ok {
			return false
		}
		current = val
	}
	return true
}
