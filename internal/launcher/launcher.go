// Package launcher parses the launcher configuration text that a
// controller ships with a session. The launcher travels inside the session
// app blob verbatim, so parsing must be strict: a blob that cannot be
// decoded is an error, never a guess.
package launcher

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// UITypeSilent marks a launcher that runs without any operator
// interaction; only such sessions may be resumed automatically.
const UITypeSilent = "silent"

// Config is the parsed launcher configuration.
type Config struct {
	Launcher LauncherSection `yaml:"launcher"`
	UI       UISection       `yaml:"ui"`
	TestPlan TestPlanSection `yaml:"test_plan"`
	Daemon   DaemonSection   `yaml:"daemon"`
}

// LauncherSection carries the session presentation fields.
type LauncherSection struct {
	SessionTitle string `yaml:"session_title"`
	SessionDesc  string `yaml:"session_desc"`
}

// UISection controls how the session interacts with an operator.
type UISection struct {
	Type        string `yaml:"type"`
	AutoRetry   bool   `yaml:"auto_retry"`
	MaxAttempts int    `yaml:"max_attempts"`
}

// TestPlanSection selects which jobs a run considers.
type TestPlanSection struct {
	Filter []string `yaml:"filter"`
}

// DaemonSection configures the agent process.
type DaemonSection struct {
	NormalUser string `yaml:"normal_user"`
}

// FromText parses a launcher configuration from its textual form. Unknown
// fields are rejected so a typo in a shipped launcher surfaces immediately
// instead of silently changing behavior.
func FromText(text string) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(text))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse launcher configuration: %w", err)
	}
	return &cfg, nil
}

// Noninteractive reports whether the launcher describes a run that needs
// no operator.
func (c *Config) Noninteractive() bool {
	return c.UI.Type == UITypeSilent
}

// Text renders the configuration back to its textual form.
func (c *Config) Text() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("render launcher configuration: %w", err)
	}
	return string(data), nil
}
