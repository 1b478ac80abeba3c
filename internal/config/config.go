// Package config loads the YAML settings file shared by the CLI and the
// server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/danshapiro/socratic/internal/agent"
	"github.com/danshapiro/socratic/internal/turnlog"
)

type ModelsConfig struct {
	Asker     string `yaml:"asker,omitempty"`
	Answerer  string `yaml:"answerer,omitempty"`
	Validator string `yaml:"validator,omitempty"`
}

type Config struct {
	// Credentials are tried in order by the gateway; entries may also come
	// from GEMINI_API_KEY (appended last).
	Credentials []string `yaml:"credentials"`

	Models ModelsConfig `yaml:"models,omitempty"`

	// ContextWindow is short (4 turns), medium (8) or long (12).
	ContextWindow string `yaml:"context_window,omitempty"`

	MaxTurns int `yaml:"max_turns,omitempty"`

	AutoContinue        *bool `yaml:"auto_continue,omitempty"`
	AutoContinueDelayMS int   `yaml:"auto_continue_delay_ms,omitempty"`

	// Validation is disabled, every_1_turns, every_3_turns or every_5_turns.
	Validation string `yaml:"validation,omitempty"`

	DataDir string `yaml:"data_dir,omitempty"`
	Listen  string `yaml:"listen,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
}

func Default() Config {
	auto := true
	return Config{
		ContextWindow:       string(turnlog.WindowMedium),
		MaxTurns:            10,
		AutoContinue:        &auto,
		AutoContinueDelayMS: 3000,
		Validation:          string(agent.FreqEvery3Turns),
		DataDir:             defaultDataDir(),
		Listen:              ":8484",
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".socratic"
	}
	return filepath.Join(home, ".socratic", "sessions")
}

// Load reads the YAML file at path, applying defaults for absent fields. An
// empty path returns the defaults (credentials from the environment only).
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if env := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); env != "" {
		cfg.Credentials = append(cfg.Credentials, env)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch turnlog.WindowSize(c.ContextWindow) {
	case turnlog.WindowShort, turnlog.WindowMedium, turnlog.WindowLong, "":
	default:
		return fmt.Errorf("context_window must be short, medium or long (got %q)", c.ContextWindow)
	}
	switch agent.Frequency(c.Validation) {
	case agent.FreqDisabled, agent.FreqEvery1Turns, agent.FreqEvery3Turns, agent.FreqEvery5Turns, "":
	default:
		return fmt.Errorf("validation must be disabled, every_1_turns, every_3_turns or every_5_turns (got %q)", c.Validation)
	}
	if c.MaxTurns < 0 {
		return fmt.Errorf("max_turns must be non-negative")
	}
	return nil
}

// AgentConfig maps the settings onto the session configuration.
func (c Config) AgentConfig() agent.Config {
	auto := true
	if c.AutoContinue != nil {
		auto = *c.AutoContinue
	}
	return agent.Config{
		Models: agent.ModelSet{
			Asker:     c.Models.Asker,
			Answerer:  c.Models.Answerer,
			Validator: c.Models.Validator,
		},
		Window:            turnlog.WindowSize(c.ContextWindow),
		MaxTurns:          c.MaxTurns,
		AutoContinue:      auto,
		AutoContinueDelay: time.Duration(c.AutoContinueDelayMS) * time.Millisecond,
		Validation:        agent.Frequency(c.Validation),
	}
}
