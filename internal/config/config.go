// Package config is the on-disk configuration for nl2sql-agent.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the on-disk configuration.
//
// NOTE: API keys never live in this file. Each provider names the
// environment variable its key is read from.
type Config struct {
	// Providers is the model provider registry. Exactly one entry must be
	// marked default.
	Providers []Provider `json:"providers"`

	Database Database `json:"database"`

	Limits Limits `json:"limits,omitempty"`

	// SchemaFile points at an exported schema document. When empty the
	// schema is introspected from the live database at startup.
	SchemaFile string `json:"schema_file,omitempty"`

	// RuleFile points at a YAML ambiguity rule file that replaces the
	// built-in clarification rules.
	RuleFile string `json:"rule_file,omitempty"`

	// StateDir holds turn logs and other local state.
	// If empty, ~/.nl2sql-agent is used.
	StateDir string `json:"state_dir,omitempty"`

	// LogFormat is "json" or "text".
	LogFormat string `json:"log_format,omitempty"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `json:"log_level,omitempty"`
}

type Provider struct {
	// ID is a stable internal id (primary key for key lookup and routing).
	ID string `json:"id"`

	// Type is one of: "openai" | "anthropic" | "openai_compatible".
	Type string `json:"type"`

	// BaseURL overrides the provider endpoint. Required for
	// openai_compatible gateways (DeepSeek, Qwen, ...).
	BaseURL string `json:"base_url,omitempty"`

	Model string `json:"model"`

	// APIKeyEnv is the environment variable holding the key. Defaults to
	// <ID>_API_KEY with the id uppercased and dashes mapped to underscores.
	APIKeyEnv string `json:"api_key_env,omitempty"`

	IsDefault bool `json:"is_default,omitempty"`
}

// APIKey reads the provider key from the environment.
func (p Provider) APIKey() string {
	env := strings.TrimSpace(p.APIKeyEnv)
	if env == "" {
		env = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(p.ID), "-", "_")) + "_API_KEY"
	}
	return strings.TrimSpace(os.Getenv(env))
}

type Database struct {
	// Engine is one of: "sqlite" | "mysql" | "postgres".
	Engine string `json:"engine"`
	DSN    string `json:"dsn"`
}

type Limits struct {
	// MaxRegenerations bounds the critique/repair loop per turn. Default 3.
	MaxRegenerations int `json:"max_regenerations,omitempty"`
	// MaxClarifications bounds clarification rounds per turn. Default 3.
	MaxClarifications int `json:"max_clarifications,omitempty"`
	// MaxRows caps result sets; the sandbox clamps LIMIT to it. Default 1000.
	MaxRows int `json:"max_rows,omitempty"`
	// QueryBudgetSeconds is the per-query execution allowance. Default 30.
	QueryBudgetSeconds int `json:"query_budget_seconds,omitempty"`
	// MemoryEntries bounds the per-session history window. Default 10.
	MemoryEntries int `json:"memory_entries,omitempty"`
	// CallTimeoutSeconds is the per-model-call allowance. Default 60.
	CallTimeoutSeconds int `json:"call_timeout_seconds,omitempty"`
}

var providerTypes = map[string]bool{
	"openai":            true,
	"openai_compatible": true,
	"anthropic":         true,
}

var databaseEngines = map[string]bool{
	"sqlite":   true,
	"mysql":    true,
	"postgres": true,
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if len(c.Providers) == 0 {
		return errors.New("missing providers")
	}
	seen := map[string]bool{}
	defaults := 0
	for i, p := range c.Providers {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return fmt.Errorf("providers[%d]: missing id", i)
		}
		if seen[id] {
			return fmt.Errorf("duplicate provider id %q", id)
		}
		seen[id] = true
		if !providerTypes[strings.ToLower(strings.TrimSpace(p.Type))] {
			return fmt.Errorf("provider %q: unsupported type %q", id, p.Type)
		}
		if strings.TrimSpace(p.Model) == "" {
			return fmt.Errorf("provider %q: missing model", id)
		}
		if strings.ToLower(strings.TrimSpace(p.Type)) == "openai_compatible" && strings.TrimSpace(p.BaseURL) == "" {
			return fmt.Errorf("provider %q: openai_compatible requires base_url", id)
		}
		if p.IsDefault {
			defaults++
		}
	}
	if defaults != 1 {
		return fmt.Errorf("exactly one provider must be default, got %d", defaults)
	}
	if !databaseEngines[strings.ToLower(strings.TrimSpace(c.Database.Engine))] {
		return fmt.Errorf("unsupported database engine %q", c.Database.Engine)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("missing database dsn")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "json", "text":
	default:
		return fmt.Errorf("unsupported log_format %q", c.LogFormat)
	}
	return nil
}

// DefaultProvider returns the registry entry marked default. Validate
// guarantees exactly one exists.
func (c *Config) DefaultProvider() Provider {
	for _, p := range c.Providers {
		if p.IsDefault {
			return p
		}
	}
	return Provider{}
}

// EffectiveStateDir resolves the state directory, defaulting to
// ~/.nl2sql-agent.
func (c *Config) EffectiveStateDir() string {
	if dir := strings.TrimSpace(c.StateDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return ".nl2sql-agent"
	}
	return filepath.Join(home, ".nl2sql-agent")
}

// DefaultConfigPath returns the default config path:
//
//	~/.nl2sql-agent/config.json
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "nl2sql-agent.config.json"
	}
	return filepath.Join(home, ".nl2sql-agent", "config.json")
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// Write atomically.
	tmp := path + ".tmp"
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
