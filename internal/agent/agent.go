// Package agent wires the configured pieces into a running query agent:
// database, schema snapshot, model client, sandbox and orchestrator.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/floegence/nl2sql-agent/internal/config"
	"github.com/floegence/nl2sql-agent/internal/dbexec"
	"github.com/floegence/nl2sql-agent/internal/intent"
	"github.com/floegence/nl2sql-agent/internal/llm"
	"github.com/floegence/nl2sql-agent/internal/memory"
	"github.com/floegence/nl2sql-agent/internal/orchestrator"
	"github.com/floegence/nl2sql-agent/internal/sandbox"
	"github.com/floegence/nl2sql-agent/internal/schema"
	"github.com/floegence/nl2sql-agent/internal/turnlog"
)

type Options struct {
	Config  *config.Config
	Version string
}

type Agent struct {
	cfg *config.Config
	log *slog.Logger

	exec   *dbexec.Executor
	holder *schema.Holder
	mem    *memory.Store
	turns  *turnlog.Store
	engine *orchestrator.Engine

	version string
}

func New(ctx context.Context, opts Options) (*Agent, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	exec, err := dbexec.Open(ctx, cfg.Database.Engine, cfg.Database.DSN, logger)
	if err != nil {
		return nil, err
	}

	cat, err := loadCatalog(ctx, cfg, exec)
	if err != nil {
		exec.Close()
		return nil, err
	}
	holder := schema.NewHolder(cat)
	logger.Info("schema loaded", "engine", cfg.Database.Engine, "tables", len(cat.Tables))

	var detector *intent.Detector
	if strings.TrimSpace(cfg.RuleFile) != "" {
		rules, err := intent.LoadRules(cfg.RuleFile)
		if err != nil {
			exec.Close()
			return nil, err
		}
		detector = intent.NewDetector(rules...)
	}

	provider := cfg.DefaultProvider()
	p, err := llm.NewProvider(provider.Type, provider.BaseURL, provider.APIKey(), provider.Model)
	if err != nil {
		exec.Close()
		return nil, fmt.Errorf("provider %q: %w", provider.ID, err)
	}
	client, err := llm.NewClient(p, llm.ClientOptions{
		CallTimeout: time.Duration(cfg.Limits.CallTimeoutSeconds) * time.Second,
		Logger:      logger,
	})
	if err != nil {
		exec.Close()
		return nil, err
	}

	turns, err := turnlog.New(turnlog.Options{StateDir: cfg.EffectiveStateDir(), Logger: logger})
	if err != nil {
		exec.Close()
		return nil, err
	}

	mem := memory.NewStore(cfg.Limits.MemoryEntries)
	sb := sandbox.New(sandbox.Policy{
		MaxRows: cfg.Limits.MaxRows,
		Budget:  time.Duration(cfg.Limits.QueryBudgetSeconds) * time.Second,
	}, logger)

	engine, err := orchestrator.New(orchestrator.Options{
		Client:            client,
		Schema:            holder,
		Sandbox:           sb,
		Executor:          exec,
		Memory:            mem,
		Turns:             turns,
		Detector:          detector,
		MaxRegenerations:  cfg.Limits.MaxRegenerations,
		MaxClarifications: cfg.Limits.MaxClarifications,
		Logger:            logger,
	})
	if err != nil {
		exec.Close()
		return nil, err
	}

	return &Agent{
		cfg:     cfg,
		log:     logger,
		exec:    exec,
		holder:  holder,
		mem:     mem,
		turns:   turns,
		engine:  engine,
		version: opts.Version,
	}, nil
}

func loadCatalog(ctx context.Context, cfg *config.Config, exec *dbexec.Executor) (*schema.Catalog, error) {
	if path := strings.TrimSpace(cfg.SchemaFile); path != "" {
		return schema.LoadFile(path)
	}
	return schema.Introspect(ctx, exec.DB(), cfg.Database.Engine)
}

func (a *Agent) Engine() *orchestrator.Engine { return a.engine }
func (a *Agent) Logger() *slog.Logger         { return a.log }
func (a *Agent) Memory() *memory.Store        { return a.mem }
func (a *Agent) Turns() *turnlog.Store        { return a.turns }
func (a *Agent) Version() string              { return a.version }

func (a *Agent) Catalog() *schema.Catalog {
	return a.holder.Current()
}

// ReloadSchema re-reads the schema source and swaps the snapshot. In-flight
// turns keep the snapshot they started with.
func (a *Agent) ReloadSchema(ctx context.Context) error {
	cat, err := loadCatalog(ctx, a.cfg, a.exec)
	if err != nil {
		return err
	}
	if err := a.holder.Reload(cat); err != nil {
		return err
	}
	a.log.Info("schema reloaded", "tables", len(cat.Tables))
	return nil
}

func (a *Agent) Close() error {
	return a.exec.Close()
}

func newLogger(format string, level string) (*slog.Logger, error) {
	var h slog.Handler

	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		lvl = slog.LevelInfo
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %s", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	// Logs go to stderr; stdout belongs to the chat surface.
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		h = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}

	return slog.New(h), nil
}
