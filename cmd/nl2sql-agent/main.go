package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/floegence/nl2sql-agent/internal/agent"
	"github.com/floegence/nl2sql-agent/internal/config"
	"github.com/floegence/nl2sql-agent/internal/turnlog"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
	// BuildTime is set via -ldflags at build time.
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "init":
		initCmd(os.Args[2:])
	case "chat":
		chatCmd(os.Args[2:])
	case "schema":
		schemaCmd(os.Args[2:])
	case "turns":
		turnsCmd(os.Args[2:])
	case "version":
		fmt.Printf("nl2sql-agent %s (%s) %s\n", Version, Commit, BuildTime)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `nl2sql-agent

Usage:
  nl2sql-agent init [flags]
  nl2sql-agent chat [flags]
  nl2sql-agent schema [flags]
  nl2sql-agent turns [flags]
  nl2sql-agent version

Commands:
  init      Write a starter config file.
  chat      Start an interactive question-answering session against the configured database.
  schema    Print the schema snapshot the agent would use.
  turns     Print recent turn records from the state directory.
  version   Print build information.

`)
}

func initCmd(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)

	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	engine := fs.String("engine", "sqlite", "Database engine: sqlite|mysql|postgres")
	dsn := fs.String("dsn", "", "Database DSN")
	providerType := fs.String("provider", "openai", "Model provider type: openai|anthropic|openai_compatible")
	baseURL := fs.String("base-url", "", "Provider base URL (required for openai_compatible)")
	model := fs.String("model", "", "Model name")
	force := fs.Bool("force", false, "Overwrite an existing config file")

	_ = fs.Parse(args)

	if *dsn == "" || *model == "" {
		fs.Usage()
		os.Exit(2)
	}

	path := filepath.Clean(*cfgPath)
	if !*force {
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(os.Stderr, "config already exists: %s (use -force to overwrite)\n", path)
			os.Exit(1)
		}
	}

	cfg := &config.Config{
		Providers: []config.Provider{{
			ID:        "default",
			Type:      *providerType,
			BaseURL:   *baseURL,
			Model:     *model,
			IsDefault: true,
		}},
		Database: config.Database{Engine: *engine, DSN: *dsn},
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid settings: %v\n", err)
		os.Exit(1)
	}
	if err := config.Save(path, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Config written: %s\n", path)
	fmt.Printf("Set the provider key in the DEFAULT_API_KEY environment variable.\n")
}

func chatCmd(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	showSQL := fs.Bool("show-sql", false, "Print the generated SQL with each answer")
	_ = fs.Parse(args)

	cfg, err := config.Load(filepath.Clean(*cfgPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown on SIGINT/SIGTERM.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	a, err := agent.New(ctx, agent.Options{Config: cfg, Version: Version})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init agent: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := runChat(ctx, a, *showSQL); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "chat exited with error: %v\n", err)
		os.Exit(1)
	}
}

func schemaCmd(args []string) {
	fs := flag.NewFlagSet("schema", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	asJSON := fs.Bool("json", false, "Print the snapshot as JSON instead of prompt form")
	outPath := fs.String("out", "", "Write the snapshot as JSON to a file (loadable via schema_file)")
	_ = fs.Parse(args)

	cfg, err := config.Load(filepath.Clean(*cfgPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	a, err := agent.New(ctx, agent.Options{Config: cfg, Version: Version})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init agent: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	cat := a.Catalog()
	if *outPath != "" {
		b, err := json.MarshalIndent(cat, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode failed: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*outPath, append(b, '\n'), 0o600); err != nil {
			fmt.Fprintf(os.Stderr, "write failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Schema written: %s\n", *outPath)
		return
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cat); err != nil {
			fmt.Fprintf(os.Stderr, "encode failed: %v\n", err)
			os.Exit(1)
		}
		return
	}
	fmt.Println(cat.FormatForPrompt(nil))
}

func turnsCmd(args []string) {
	fs := flag.NewFlagSet("turns", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	limit := fs.Int("n", 20, "Maximum records to print (newest first)")
	asJSON := fs.Bool("json", false, "Print raw JSON records")
	_ = fs.Parse(args)

	cfg, err := config.Load(filepath.Clean(*cfgPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Read-only view over the state directory; no agent needed.
	store, err := turnlog.New(turnlog.Options{StateDir: cfg.EffectiveStateDir()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open turn log: %v\n", err)
		os.Exit(1)
	}

	records, err := store.List(*limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read turn log: %v\n", err)
		os.Exit(1)
	}
	if len(records) == 0 {
		fmt.Println("No recorded turns.")
		return
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				fmt.Fprintf(os.Stderr, "encode failed: %v\n", err)
				os.Exit(1)
			}
		}
		return
	}

	for _, r := range records {
		status := r.Outcome
		if r.Error != "" {
			status += ": " + r.Error
		}
		fmt.Printf("%s  [%s]  %q\n", r.CreatedAt, status, r.Question)
		if r.CandidateSQL != "" {
			fmt.Printf("    sql: %s\n", r.CandidateSQL)
		}
		if r.RegenerationCount > 0 || r.ClarificationRounds > 0 {
			fmt.Printf("    regenerations: %d  clarifications: %d\n", r.RegenerationCount, r.ClarificationRounds)
		}
		if r.RowCount > 0 {
			fmt.Printf("    rows: %d  elapsed: %dms\n", r.RowCount, r.ElapsedMS)
		}
	}
}
