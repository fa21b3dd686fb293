package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ergochat/readline"
	"github.com/google/uuid"

	"github.com/floegence/nl2sql-agent/internal/agent"
	"github.com/floegence/nl2sql-agent/internal/orchestrator"
)

// chatSession holds the REPL state for one interactive run.
type chatSession struct {
	agent     *agent.Agent
	sessionID string
	showSQL   bool

	// lastClarification is shown again when the user types something that
	// is not a valid option number.
	lastClarification *orchestrator.Clarification
}

func runChat(ctx context.Context, a *agent.Agent, showSQL bool) error {
	rl, err := readline.NewFromConfig(&readline.Config{
		Prompt:          "nl2sql> ",
		HistoryFile:     historyPath(),
		HistoryLimit:    500,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	defer func() { _ = rl.Close() }()

	sess := &chatSession{
		agent:     a,
		sessionID: uuid.NewString(),
		showSQL:   showSQL,
	}

	fmt.Println()
	fmt.Printf("nl2sql-agent %s — ask questions about the connected database.\n", a.Version())
	fmt.Println("Type 'help' for commands, 'exit' to quit.")
	fmt.Println()

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := rl.ReadLine()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if lower := strings.ToLower(line); lower == "exit" || lower == "quit" {
			return nil
		}
		if sess.command(ctx, line) {
			continue
		}
		sess.ask(ctx, line)
	}
}

// command handles REPL built-ins; it returns false when the line should be
// treated as a question for the agent.
func (s *chatSession) command(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case "help":
		s.printHelp()
	case "sql":
		s.showSQL = !s.showSQL
		fmt.Printf("SQL display: %v\n", s.showSQL)
	case "status":
		printStatus(os.Stdout)
	case "clear":
		s.agent.Memory().Clear(s.sessionID)
		s.lastClarification = nil
		fmt.Println("Session memory cleared.")
	case "schema":
		fmt.Println(s.agent.Catalog().FormatForPrompt(nil))
	case "reload":
		if err := s.agent.ReloadSchema(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "  Error: %v\n", err)
			return true
		}
		fmt.Println("Schema reloaded.")
	case "export":
		if len(fields) < 2 {
			fmt.Fprintln(os.Stderr, "  Usage: export <file>")
			return true
		}
		b, err := s.agent.Memory().Export()
		if err == nil {
			err = os.WriteFile(fields[1], b, 0o600)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "  Error: %v\n", err)
			return true
		}
		fmt.Printf("Memory exported: %s\n", fields[1])
	case "import":
		if len(fields) < 2 {
			fmt.Fprintln(os.Stderr, "  Usage: import <file>")
			return true
		}
		b, err := os.ReadFile(fields[1])
		if err == nil {
			err = s.agent.Memory().Import(b)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "  Error: %v\n", err)
			return true
		}
		fmt.Printf("Memory imported: %s\n", fields[1])
	default:
		return false
	}
	return true
}

func (s *chatSession) printHelp() {
	fmt.Print(`Commands:
  help            Show this help.
  sql             Toggle printing the generated SQL with each answer.
  status          Show process resource usage.
  schema          Print the schema the agent is using.
  reload          Re-read the schema from its source.
  clear           Forget this session's conversation history.
  export <file>   Write conversation memory to a file.
  import <file>   Load conversation memory from a file.
  exit | quit     Leave.

Anything else is treated as a question about the database.
`)
}

func (s *chatSession) ask(ctx context.Context, line string) {
	var (
		turn *orchestrator.Turn
		err  error
	)
	engine := s.agent.Engine()
	if engine.AwaitingClarification(s.sessionID) {
		turn, err = engine.Resume(ctx, s.sessionID, s.resolveOption(line))
	} else {
		turn, err = engine.RunQuery(ctx, s.sessionID, line)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "  Error: %v\n", err)
		return
	}
	s.render(turn)
}

// resolveOption maps a bare number to the matching clarification option so
// the user can answer "2" instead of retyping the choice.
func (s *chatSession) resolveOption(line string) string {
	c := s.lastClarification
	if c == nil || len(c.Options) == 0 {
		return line
	}
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || n < 1 || n > len(c.Options) {
		return line
	}
	return c.Options[n-1]
}

func (s *chatSession) render(turn *orchestrator.Turn) {
	if turn.Clarification != nil && turn.State == orchestrator.StateAwaitingUser {
		s.lastClarification = turn.Clarification
		fmt.Printf("\n%s\n", turn.Clarification.Question)
		for i, opt := range turn.Clarification.Options {
			fmt.Printf("  %d. %s\n", i+1, opt)
		}
		fmt.Println()
		return
	}
	s.lastClarification = nil

	if s.showSQL && turn.FinalSQL != "" {
		fmt.Printf("\n[sql] %s\n", turn.FinalSQL)
	}
	if turn.State == orchestrator.StateFailed {
		fmt.Fprintf(os.Stderr, "  Could not answer: %s\n", turn.Err)
		return
	}
	fmt.Printf("\n%s\n\n", turn.Answer)
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".nl2sql-agent", "chat_history")
}
