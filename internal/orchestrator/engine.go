// Package orchestrator sequences one question through intent parsing,
// clarification, SQL generation, validation, the critique/repair loop, the
// sandbox and execution, ending in an answer or a recorded failure.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/floegence/nl2sql-agent/internal/dbexec"
	"github.com/floegence/nl2sql-agent/internal/intent"
	"github.com/floegence/nl2sql-agent/internal/llm"
	"github.com/floegence/nl2sql-agent/internal/memory"
	"github.com/floegence/nl2sql-agent/internal/sandbox"
	"github.com/floegence/nl2sql-agent/internal/schema"
	"github.com/floegence/nl2sql-agent/internal/sqlcheck"
	"github.com/floegence/nl2sql-agent/internal/turnlog"
)

const (
	DefaultMaxRegenerations  = 3
	DefaultMaxClarifications = 3
)

// Completer is what the engine needs from the model layer.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Executor is what the engine needs from the database layer.
type Executor interface {
	Execute(ctx context.Context, query string, budget time.Duration) (*dbexec.Result, error)
}

type Options struct {
	Client   Completer
	Schema   *schema.Holder
	Sandbox  *sandbox.Sandbox
	Executor Executor
	Memory   *memory.Store

	// Turns is optional; without it no turn records are written.
	Turns *turnlog.Store
	// Detector is optional; the built-in ambiguity rules apply when nil.
	Detector *intent.Detector

	MaxRegenerations  int
	MaxClarifications int

	Logger *slog.Logger
}

type Engine struct {
	client   Completer
	schema   *schema.Holder
	sandbox  *sandbox.Sandbox
	exec     Executor
	memory   *memory.Store
	turns    *turnlog.Store
	detector *intent.Detector

	maxRegen   int
	maxClarify int
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingTurn
}

// pendingTurn is a turn parked in AWAITING_USER.
type pendingTurn struct {
	Question string
	Rounds   int
}

// Clarification is the question sent back to the user.
type Clarification struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
	Round    int      `json:"round"`
}

// Turn is the full outcome of one pipeline pass.
type Turn struct {
	SessionID string        `json:"session_id"`
	State     State         `json:"state"`
	Trace     []State       `json:"trace"`
	Question  string        `json:"question"`
	Intent    intent.Intent `json:"intent"`

	CandidateSQL string `json:"candidate_sql,omitempty"`
	FinalSQL     string `json:"final_sql,omitempty"`

	Regenerations       int `json:"regenerations"`
	ClarificationRounds int `json:"clarification_rounds"`

	Clarification *Clarification    `json:"clarification,omitempty"`
	Decision      *sandbox.Decision `json:"sandbox_decision,omitempty"`
	Result        *dbexec.Result    `json:"result,omitempty"`

	// IsChatReply marks an answer that came straight from the model as prose
	// rather than from executing SQL.
	IsChatReply bool `json:"is_chat_reply,omitempty"`

	Answer string `json:"answer,omitempty"`
	Err    string `json:"error,omitempty"`
}

func (t *Turn) to(s State) {
	t.State = s
	t.Trace = append(t.Trace, s)
}

func (t *Turn) fail(msg string) {
	t.Err = msg
	t.to(StateFailed)
}

func New(opts Options) (*Engine, error) {
	if opts.Client == nil {
		return nil, errors.New("missing model client")
	}
	if opts.Schema == nil {
		return nil, errors.New("missing schema holder")
	}
	if opts.Sandbox == nil {
		return nil, errors.New("missing sandbox")
	}
	if opts.Executor == nil {
		return nil, errors.New("missing executor")
	}
	if opts.Memory == nil {
		return nil, errors.New("missing memory store")
	}
	if opts.Detector == nil {
		opts.Detector = intent.NewDetector()
	}
	if opts.MaxRegenerations <= 0 {
		opts.MaxRegenerations = DefaultMaxRegenerations
	}
	if opts.MaxClarifications <= 0 {
		opts.MaxClarifications = DefaultMaxClarifications
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		client:     opts.Client,
		schema:     opts.Schema,
		sandbox:    opts.Sandbox,
		exec:       opts.Executor,
		memory:     opts.Memory,
		turns:      opts.Turns,
		detector:   opts.Detector,
		maxRegen:   opts.MaxRegenerations,
		maxClarify: opts.MaxClarifications,
		pending:    map[string]*pendingTurn{},
		logger:     opts.Logger,
	}, nil
}

// RunQuery processes a fresh question for the session. A Turn in state
// AWAITING_USER carries a Clarification; answer it via Resume. Pipeline
// failures land in Turn.Err, not in the returned error.
func (e *Engine) RunQuery(ctx context.Context, sessionID, question string) (*Turn, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, errors.New("missing session id")
	}
	// A fresh question abandons any parked clarification.
	e.mu.Lock()
	delete(e.pending, sessionID)
	e.mu.Unlock()
	return e.run(ctx, sessionID, question, 0), nil
}

// Resume answers the clarification parked for the session and re-enters the
// pipeline with the merged question.
func (e *Engine) Resume(ctx context.Context, sessionID, answer string) (*Turn, error) {
	e.mu.Lock()
	p, ok := e.pending[sessionID]
	if ok {
		delete(e.pending, sessionID)
	}
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("session %s has no pending clarification", sessionID)
	}

	e.memory.Append(sessionID, memory.KindClarification, answer)
	merged := intent.MergeClarification(p.Question, answer)
	return e.run(ctx, sessionID, merged, p.Rounds), nil
}

// AwaitingClarification reports whether the session is parked.
func (e *Engine) AwaitingClarification(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.pending[sessionID]
	return ok
}

func (e *Engine) run(ctx context.Context, sessionID, question string, rounds int) *Turn {
	t := &Turn{SessionID: sessionID, Question: question, ClarificationRounds: rounds}
	t.to(StateStart)

	if strings.TrimSpace(question) == "" {
		t.fail("empty question")
		e.record(t)
		return t
	}

	t.Intent = intent.Parse(question)
	t.to(StateIntentParsed)

	if t.Intent.QuestionType == intent.TypeChat {
		return e.runChat(ctx, t)
	}

	// Clarification, bounded per turn; past the bound the question runs
	// best-effort.
	if rounds < e.maxClarify {
		if rule, ok := e.detector.Detect(question); ok {
			t.to(StateClarifyNeeded)
			t.ClarificationRounds = rounds + 1
			t.Clarification = &Clarification{
				Question: rule.Question,
				Options:  rule.Options,
				Round:    rounds + 1,
			}
			e.mu.Lock()
			e.pending[sessionID] = &pendingTurn{Question: question, Rounds: rounds + 1}
			e.mu.Unlock()
			t.to(StateAwaitingUser)
			e.logger.Info("clarification requested", "session", sessionID, "rule", rule.Name, "round", rounds+1)
			return t
		}
	}

	cat := e.schema.Current()
	if cat == nil {
		t.fail("no schema loaded")
		e.record(t)
		return t
	}

	e.memory.Append(sessionID, memory.KindQuery, question)
	return e.generate(ctx, t, cat, e.joinHint(t, cat, question))
}

// joinHint derives the join path for the tables the question touches. An
// unreachable set is not fatal: the keyword match that picked the tables may
// be wrong, so the diagnostic becomes generation context and the critique
// loop owns whatever the model does with it.
func (e *Engine) joinHint(t *Turn, cat *schema.Catalog, question string) string {
	required := cat.RelevantTables(question)
	if len(required) < 2 {
		return ""
	}
	steps, err := schema.BuildGraph(cat).JoinPath(required)
	if err != nil {
		e.logger.Warn("join path synthesis failed", "session", t.SessionID, "tables", required, "error", err)
		if errors.Is(err, schema.ErrNoPath) {
			return fmt.Sprintf("Note: %v. Do not join these tables; if the question cannot be answered from one table alone, say so instead of writing SQL.", err)
		}
		return ""
	}
	return schema.FormatJoinHint(steps)
}

func (e *Engine) runChat(ctx context.Context, t *Turn) *Turn {
	t.IsChatReply = true
	t.to(StateAnswering)
	reply, err := e.client.Complete(ctx, llm.Request{System: chatSystem, User: t.Question})
	if err != nil || strings.TrimSpace(reply) == "" {
		reply = "Hi! I answer questions about the connected database. Ask me something like \"how many customers are there\"."
	}
	t.Answer = strings.TrimSpace(reply)
	e.memory.Append(t.SessionID, memory.KindChat, t.Question)
	e.memory.Append(t.SessionID, memory.KindAnswer, clip(t.Answer, 300))
	t.to(StateDone)
	e.record(t)
	return t
}

// generate drives the generation, validation, sandbox and execution loop,
// re-prompting the model with the concrete problem after each rejection.
func (e *Engine) generate(ctx context.Context, t *Turn, cat *schema.Catalog, joinHint string) *Turn {
	history := e.memory.FormatContext(t.SessionID, 6)
	problem := ""

	for attempt := 0; ; attempt++ {
		var req llm.Request
		if t.CandidateSQL == "" {
			// First attempt, or an earlier call failed before producing a
			// candidate to repair.
			req = llm.Request{
				System: generationSystem,
				User:   buildGenerationPrompt(cat, t.Intent, t.Question, joinHint, history),
			}
		} else {
			// Critique first: the repair prompt carries the model's own
			// analysis of the rejection alongside the raw problem.
			req = llm.Request{
				System: generationSystem,
				User:   buildRepairPrompt(cat, t.Question, t.CandidateSQL, e.critique(ctx, t, cat, problem)),
			}
		}

		reply, err := e.client.Complete(ctx, req)
		if err != nil {
			// Timeouts and transport failures ride the same bounded retry
			// path as a bad candidate.
			if !e.retry(t, attempt, "model call failed: "+err.Error(), &problem) {
				return t
			}
			continue
		}
		t.to(StateGenerated)

		if strings.TrimSpace(reply) == "" {
			if !e.retry(t, attempt, "model returned an empty reply", &problem) {
				return t
			}
			continue
		}

		if !llm.LooksLikeSQL(reply) {
			// The model answered in prose instead of SQL. That is a valid
			// outcome (the question may not be answerable from the schema),
			// so the explanation is forwarded as the answer of a completed
			// turn rather than failing it.
			t.IsChatReply = true
			t.to(StateAnswering)
			t.Answer = clip(strings.TrimSpace(reply), 500)
			e.memory.Append(t.SessionID, memory.KindAnswer, clip(t.Answer, 300))
			t.to(StateDone)
			e.record(t)
			return t
		}
		t.CandidateSQL = llm.ExtractSQL(reply)

		t.to(StateValidating)
		res := sqlcheck.Validate(t.CandidateSQL)
		if !res.Valid {
			parts := make([]string, 0, len(res.Diagnostics))
			for _, d := range res.Diagnostics {
				parts = append(parts, d.String())
			}
			if !e.retry(t, attempt, "syntax: "+strings.Join(parts, "; "), &problem) {
				return t
			}
			continue
		}
		t.to(StateValid)

		t.to(StateSandboxCheck)
		d := e.sandbox.Check(cat, t.CandidateSQL)
		t.Decision = &d
		if !d.Allowed {
			if !e.retry(t, attempt, d.ReasonCode+": "+d.Reason, &problem) {
				return t
			}
			continue
		}
		t.FinalSQL = d.NormalizedSQL

		t.to(StateExecuting)
		result, err := e.exec.Execute(ctx, d.NormalizedSQL, d.Budget)
		if err != nil {
			if !e.retry(t, attempt, "execution error: "+err.Error(), &problem) {
				return t
			}
			continue
		}
		t.Result = result

		t.to(StateAnswering)
		t.Answer = e.phraseAnswer(ctx, t, result)
		e.memory.Append(t.SessionID, memory.KindAnswer, clip(t.Answer, 300))
		t.to(StateDone)
		e.record(t)
		return t
	}
}

// phraseAnswer asks the model to word the result for the user. The
// deterministic rendering grounds that call and is the fallback when the
// model is unavailable; answer wording never blocks a successful execution.
func (e *Engine) phraseAnswer(ctx context.Context, t *Turn, res *dbexec.Result) string {
	summary := buildAnswer(res)
	reply, err := e.client.Complete(ctx, llm.Request{
		System: answerSystem,
		User:   buildAnswerPrompt(t.Question, t.FinalSQL, summary),
	})
	if err != nil || strings.TrimSpace(reply) == "" {
		return summary
	}
	return strings.TrimSpace(reply)
}

// critique asks the model why the rejected candidate failed before a repair
// is attempted. On any model failure the raw problem alone drives the repair;
// critique never spends a regeneration.
func (e *Engine) critique(ctx context.Context, t *Turn, cat *schema.Catalog, problem string) string {
	reply, err := e.client.Complete(ctx, llm.Request{
		System: critiqueSystem,
		User:   buildCritiquePrompt(cat, t.Question, t.CandidateSQL, problem),
	})
	if err != nil || strings.TrimSpace(reply) == "" {
		return problem
	}
	return problem + "\n\nAnalysis: " + clip(strings.TrimSpace(reply), 700)
}

// retry routes a rejected candidate into the critique loop, or fails the
// turn once the regeneration bound is spent.
func (e *Engine) retry(t *Turn, attempt int, problem string, out *string) bool {
	t.to(StateInvalid)
	if attempt >= e.maxRegen {
		t.fail("gave up after " + fmt.Sprint(e.maxRegen) + " regenerations; last problem: " + problem)
		e.record(t)
		return false
	}
	*out = problem
	t.Regenerations++
	t.to(StateCritiquing)
	e.logger.Info("regenerating", "session", t.SessionID, "attempt", attempt+1, "problem", problem)
	return true
}

// record writes the turn to the turn log. Parked turns are not recorded;
// their resumed run is.
func (e *Engine) record(t *Turn) {
	if e.turns == nil {
		return
	}
	in := t.Intent
	rec := turnlog.Record{
		SessionID:           t.SessionID,
		Question:            t.Question,
		Intent:              &in,
		CandidateSQL:        t.CandidateSQL,
		ValidationPassed:    t.FinalSQL != "",
		RegenerationCount:   t.Regenerations,
		ClarificationRounds: t.ClarificationRounds,
		SandboxDecision:     t.Decision,
		Outcome:             strings.ToLower(string(t.State)),
		Error:               t.Err,
	}
	if t.Result != nil {
		rec.RowCount = t.Result.RowCount()
		rec.ElapsedMS = t.Result.Elapsed.Milliseconds()
	}
	e.turns.Append(rec)
}
