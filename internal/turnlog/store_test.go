package turnlog

import (
	"log/slog"
	"testing"

	"github.com/floegence/nl2sql-agent/internal/intent"
	"github.com/floegence/nl2sql-agent/internal/sandbox"
)

func newTestStore(t *testing.T, maxBytes int64) *Store {
	t.Helper()
	s, err := New(Options{
		StateDir: t.TempDir(),
		Logger:   slog.New(slog.DiscardHandler),
		MaxBytes: maxBytes,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestStore_AppendAndListNewestFirst(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, 0)

	s.Append(Record{
		SessionID:    "sess-1",
		Question:     "how many customers",
		Intent:       &intent.Intent{QuestionType: intent.TypeQuery},
		CandidateSQL: "SELECT COUNT(*) FROM customer",
		ValidationPassed: true,
		SandboxDecision: &sandbox.Decision{
			Allowed:       true,
			NormalizedSQL: "SELECT COUNT(*) FROM customer LIMIT 1000",
		},
		Outcome:  "done",
		RowCount: 1,
	})
	s.Append(Record{
		SessionID:           "sess-1",
		Question:            "最近的订单",
		ClarificationRounds: 3,
		Outcome:             "failed",
		Error:               "clarification limit reached",
	})

	records, err := s.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].Question != "最近的订单" {
		t.Fatalf("newest first violated: %+v", records[0])
	}
	if records[1].SandboxDecision == nil || !records[1].SandboxDecision.Allowed {
		t.Fatalf("sandbox decision lost: %+v", records[1])
	}
	if records[1].Intent.QuestionType != intent.TypeQuery {
		t.Fatalf("intent lost: %+v", records[1].Intent)
	}
	if records[0].CreatedAt == "" {
		t.Fatalf("created_at not stamped")
	}
}

func TestStore_RotatesWhenOverSize(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, 256)

	for i := 0; i < 40; i++ {
		s.Append(Record{
			SessionID: "sess-rotate",
			Question:  "a question long enough to push the file over the rotation threshold quickly",
			Outcome:   "done",
		})
	}

	records, err := s.List(1000)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	// Rotation with a small cap drops the oldest backups, so not all 40
	// survive, but recent ones must.
	if len(records) == 0 {
		t.Fatalf("no records after rotation")
	}
	if len(records) >= 40 {
		t.Fatalf("rotation never dropped old files: %d records", len(records))
	}
}

func TestNew_RequiresStateDir(t *testing.T) {
	t.Parallel()
	if _, err := New(Options{}); err == nil {
		t.Fatalf("missing state dir accepted")
	}
}
