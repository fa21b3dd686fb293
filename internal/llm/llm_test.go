package llm

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestExtractSQL(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		reply string
		want  string
	}{
		{"fenced sql", "```sql\nSELECT * FROM customer\n```", "SELECT * FROM customer"},
		{"fenced no tag", "```\nSELECT 1\n```", "SELECT 1"},
		{"fence with prose around", "Here you go:\n```sql\nSELECT Name FROM artist;\n```\nLet me know!", "SELECT Name FROM artist"},
		{"bare statement", "  SELECT 1;  ", "SELECT 1"},
		{"empty", "   ", ""},
		{"uppercase tag", "```SQL\nSELECT 2\n```", "SELECT 2"},
	}
	for _, tc := range cases {
		if got := ExtractSQL(tc.reply); got != tc.want {
			t.Fatalf("%s: ExtractSQL = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestLooksLikeSQL(t *testing.T) {
	t.Parallel()
	if !LooksLikeSQL("```sql\nselect * from customer\n```") {
		t.Fatalf("fenced select not recognized")
	}
	if !LooksLikeSQL("WITH t AS (SELECT 1) SELECT * FROM t") {
		t.Fatalf("CTE not recognized")
	}
	if LooksLikeSQL("I cannot answer that question from this schema.") {
		t.Fatalf("prose classified as SQL")
	}
}

type scriptedProvider struct {
	replies []string
	errs    []error
	calls   int
}

func (p *scriptedProvider) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return "", p.errs[i]
	}
	if i < len(p.replies) {
		return p.replies[i], nil
	}
	return "", errors.New("script exhausted")
}

func TestClient_RetriesTransportFailureOnce(t *testing.T) {
	t.Parallel()
	p := &scriptedProvider{
		errs:    []error{errors.New("connection reset"), nil},
		replies: []string{"", "SELECT 1"},
	}
	c, err := NewClient(p, ClientOptions{Logger: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	out, err := c.Complete(context.Background(), Request{User: "q"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "SELECT 1" || p.calls != 2 {
		t.Fatalf("out = %q calls = %d", out, p.calls)
	}
}

type hangingProvider struct{}

func (hangingProvider) Complete(ctx context.Context, req Request) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestClient_EnforcesCallTimeout(t *testing.T) {
	t.Parallel()
	c, err := NewClient(hangingProvider{}, ClientOptions{
		CallTimeout: 20 * time.Millisecond,
		MaxAttempts: 1,
		Logger:      slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	start := time.Now()
	_, err = c.Complete(context.Background(), Request{User: "q"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not enforced promptly")
	}
}

func TestNewProvider_RejectsBadConfig(t *testing.T) {
	t.Parallel()
	if _, err := NewProvider("openai", "", "", "gpt-4o-mini"); err == nil {
		t.Fatalf("missing api key accepted")
	}
	if _, err := NewProvider("openai", "", "key", ""); err == nil {
		t.Fatalf("missing model accepted")
	}
	if _, err := NewProvider("mystery", "", "key", "m"); err == nil {
		t.Fatalf("unknown provider type accepted")
	}
	if _, err := NewProvider("openai_compatible", "https://api.deepseek.com/v1", "key", "deepseek-chat"); err != nil {
		t.Fatalf("compatible gateway rejected: %v", err)
	}
}
