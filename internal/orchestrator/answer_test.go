package orchestrator

import (
	"fmt"
	"strings"
	"testing"

	"github.com/floegence/nl2sql-agent/internal/dbexec"
)

func TestBuildAnswer_EmptyResult(t *testing.T) {
	t.Parallel()
	if got := buildAnswer(nil); !strings.Contains(got, "no rows") {
		t.Fatalf("answer = %q", got)
	}
	if got := buildAnswer(&dbexec.Result{Columns: []string{"a"}}); !strings.Contains(got, "no rows") {
		t.Fatalf("answer = %q", got)
	}
}

func TestBuildAnswer_SingleCell(t *testing.T) {
	t.Parallel()
	res := &dbexec.Result{Columns: []string{"total"}, Rows: [][]string{{"17"}}}
	if got := buildAnswer(res); got != "total: 17" {
		t.Fatalf("answer = %q", got)
	}
}

func TestBuildAnswer_TableWithRowCap(t *testing.T) {
	t.Parallel()
	res := &dbexec.Result{Columns: []string{"name", "city"}}
	for i := 0; i < 25; i++ {
		res.Rows = append(res.Rows, []string{fmt.Sprintf("n%d", i), "Oslo"})
	}

	got := buildAnswer(res)
	if !strings.HasPrefix(got, "name | city\n") {
		t.Fatalf("missing header: %q", got)
	}
	if !strings.Contains(got, "n19 | Oslo") || strings.Contains(got, "n20 | Oslo") {
		t.Fatalf("row cap not applied: %q", got)
	}
	if !strings.Contains(got, "... and 5 more rows") || !strings.Contains(got, "(25 rows)") {
		t.Fatalf("footer = %q", got)
	}
}

func TestClip(t *testing.T) {
	t.Parallel()
	if got := clip("  short  ", 10); got != "short" {
		t.Fatalf("clip = %q", got)
	}
	if got := clip(strings.Repeat("x", 20), 5); got != "xxxxx..." {
		t.Fatalf("clip = %q", got)
	}
}
