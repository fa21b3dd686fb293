package intent

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParse_ClassifiesChatVersusQuery(t *testing.T) {
	t.Parallel()
	cases := []struct {
		question string
		want     QuestionType
	}{
		{"hello", TypeChat},
		{"你好", TypeChat},
		{"thanks a lot", TypeChat},
		{"who are you?", TypeChat},
		{"hi, show me all customers", TypeQuery},
		{"你好，查询所有客户", TypeQuery},
		{"how many invoices are there", TypeQuery},
		{"", TypeQuery},
	}
	for _, tc := range cases {
		if got := Parse(tc.question).QuestionType; got != tc.want {
			t.Fatalf("Parse(%q).QuestionType = %s, want %s", tc.question, got, tc.want)
		}
	}
}

func TestParse_ExtractsRowLimit(t *testing.T) {
	t.Parallel()
	cases := []struct {
		question string
		want     int
	}{
		{"show the top 5 customers by revenue", 5},
		{"first 10 albums", 10},
		{"查询前5个客户的名字", 5},
		{"销量前 20 名的曲目", 20},
		{"show all customers", 0},
	}
	for _, tc := range cases {
		if got := Parse(tc.question).RowLimit; got != tc.want {
			t.Fatalf("Parse(%q).RowLimit = %d, want %d", tc.question, got, tc.want)
		}
	}
}

func TestParse_ExtractsTimeRange(t *testing.T) {
	t.Parallel()
	cases := []struct {
		question string
		want     string
	}{
		{"sales last month by city", "last_month"},
		{"今年的销售额", "this_year"},
		{"上周有多少订单", "last_week"},
		{"list all genres", ""},
	}
	for _, tc := range cases {
		if got := Parse(tc.question).TimeRange; got != tc.want {
			t.Fatalf("Parse(%q).TimeRange = %q, want %q", tc.question, got, tc.want)
		}
	}
}

func TestDetect_FirstMatchWins(t *testing.T) {
	t.Parallel()
	d := NewDetector()

	rule, ok := d.Detect("which genre is most popular?")
	if !ok {
		t.Fatalf("no rule for superlative question")
	}
	if rule.Name != "superlative-without-metric" {
		t.Fatalf("rule = %s", rule.Name)
	}
	if rule.Question == "" || len(rule.Options) == 0 {
		t.Fatalf("rule missing question or options: %+v", rule)
	}

	if _, ok := d.Detect("list all customers in Prague"); ok {
		t.Fatalf("clear question flagged ambiguous")
	}
}

func TestDetect_RequireAbsentSuppressesRule(t *testing.T) {
	t.Parallel()
	d := NewDetector()

	if _, ok := d.Detect("recent orders"); !ok {
		t.Fatalf("bare \"recent\" not flagged")
	}
	if _, ok := d.Detect("orders from the recent 30 days"); ok {
		t.Fatalf("explicit span still flagged as ambiguous")
	}
	if _, ok := d.Detect("最近的订单"); !ok {
		t.Fatalf("Chinese bare \"recent\" not flagged")
	}
	if _, ok := d.Detect("最近30天的订单"); ok {
		t.Fatalf("Chinese explicit span still flagged")
	}
}

func TestLoadRules_ReplacesBuiltins(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	doc := `rules:
  - name: currency-unclear
    patterns: ["revenue", "收入"]
    question: "Which currency should amounts be reported in?"
    options: ["USD", "CNY"]
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	d := NewDetector(rules...)

	rule, ok := d.Detect("total revenue per artist")
	if !ok || rule.Name != "currency-unclear" {
		t.Fatalf("custom rule not applied: %+v ok=%v", rule, ok)
	}
	// Built-ins are gone once a file is loaded.
	if _, ok := d.Detect("which genre is most popular?"); ok {
		t.Fatalf("builtin rule survived replacement")
	}
}

func TestLoadRules_RejectsInvalidFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("rules:\n  - name: broken\n    question: q\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadRules(path); err == nil {
		t.Fatalf("LoadRules accepted rule without patterns")
	}
}

func TestMergeClarification(t *testing.T) {
	t.Parallel()
	got := MergeClarification("最近的订单", "最近30天")
	if got != "最近的订单（最近30天）" {
		t.Fatalf("merged = %q", got)
	}
	if MergeClarification("q", "  ") != "q" {
		t.Fatalf("empty answer should leave question untouched")
	}
}
