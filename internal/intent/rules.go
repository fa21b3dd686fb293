package intent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule describes one ambiguity pattern. Rules are checked in order and the
// first match wins, so more specific rules belong earlier in the list.
type Rule struct {
	Name string `yaml:"name" json:"name"`
	// Patterns are lowercased substrings; any one of them triggers the rule.
	Patterns []string `yaml:"patterns" json:"patterns"`
	// RequireAbsent suppresses the rule when the question already contains
	// one of these (e.g. "recent" next to an explicit "30 days").
	RequireAbsent []string `yaml:"require_absent,omitempty" json:"require_absent,omitempty"`
	// Question is what the agent asks the user to resolve the ambiguity.
	Question string `yaml:"question" json:"question"`
	// Options are suggested answers, shown as a numbered list.
	Options []string `yaml:"options,omitempty" json:"options,omitempty"`
}

func (r Rule) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("rule without name")
	}
	if len(r.Patterns) == 0 {
		return fmt.Errorf("rule %q: no patterns", r.Name)
	}
	if strings.TrimSpace(r.Question) == "" {
		return fmt.Errorf("rule %q: no clarifying question", r.Name)
	}
	return nil
}

func (r Rule) matches(lower string) bool {
	hit := false
	for _, p := range r.Patterns {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			hit = true
			break
		}
	}
	if !hit {
		return false
	}
	for _, a := range r.RequireAbsent {
		if a != "" && strings.Contains(lower, strings.ToLower(a)) {
			return false
		}
	}
	return true
}

// defaultRules cover the ambiguity classes seen most in practice. A rule
// file loaded via LoadRules replaces the whole list.
func defaultRules() []Rule {
	explicitSpans := []string{
		"day", "week", "month", "year", "hour",
		"天", "日", "周", "月", "年", "小时",
	}
	return []Rule{
		{
			Name:          "relative-time-without-range",
			Patterns:      []string{"recent", "lately", "最近"},
			RequireAbsent: explicitSpans,
			Question:      "What time range should \"recent\" cover?",
			Options:       []string{"last 7 days", "last 30 days", "this year"},
		},
		{
			Name:     "superlative-without-metric",
			Patterns: []string{"most popular", "best selling", "最受欢迎", "最火", "卖得最好"},
			Question: "How should popularity be measured?",
			Options:  []string{"by number of sales", "by revenue", "by number of tracks"},
		},
		{
			Name:     "vague-field-request",
			Patterns: []string{"all information", "everything about", "details about", "详细信息", "所有信息"},
			Question: "Which fields do you need?",
			Options:  []string{"all columns", "names and ids only", "summary figures"},
		},
		{
			Name:     "pronoun-without-antecedent",
			Patterns: []string{"that one", "those ones", "它的", "他们的", "这个的"},
			Question: "What does that refer to? Please name the table or item.",
		},
	}
}

// Detector finds the first ambiguity rule a question trips.
type Detector struct {
	rules []Rule
}

// NewDetector builds a detector over the given rules, falling back to the
// built-in set when none are passed.
func NewDetector(rules ...Rule) *Detector {
	if len(rules) == 0 {
		rules = defaultRules()
	}
	return &Detector{rules: rules}
}

// LoadRules reads a YAML rule file. The file replaces the built-in rules
// entirely, so deployments can tighten or relax detection without a rebuild.
func LoadRules(path string) ([]Rule, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var doc struct {
		Rules []Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse rule file %s: %w", path, err)
	}
	if len(doc.Rules) == 0 {
		return nil, fmt.Errorf("rule file %s: no rules", path)
	}
	for _, r := range doc.Rules {
		if err := r.validate(); err != nil {
			return nil, fmt.Errorf("rule file %s: %w", path, err)
		}
	}
	return doc.Rules, nil
}

// Detect returns the first matching rule in list order. Checking stops at
// the first hit so one question never raises two clarifications at once.
func (d *Detector) Detect(question string) (Rule, bool) {
	lower := strings.ToLower(strings.TrimSpace(question))
	if lower == "" {
		return Rule{}, false
	}
	for _, r := range d.rules {
		if r.matches(lower) {
			return r, true
		}
	}
	return Rule{}, false
}
