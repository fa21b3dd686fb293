// Package intent does the cheap, deterministic reading of a question before
// any model call: query-vs-chat classification, row limit and time range
// extraction, and rule-based ambiguity detection.
package intent

import (
	"regexp"
	"strconv"
	"strings"
)

type QuestionType string

const (
	TypeQuery QuestionType = "query"
	TypeChat  QuestionType = "chat"
)

// Intent is what the parser extracted from the raw question.
type Intent struct {
	QuestionType QuestionType `json:"question_type"`
	// RowLimit is the row count the user asked for ("top 5", "前10名"),
	// zero when the question names none.
	RowLimit int `json:"row_limit,omitempty"`
	// TimeRange is a normalized tag like "last_month"; empty when absent.
	TimeRange string `json:"time_range,omitempty"`
}

var chatPhrases = []string{
	"hello", "hi there", "how are you", "who are you", "what can you do",
	"thank you", "thanks", "good morning", "good evening", "bye", "goodbye",
	"你好", "您好", "你是谁", "你能做什么", "谢谢", "再见", "早上好", "晚上好",
}

// dataWords force the query path even when the question opens with a
// greeting ("hi, show me all customers").
var dataWords = []string{
	"select", "table", "count", "how many", "list", "show", "find", "which",
	"average", "sum", "total", "top", "most", "least",
	"查询", "统计", "多少", "列出", "显示", "哪个", "哪些", "平均", "总", "前",
}

var (
	rowLimitEnglish = regexp.MustCompile(`(?i)\b(?:top|first|limit)\s+(\d+)\b`)
	rowLimitChinese = regexp.MustCompile(`前\s*(\d+)\s*[个条名位首张]?`)
)

var timeRangeTags = []struct {
	tag      string
	patterns []string
}{
	{"today", []string{"today", "今天", "今日"}},
	{"yesterday", []string{"yesterday", "昨天"}},
	{"this_week", []string{"this week", "本周", "这周"}},
	{"last_week", []string{"last week", "上周", "上个星期"}},
	{"this_month", []string{"this month", "本月", "这个月"}},
	{"last_month", []string{"last month", "上个月", "上月"}},
	{"this_year", []string{"this year", "今年"}},
	{"last_year", []string{"last year", "去年"}},
	{"recent", []string{"recent", "lately", "最近"}},
}

// Parse never fails; an unreadable question simply comes back as a plain
// query with nothing extracted.
func Parse(question string) Intent {
	lower := strings.ToLower(strings.TrimSpace(question))
	out := Intent{QuestionType: TypeQuery}
	if lower == "" {
		return out
	}

	if isChat(lower) {
		out.QuestionType = TypeChat
		return out
	}

	if m := rowLimitEnglish.FindStringSubmatch(lower); m != nil {
		out.RowLimit, _ = strconv.Atoi(m[1])
	} else if m := rowLimitChinese.FindStringSubmatch(lower); m != nil {
		out.RowLimit, _ = strconv.Atoi(m[1])
	}

	for _, tr := range timeRangeTags {
		for _, p := range tr.patterns {
			if strings.Contains(lower, p) {
				out.TimeRange = tr.tag
				return out
			}
		}
	}
	return out
}

func isChat(lower string) bool {
	hit := false
	for _, p := range chatPhrases {
		if strings.Contains(lower, p) {
			hit = true
			break
		}
	}
	if !hit && lower != "hi" {
		return false
	}
	for _, w := range dataWords {
		if strings.Contains(lower, w) {
			return false
		}
	}
	return true
}

// MergeClarification folds the user's answer back into the question so the
// next generation round sees both. The fullwidth parentheses survive both
// Chinese and English questions.
func MergeClarification(question, answer string) string {
	question = strings.TrimSpace(question)
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return question
	}
	return question + "（" + answer + "）"
}
