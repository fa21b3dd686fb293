package orchestrator

import (
	"fmt"
	"strings"

	"github.com/floegence/nl2sql-agent/internal/dbexec"
)

const maxAnswerRows = 20

// buildAnswer renders a result set deterministically: a single value plain,
// anything larger as a small text table with a row-count footer.
func buildAnswer(res *dbexec.Result) string {
	if res == nil || res.RowCount() == 0 {
		return "The query ran successfully but returned no rows."
	}
	if res.RowCount() == 1 && len(res.Columns) == 1 {
		return fmt.Sprintf("%s: %s", res.Columns[0], res.Rows[0][0])
	}

	var b strings.Builder
	b.WriteString(strings.Join(res.Columns, " | "))
	b.WriteString("\n")
	b.WriteString(strings.Repeat("-", len(strings.Join(res.Columns, " | "))))
	b.WriteString("\n")
	shown := res.Rows
	if len(shown) > maxAnswerRows {
		shown = shown[:maxAnswerRows]
	}
	for _, row := range shown {
		b.WriteString(strings.Join(row, " | "))
		b.WriteString("\n")
	}
	if res.RowCount() > maxAnswerRows {
		fmt.Fprintf(&b, "... and %d more rows\n", res.RowCount()-maxAnswerRows)
	}
	fmt.Fprintf(&b, "(%d rows)", res.RowCount())
	return b.String()
}

// clip bounds what goes into session memory so one wide result cannot crowd
// out the rest of the history.
func clip(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
