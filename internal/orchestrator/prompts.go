package orchestrator

import (
	"fmt"
	"strings"

	"github.com/floegence/nl2sql-agent/internal/intent"
	"github.com/floegence/nl2sql-agent/internal/schema"
)

const generationSystem = `You translate natural-language questions about a relational database into SQL.

Rules:
- Produce exactly one read-only SELECT statement.
- Use only the tables and columns listed in the schema.
- When a join path is given, follow it exactly.
- Never write INSERT, UPDATE, DELETE, DDL or any system table access.
- Reply with the statement inside a fenced code block and nothing else.`

const critiqueSystem = `You review a rejected SQL statement for a database assistant. You are given the question, the statement and the rejection reason. Explain in at most three short sentences what is wrong and what a corrected statement must do differently. Do not write SQL.`

const answerSystem = `You word query results for the user of a database assistant. You are given the question, the executed SQL and the raw result. Answer the question concisely in the user's language using only values from the result. Do not invent numbers. Keep tabular results tabular.`

const chatSystem = `You are a friendly assistant for a database query tool. The user is making small talk rather than asking about data. Answer briefly in the user's language and mention that you can answer questions about the connected database.`

func buildGenerationPrompt(cat *schema.Catalog, in intent.Intent, question, joinHint, history string) string {
	var b strings.Builder
	b.WriteString(cat.FormatForPrompt(cat.RelevantTables(question)))
	b.WriteString("\n")
	if joinHint != "" {
		b.WriteString(joinHint)
		b.WriteString("\n")
	}
	if history != "" {
		b.WriteString(history)
		b.WriteString("\n")
	}
	if in.RowLimit > 0 {
		fmt.Fprintf(&b, "The user asked for %d rows; add LIMIT %d.\n", in.RowLimit, in.RowLimit)
	}
	if in.TimeRange != "" {
		fmt.Fprintf(&b, "The question is scoped to the time range %q; filter on the relevant date column.\n", in.TimeRange)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(strings.TrimSpace(question))
	return b.String()
}

func buildAnswerPrompt(question, sql, summary string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nExecuted SQL:\n%s\n\nResult:\n%s\n", strings.TrimSpace(question), strings.TrimSpace(sql), summary)
	return b.String()
}

func buildCritiquePrompt(cat *schema.Catalog, question, badSQL, problem string) string {
	var b strings.Builder
	b.WriteString(cat.FormatForPrompt(nil))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Question: %s\n\nRejected statement:\n%s\n\nRejection: %s\n", strings.TrimSpace(question), strings.TrimSpace(badSQL), strings.TrimSpace(problem))
	return b.String()
}

func buildRepairPrompt(cat *schema.Catalog, question, badSQL, problem string) string {
	var b strings.Builder
	b.WriteString(cat.FormatForPrompt(nil))
	b.WriteString("\nThe previous statement for the question below was rejected.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\nRejected statement:\n%s\n\nProblem: %s\n\n", strings.TrimSpace(question), strings.TrimSpace(badSQL), strings.TrimSpace(problem))
	b.WriteString("Produce a corrected SELECT statement that fixes this problem. Reply with the statement inside a fenced code block and nothing else.")
	return b.String()
}
