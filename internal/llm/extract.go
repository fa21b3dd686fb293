package llm

import (
	"strings"
)

// ExtractSQL pulls the SQL statement out of a model reply. Models wrap
// statements in markdown fences more often than not; everything outside the
// first fenced block is dropped. Unfenced replies come back trimmed.
func ExtractSQL(reply string) string {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return ""
	}

	if idx := strings.Index(reply, "```"); idx >= 0 {
		rest := reply[idx+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			// Drop the language tag line (```sql, ```SQL, plain ```).
			tag := strings.ToLower(strings.TrimSpace(rest[:nl]))
			if tag == "" || tag == "sql" || tag == "sqlite" || tag == "mysql" || tag == "postgresql" {
				rest = rest[nl+1:]
			}
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		reply = rest
	}

	reply = strings.TrimSpace(reply)
	reply = strings.TrimSuffix(reply, ";")
	return strings.TrimSpace(reply)
}

// LooksLikeSQL is the cheap classifier for replies that may be either a
// statement or conversational text ("I cannot answer that").
func LooksLikeSQL(text string) bool {
	head := strings.ToUpper(strings.TrimSpace(ExtractSQL(text)))
	return strings.HasPrefix(head, "SELECT") || strings.HasPrefix(head, "WITH")
}
