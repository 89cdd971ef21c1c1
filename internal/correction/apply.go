package correction

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/duckmesh/askdb/internal/schema"
)

var (
	commaBeforeClause = regexp.MustCompile(`(?i),\s*(FROM|WHERE|GROUP|ORDER|LIMIT|HAVING)\b`)
	commaAtEnd        = regexp.MustCompile(`,\s*(;?)\s*$`)
)

// Apply performs the mechanical part of fix on failedSQL. It reports false
// when fix has no mechanical repair or the repair would not change the
// statement; the caller then regenerates instead.
func Apply(failedSQL string, fix Fix) (string, bool) {
	if fix == nil || !fix.Retryable() {
		return "", false
	}
	switch f := fix.(type) {
	case ColumnNotFound:
		return replaceIdentifier(failedSQL, f.Replacement)
	case TableNotFound:
		return replaceIdentifier(failedSQL, f.Replacement)
	case SyntaxNear:
		if !f.TrailingComma {
			return "", false
		}
		fixed := removeTrailingCommas(failedSQL)
		return fixed, fixed != failedSQL
	}
	return "", false
}

func replaceIdentifier(sql string, r *Replacement) (string, bool) {
	if r == nil || r.Old == "" || r.New == "" {
		return "", false
	}
	pattern := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(r.Old) + `\b`)
	fixed := pattern.ReplaceAllLiteralString(sql, r.New)
	return fixed, fixed != sql
}

func removeTrailingCommas(sql string) string {
	fixed := commaBeforeClause.ReplaceAllString(sql, " ${1}")
	return commaAtEnd.ReplaceAllString(fixed, "${1}")
}

// hasTrailingCommaBefore reports a comma directly in front of token, or in
// front of any clause keyword or the end of the statement when token is "".
func hasTrailingCommaBefore(sql, token string) bool {
	if token == "" {
		return commaBeforeClause.MatchString(sql) || commaAtEnd.MatchString(sql)
	}
	pattern := regexp.MustCompile(`(?i),\s*` + regexp.QuoteMeta(token) + `\b`)
	return pattern.MatchString(sql)
}

// RetryPrompt is the context handed to the generator after a failed attempt.
func RetryPrompt(question, failedSQL, errMsg string, fix Fix, s schema.Schema) string {
	var schemaText strings.Builder
	for _, table := range s.Tables {
		fmt.Fprintf(&schemaText, "Table %s: %s\n", table.Name, strings.Join(table.ColumnNames(), ", "))
		for _, fk := range table.ForeignKeys {
			fmt.Fprintf(&schemaText, "  FK: %s → %s.%s\n", fk.Column, fk.RefTable, fk.RefColumn)
		}
	}

	suggestion := "Unknown error"
	hint := "Please try a different approach."
	joinHint := ""
	if fix != nil {
		suggestion = fix.Suggestion()
		if h := fix.Hint(); h != "" {
			hint = h
		}
		if join, ok := fix.(MissingJoin); ok {
			joinHint = fmt.Sprintf("\n\nIMPORTANT: You need to JOIN with the %s table to access its columns.", join.JoinTable)
		}
	}

	return fmt.Sprintf(`The previous SQL query failed. Generate a corrected query.

ORIGINAL QUESTION:
%s

PREVIOUS SQL (FAILED):
%s

ERROR:
%s

ANALYSIS:
%s

HINT:
%s%s

AVAILABLE SCHEMA:
%s
The corrected query must:
1. avoid the previous error
2. use only existing tables and columns
3. qualify ambiguous column names
4. follow SQLite syntax
5. JOIN related tables when it needs their columns
`, strings.TrimSpace(question), strings.TrimSpace(failedSQL), strings.TrimSpace(errMsg), suggestion, hint, joinHint, schemaText.String())
}
