// Package validation rejects any statement that is not a single read-only
// query before it reaches the database.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

type Reason string

const (
	ReasonEmpty        Reason = "empty"
	ReasonStatement    Reason = "statement_not_allowed"
	ReasonMultiple     Reason = "multiple_statements"
	ReasonComment      Reason = "comment"
	ReasonForbidden    Reason = "forbidden_keyword"
	ReasonPragma       Reason = "dangerous_pragma"
	ReasonSystemAccess Reason = "system_access"
	ReasonSuspicious   Reason = "suspicious_pattern"
	ReasonCTE          Reason = "invalid_cte"
)

type Error struct {
	Reason  Reason
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func reject(reason Reason, format string, args ...any) *Error {
	return &Error{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

var allowedStarters = []string{"select", "with", "pragma", "explain"}

var forbiddenKeywords = []string{
	"insert", "update", "delete", "replace", "upsert",
	"drop", "alter", "truncate", "create", "rename",
	"attach", "detach", "reindex", "vacuum", "analyze",
	"load_extension", "writefile", "readfile",
}

// Functions sharing a name with a forbidden keyword stay usable when called.
var forbiddenCallable = map[string]bool{"replace": true}

var dangerousPragmas = []string{
	"database_list", "key", "rekey", "journal_mode", "locking_mode",
	"synchronous", "temp_store", "cache_size", "mmap_size", "wal_checkpoint",
}

type patternRule struct {
	pattern *regexp.Regexp
	reason  Reason
	message string
}

var (
	pragmaAssignment = regexp.MustCompile(`^pragma\s+[\w.]+\s*=`)
	pragmaName       = regexp.MustCompile(`^pragma\s+(?:\w+\.)?(\w+)`)
	lineComment      = regexp.MustCompile(`--`)
	blockComment     = regexp.MustCompile(`/\*|\*/`)
	selectWord       = regexp.MustCompile(`\bselect\b`)
	asWord           = regexp.MustCompile(`\bas\b`)
)

var patternRules = []patternRule{
	{regexp.MustCompile(`\bsqlite_master\b.*\bsql\b`), ReasonSystemAccess, "Access to system tables or database operations is restricted."},
	{regexp.MustCompile(`\battach\s+database\b`), ReasonSystemAccess, "Access to system tables or database operations is restricted."},
	{regexp.MustCompile(`\bdetach\s+database\b`), ReasonSystemAccess, "Access to system tables or database operations is restricted."},
	{regexp.MustCompile(`union\s+all\s+select\s+null`), ReasonSuspicious, "Suspicious pattern blocked: UNION injection pattern"},
	{regexp.MustCompile(`'\s*or\s+'1'\s*=\s*'1`), ReasonSuspicious, "Suspicious pattern blocked: SQL injection pattern detected"},
	{regexp.MustCompile(`"\s*or\s+"1"\s*=\s*"1`), ReasonSuspicious, "Suspicious pattern blocked: SQL injection pattern detected"},
	{regexp.MustCompile(`\bexec(?:ute)?\b`), ReasonSuspicious, "Suspicious pattern blocked: EXEC command not allowed"},
	{regexp.MustCompile(`\b[sx]p_`), ReasonSuspicious, "Suspicious pattern blocked: stored procedure calls not allowed"},
}

var keywordPatterns = func() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(forbiddenKeywords))
	for _, keyword := range forbiddenKeywords {
		out[keyword] = regexp.MustCompile(`\b` + keyword + `\b(\s*\()?`)
	}
	return out
}()

// ValidateSQL returns nil for a single read-only statement and a *Error
// describing the first rule it breaks otherwise.
func ValidateSQL(sqlText string) error {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return reject(ReasonEmpty, "Empty SQL query.")
	}
	lower := strings.ToLower(trimmed)
	normalized := strings.Join(strings.Fields(lower), " ")

	if !startsWithAny(normalized, allowedStarters) {
		preview := lower
		if len(preview) > 20 {
			preview = preview[:20]
		}
		return reject(ReasonStatement, "Only SELECT, WITH (CTE), and read-only PRAGMA queries are allowed. Query starts with: '%s...'", preview)
	}
	if hasStatementAfterSemicolon(trimmed) {
		return reject(ReasonMultiple, "Multiple SQL statements are not allowed. Please submit one query at a time.")
	}

	// Keywords inside string literals are data, not statements.
	code := stripLiterals(lower)
	if lineComment.MatchString(code) || blockComment.MatchString(code) {
		return reject(ReasonComment, "SQL comments (-- or /* */) are not allowed for security reasons.")
	}
	for _, keyword := range forbiddenKeywords {
		for _, match := range keywordPatterns[keyword].FindAllStringSubmatch(code, -1) {
			if forbiddenCallable[keyword] && match[1] != "" {
				continue
			}
			return reject(ReasonForbidden, "Forbidden SQL operation detected: %s. Only SELECT queries are allowed.", strings.ToUpper(keyword))
		}
	}

	if strings.HasPrefix(normalized, "pragma") {
		if pragmaAssignment.MatchString(normalized) {
			return reject(ReasonPragma, "PRAGMA assignments are not allowed.")
		}
		if m := pragmaName.FindStringSubmatch(normalized); m != nil {
			for _, name := range dangerousPragmas {
				if m[1] == name {
					return reject(ReasonPragma, "This PRAGMA command is not allowed: pragma %s", name)
				}
			}
		}
	}

	for _, rule := range patternRules {
		if rule.pattern.MatchString(lower) {
			return reject(rule.reason, "%s", rule.message)
		}
	}

	if strings.HasPrefix(normalized, "with") && !validCTE(stripLiterals(normalized)) {
		return reject(ReasonCTE, "Invalid CTE (WITH clause) structure. WITH must be followed by a valid SELECT statement.")
	}
	return nil
}

func startsWithAny(s string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(s, prefix) {
			rest := s[len(prefix):]
			if rest == "" || !isWordByte(rest[0]) {
				return true
			}
		}
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' || ('a' <= b && b <= 'z') || ('0' <= b && b <= '9')
}

// hasStatementAfterSemicolon reports whether anything but whitespace follows
// the first semicolon outside quoted strings and identifiers. A single
// trailing semicolon is allowed.
func hasStatementAfterSemicolon(sqlText string) bool {
	var quote rune
	for i, r := range sqlText {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == ';':
			return strings.TrimSpace(sqlText[i+1:]) != ""
		}
	}
	return false
}

// stripLiterals blanks out the contents of single-quoted strings. Doubled
// quotes inside a literal toggle twice and so stay inside it.
func stripLiterals(sqlText string) string {
	var b strings.Builder
	b.Grow(len(sqlText))
	inString := false
	for _, r := range sqlText {
		switch {
		case r == '\'':
			inString = !inString
			b.WriteRune(r)
		case inString:
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// validCTE checks WITH name AS ( ... ) followed by a SELECT, allowing a
// comma-separated list of definitions.
func validCTE(normalized string) bool {
	if !asWord.MatchString(normalized) || !selectWord.MatchString(normalized) {
		return false
	}
	loc := asWord.FindStringIndex(normalized)
	open := strings.Index(normalized[loc[0]:], "(")
	if open < 0 {
		return false
	}
	open += loc[0]

	depth := 0
	closeAt := -1
	for i := open; i < len(normalized); i++ {
		switch normalized[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				closeAt = i
			}
		}
		if closeAt >= 0 {
			break
		}
	}
	if closeAt < 0 {
		return false
	}
	return selectWord.MatchString(normalized[closeAt+1:])
}
