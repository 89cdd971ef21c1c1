package nl2sql

import (
	"regexp"
	"strings"
)

const defaultReasoning = "Query generated based on the provided schema and user question."

type extractor struct {
	reasoning *regexp.Regexp
	sql       *regexp.Regexp
}

// Tried in order; the first extractor whose SQL section carries a statement
// keyword wins.
var extractors = []extractor{
	{
		reasoning: regexp.MustCompile("(?is)REASONING:?\\s*(.*?)(?:SQL:|```sql|```)"),
		sql:       regexp.MustCompile(`(?is)(?:^|\n)[ \t]*SQL:?[ \t]*(.*)$`),
	},
	{
		reasoning: regexp.MustCompile("(?is)REASONING:?\\s*(.*?)```"),
		sql:       regexp.MustCompile("(?is)```(?:sql)?\\s*(.*?)\\s*```"),
	},
	{
		sql: regexp.MustCompile("(?is)```(?:sql)?\\s*(.*?)\\s*```"),
	},
}

var (
	bareStatement  = regexp.MustCompile(`(?is)(?:^|\n)[ \t]*((?:WITH|SELECT)\s+.+?)(?:\n\s*\n|\z)`)
	leadingLabel   = regexp.MustCompile(`(?i)^(?:REASONING:?|SQL:?)\s*`)
	statementWords = []string{"SELECT", "WITH", "PRAGMA", "EXPLAIN"}
)

// ParseResponse splits a raw model response into its SQL statement and the
// reasoning that preceded it. It returns ErrNoSQL when no statement survives
// cleaning.
func ParseResponse(raw string) (string, string, error) {
	response := strings.TrimSpace(raw)
	reasoning := ""
	sql := ""

	for _, ex := range extractors {
		if ex.reasoning != nil {
			if match := ex.reasoning.FindStringSubmatch(response); match != nil {
				reasoning = strings.TrimSpace(match[1])
			}
		}
		match := ex.sql.FindStringSubmatch(response)
		if match == nil {
			continue
		}
		sql = strings.TrimSpace(match[1])
		if containsAny(strings.ToUpper(sql), statementWords) {
			break
		}
		sql = ""
	}

	if sql == "" {
		if match := bareStatement.FindStringSubmatchIndex(response); match != nil {
			sql = strings.TrimSpace(response[match[2]:match[3]])
			if before := strings.TrimSpace(response[:match[2]]); before != "" {
				reasoning = leadingLabel.ReplaceAllString(before, "")
			}
		}
	}

	sql = CleanSQL(sql)
	if len(strings.Fields(sql)) < 5 && !containsAny(strings.ToUpper(sql), []string{"SELECT", "WITH", "PRAGMA"}) {
		sql = ""
	}
	if sql == "" {
		return "", "", ErrNoSQL
	}
	if reasoning == "" {
		reasoning = defaultReasoning
	}
	return sql, reasoning, nil
}

var (
	fenceOpen     = regexp.MustCompile("(?i)```sql?\\s*")
	firstWord     = regexp.MustCompile(`^\s*(\w+)\b`)
	sqlMarker     = regexp.MustCompile(`(?is)SQL:\s*(.+)`)
	lineSelect    = regexp.MustCompile(`(?i)^\s*SELECT\s+`)
	lineWithAs    = regexp.MustCompile(`(?i)^\s*WITH\s+\w+\s+AS\s*\(`)
	anchoredStart = regexp.MustCompile(`(?ims)^\s*(SELECT\s+.+|WITH\s+\w+\s+AS\s*\(.+|PRAGMA\s+.+|EXPLAIN\s+.+)`)
	midSelect     = regexp.MustCompile("(?is)\\b(SELECT\\s+[a-zA-Z0-9_\"`'\\[(*].+)")
	midWith       = regexp.MustCompile(`(?is)\b(WITH\s+\w+\s+AS\s*\(.+)`)
)

// A statement keyword followed by one of these words opens an English sentence.
var proseStarts = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bSELECT\s+(?:that|returns|is|for|to|specifically|only|just)\b`),
	regexp.MustCompile(`(?i)\bWITH\s+(?:the|this|all|these|regard|respect)\b`),
}

var proseIndicators = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\n\s*Given\b`),
	regexp.MustCompile(`(?i)\n\s*Note\b`),
	regexp.MustCompile(`(?i)\n\s*Explanation\b`),
	regexp.MustCompile(`(?i)\n\s*The query\b`),
	regexp.MustCompile(`(?i)\n\s*This query\b`),
	regexp.MustCompile(`(?i)\n\s*Here\b`),
	regexp.MustCompile(`(?i)\n\s*In this\b`),
	regexp.MustCompile(`(?i)\n\s*I have\b`),
	regexp.MustCompile(`(?i)\n\s*Please\b`),
}

var commonProseWords = map[string]bool{
	"that": true, "returns": true, "the": true, "a": true, "is": true, "for": true,
	"to": true, "this": true, "it": true, "was": true, "will": true, "would": true,
}

var structuralKeywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "JOIN": true, "GROUP": true,
	"ORDER": true, "LIMIT": true, "WITH": true, "AS": true,
}

// CleanSQL strips fences, comments and trailing prose from text and collapses
// whitespace. It returns "" when what is left still reads like English.
func CleanSQL(text string) string {
	if text == "" {
		return ""
	}
	sql := fenceOpen.ReplaceAllString(text, "")
	sql = strings.ReplaceAll(sql, "```", "")
	sql = stripComments(sql)

	if match := firstWord.FindStringSubmatch(sql); match != nil && isStatementWord(match[1]) && looksLikeProse(sql) {
		if marker := sqlMarker.FindStringSubmatch(sql); marker != nil {
			sql = marker[1]
		} else {
			lines := strings.Split(sql, "\n")
			for i := 1; i < len(lines); i++ {
				if lineSelect.MatchString(lines[i]) || lineWithAs.MatchString(lines[i]) {
					sql = strings.Join(lines[i:], "\n")
					break
				}
			}
		}
	}

	if match := anchoredStart.FindStringSubmatch(sql); match != nil {
		sql = match[1]
	} else if match := midSelect.FindStringSubmatch(sql); match != nil {
		candidate := match[1]
		if !startsWithProse(candidate) {
			sql = candidate
		}
	} else if match := midWith.FindStringSubmatch(sql); match != nil {
		sql = match[1]
	}

	if parts := splitStatements(sql); len(parts) > 1 {
		next := strings.ToLower(strings.TrimSpace(parts[1]))
		if strings.HasPrefix(next, "select") || strings.HasPrefix(next, "with") {
			sql = strings.Join(parts, " ")
		} else {
			sql = parts[0]
		}
	}

	for _, indicator := range proseIndicators {
		if parts := indicator.Split(sql, -1); len(parts) > 1 {
			sql = parts[0]
		}
	}

	if parts := strings.Split(sql, "SQL:"); len(parts) > 1 {
		tail := strings.ToUpper(parts[1])
		if strings.Contains(tail, "SELECT") || strings.Contains(tail, "WITH") {
			sql = parts[1]
		}
	}

	words := strings.Fields(sql)
	if len(words) > 30 {
		hits := make(map[string]bool)
		for _, word := range words {
			upper := strings.ToUpper(word)
			if structuralKeywords[upper] {
				hits[upper] = true
			}
		}
		if len(hits) < 3 {
			return ""
		}
	}
	return strings.Join(words, " ")
}

// stripComments removes -- and /* */ comments that are outside quoted
// strings and identifiers. A line comment keeps its newline.
func stripComments(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))
	var quote byte
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
			b.WriteByte(c)
		case c == '\'' || c == '"':
			quote = c
			b.WriteByte(c)
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				return b.String()
			}
			i += end - 1
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return b.String()
			}
			i += end + 3
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// splitStatements splits sql on semicolons outside quoted strings and
// identifiers.
func splitStatements(sql string) []string {
	var parts []string
	var quote byte
	start := 0
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == ';':
			parts = append(parts, sql[start:i])
			start = i + 1
		}
	}
	return append(parts, sql[start:])
}

func isStatementWord(word string) bool {
	switch strings.ToUpper(word) {
	case "SELECT", "WITH", "PRAGMA", "EXPLAIN":
		return true
	}
	return false
}

func looksLikeProse(sql string) bool {
	head := sql
	if len(head) > 100 {
		head = head[:100]
	}
	for _, pattern := range proseStarts {
		if pattern.MatchString(head) {
			return true
		}
	}
	return false
}

func startsWithProse(candidate string) bool {
	words := strings.Fields(strings.ToLower(candidate))
	if len(words) > 10 {
		words = words[:10]
	}
	for _, word := range words {
		if commonProseWords[word] {
			return true
		}
	}
	return false
}

func containsAny(text string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(text, needle) {
			return true
		}
	}
	return false
}
