package correction

import (
	"regexp"
	"strings"

	"github.com/duckmesh/askdb/internal/schema"
)

const similarityThreshold = 0.7

// Corrector classifies diagnostics against one schema.
type Corrector struct {
	schema  schema.Schema
	tables  []string
	columns []string
	// owners maps a column name to the tables that declare it, in schema order.
	owners map[string][]string
}

func New(s schema.Schema) *Corrector {
	c := &Corrector{
		schema:  s,
		tables:  s.TableNames(),
		columns: s.AllColumnNames(),
		owners:  make(map[string][]string),
	}
	for _, table := range s.Tables {
		for _, column := range table.Columns {
			c.owners[column.Name] = append(c.owners[column.Name], table.Name)
		}
	}
	return c
}

// taxonomyRule matches a diagnostic; build receives the submatches and the
// failed statement.
type taxonomyRule struct {
	pattern *regexp.Regexp
	build   func(c *Corrector, match []string, failedSQL string) (Fix, bool)
}

var clauseKeyword = regexp.MustCompile(`(?i)^(?:FROM|WHERE|GROUP|ORDER|LIMIT|HAVING)$`)

// Evaluated in order; the first rule that matches and builds wins.
var taxonomy = []taxonomyRule{
	{
		pattern: regexp.MustCompile(`(?i)no such column: ([\w.]+)`),
		build: func(c *Corrector, m []string, _ string) (Fix, bool) {
			return c.columnNotFound(m[1]), true
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)no such table: ([\w.]+)`),
		build: func(c *Corrector, m []string, _ string) (Fix, bool) {
			return c.tableNotFound(m[1]), true
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)ambiguous column name: ([\w.]+)`),
		build: func(c *Corrector, m []string, _ string) (Fix, bool) {
			column := lastSegment(m[1])
			return AmbiguousColumn{Column: column, Tables: append([]string(nil), c.owners[column]...)}, true
		},
	},
	{
		// A dangling comma in front of a clause keyword is reported by SQLite
		// as a syntax error near that keyword.
		pattern: regexp.MustCompile(`(?i)near ['"]([A-Za-z]+)['"]:? syntax error`),
		build: func(_ *Corrector, m []string, failedSQL string) (Fix, bool) {
			if !clauseKeyword.MatchString(m[1]) || !hasTrailingCommaBefore(failedSQL, m[1]) {
				return nil, false
			}
			return SyntaxNear{Token: m[1], TrailingComma: true}, true
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)near ['"](primary)['"]`),
		build: func(_ *Corrector, m []string, _ string) (Fix, bool) {
			return ReservedWord{Keyword: m[1]}, true
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)near ['"]([A-Za-z]+)['"].*syntax error`),
		build: func(_ *Corrector, m []string, _ string) (Fix, bool) {
			return ReservedWord{Keyword: m[1]}, true
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)near "(.+?)": syntax error`),
		build: func(_ *Corrector, m []string, failedSQL string) (Fix, bool) {
			return SyntaxNear{Token: m[1], TrailingComma: hasTrailingCommaBefore(failedSQL, "")}, true
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)syntax error|SELECTExpected|incomplete input`),
		build: func(*Corrector, []string, string) (Fix, bool) { return SyntaxError{}, true },
	},
	{
		pattern: regexp.MustCompile(`(?i)UNIQUE constraint failed`),
		build: func(*Corrector, []string, string) (Fix, bool) { return UniqueViolation{}, true },
	},
	{
		pattern: regexp.MustCompile(`(?i)GROUP BY clause`),
		build: func(*Corrector, []string, string) (Fix, bool) { return GroupByRequired{}, true },
	},
	{
		pattern: regexp.MustCompile(`(?i)aggregate`),
		build: func(*Corrector, []string, string) (Fix, bool) { return AggregateMisuse{}, true },
	},
	{
		pattern: regexp.MustCompile(`(?i)datatype mismatch`),
		build: func(*Corrector, []string, string) (Fix, bool) { return TypeMismatch{}, true },
	},
	{
		pattern: regexp.MustCompile(`(?i)no such function(?:: (\w+))?`),
		build: func(_ *Corrector, m []string, _ string) (Fix, bool) {
			return FunctionNotFound{Function: m[1]}, true
		},
	},
}

// Analyze classifies errMsg, the driver diagnostic for failedSQL.
func (c *Corrector) Analyze(errMsg, failedSQL string) Fix {
	for _, rule := range taxonomy {
		match := rule.pattern.FindStringSubmatch(errMsg)
		if match == nil {
			continue
		}
		if fix, ok := rule.build(c, match, failedSQL); ok {
			return fix
		}
	}
	return Unknown{Message: errMsg}
}

func (c *Corrector) columnNotFound(column string) Fix {
	bare := lastSegment(column)
	for _, table := range c.tables {
		if !strings.EqualFold(bare, table) {
			continue
		}
		foreignKey := table + "Id"
		if _, ok := c.owners[foreignKey]; ok {
			return MissingJoin{Column: column, JoinTable: table, ForeignKey: foreignKey}
		}
		break
	}

	similar, ok := c.similarColumn(bare)
	if !ok {
		return ColumnNotFound{Column: column}
	}
	replacement := similar
	if qualifier := strings.TrimSuffix(column, bare); qualifier != "" {
		replacement = qualifier + similar
	}
	return ColumnNotFound{Column: column, Replacement: &Replacement{Old: column, New: replacement}}
}

func (c *Corrector) tableNotFound(table string) Fix {
	bare := lastSegment(table)
	similar, ok := c.similarTable(bare)
	if !ok {
		return TableNotFound{Table: table}
	}
	return TableNotFound{Table: table, Replacement: &Replacement{Old: table, New: similar}}
}

// similarColumn tries exact case-insensitive equality, then substring
// containment either way, then character-set overlap.
func (c *Corrector) similarColumn(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, column := range c.columns {
		if strings.ToLower(column) == lower {
			return column, true
		}
	}
	for _, column := range c.columns {
		candidate := strings.ToLower(column)
		if strings.Contains(candidate, lower) || strings.Contains(lower, candidate) {
			return column, true
		}
	}
	for _, column := range c.columns {
		if charOverlap(lower, strings.ToLower(column)) > similarityThreshold {
			return column, true
		}
	}
	return "", false
}

func (c *Corrector) similarTable(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, table := range c.tables {
		if strings.ToLower(table) == lower {
			return table, true
		}
	}
	for _, table := range c.tables {
		candidate := strings.ToLower(table)
		if strings.Contains(candidate, lower) || strings.Contains(lower, candidate) {
			return table, true
		}
	}
	return "", false
}

// charOverlap is |chars(a) ∩ chars(b)| / max(|chars(a)|, |chars(b)|).
func charOverlap(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	setA := charSet(a)
	setB := charSet(b)
	common := 0
	for r := range setA {
		if setB[r] {
			common++
		}
	}
	return float64(common) / float64(max(len(setA), len(setB)))
}

func charSet(s string) map[rune]bool {
	set := make(map[rune]bool, len(s))
	for _, r := range s {
		set[r] = true
	}
	return set
}

func lastSegment(identifier string) string {
	if idx := strings.LastIndex(identifier, "."); idx >= 0 {
		return identifier[idx+1:]
	}
	return identifier
}
