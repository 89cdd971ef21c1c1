// Package correction diagnoses failed SQL executions and proposes either a
// mechanical repair or guidance for regenerating the statement.
package correction

import (
	"fmt"
	"strings"
)

// MaxRetries bounds corrections per question; a question is executed at most
// MaxRetries+1 times.
const MaxRetries = 2

type Kind string

const (
	KindColumnNotFound   Kind = "column_not_found"
	KindMissingJoin      Kind = "missing_join"
	KindTableNotFound    Kind = "table_not_found"
	KindAmbiguousColumn  Kind = "ambiguous_column"
	KindReservedWord     Kind = "reserved_word"
	KindSyntaxNear       Kind = "syntax_near"
	KindSyntaxError      Kind = "syntax_error"
	KindUniqueViolation  Kind = "unique_violation"
	KindGroupByRequired  Kind = "group_by_needed"
	KindAggregateMisuse  Kind = "aggregate_error"
	KindTypeMismatch     Kind = "type_mismatch"
	KindFunctionNotFound Kind = "function_not_found"
	KindUnknown          Kind = "unknown"
)

// Fix is the diagnosis of one failed attempt. The concrete type tells which
// taxonomy entry matched.
type Fix interface {
	Kind() Kind
	Suggestion() string
	// Retryable reports whether another attempt, mechanical or regenerated, is
	// worth making.
	Retryable() bool
	Hint() string
	isFix()
}

// Replacement renames one identifier in the failed statement.
type Replacement struct {
	Old string `json:"old"`
	New string `json:"new"`
}

type ColumnNotFound struct {
	Column      string
	Replacement *Replacement
}

func (f ColumnNotFound) Kind() Kind { return KindColumnNotFound }
func (f ColumnNotFound) Suggestion() string {
	return fmt.Sprintf("Column '%s' doesn't exist.", f.Column)
}
func (f ColumnNotFound) Retryable() bool { return f.Replacement != nil }
func (f ColumnNotFound) Hint() string {
	if f.Replacement == nil {
		return ""
	}
	return fmt.Sprintf("Did you mean '%s'?", f.Replacement.New)
}
func (ColumnNotFound) isFix() {}

// MissingJoin is reported when a "column" is really a table reachable through
// a <Table>Id foreign key column. It needs regeneration, never a rename.
type MissingJoin struct {
	Column     string
	JoinTable  string
	ForeignKey string
}

func (f MissingJoin) Kind() Kind { return KindMissingJoin }
func (f MissingJoin) Suggestion() string {
	return fmt.Sprintf("Column '%s' doesn't exist. Did you mean to JOIN with the %s table? The relationship is through '%s'.", f.Column, f.JoinTable, f.ForeignKey)
}
func (f MissingJoin) Retryable() bool { return true }
func (f MissingJoin) Hint() string {
	return fmt.Sprintf("Need to JOIN with %s table using %s", f.JoinTable, f.ForeignKey)
}
func (MissingJoin) isFix() {}

type TableNotFound struct {
	Table       string
	Replacement *Replacement
}

func (f TableNotFound) Kind() Kind { return KindTableNotFound }
func (f TableNotFound) Suggestion() string {
	return fmt.Sprintf("Table '%s' doesn't exist.", f.Table)
}
func (f TableNotFound) Retryable() bool { return f.Replacement != nil }
func (f TableNotFound) Hint() string {
	if f.Replacement == nil {
		return ""
	}
	return fmt.Sprintf("Did you mean '%s'?", f.Replacement.New)
}
func (TableNotFound) isFix() {}

// AmbiguousColumn suggests the first table, in schema order, that has the
// column. That choice is a heuristic.
type AmbiguousColumn struct {
	Column string
	Tables []string
}

func (f AmbiguousColumn) Kind() Kind { return KindAmbiguousColumn }
func (f AmbiguousColumn) Suggestion() string {
	return fmt.Sprintf("Column '%s' exists in multiple tables: %s", f.Column, strings.Join(f.Tables, ", "))
}
func (f AmbiguousColumn) Retryable() bool { return true }
func (f AmbiguousColumn) Hint() string {
	if len(f.Tables) == 0 {
		return ""
	}
	return fmt.Sprintf("Qualify with table name: %s.%s", f.Tables[0], f.Column)
}
func (AmbiguousColumn) isFix() {}

type ReservedWord struct {
	Keyword string
}

func (f ReservedWord) Kind() Kind { return KindReservedWord }
func (f ReservedWord) Suggestion() string {
	return fmt.Sprintf("Syntax error near reserved word or keyword '%s'.", f.Keyword)
}
func (f ReservedWord) Retryable() bool { return true }
func (f ReservedWord) Hint() string {
	return "The query may be using a reserved word incorrectly or have a syntax issue. Will regenerate."
}
func (ReservedWord) isFix() {}

// SyntaxNear is a syntax error at a specific token. TrailingComma is set when
// the statement has a dangling comma in front of that token.
type SyntaxNear struct {
	Token         string
	TrailingComma bool
}

func (f SyntaxNear) Kind() Kind { return KindSyntaxNear }
func (f SyntaxNear) Suggestion() string {
	return fmt.Sprintf("SQL syntax error near '%s'.", f.Token)
}
func (f SyntaxNear) Retryable() bool { return true }
func (f SyntaxNear) Hint() string {
	if f.TrailingComma {
		return fmt.Sprintf("Remove the trailing comma before '%s'.", f.Token)
	}
	return "Regenerating query with corrected syntax."
}
func (SyntaxNear) isFix() {}

type SyntaxError struct{}

func (SyntaxError) Kind() Kind         { return KindSyntaxError }
func (SyntaxError) Suggestion() string { return "SQL syntax error." }
func (SyntaxError) Retryable() bool    { return true }
func (SyntaxError) Hint() string       { return "Regenerating query with corrected syntax." }
func (SyntaxError) isFix()             {}

type UniqueViolation struct{}

func (UniqueViolation) Kind() Kind         { return KindUniqueViolation }
func (UniqueViolation) Suggestion() string { return "A UNIQUE constraint was violated." }
func (UniqueViolation) Retryable() bool    { return false }
func (UniqueViolation) Hint() string       { return "" }
func (UniqueViolation) isFix()             {}

type GroupByRequired struct{}

func (GroupByRequired) Kind() Kind         { return KindGroupByRequired }
func (GroupByRequired) Suggestion() string { return "Aggregate function used without GROUP BY." }
func (GroupByRequired) Retryable() bool    { return true }
func (GroupByRequired) Hint() string       { return "Adding GROUP BY clause for non-aggregated columns." }
func (GroupByRequired) isFix()             {}

type AggregateMisuse struct{}

func (AggregateMisuse) Kind() Kind         { return KindAggregateMisuse }
func (AggregateMisuse) Suggestion() string { return "Aggregate function used in an invalid position." }
func (AggregateMisuse) Retryable() bool    { return true }
func (AggregateMisuse) Hint() string {
	return "Move aggregate conditions into HAVING or compute the aggregate in a subquery."
}
func (AggregateMisuse) isFix() {}

type TypeMismatch struct{}

func (TypeMismatch) Kind() Kind         { return KindTypeMismatch }
func (TypeMismatch) Suggestion() string { return "Data type mismatch in comparison." }
func (TypeMismatch) Retryable() bool    { return true }
func (TypeMismatch) Hint() string       { return "Adjusting data types in the query." }
func (TypeMismatch) isFix()             {}

type FunctionNotFound struct {
	Function string
}

func (f FunctionNotFound) Kind() Kind { return KindFunctionNotFound }
func (f FunctionNotFound) Suggestion() string {
	if f.Function == "" {
		return "SQL function not found or misspelled."
	}
	return fmt.Sprintf("SQL function '%s' not found or misspelled.", f.Function)
}
func (f FunctionNotFound) Retryable() bool { return true }
func (f FunctionNotFound) Hint() string    { return "Regenerating with correct SQLite functions." }
func (FunctionNotFound) isFix()            {}

type Unknown struct {
	Message string
}

func (Unknown) Kind() Kind         { return KindUnknown }
func (Unknown) Suggestion() string { return "The query encountered an unexpected error." }
func (Unknown) Retryable() bool    { return false }
func (Unknown) Hint() string       { return "" }
func (Unknown) isFix()             {}
