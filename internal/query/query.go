package query

import (
	"context"
	"fmt"
	"time"
)

// DefaultMaxRows caps the rows returned for one statement.
const DefaultMaxRows = 1000

type Request struct {
	// Database is the path of the attached database file.
	Database string
	SQL      string
	MaxRows  int
}

type Result struct {
	Columns   []string      `json:"columns"`
	Rows      [][]any       `json:"rows"`
	RowCount  int           `json:"row_count"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"-"`
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

// ExecutionError carries the driver diagnostic verbatim so it can be
// classified by the corrector.
type ExecutionError struct {
	SQL        string
	Diagnostic string
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute sql: %s", e.Diagnostic)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func NewExecutionError(sqlText string, err error) *ExecutionError {
	diagnostic := "unknown error"
	if err != nil {
		diagnostic = err.Error()
	}
	return &ExecutionError{SQL: sqlText, Diagnostic: diagnostic, Err: err}
}

// NormalizeValues turns driver byte slices into strings for JSON output.
func NormalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}
