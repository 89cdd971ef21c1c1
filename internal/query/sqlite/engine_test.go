package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/duckmesh/askdb/internal/query"
	"github.com/duckmesh/askdb/internal/schema"
)

func buildDatabase(t *testing.T, statements ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "music.db")
	db, err := sql.Open(driverName, path)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("Exec(%q) error = %v", stmt, err)
		}
	}
	return path
}

func musicDatabase(t *testing.T) string {
	statements := []string{
		`CREATE TABLE Genre (GenreId INTEGER PRIMARY KEY, Name TEXT NOT NULL)`,
		`CREATE TABLE Track (TrackId INTEGER PRIMARY KEY, Name TEXT, GenreId INTEGER REFERENCES Genre(GenreId), Price)`,
		`INSERT INTO Genre VALUES (1, 'Rock'), (2, 'Jazz')`,
	}
	for i := 1; i <= 5; i++ {
		statements = append(statements, fmt.Sprintf(`INSERT INTO Track VALUES (%d, 'song %d', %d, 0.99)`, i, i, 1+i%2))
	}
	return buildDatabase(t, statements...)
}

func TestExecuteReturnsRows(t *testing.T) {
	path := musicDatabase(t)
	result, err := NewEngine(0).Execute(context.Background(), query.Request{
		Database: path,
		SQL:      "SELECT g.Name, COUNT(*) AS tracks FROM Track t JOIN Genre g ON g.GenreId = t.GenreId GROUP BY g.Name ORDER BY g.Name;",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if diff := cmp.Diff([]string{"Name", "tracks"}, result.Columns); diff != "" {
		t.Fatalf("Columns mismatch (-want +got):\n%s", diff)
	}
	want := [][]any{{"Jazz", int64(2)}, {"Rock", int64(3)}}
	if diff := cmp.Diff(want, result.Rows); diff != "" {
		t.Fatalf("Rows mismatch (-want +got):\n%s", diff)
	}
	if result.RowCount != 2 || result.Truncated {
		t.Fatalf("RowCount=%d Truncated=%v", result.RowCount, result.Truncated)
	}
}

func TestExecuteTruncatesAtMaxRows(t *testing.T) {
	path := musicDatabase(t)
	engine := NewEngine(0)

	result, err := engine.Execute(context.Background(), query.Request{Database: path, SQL: "SELECT TrackId FROM Track", MaxRows: 3})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.RowCount != 3 || !result.Truncated {
		t.Fatalf("RowCount=%d Truncated=%v", result.RowCount, result.Truncated)
	}

	result, err = engine.Execute(context.Background(), query.Request{Database: path, SQL: "SELECT TrackId FROM Track", MaxRows: 5})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.RowCount != 5 || result.Truncated {
		t.Fatalf("exact fit RowCount=%d Truncated=%v", result.RowCount, result.Truncated)
	}
}

func TestExecuteReportsDiagnosticVerbatim(t *testing.T) {
	path := musicDatabase(t)
	_, err := NewEngine(0).Execute(context.Background(), query.Request{Database: path, SQL: "SELECT Genre FROM Track"})

	var execErr *query.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute() error = %T %v", err, err)
	}
	if execErr.Diagnostic != "no such column: Genre" {
		t.Fatalf("Diagnostic = %q", execErr.Diagnostic)
	}
}

func TestExecuteIsReadOnly(t *testing.T) {
	path := musicDatabase(t)
	_, err := NewEngine(0).Execute(context.Background(), query.Request{Database: path, SQL: "DELETE FROM Track"})
	var execErr *query.ExecutionError
	if !errors.As(err, &execErr) || !strings.Contains(execErr.Diagnostic, "readonly") {
		t.Fatalf("Execute() error = %v", err)
	}
}

func TestExecuteRejectsEmptySQL(t *testing.T) {
	_, err := NewEngine(0).Execute(context.Background(), query.Request{Database: "unused.db", SQL: "  "})
	var execErr *query.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute() error = %v", err)
	}
}

func TestExtractSchema(t *testing.T) {
	path := musicDatabase(t)
	got, err := NewEngine(0).ExtractSchema(context.Background(), path)
	if err != nil {
		t.Fatalf("ExtractSchema() error = %v", err)
	}
	want := schema.Schema{Tables: []schema.Table{
		{
			Name: "Genre",
			Columns: []schema.Column{
				{Name: "GenreId", Type: "INTEGER", PrimaryKey: true},
				{Name: "Name", Type: "TEXT", NotNull: true},
			},
			RowCount: 2,
		},
		{
			Name: "Track",
			Columns: []schema.Column{
				{Name: "TrackId", Type: "INTEGER", PrimaryKey: true},
				{Name: "Name", Type: "TEXT"},
				{Name: "GenreId", Type: "INTEGER"},
				{Name: "Price", Type: "TEXT"},
			},
			ForeignKeys: []schema.ForeignKey{{Column: "GenreId", RefTable: "Genre", RefColumn: "GenreId"}},
			RowCount:    5,
		},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ExtractSchema() mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckIntegrity(t *testing.T) {
	engine := NewEngine(0)
	if err := engine.CheckIntegrity(context.Background(), musicDatabase(t)); err != nil {
		t.Fatalf("CheckIntegrity() error = %v", err)
	}

	empty := buildDatabase(t, `CREATE TABLE scratch (x)`, `DROP TABLE scratch`)
	if err := engine.CheckIntegrity(context.Background(), empty); !errors.Is(err, ErrNoTables) {
		t.Fatalf("CheckIntegrity(empty) error = %v", err)
	}
}
