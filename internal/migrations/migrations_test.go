package migrations

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
)

func twoScripts() fstest.MapFS {
	return fstest.MapFS{
		"sql/000001_one.up.sql":   {Data: []byte("SELECT 1;")},
		"sql/000001_one.down.sql": {Data: []byte("SELECT -1;")},
		"sql/000002_two.up.sql":   {Data: []byte("SELECT 2;")},
		"sql/000002_two.down.sql": {Data: []byte("SELECT -2;")},
		"sql/README.txt":          {Data: []byte("ignored")},
	}
}

func checksumOf(up string) string {
	return script{Up: up}.checksum()
}

func newMock(t *testing.T) (*Runner, *sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS askdb_schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	runner := &Runner{fsys: twoScripts()}
	t.Cleanup(func() { _ = db.Close() })
	return runner, db, mock, func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet sqlmock expectations: %v", err)
		}
	}
}

func ledgerRows(rows ...[2]any) *sqlmock.Rows {
	out := sqlmock.NewRows([]string{"version", "checksum"})
	for _, row := range rows {
		out.AddRow(row[0], row[1])
	}
	return out
}

func TestStatusReportsAppliedAndDriftedScripts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS askdb_schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version, checksum FROM askdb_schema_migrations ORDER BY version").
		WillReturnRows(ledgerRows([2]any{int64(1), "edited-since"}))

	runner := &Runner{fsys: twoScripts()}
	got, err := runner.Status(context.Background(), db)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	want := []Status{
		{Version: 1, Name: "one", Applied: true, Drifted: true},
		{Version: 2, Name: "two"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Status() mismatch (-want +got):\n%s", diff)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestStatusTreatsBlankChecksumAsUnknownNotDrifted(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS askdb_schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version, checksum FROM askdb_schema_migrations").
		WillReturnRows(ledgerRows([2]any{int64(1), ""}, [2]any{int64(2), checksumOf("SELECT 2;")}))

	got, err := (&Runner{fsys: twoScripts()}).Status(context.Background(), db)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	for _, item := range got {
		if !item.Applied || item.Drifted {
			t.Fatalf("Status() item = %+v, want applied and not drifted", item)
		}
	}
}

func TestStatusRejectsUnknownAppliedVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS askdb_schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version, checksum FROM askdb_schema_migrations").
		WillReturnRows(ledgerRows([2]any{int64(1), ""}, [2]any{int64(9), ""}))

	runner := &Runner{fsys: twoScripts()}
	items, err := runner.Status(context.Background(), db)
	if err == nil || !strings.Contains(err.Error(), "[9]") {
		t.Fatalf("Status() error = %v, want unknown version 9", err)
	}
	if len(items) != 2 {
		t.Fatalf("Status() returned %d items alongside the error, want 2", len(items))
	}
}

func TestUpAppliesPendingScriptUnderLock(t *testing.T) {
	runner, db, mock, verify := newMock(t)
	mock.ExpectQuery("SELECT version, checksum FROM askdb_schema_migrations").
		WillReturnRows(ledgerRows([2]any{int64(1), checksumOf("SELECT 1;")}))
	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(lockKey).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs(int64(2)).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("SELECT 2;").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO askdb_schema_migrations").
		WithArgs(int64(2), "two", checksumOf("SELECT 2;")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := runner.Up(context.Background(), db, 0)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if applied != 1 {
		t.Fatalf("Up() = %d, want 1", applied)
	}
	verify()
}

func TestUpSkipsScriptAppliedByAnotherRunner(t *testing.T) {
	runner, db, mock, verify := newMock(t)
	mock.ExpectQuery("SELECT version, checksum FROM askdb_schema_migrations").WillReturnRows(ledgerRows())
	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(lockKey).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs(int64(1)).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	applied, err := runner.Up(context.Background(), db, 1)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if applied != 0 {
		t.Fatalf("Up() = %d, want 0", applied)
	}
	verify()
}

func TestDownRollsBackNewestFirst(t *testing.T) {
	runner, db, mock, verify := newMock(t)
	mock.ExpectQuery("SELECT version, checksum FROM askdb_schema_migrations").
		WillReturnRows(ledgerRows([2]any{int64(1), ""}, [2]any{int64(2), ""}))
	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(lockKey).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs(int64(2)).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("SELECT -2;").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM askdb_schema_migrations").WithArgs(int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rolledBack, err := runner.Down(context.Background(), db, 0)
	if err != nil {
		t.Fatalf("Down() error = %v", err)
	}
	if rolledBack != 1 {
		t.Fatalf("Down() = %d, want 1", rolledBack)
	}
	verify()
}

func TestLoadScriptsSortsAndPairsUpDown(t *testing.T) {
	items, err := loadScripts(twoScripts())
	if err != nil {
		t.Fatalf("loadScripts() error = %v", err)
	}
	got := make([]string, 0, len(items))
	for _, item := range items {
		got = append(got, item.String())
	}
	if diff := cmp.Diff([]string{"000001_one", "000002_two"}, got); diff != "" {
		t.Fatalf("loadScripts() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadScriptsErrors(t *testing.T) {
	tests := []struct {
		name string
		fsys fstest.MapFS
		want string
	}{
		{
			name: "missing down",
			fsys: fstest.MapFS{"sql/000001_one.up.sql": {Data: []byte("SELECT 1;")}},
			want: "missing down script",
		},
		{
			name: "mismatched names",
			fsys: fstest.MapFS{
				"sql/000001_one.up.sql":   {Data: []byte("SELECT 1;")},
				"sql/000001_uno.down.sql": {Data: []byte("SELECT -1;")},
			},
			want: "named both",
		},
	}
	for _, tt := range tests {
		_, err := loadScripts(tt.fsys)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: loadScripts() error = %v, want %q", tt.name, err, tt.want)
		}
	}
}
