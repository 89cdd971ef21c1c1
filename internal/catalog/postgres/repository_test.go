package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/duckmesh/askdb/internal/catalog"
)

func TestCreateSession(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO askdb_session (session_id, file_name, archive_key, table_count)
VALUES ($1, $2, $3, $4)
RETURNING created_at`)).
		WithArgs("session-1", "chinook.db", nil, 11).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

	session, err := repo.CreateSession(context.Background(), catalog.CreateSessionInput{
		SessionID:  "session-1",
		FileName:   "chinook.db",
		TableCount: 11,
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if session.SessionID != "session-1" || session.TableCount != 11 {
		t.Fatalf("session = %+v", session)
	}
	if !session.CreatedAt.Equal(now) {
		t.Fatalf("CreatedAt = %v, want %v", session.CreatedAt, now)
	}
	assertSQLMock(t, mock)
}

func TestRecordTurn(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO askdb_turn (session_id, question, resolved_question, outcome, failure_kind, sql_text, answer, row_count, retries, export_key)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING turn_id, created_at`)).
		WithArgs("session-1", "how many tracks?", "how many tracks?", "success", nil, "SELECT COUNT(*) FROM Track", "There are 3503 tracks.", 1, 0, "exports/session-1/000001.parquet").
		WillReturnRows(sqlmock.NewRows([]string{"turn_id", "created_at"}).AddRow(int64(7), now))

	turn, err := repo.RecordTurn(context.Background(), catalog.RecordTurnInput{
		SessionID:        "session-1",
		Question:         "how many tracks?",
		ResolvedQuestion: "how many tracks?",
		Outcome:          "success",
		SQL:              "SELECT COUNT(*) FROM Track",
		Answer:           "There are 3503 tracks.",
		RowCount:         1,
		ExportKey:        "exports/session-1/000001.parquet",
	})
	if err != nil {
		t.Fatalf("RecordTurn() error = %v", err)
	}
	if turn.TurnID != 7 {
		t.Fatalf("TurnID = %d", turn.TurnID)
	}
	assertSQLMock(t, mock)
}

func TestRecordTurnUnknownSessionReturnsNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO askdb_turn`)).
		WillReturnError(&pgconn.PgError{Code: "23503", Message: "violates foreign key constraint"})

	_, err := repo.RecordTurn(context.Background(), catalog.RecordTurnInput{SessionID: "missing", Outcome: "chat"})
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, catalog.ErrNotFound)
	}
	assertSQLMock(t, mock)
}

func TestRecordAttemptsWritesInOneTransaction(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	insert := regexp.QuoteMeta(`
INSERT INTO askdb_attempt (turn_id, seq, sql_text, error_text)
VALUES ($1, $2, $3, $4)`)

	mock.ExpectBegin()
	mock.ExpectExec(insert).
		WithArgs(int64(9), 1, "SELECT Genre FROM Track", "no such column: Genre").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(insert).
		WithArgs(int64(9), 2, "SELECT g.Name FROM Track", "no such column: g.Name").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.RecordAttempts(context.Background(), 9, []catalog.AttemptInput{
		{SQL: "SELECT Genre FROM Track", Error: "no such column: Genre"},
		{SQL: "SELECT g.Name FROM Track", Error: "no such column: g.Name"},
	})
	if err != nil {
		t.Fatalf("RecordAttempts() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestRecordAttemptsRollsBackOnError(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO askdb_attempt`)).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.RecordAttempts(context.Background(), 9, []catalog.AttemptInput{{SQL: "SELECT 1", Error: "boom"}})
	if err == nil {
		t.Fatal("expected error")
	}
	assertSQLMock(t, mock)
}

func TestRecordAttemptsSkipsEmptyBatch(t *testing.T) {
	db, mock := newSQLMock(t)
	if err := NewRepository(db).RecordAttempts(context.Background(), 1, nil); err != nil {
		t.Fatalf("RecordAttempts() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestListTurns(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT turn_id, session_id, question, resolved_question, outcome, COALESCE(failure_kind, ''), COALESCE(sql_text, ''), answer, row_count, retries, COALESCE(export_key, ''), created_at
FROM askdb_turn
WHERE session_id = $1
ORDER BY turn_id ASC
LIMIT $2`)).
		WithArgs("session-1", defaultTurnLimit).
		WillReturnRows(sqlmock.NewRows([]string{
			"turn_id", "session_id", "question", "resolved_question", "outcome", "failure_kind", "sql_text", "answer", "row_count", "retries", "export_key", "created_at",
		}).
			AddRow(int64(1), "session-1", "hi", "hi", "chat", "", "", "Hello!", 0, 0, "", now).
			AddRow(int64(2), "session-1", "top genres", "top genres", "failure", "exhausted", "SELECT x FROM y", "", 0, 3, "", now))

	turns, err := repo.ListTurns(context.Background(), "session-1", 0)
	if err != nil {
		t.Fatalf("ListTurns() error = %v", err)
	}
	want := []catalog.Turn{
		{TurnID: 1, SessionID: "session-1", Question: "hi", ResolvedQuestion: "hi", Outcome: "chat", Answer: "Hello!", CreatedAt: now},
		{TurnID: 2, SessionID: "session-1", Question: "top genres", ResolvedQuestion: "top genres", Outcome: "failure", FailureKind: "exhausted", SQL: "SELECT x FROM y", Retries: 3, CreatedAt: now},
	}
	if diff := cmp.Diff(want, turns); diff != "" {
		t.Fatalf("ListTurns() mismatch (-want +got):\n%s", diff)
	}
	assertSQLMock(t, mock)
}

func TestListAttempts(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM askdb_attempt`)).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"turn_id", "seq", "sql_text", "error_text", "created_at"}).
			AddRow(int64(2), 1, "SELECT x FROM y", "no such table: y", now))

	attempts, err := repo.ListAttempts(context.Background(), 2)
	if err != nil {
		t.Fatalf("ListAttempts() error = %v", err)
	}
	if len(attempts) != 1 || attempts[0].Error != "no such table: y" {
		t.Fatalf("attempts = %+v", attempts)
	}
	assertSQLMock(t, mock)
}

func TestDeleteSession(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	query := regexp.QuoteMeta(`
UPDATE askdb_session
SET deleted_at = NOW()
WHERE session_id = $1 AND deleted_at IS NULL`)

	mock.ExpectExec(query).WithArgs("session-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).WithArgs("session-1").WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err := repo.DeleteSession(context.Background(), "session-1")
	if err != nil || !deleted {
		t.Fatalf("DeleteSession() = %v, %v", deleted, err)
	}
	deleted, err = repo.DeleteSession(context.Background(), "session-1")
	if err != nil || deleted {
		t.Fatalf("second DeleteSession() = %v, %v", deleted, err)
	}
	assertSQLMock(t, mock)
}

func TestHealthCheck(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	mock.ExpectPing().WillReturnError(sql.ErrConnDone)

	if err := NewRepository(db).HealthCheck(context.Background()); !errors.Is(err, sql.ErrConnDone) {
		t.Fatalf("HealthCheck() error = %v", err)
	}
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
