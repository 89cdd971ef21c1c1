package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/duckmesh/askdb/internal/catalog"
)

const defaultTurnLimit = 100

type dbTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repository struct {
	db *sql.DB
}

var _ catalog.Repository = (*Repository)(nil)

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping catalog db: %w", err)
	}
	return nil
}

func (r *Repository) CreateSession(ctx context.Context, in catalog.CreateSessionInput) (catalog.Session, error) {
	query := `
INSERT INTO askdb_session (session_id, file_name, archive_key, table_count)
VALUES ($1, $2, $3, $4)
RETURNING created_at`
	var createdAt time.Time
	if err := r.db.QueryRowContext(ctx, query, in.SessionID, in.FileName, nullString(in.ArchiveKey), in.TableCount).Scan(&createdAt); err != nil {
		return catalog.Session{}, fmt.Errorf("create session: %w", err)
	}
	return catalog.Session{
		SessionID:  in.SessionID,
		FileName:   in.FileName,
		ArchiveKey: in.ArchiveKey,
		TableCount: in.TableCount,
		CreatedAt:  createdAt,
	}, nil
}

func (r *Repository) RecordTurn(ctx context.Context, in catalog.RecordTurnInput) (catalog.Turn, error) {
	query := `
INSERT INTO askdb_turn (session_id, question, resolved_question, outcome, failure_kind, sql_text, answer, row_count, retries, export_key)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING turn_id, created_at`

	turn := catalog.Turn{
		SessionID:        in.SessionID,
		Question:         in.Question,
		ResolvedQuestion: in.ResolvedQuestion,
		Outcome:          in.Outcome,
		FailureKind:      in.FailureKind,
		SQL:              in.SQL,
		Answer:           in.Answer,
		RowCount:         in.RowCount,
		Retries:          in.Retries,
		ExportKey:        in.ExportKey,
	}
	if err := r.db.QueryRowContext(ctx, query,
		in.SessionID,
		in.Question,
		in.ResolvedQuestion,
		in.Outcome,
		nullString(in.FailureKind),
		nullString(in.SQL),
		in.Answer,
		in.RowCount,
		in.Retries,
		nullString(in.ExportKey),
	).Scan(&turn.TurnID, &turn.CreatedAt); err != nil {
		if isForeignKeyViolation(err) {
			return catalog.Turn{}, catalog.ErrNotFound
		}
		return catalog.Turn{}, fmt.Errorf("record turn: %w", err)
	}
	return turn, nil
}

// RecordAttempts stores the failed attempts of one turn in order. The batch is
// written in a single transaction.
func (r *Repository) RecordAttempts(ctx context.Context, turnID int64, attempts []catalog.AttemptInput) error {
	if len(attempts) == 0 {
		return nil
	}
	return r.WithTx(ctx, func(tx *TxRepository) error {
		for i, attempt := range attempts {
			if err := tx.InsertAttempt(ctx, turnID, i+1, attempt); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repository) ListTurns(ctx context.Context, sessionID string, limit int) ([]catalog.Turn, error) {
	if limit <= 0 {
		limit = defaultTurnLimit
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT turn_id, session_id, question, resolved_question, outcome, COALESCE(failure_kind, ''), COALESCE(sql_text, ''), answer, row_count, retries, COALESCE(export_key, ''), created_at
FROM askdb_turn
WHERE session_id = $1
ORDER BY turn_id ASC
LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	turns := make([]catalog.Turn, 0)
	for rows.Next() {
		var turn catalog.Turn
		if err := rows.Scan(
			&turn.TurnID,
			&turn.SessionID,
			&turn.Question,
			&turn.ResolvedQuestion,
			&turn.Outcome,
			&turn.FailureKind,
			&turn.SQL,
			&turn.Answer,
			&turn.RowCount,
			&turn.Retries,
			&turn.ExportKey,
			&turn.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return turns, nil
}

func (r *Repository) ListAttempts(ctx context.Context, turnID int64) ([]catalog.Attempt, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT turn_id, seq, sql_text, error_text, created_at
FROM askdb_attempt
WHERE turn_id = $1
ORDER BY seq ASC`, turnID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	attempts := make([]catalog.Attempt, 0)
	for rows.Next() {
		var attempt catalog.Attempt
		if err := rows.Scan(&attempt.TurnID, &attempt.Seq, &attempt.SQL, &attempt.Error, &attempt.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attempt row: %w", err)
		}
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempt rows: %w", err)
	}
	return attempts, nil
}

// DeleteSession marks the session deleted; its turns stay for auditing.
func (r *Repository) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
UPDATE askdb_session
SET deleted_at = NOW()
WHERE session_id = $1 AND deleted_at IS NULL`, sessionID)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete session rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx *TxRepository) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	txRepo := &TxRepository{q: tx}
	if err := fn(txRepo); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type TxRepository struct {
	q dbTX
}

func (r *TxRepository) InsertAttempt(ctx context.Context, turnID int64, seq int, in catalog.AttemptInput) error {
	query := `
INSERT INTO askdb_attempt (turn_id, seq, sql_text, error_text)
VALUES ($1, $2, $3, $4)`
	if _, err := r.q.ExecContext(ctx, query, turnID, seq, in.SQL, in.Error); err != nil {
		if isForeignKeyViolation(err) {
			return catalog.ErrNotFound
		}
		return fmt.Errorf("insert attempt %d: %w", seq, err)
	}
	return nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// foreign_key_violation
const foreignKeyViolation = "23503"

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}
