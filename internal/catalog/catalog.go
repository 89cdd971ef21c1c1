// Package catalog keeps the durable history of sessions, answered questions
// and failed execution attempts.
package catalog

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("catalog: not found")

type Repository interface {
	HealthCheck(ctx context.Context) error
	CreateSession(ctx context.Context, in CreateSessionInput) (Session, error)
	RecordTurn(ctx context.Context, in RecordTurnInput) (Turn, error)
	RecordAttempts(ctx context.Context, turnID int64, attempts []AttemptInput) error
	ListTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error)
	ListAttempts(ctx context.Context, turnID int64) ([]Attempt, error)
	DeleteSession(ctx context.Context, sessionID string) (bool, error)
}

type Session struct {
	SessionID  string
	FileName   string
	ArchiveKey string
	TableCount int
	CreatedAt  time.Time
	DeletedAt  *time.Time
}

type Turn struct {
	TurnID           int64
	SessionID        string
	Question         string
	ResolvedQuestion string
	Outcome          string
	FailureKind      string
	SQL              string
	Answer           string
	RowCount         int
	Retries          int
	ExportKey        string
	CreatedAt        time.Time
}

type Attempt struct {
	TurnID    int64
	Seq       int
	SQL       string
	Error     string
	CreatedAt time.Time
}

type CreateSessionInput struct {
	SessionID  string
	FileName   string
	ArchiveKey string
	TableCount int
}

type RecordTurnInput struct {
	SessionID        string
	Question         string
	ResolvedQuestion string
	Outcome          string
	FailureKind      string
	SQL              string
	Answer           string
	RowCount         int
	Retries          int
	ExportKey        string
}

type AttemptInput struct {
	SQL   string
	Error string
}
