package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/duckmesh/askdb/internal/catalog"
	"github.com/duckmesh/askdb/internal/observability"
	"github.com/duckmesh/askdb/internal/pipeline"
	"github.com/duckmesh/askdb/internal/session"
)

const (
	maxAskBodyBytes     = 64 << 10
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type askRequest struct {
	Question string `json:"question"`
	Export   bool   `json:"export"`
}

type historyTurn struct {
	TurnID           int64            `json:"turn_id"`
	Question         string           `json:"question"`
	ResolvedQuestion string           `json:"resolved_question"`
	Outcome          string           `json:"outcome"`
	FailureKind      string           `json:"failure_kind,omitempty"`
	SQL              string           `json:"sql,omitempty"`
	Answer           string           `json:"answer"`
	RowCount         int              `json:"row_count"`
	Retries          int              `json:"retries"`
	ExportKey        string           `json:"export_key,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	Attempts         []historyAttempt `json:"attempts,omitempty"`
}

type historyAttempt struct {
	Seq   int    `json:"seq"`
	SQL   string `json:"sql"`
	Error string `json:"error"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "question pipeline is not configured", false, nil)
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))

	var request askRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAskBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}

	out, err := deps.Pipeline.Ask(r.Context(), id, request.Question, pipeline.WithExport(request.Export))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, out)
	case errors.Is(err, session.ErrNotFound):
		writeSessionNotFound(r.Context(), w, id)
	case errors.Is(err, pipeline.ErrEmptyQuestion):
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question cannot be empty", false, nil)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(r.Context(), w, http.StatusGatewayTimeout, "QUESTION_TIMEOUT", "question processing timed out", true, map[string]any{"session_id": id})
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads the response.
		deps.Logger.InfoContext(observability.ContextWithSessionID(r.Context(), id), "question canceled")
	default:
		deps.Logger.ErrorContext(observability.ContextWithSessionID(r.Context(), id), "question failed unexpectedly", slog.Any("error", err))
		writeError(r.Context(), w, http.StatusInternalServerError, "QUESTION_FAILED", "failed to process question", true, map[string]any{"details": err.Error()})
	}
}

func handleHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.History == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "HISTORY_NOT_CONFIGURED", "history database is not configured", false, nil)
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))

	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxHistoryLimit {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 500", false, map[string]any{"limit": raw})
			return
		}
		limit = parsed
	}
	withAttempts := r.URL.Query().Get("attempts") == "true"

	turns, err := deps.History.ListTurns(r.Context(), id, limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_ERROR", "failed to load history", true, map[string]any{"details": err.Error()})
		return
	}

	response := make([]historyTurn, 0, len(turns))
	for _, turn := range turns {
		item := toHistoryTurn(turn)
		if withAttempts {
			attempts, err := deps.History.ListAttempts(r.Context(), turn.TurnID)
			if err != nil {
				writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_ERROR", "failed to load attempts", true, map[string]any{"details": err.Error()})
				return
			}
			for _, attempt := range attempts {
				item.Attempts = append(item.Attempts, historyAttempt{Seq: attempt.Seq, SQL: attempt.SQL, Error: attempt.Error})
			}
		}
		response = append(response, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "turns": response})
}

func toHistoryTurn(turn catalog.Turn) historyTurn {
	return historyTurn{
		TurnID:           turn.TurnID,
		Question:         turn.Question,
		ResolvedQuestion: turn.ResolvedQuestion,
		Outcome:          turn.Outcome,
		FailureKind:      turn.FailureKind,
		SQL:              turn.SQL,
		Answer:           turn.Answer,
		RowCount:         turn.RowCount,
		Retries:          turn.Retries,
		ExportKey:        turn.ExportKey,
		CreatedAt:        turn.CreatedAt,
	}
}
