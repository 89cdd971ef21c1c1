package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/duckmesh/askdb/internal/catalog"
	"github.com/duckmesh/askdb/internal/config"
	"github.com/duckmesh/askdb/internal/observability"
	"github.com/duckmesh/askdb/internal/schema"
	"github.com/duckmesh/askdb/internal/session"
	"github.com/duckmesh/askdb/internal/storage"
	"github.com/duckmesh/askdb/internal/upload"
)

// multipartOverhead leaves room for form boundaries and headers on top of
// the file size limit.
const multipartOverhead = 1 << 20

type createSessionResponse struct {
	SessionID        string   `json:"session_id"`
	Tables           []string `json:"tables"`
	TableCount       int      `json:"table_count"`
	Message          string   `json:"message"`
	InitialQuestions []string `json:"initial_questions"`
	ArchiveKey       string   `json:"archive_key,omitempty"`
}

type sessionResponse struct {
	SessionID               string    `json:"session_id"`
	Tables                  []string  `json:"tables"`
	ChatHistoryLength       int       `json:"chat_history_length"`
	HasPendingClarification bool      `json:"has_pending_clarification"`
	Questions               int64     `json:"questions"`
	CreatedAt               time.Time `json:"created_at"`
	LastUsed                time.Time `json:"last_used"`
}

func handleCreateSession(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil || deps.Stager == nil || deps.Schemas == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "UPLOAD_NOT_CONFIGURED", "upload dependencies are not configured", false, nil)
		return
	}

	maxBytes := cfg.Upload.MaxBytes
	if maxBytes <= 0 {
		maxBytes = upload.DefaultMaxBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE",
				fmt.Sprintf("Database file exceeds maximum size limit (%d MB).", maxBytes>>20), false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusBadRequest, "FILE_REQUIRED", "multipart field \"file\" is required", false, map[string]any{"details": err.Error()})
		return
	}
	defer func() { _ = file.Close() }()

	staged, err := deps.Stager.Stage(r.Context(), header.Filename, file)
	if err != nil {
		var rejected *upload.Error
		if errors.As(err, &rejected) {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_UPLOAD", rejected.Message, false, map[string]any{"file_name": header.Filename})
			return
		}
		deps.Logger.ErrorContext(r.Context(), "stage upload failed", slog.Any("error", err))
		writeError(r.Context(), w, http.StatusInternalServerError, "UPLOAD_FAILED", "failed to store uploaded file", true, nil)
		return
	}

	sch, err := deps.Schemas.ExtractSchema(r.Context(), staged)
	if err != nil || sch.Len() == 0 {
		_ = deps.Stager.Remove(staged)
		message := "Database contains no tables."
		if err != nil {
			message = fmt.Sprintf("Failed to read database schema: %v", err)
		}
		writeError(r.Context(), w, http.StatusBadRequest, "SCHEMA_EXTRACTION_FAILED", message, false, map[string]any{"file_name": header.Filename})
		return
	}

	sess := deps.Sessions.Create(staged, sch)
	observability.ObserveUpload(header.Size)
	logCtx := observability.ContextWithSessionID(r.Context(), sess.ID)

	archiveKey := ""
	if deps.ObjectStore != nil {
		archiveKey, err = deps.Stager.Archive(r.Context(), deps.ObjectStore, sess.ID, header.Filename, staged)
		if err != nil {
			deps.Logger.WarnContext(logCtx, "archive upload failed", slog.Any("error", err))
			archiveKey = ""
		}
	}
	if deps.History != nil {
		if _, err := deps.History.CreateSession(r.Context(), catalog.CreateSessionInput{
			SessionID:  sess.ID,
			FileName:   header.Filename,
			ArchiveKey: archiveKey,
			TableCount: sch.Len(),
		}); err != nil {
			deps.Logger.WarnContext(logCtx, "record session failed", slog.Any("error", err))
		}
	}

	questions := []string{}
	if deps.Suggester != nil {
		questions = deps.Suggester.InitialQuestions(r.Context(), sch)
	}

	deps.Logger.InfoContext(logCtx, "session created",
		slog.Int("tables", sch.Len()),
		slog.Int64("bytes", header.Size),
	)
	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:        sess.ID,
		Tables:           sch.TableNames(),
		TableCount:       sch.Len(),
		Message:          fmt.Sprintf("Database uploaded successfully. Found %d tables.", sch.Len()),
		InitialQuestions: questions,
		ArchiveKey:       archiveKey,
	})
}

func handleGetSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session store is not configured", false, nil)
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	var response sessionResponse
	err := deps.Sessions.View(id, func(sess *session.Session) error {
		response = sessionResponse{
			SessionID:               sess.ID,
			Tables:                  sess.Schema.TableNames(),
			ChatHistoryLength:       sess.Memory.Len(),
			HasPendingClarification: sess.Clarification != nil,
			Questions:               sess.Questions,
			CreatedAt:               sess.CreatedAt,
			LastUsed:                sess.LastUsed,
		}
		return nil
	})
	if err != nil {
		writeSessionNotFound(r.Context(), w, id)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func handleGetSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session store is not configured", false, nil)
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	var sch schema.Schema
	err := deps.Sessions.View(id, func(sess *session.Session) error {
		sch = sess.Schema
		return nil
	})
	if err != nil {
		writeSessionNotFound(r.Context(), w, id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  id,
		"table_count": sch.Len(),
		"schema":      sch,
	})
}

func handleDeleteSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session store is not configured", false, nil)
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if err := deps.Sessions.Delete(id); err != nil {
		writeSessionNotFound(r.Context(), w, id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "status": "deleted"})
}

// SessionCleanup releases everything a session owns once it leaves the
// store: the staged database, archived and exported objects, and the live
// flag in the history database. It is registered as the store's expire hook
// so explicit deletes and janitor expiry share one path.
func SessionCleanup(stager *upload.Stager, store storage.ObjectStore, history catalog.Repository, logger *slog.Logger, timeout time.Duration) session.ExpireFunc {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return func(sess *session.Session) {
		ctx, cancel := context.WithTimeout(observability.ContextWithSessionID(context.Background(), sess.ID), timeout)
		defer cancel()

		if stager != nil {
			if err := stager.Remove(sess.DatabasePath); err != nil {
				logger.WarnContext(ctx, "remove staged database failed", slog.Any("error", err))
			}
		}
		if store != nil {
			for _, root := range []string{storage.UploadsRoot, storage.ExportsRoot} {
				prefix, err := storage.SessionPrefix(root, sess.ID)
				if err != nil {
					logger.WarnContext(ctx, "build session prefix failed", slog.String("root", root), slog.Any("error", err))
					continue
				}
				if _, err := store.DeletePrefix(ctx, prefix); err != nil {
					logger.WarnContext(ctx, "delete session objects failed", slog.String("prefix", prefix), slog.Any("error", err))
				}
			}
		}
		if history != nil {
			if _, err := history.DeleteSession(ctx, sess.ID); err != nil {
				logger.WarnContext(ctx, "mark session deleted failed", slog.Any("error", err))
			}
		}
		logger.InfoContext(ctx, "session released")
	}
}
