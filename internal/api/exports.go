package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/duckmesh/askdb/internal/session"
	"github.com/duckmesh/askdb/internal/storage"
)

const parquetContentType = "application/vnd.apache.parquet"

// handleGetExport streams the Parquet file written for one answered question.
func handleGetExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if deps.ObjectStore == nil {
		writeError(ctx, w, http.StatusNotImplemented, "EXPORTS_NOT_CONFIGURED", "object store is not configured", false, nil)
		return
	}
	if deps.Sessions == nil {
		writeError(ctx, w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session store is not configured", false, nil)
		return
	}

	id := strings.TrimSpace(r.PathValue("id"))
	if err := deps.Sessions.View(id, func(*session.Session) error { return nil }); err != nil {
		writeSessionNotFound(ctx, w, id)
		return
	}
	rawTurn := strings.TrimSpace(r.PathValue("turn"))
	turn, err := strconv.ParseInt(rawTurn, 10, 64)
	if err != nil || turn < 1 {
		writeError(ctx, w, http.StatusBadRequest, "INVALID_TURN", "turn must be a positive integer", false, map[string]any{"turn": rawTurn})
		return
	}
	key, err := storage.BuildExportPath(id, turn)
	if err != nil {
		writeSessionNotFound(ctx, w, id)
		return
	}

	info, err := deps.ObjectStore.Stat(ctx, key)
	if err != nil {
		writeExportLookupError(deps, w, r, key, err)
		return
	}
	body, err := deps.ObjectStore.Get(ctx, key)
	if err != nil {
		writeExportLookupError(deps, w, r, key, err)
		return
	}
	defer func() { _ = body.Close() }()

	w.Header().Set("Content-Type", parquetContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("%06d.parquet", turn)))
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		deps.Logger.WarnContext(ctx, "export download interrupted", slog.String("key", key), slog.Any("error", err))
	}
}

func writeExportLookupError(deps Dependencies, w http.ResponseWriter, r *http.Request, key string, err error) {
	ctx := r.Context()
	if errors.Is(err, storage.ErrObjectNotFound) {
		writeError(ctx, w, http.StatusNotFound, "EXPORT_NOT_FOUND", "no export for this turn", false, map[string]any{"key": key})
		return
	}
	deps.Logger.ErrorContext(ctx, "read export failed", slog.String("key", key), slog.Any("error", err))
	writeError(ctx, w, http.StatusServiceUnavailable, "OBJECT_STORE_UNAVAILABLE", "object store request failed", true, nil)
}
