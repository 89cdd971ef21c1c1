package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/duckmesh/askdb/internal/catalog"
	"github.com/duckmesh/askdb/internal/schema"
	"github.com/duckmesh/askdb/internal/session"
	"github.com/duckmesh/askdb/internal/storage"
	"github.com/duckmesh/askdb/internal/upload"
)

func musicSchema() schema.Schema {
	return schema.Schema{Tables: []schema.Table{
		{
			Name: "Genre",
			Columns: []schema.Column{
				{Name: "GenreId", Type: "INTEGER", PrimaryKey: true},
				{Name: "Name", Type: "TEXT"},
			},
		},
		{
			Name: "Track",
			Columns: []schema.Column{
				{Name: "TrackId", Type: "INTEGER", PrimaryKey: true},
				{Name: "Name", Type: "TEXT"},
				{Name: "GenreId", Type: "INTEGER"},
			},
			ForeignKeys: []schema.ForeignKey{{Column: "GenreId", RefTable: "Genre", RefColumn: "GenreId"}},
		},
	}}
}

type fakeExtractor struct {
	schema schema.Schema
	err    error
	paths  []string
}

func (f *fakeExtractor) ExtractSchema(_ context.Context, path string) (schema.Schema, error) {
	f.paths = append(f.paths, path)
	return f.schema, f.err
}

type fakeSuggester struct{}

func (fakeSuggester) InitialQuestions(context.Context, schema.Schema) []string {
	return []string{"How many tracks are in each genre?"}
}

type fakeHistory struct {
	healthErr error
	sessions  []catalog.CreateSessionInput
	deleted   []string
	turns     []catalog.Turn
	attempts  map[int64][]catalog.Attempt
	listLimit int
}

func (h *fakeHistory) HealthCheck(context.Context) error { return h.healthErr }

func (h *fakeHistory) CreateSession(_ context.Context, in catalog.CreateSessionInput) (catalog.Session, error) {
	h.sessions = append(h.sessions, in)
	return catalog.Session{SessionID: in.SessionID, FileName: in.FileName}, nil
}

func (h *fakeHistory) RecordTurn(_ context.Context, in catalog.RecordTurnInput) (catalog.Turn, error) {
	turn := catalog.Turn{TurnID: int64(len(h.turns) + 1), SessionID: in.SessionID, Question: in.Question, Outcome: in.Outcome}
	h.turns = append(h.turns, turn)
	return turn, nil
}

func (h *fakeHistory) RecordAttempts(context.Context, int64, []catalog.AttemptInput) error {
	return nil
}

func (h *fakeHistory) ListTurns(_ context.Context, sessionID string, limit int) ([]catalog.Turn, error) {
	h.listLimit = limit
	out := []catalog.Turn{}
	for _, turn := range h.turns {
		if turn.SessionID == sessionID {
			out = append(out, turn)
		}
	}
	return out, nil
}

func (h *fakeHistory) ListAttempts(_ context.Context, turnID int64) ([]catalog.Attempt, error) {
	return h.attempts[turnID], nil
}

func (h *fakeHistory) DeleteSession(_ context.Context, sessionID string) (bool, error) {
	h.deleted = append(h.deleted, sessionID)
	return true, nil
}

type uploadFixture struct {
	fs        afero.Fs
	store     *session.Store
	objects   *storage.MemoryStore
	history   *fakeHistory
	extractor *fakeExtractor
	handler   http.Handler
}

func newUploadFixture(t *testing.T) *uploadFixture {
	t.Helper()
	f := &uploadFixture{
		fs:        afero.NewMemMapFs(),
		objects:   storage.NewMemoryStore(),
		history:   &fakeHistory{},
		extractor: &fakeExtractor{schema: musicSchema()},
	}
	cfg := loadConfig(t)
	stager := upload.NewStager(f.fs, "/uploads", cfg.Upload.MaxBytes, nil)
	f.store = session.NewStore(session.WithExpireHook(SessionCleanup(stager, f.objects, f.history, nil, 0)))
	f.handler = NewHandler(cfg, Dependencies{
		Sessions:    f.store,
		Stager:      stager,
		Schemas:     f.extractor,
		Suggester:   fakeSuggester{},
		History:     f.history,
		ObjectStore: f.objects,
	})
	return f
}

func sqliteBytes(size int) []byte {
	payload := make([]byte, size)
	copy(payload, "SQLite format 3\x00")
	return payload
}

func multipartUpload(t *testing.T, field, fileName string, payload []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(field, fileName)
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(payload)); err != nil {
		t.Fatalf("write part error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("writer.Close() error = %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func stagedFiles(t *testing.T, fs afero.Fs) []string {
	t.Helper()
	entries, err := afero.ReadDir(fs, "/uploads")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func TestCreateSessionStagesArchivesAndRecords(t *testing.T) {
	f := newUploadFixture(t)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, multipartUpload(t, "file", "chinook.db", sqliteBytes(512)))

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	sessionID, _ := body["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("session_id missing: %#v", body)
	}
	if body["table_count"] != float64(2) {
		t.Fatalf("table_count = %v", body["table_count"])
	}
	if body["message"] != "Database uploaded successfully. Found 2 tables." {
		t.Fatalf("message = %v", body["message"])
	}
	if diff := cmp.Diff([]any{"Genre", "Track"}, body["tables"]); diff != "" {
		t.Fatalf("tables mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]any{"How many tracks are in each genre?"}, body["initial_questions"]); diff != "" {
		t.Fatalf("initial_questions mismatch (-want +got):\n%s", diff)
	}

	wantKey := "uploads/" + sessionID + "/chinook.sqlite"
	if body["archive_key"] != wantKey {
		t.Fatalf("archive_key = %v, want %s", body["archive_key"], wantKey)
	}
	if diff := cmp.Diff([]string{wantKey}, f.objects.Keys()); diff != "" {
		t.Fatalf("object keys mismatch (-want +got):\n%s", diff)
	}
	if len(f.history.sessions) != 1 || f.history.sessions[0].SessionID != sessionID || f.history.sessions[0].TableCount != 2 {
		t.Fatalf("history sessions = %#v", f.history.sessions)
	}
	if len(stagedFiles(t, f.fs)) != 1 {
		t.Fatalf("staged files = %v", stagedFiles(t, f.fs))
	}
	if f.store.Len() != 1 {
		t.Fatalf("store.Len() = %d", f.store.Len())
	}
}

func TestCreateSessionRejectsInvalidUploads(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		fileName string
		payload  []byte
		status   int
		code     string
	}{
		{name: "missing file field", field: "upload", fileName: "a.db", payload: sqliteBytes(512), status: http.StatusBadRequest, code: "FILE_REQUIRED"},
		{name: "extension", field: "file", fileName: "a.csv", payload: sqliteBytes(512), status: http.StatusBadRequest, code: "INVALID_UPLOAD"},
		{name: "too small", field: "file", fileName: "a.db", payload: sqliteBytes(50), status: http.StatusBadRequest, code: "INVALID_UPLOAD"},
		{name: "bad header", field: "file", fileName: "a.sqlite", payload: bytes.Repeat([]byte("x"), 512), status: http.StatusBadRequest, code: "INVALID_UPLOAD"},
		{name: "over limit", field: "file", fileName: "a.db", payload: sqliteBytes(70000), status: http.StatusBadRequest, code: "INVALID_UPLOAD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newUploadFixture(t)
			rr := httptest.NewRecorder()
			f.handler.ServeHTTP(rr, multipartUpload(t, tt.field, tt.fileName, tt.payload))

			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d, body=%s", rr.Code, tt.status, rr.Body.String())
			}
			if got := decodeBody(t, rr)["error_code"]; got != tt.code {
				t.Fatalf("error_code = %v, want %s", got, tt.code)
			}
			if files := stagedFiles(t, f.fs); len(files) != 0 {
				t.Fatalf("staged files left behind: %v", files)
			}
			if f.store.Len() != 0 {
				t.Fatalf("store.Len() = %d", f.store.Len())
			}
		})
	}
}

func TestCreateSessionRemovesFileWhenSchemaExtractionFails(t *testing.T) {
	f := newUploadFixture(t)
	f.extractor.err = errors.New("file is not a database")

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, multipartUpload(t, "file", "broken.db", sqliteBytes(512)))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error_code"] != "SCHEMA_EXTRACTION_FAILED" {
		t.Fatalf("error_code = %v", body["error_code"])
	}
	if !strings.Contains(body["message"].(string), "file is not a database") {
		t.Fatalf("message = %v", body["message"])
	}
	if files := stagedFiles(t, f.fs); len(files) != 0 {
		t.Fatalf("staged files left behind: %v", files)
	}
}

func TestCreateSessionRejectsDatabaseWithoutTables(t *testing.T) {
	f := newUploadFixture(t)
	f.extractor.schema = schema.Schema{}

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, multipartUpload(t, "file", "empty.db", sqliteBytes(512)))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := decodeBody(t, rr)["message"]; got != "Database contains no tables." {
		t.Fatalf("message = %v", got)
	}
}

func TestGetSessionAndSchema(t *testing.T) {
	f := newUploadFixture(t)
	sess := f.store.Create("/uploads/a.db", musicSchema())
	sess.Memory.AddUser("How many tracks?")
	sess.Memory.AddSystem("There are 3503 tracks.")
	lastUsed := sess.LastUsed

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+sess.ID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["chat_history_length"] != float64(2) {
		t.Fatalf("chat_history_length = %v", body["chat_history_length"])
	}
	if body["has_pending_clarification"] != false {
		t.Fatalf("has_pending_clarification = %v", body["has_pending_clarification"])
	}

	rr = httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+sess.ID+"/schema", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("schema status = %d", rr.Code)
	}
	schemaBody := decodeBody(t, rr)["schema"].(map[string]any)
	tables := schemaBody["tables"].([]any)
	if len(tables) != 2 || tables[1].(map[string]any)["name"] != "Track" {
		t.Fatalf("schema tables = %#v", tables)
	}
	if !sess.LastUsed.Equal(lastUsed) {
		t.Fatalf("LastUsed moved from %v to %v on read-only requests", lastUsed, sess.LastUsed)
	}
}

func TestUnknownSessionReturns404(t *testing.T) {
	f := newUploadFixture(t)
	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/v1/sessions/missing", nil),
		httptest.NewRequest(http.MethodGet, "/v1/sessions/missing/schema", nil),
		httptest.NewRequest(http.MethodDelete, "/v1/sessions/missing", nil),
	} {
		rr := httptest.NewRecorder()
		f.handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s %s status = %d", req.Method, req.URL.Path, rr.Code)
		}
		if got := decodeBody(t, rr)["error_code"]; got != "SESSION_NOT_FOUND" {
			t.Fatalf("error_code = %v", got)
		}
	}
}

func TestDeleteSessionReleasesFilesObjectsAndHistory(t *testing.T) {
	f := newUploadFixture(t)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, multipartUpload(t, "file", "chinook.db", sqliteBytes(512)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body=%s", rr.Code, rr.Body.String())
	}
	sessionID := decodeBody(t, rr)["session_id"].(string)
	if _, err := f.objects.Put(context.Background(), "exports/"+sessionID+"/000001.parquet", strings.NewReader("x"), 1, storage.PutOptions{}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := f.objects.Put(context.Background(), "exports/other/000001.parquet", strings.NewReader("x"), 1, storage.PutOptions{}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	rr = httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/v1/sessions/"+sessionID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rr.Code)
	}

	if f.store.Len() != 0 {
		t.Fatalf("store.Len() = %d", f.store.Len())
	}
	if files := stagedFiles(t, f.fs); len(files) != 0 {
		t.Fatalf("staged files left behind: %v", files)
	}
	if diff := cmp.Diff([]string{"exports/other/000001.parquet"}, f.objects.Keys()); diff != "" {
		t.Fatalf("object keys mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{sessionID}, f.history.deleted); diff != "" {
		t.Fatalf("history deletes mismatch (-want +got):\n%s", diff)
	}
}
