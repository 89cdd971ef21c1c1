//go:build integration

package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/afero"

	catalogpostgres "github.com/duckmesh/askdb/internal/catalog/postgres"
	"github.com/duckmesh/askdb/internal/migrations"
	"github.com/duckmesh/askdb/internal/nl2sql"
	"github.com/duckmesh/askdb/internal/pipeline"
	"github.com/duckmesh/askdb/internal/query/sqlite"
	"github.com/duckmesh/askdb/internal/session"
	"github.com/duckmesh/askdb/internal/upload"
)

func TestHistoryRoundTripWithPostgres(t *testing.T) {
	adminDSN := strings.TrimSpace(os.Getenv("ASKDB_TEST_HISTORY_DSN"))
	if adminDSN == "" {
		t.Skip("ASKDB_TEST_HISTORY_DSN is not set")
	}

	testDSN, cleanup := createTemporaryDatabase(t, adminDSN)
	defer cleanup()

	db, err := sql.Open("pgx", testDSN)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if _, err := migrations.NewRunner().Up(ctx, db, 0); err != nil {
		t.Fatalf("runner.Up() error = %v", err)
	}

	logger := slog.New(slog.DiscardHandler)
	history := catalogpostgres.NewRepository(db)
	stager := upload.NewStager(afero.NewMemMapFs(), "/uploads", 1<<20, nil)
	store := session.NewStore(session.WithExpireHook(SessionCleanup(stager, nil, history, logger, time.Second)))
	offline := nl2sql.ModelFunc(func(context.Context, string, float64) (string, error) {
		return "", errors.New("model offline")
	})
	pipe := pipeline.New(store, nl2sql.NewGenerator(offline), sqlite.NewEngine(time.Second), nil,
		pipeline.WithHistory(history),
		pipeline.WithLogger(logger),
	)

	h := NewHandler(loadConfig(t), Dependencies{
		Logger:    logger,
		Readiness: CheckHistory(history),
		Sessions:  store,
		Pipeline:  pipe,
		Stager:    stager,
		Schemas:   &fakeExtractor{schema: musicSchema()},
		History:   history,
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("ready status = %d, body=%s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, multipartUpload(t, "file", "music.db", sqliteBytes(512)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body=%s", rr.Code, rr.Body.String())
	}
	sessionID := decodeBody(t, rr)["session_id"].(string)

	rr = postAsk(h, sessionID, `{"question":"What tables are in this database?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("ask status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if kind := decodeBody(t, rr)["kind"]; kind != "meta" {
		t.Fatalf("kind = %v", kind)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+sessionID+"/history", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("history status = %d, body=%s", rr.Code, rr.Body.String())
	}
	turns := decodeBody(t, rr)["turns"].([]any)
	if len(turns) != 1 || turns[0].(map[string]any)["outcome"] != "meta" {
		t.Fatalf("turns = %#v", turns)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/v1/sessions/"+sessionID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rr.Code)
	}
	var deletedAt sql.NullTime
	if err := db.QueryRow(`SELECT deleted_at FROM askdb_session WHERE session_id = $1`, sessionID).Scan(&deletedAt); err != nil {
		t.Fatalf("select deleted_at error = %v", err)
	}
	if !deletedAt.Valid {
		t.Fatal("session was not marked deleted")
	}
}

func createTemporaryDatabase(t *testing.T, adminDSN string) (string, func()) {
	t.Helper()

	parsed, err := url.Parse(adminDSN)
	if err != nil {
		t.Fatalf("url.Parse(adminDSN) error = %v", err)
	}
	if strings.TrimPrefix(parsed.Path, "/") == "" {
		t.Fatal("admin DSN must include a database name")
	}

	adminDB, err := sql.Open("pgx", adminDSN)
	if err != nil {
		t.Fatalf("sql.Open(adminDSN) error = %v", err)
	}

	name := fmt.Sprintf("askdb_it_api_%d", time.Now().UnixNano())
	if _, err := adminDB.Exec(`CREATE DATABASE ` + name); err != nil {
		t.Fatalf("CREATE DATABASE failed: %v", err)
	}

	testURL := *parsed
	testURL.Path = "/" + name
	testDSN := testURL.String()

	cleanup := func() {
		defer func() { _ = adminDB.Close() }()
		if _, err := adminDB.Exec(`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1`, name); err != nil {
			t.Fatalf("terminate test db sessions: %v", err)
		}
		if _, err := adminDB.Exec(`DROP DATABASE ` + name); err != nil {
			t.Fatalf("DROP DATABASE failed: %v", err)
		}
	}
	return testDSN, cleanup
}
