package migrations

import (
	"strings"
	"testing"
)

func TestHistoryMigrationContainsRequiredTablesAndIndexes(t *testing.T) {
	body, err := embeddedFS.ReadFile("sql/000001_history.up.sql")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	sql := string(body)
	requiredSnippets := []string{
		"CREATE TABLE askdb_session",
		"CREATE TABLE askdb_turn",
		"CREATE TABLE askdb_attempt",
		"REFERENCES askdb_session (session_id) ON DELETE CASCADE",
		"PRIMARY KEY (turn_id, seq)",
		"CREATE INDEX idx_askdb_turn_session_turn",
	}

	for _, snippet := range requiredSnippets {
		if !strings.Contains(sql, snippet) {
			t.Fatalf("migration missing required snippet: %s", snippet)
		}
	}
}

func TestEmbeddedScriptsLoad(t *testing.T) {
	items, err := loadScripts(embeddedFS)
	if err != nil {
		t.Fatalf("loadScripts() error = %v", err)
	}
	if len(items) == 0 || items[0].String() != "000001_history" {
		t.Fatalf("unexpected migrations: %+v", items)
	}
	if !strings.Contains(items[0].Down, "DROP TABLE IF EXISTS askdb_session") {
		t.Fatalf("down SQL = %q", items[0].Down)
	}
}
