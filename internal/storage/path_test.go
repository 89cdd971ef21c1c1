package storage

import "testing"

func TestBuildUploadPath(t *testing.T) {
	tests := []struct {
		fileName string
		want     string
	}{
		{fileName: "chinook.db", want: "uploads/6f1c/chinook.sqlite"},
		{fileName: `C:\Users\me\My Music.sqlite3`, want: "uploads/6f1c/My_Music.sqlite"},
		{fileName: "../../etc/passwd", want: "uploads/6f1c/passwd.sqlite"},
		{fileName: ".db", want: "uploads/6f1c/database.sqlite"},
	}
	for _, tt := range tests {
		key, err := BuildUploadPath("6f1c", tt.fileName)
		if err != nil {
			t.Fatalf("BuildUploadPath(%q) error = %v", tt.fileName, err)
		}
		if key != tt.want {
			t.Fatalf("BuildUploadPath(%q) = %q, want %q", tt.fileName, key, tt.want)
		}
	}
}

func TestBuildExportPath(t *testing.T) {
	key, err := BuildExportPath("6f1c", 42)
	if err != nil {
		t.Fatalf("BuildExportPath() error = %v", err)
	}
	if key != "exports/6f1c/000042.parquet" {
		t.Fatalf("BuildExportPath() = %q", key)
	}
}

func TestBuildPathRejectsInvalidSession(t *testing.T) {
	if _, err := BuildUploadPath("../oops", "a.db"); err == nil {
		t.Fatal("expected invalid component error")
	}
	if _, err := BuildExportPath("", 1); err == nil {
		t.Fatal("expected invalid component error")
	}
	if _, err := BuildExportPath("abc", -1); err == nil {
		t.Fatal("expected negative turn error")
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		key         string
		wantRoot    string
		wantSession string
		wantErr     bool
	}{
		{key: "uploads/6f1c/chinook.sqlite", wantRoot: UploadsRoot, wantSession: "6f1c"},
		{key: "exports/6f1c/000003.parquet", wantRoot: ExportsRoot, wantSession: "6f1c"},
		{key: ReadinessKey, wantRoot: HealthRoot},
		{key: "exports/6f1c", wantErr: true},
		{key: "exports/6f1c/", wantErr: true},
		{key: "uploads/-x/a.sqlite", wantErr: true},
		{key: "health", wantErr: true},
		{key: "tmp/6f1c/a", wantErr: true},
	}
	for _, tt := range tests {
		root, sessionID, err := ParseKey(tt.key)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseKey(%q) error = nil", tt.key)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseKey(%q) error = %v", tt.key, err)
		}
		if root != tt.wantRoot || sessionID != tt.wantSession {
			t.Fatalf("ParseKey(%q) = %q, %q, want %q, %q", tt.key, root, sessionID, tt.wantRoot, tt.wantSession)
		}
	}
}

func TestSessionPrefix(t *testing.T) {
	prefix, err := SessionPrefix(ExportsRoot, "6f1c")
	if err != nil || prefix != "exports/6f1c" {
		t.Fatalf("SessionPrefix() = %q, %v", prefix, err)
	}
	if _, err := SessionPrefix(HealthRoot, "6f1c"); err == nil {
		t.Fatal("SessionPrefix(health) error = nil")
	}
	if _, err := SessionPrefix(UploadsRoot, "../x"); err == nil {
		t.Fatal("SessionPrefix(../x) error = nil")
	}
}
