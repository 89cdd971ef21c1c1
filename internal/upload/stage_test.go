package upload

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/duckmesh/askdb/internal/storage"
)

type fakeInspector struct {
	err   error
	paths []string
}

func (f *fakeInspector) CheckIntegrity(_ context.Context, path string) error {
	f.paths = append(f.paths, path)
	return f.err
}

func sqliteBytes(size int) []byte {
	payload := make([]byte, size)
	copy(payload, sqliteMagic)
	return payload
}

func stagedFiles(t *testing.T, fs afero.Fs) []string {
	t.Helper()
	entries, err := afero.ReadDir(fs, "/uploads")
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func TestStageAcceptsSQLiteFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	inspector := &fakeInspector{}
	stager := NewStager(fs, "/uploads", 0, inspector)

	staged, err := stager.Stage(context.Background(), "chinook.sqlite3", bytes.NewReader(sqliteBytes(4096)))
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if !strings.HasPrefix(staged, "/uploads/") || !strings.HasSuffix(staged, ".sqlite3") {
		t.Fatalf("Stage() path = %q", staged)
	}
	if len(inspector.paths) != 1 || inspector.paths[0] != staged {
		t.Fatalf("inspected = %v", inspector.paths)
	}

	if err := stager.Remove(staged); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := stager.Remove(staged); err != nil {
		t.Fatalf("second Remove() error = %v", err)
	}
}

func TestStageRejections(t *testing.T) {
	tests := []struct {
		name      string
		fileName  string
		body      []byte
		maxBytes  int64
		inspector *fakeInspector
		want      string
	}{
		{name: "extension", fileName: "data.csv", body: sqliteBytes(200), want: "Invalid file type"},
		{name: "too small", fileName: "a.db", body: sqliteBytes(50), want: "too small"},
		{name: "too large", fileName: "a.db", body: sqliteBytes(3 << 20), maxBytes: 1 << 20, want: "exceeds maximum size limit (1 MB)"},
		{name: "header", fileName: "a.db", body: bytes.Repeat([]byte("x"), 200), want: "invalid header"},
		{name: "integrity", fileName: "a.db", body: sqliteBytes(200), inspector: &fakeInspector{err: errors.New("database contains no tables")}, want: "no tables"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			inspector := tt.inspector
			if inspector == nil {
				inspector = &fakeInspector{}
			}
			stager := NewStager(fs, "/uploads", tt.maxBytes, inspector)

			_, err := stager.Stage(context.Background(), tt.fileName, bytes.NewReader(tt.body))
			var uploadErr *Error
			if !errors.As(err, &uploadErr) || !strings.Contains(uploadErr.Message, tt.want) {
				t.Fatalf("Stage() error = %v, want %q", err, tt.want)
			}
			if tt.name != "extension" {
				if names := stagedFiles(t, fs); len(names) != 0 {
					t.Fatalf("staged files left behind: %v", names)
				}
			}
		})
	}
}

func TestArchive(t *testing.T) {
	fs := afero.NewMemMapFs()
	stager := NewStager(fs, "/uploads", 0, nil)
	staged, err := stager.Stage(context.Background(), "My Music.db", bytes.NewReader(sqliteBytes(512)))
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	store := storage.NewMemoryStore()
	key, err := stager.Archive(context.Background(), store, "6f1c", "My Music.db", staged)
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if key != "uploads/6f1c/My_Music.sqlite" {
		t.Fatalf("Archive() key = %q", key)
	}
	info, err := store.Stat(context.Background(), key)
	if err != nil || info.Size != 512 {
		t.Fatalf("Stat() = %+v, %v", info, err)
	}
}
