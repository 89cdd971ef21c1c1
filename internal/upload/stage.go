// Package upload stages uploaded SQLite files on disk and rejects anything
// that is not a readable SQLite database.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/duckmesh/askdb/internal/storage"
)

const (
	// MinBytes is the size of the SQLite header.
	MinBytes        = 100
	DefaultMaxBytes = 100 << 20
)

var (
	sqliteMagic       = []byte("SQLite format 3\x00")
	allowedExtensions = map[string]bool{".db": true, ".sqlite": true, ".sqlite3": true}
)

// Error is a rejection the client can fix by sending another file.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func rejectf(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// Inspector checks a staged file with the database driver.
type Inspector interface {
	CheckIntegrity(ctx context.Context, path string) error
}

type Stager struct {
	Fs        afero.Fs
	Dir       string
	MaxBytes  int64
	Inspector Inspector
}

func NewStager(fs afero.Fs, dir string, maxBytes int64, inspector Inspector) *Stager {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Stager{Fs: fs, Dir: dir, MaxBytes: maxBytes, Inspector: inspector}
}

// Stage writes body to a fresh file under Dir and validates it. On any
// rejection the staged file is removed.
func (s *Stager) Stage(ctx context.Context, fileName string, body io.Reader) (string, error) {
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(fileName, `\`, "/")))
	if !allowedExtensions[ext] {
		return "", rejectf("Invalid file type %q. Please upload a .db, .sqlite, or .sqlite3 file.", ext)
	}
	if err := s.Fs.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	staged := filepath.Join(s.Dir, uuid.NewString()+ext)
	size, err := s.write(staged, body)
	if err != nil {
		_ = s.Fs.Remove(staged)
		return "", err
	}
	if err := s.validate(ctx, staged, size); err != nil {
		_ = s.Fs.Remove(staged)
		return "", err
	}
	return staged, nil
}

func (s *Stager) write(staged string, body io.Reader) (int64, error) {
	file, err := s.Fs.Create(staged)
	if err != nil {
		return 0, fmt.Errorf("create staged file: %w", err)
	}
	defer func() { _ = file.Close() }()

	size, err := io.Copy(file, io.LimitReader(body, s.MaxBytes+1))
	if err != nil {
		return 0, fmt.Errorf("write staged file: %w", err)
	}
	return size, nil
}

func (s *Stager) validate(ctx context.Context, staged string, size int64) error {
	if size < MinBytes {
		return rejectf("File is too small to be a valid SQLite database.")
	}
	if size > s.MaxBytes {
		return rejectf("Database file exceeds maximum size limit (%d MB).", s.MaxBytes>>20)
	}

	file, err := s.Fs.Open(staged)
	if err != nil {
		return fmt.Errorf("open staged file: %w", err)
	}
	header := make([]byte, len(sqliteMagic))
	_, err = io.ReadFull(file, header)
	_ = file.Close()
	if err != nil || !bytes.Equal(header, sqliteMagic) {
		return rejectf("File is not a valid SQLite database (invalid header).")
	}

	if s.Inspector == nil {
		return nil
	}
	if err := s.Inspector.CheckIntegrity(ctx, staged); err != nil {
		return rejectf("Database validation failed: %v", err)
	}
	return nil
}

func (s *Stager) Remove(staged string) error {
	if err := s.Fs.Remove(staged); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove staged file: %w", err)
	}
	return nil
}

// Archive copies a staged file to the object store and returns its key.
func (s *Stager) Archive(ctx context.Context, store storage.ObjectStore, sessionID, fileName, staged string) (string, error) {
	key, err := storage.BuildUploadPath(sessionID, fileName)
	if err != nil {
		return "", fmt.Errorf("build upload path: %w", err)
	}
	file, err := s.Fs.Open(staged)
	if err != nil {
		return "", fmt.Errorf("open staged file: %w", err)
	}
	defer func() { _ = file.Close() }()
	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat staged file: %w", err)
	}
	if _, err := store.Put(ctx, key, file, info.Size(), storage.PutOptions{ContentType: "application/vnd.sqlite3"}); err != nil {
		return "", fmt.Errorf("archive upload: %w", err)
	}
	return key, nil
}
