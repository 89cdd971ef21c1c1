// Package s3 keeps archived uploads and parquet exports in an S3-compatible
// bucket through minio-go. Keys follow the layout of package storage and are
// placed under an optional deployment prefix.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/duckmesh/askdb/internal/config"
	"github.com/duckmesh/askdb/internal/storage"
)

// ErrBucketMissing reports a configured bucket that does not exist and was
// not auto-created.
var ErrBucketMissing = errors.New("object store bucket does not exist")

const (
	metaRoot    = "askdb-root"
	metaSession = "askdb-session"
)

var defaultContentTypes = map[string]string{
	storage.UploadsRoot: "application/vnd.sqlite3",
	storage.ExportsRoot: "application/vnd.apache.parquet",
}

// bucket is the slice of the minio client the store needs, bound to one bucket.
type bucket interface {
	upload(ctx context.Context, key string, body io.Reader, size int64, opts minio.PutObjectOptions) (storage.ObjectInfo, error)
	download(ctx context.Context, key string) (io.ReadCloser, error)
	stat(ctx context.Context, key string) (storage.ObjectInfo, error)
	list(ctx context.Context, prefix string) ([]string, error)
	remove(ctx context.Context, keys []string) (int, error)
	ensure(ctx context.Context, region string) error
}

var _ storage.ObjectStore = (*Store)(nil)

type Store struct {
	bucket bucket
	name   string
	prefix string
}

// New connects to the bucket described by cfg and, when AutoCreateBucket is
// set, creates it.
func New(ctx context.Context, cfg config.ObjectStoreConfig) (*Store, error) {
	name := strings.TrimSpace(cfg.Bucket)
	if name == "" {
		return nil, errors.New("object store bucket is required")
	}
	host, secure, err := endpointHost(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	region := strings.TrimSpace(cfg.Region)
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("object store client for %s: %w", host, err)
	}

	store := newStore(name, cfg.Prefix, &minioBucket{client: client, name: name})
	if cfg.AutoCreateBucket {
		if err := store.bucket.ensure(ctx, region); err != nil {
			return nil, fmt.Errorf("object store bucket %q: %w", name, err)
		}
	}
	return store, nil
}

func newStore(name, prefix string, b bucket) *Store {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix != "" {
		prefix = path.Clean(prefix)
	}
	return &Store{bucket: b, name: name, prefix: prefix}
}

// Put writes an upload or export. Objects are tagged with their root and
// owning session; an empty content type falls back to the root's default.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	logical, root, sessionID, err := s.resolve(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	if root == storage.HealthRoot {
		return storage.ObjectInfo{}, fmt.Errorf("object key %q is read-only", logical)
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = defaultContentTypes[root]
	}
	info, err := s.bucket.upload(ctx, s.full(logical), body, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{metaRoot: root, metaSession: sessionID},
	})
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("store %s in bucket %s: %w", logical, s.name, err)
	}
	info.Key = logical
	return info, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	logical, _, _, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	reader, err := s.bucket.download(ctx, s.full(logical))
	if err != nil {
		return nil, s.wrap("read", logical, err)
	}
	return reader, nil
}

func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	logical, _, _, err := s.resolve(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.bucket.stat(ctx, s.full(logical))
	if err != nil {
		return storage.ObjectInfo{}, s.wrap("stat", logical, err)
	}
	info.Key = logical
	return info, nil
}

// Delete removes one object; a missing object is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	logical, _, _, err := s.resolve(key)
	if err != nil {
		return err
	}
	if _, err := s.bucket.remove(ctx, []string{s.full(logical)}); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		return s.wrap("delete", logical, err)
	}
	return nil
}

// DeletePrefix removes everything a session keeps under one root. prefix
// must be exactly storage.SessionPrefix(root, session).
func (s *Store) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	cleaned := strings.Trim(strings.TrimSpace(prefix), "/")
	root, sessionID, _ := strings.Cut(cleaned, "/")
	want, err := storage.SessionPrefix(root, sessionID)
	if err != nil || want != cleaned {
		return 0, fmt.Errorf("object prefix %q is not a session prefix", prefix)
	}
	keys, err := s.bucket.list(ctx, s.full(cleaned)+"/")
	if err != nil {
		return 0, s.wrap("list", cleaned, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	removed, err := s.bucket.remove(ctx, keys)
	if err != nil {
		return removed, s.wrap("delete", cleaned, err)
	}
	return removed, nil
}

func (s *Store) resolve(key string) (logical, root, sessionID string, err error) {
	logical = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if logical == "" {
		return "", "", "", errors.New("object key is required")
	}
	if cleaned := path.Clean(logical); cleaned != logical {
		return "", "", "", fmt.Errorf("object key %q is not canonical", key)
	}
	root, sessionID, err = storage.ParseKey(logical)
	if err != nil {
		return "", "", "", err
	}
	return logical, root, sessionID, nil
}

func (s *Store) full(logical string) string {
	if s.prefix == "" {
		return logical
	}
	return s.prefix + "/" + logical
}

func (s *Store) wrap(op, key string, err error) error {
	if errors.Is(err, storage.ErrObjectNotFound) {
		return storage.ErrObjectNotFound
	}
	return fmt.Errorf("%s %s in bucket %s: %w", op, key, s.name, err)
}

// endpointHost accepts "host:port" or a URL. An explicit scheme overrides
// useSSL.
func endpointHost(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, errors.New("object store endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "//" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("object store endpoint: %w", err)
	}
	if parsed.Host == "" {
		return "", false, fmt.Errorf("object store endpoint %q has no host", raw)
	}
	if strings.Trim(parsed.Path, "/") != "" {
		return "", false, fmt.Errorf("object store endpoint %q must not carry a path", raw)
	}
	switch parsed.Scheme {
	case "":
		return parsed.Host, useSSL, nil
	case "https":
		return parsed.Host, true, nil
	case "http":
		return parsed.Host, false, nil
	default:
		return "", false, fmt.Errorf("object store endpoint scheme %q is not http or https", parsed.Scheme)
	}
}

type minioBucket struct {
	client *minio.Client
	name   string
}

func (m *minioBucket) upload(ctx context.Context, key string, body io.Reader, size int64, opts minio.PutObjectOptions) (storage.ObjectInfo, error) {
	info, err := m.client.PutObject(ctx, m.name, key, body, size, opts)
	if err != nil {
		return storage.ObjectInfo{}, translate(err)
	}
	return storage.ObjectInfo{Key: info.Key, Size: info.Size, ETag: info.ETag, LastModified: info.LastModified}, nil
}

func (m *minioBucket) download(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, m.name, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translate(err)
	}
	// GetObject is lazy; stat surfaces a missing key before the caller streams.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, translate(err)
	}
	return obj, nil
}

func (m *minioBucket) stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	info, err := m.client.StatObject(ctx, m.name, key, minio.StatObjectOptions{})
	if err != nil {
		return storage.ObjectInfo{}, translate(err)
	}
	return storage.ObjectInfo{Key: info.Key, Size: info.Size, ETag: info.ETag, LastModified: info.LastModified}, nil
}

func (m *minioBucket) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for object := range m.client.ListObjects(ctx, m.name, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return nil, translate(object.Err)
		}
		keys = append(keys, object.Key)
	}
	return keys, nil
}

// remove deletes keys with one multi-object request per batch of the
// client's choosing and returns how many were removed.
func (m *minioBucket) remove(ctx context.Context, keys []string) (int, error) {
	objects := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objects <- minio.ObjectInfo{Key: key}
	}
	close(objects)

	failed := 0
	var firstErr error
	for result := range m.client.RemoveObjects(ctx, m.name, objects, minio.RemoveObjectsOptions{}) {
		err := translate(result.Err)
		if errors.Is(err, storage.ErrObjectNotFound) {
			continue
		}
		failed++
		if firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", result.ObjectName, err)
		}
	}
	return len(keys) - failed, firstErr
}

func (m *minioBucket) ensure(ctx context.Context, region string) error {
	exists, err := m.client.BucketExists(ctx, m.name)
	if err != nil {
		return translate(err)
	}
	if exists {
		return nil
	}
	return translate(m.client.MakeBucket(ctx, m.name, minio.MakeBucketOptions{Region: region}))
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return storage.ErrObjectNotFound
	case "NoSuchBucket":
		return fmt.Errorf("%w: %v", ErrBucketMissing, err)
	}
	return err
}
