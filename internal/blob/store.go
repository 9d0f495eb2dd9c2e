// Package blob stores uploaded cover images on the local filesystem and
// serves them back by key.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/blackmichael/blogapp/internal/domain"
)

// URLPrefix is the path blobs are served under.
const URLPrefix = "/blobs/"

// TooLargeError is returned when an upload exceeds the size limit.
type TooLargeError struct {
	Size  int
	Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("file is %s, larger than the %s limit",
		humanize.IBytes(uint64(e.Size)), humanize.IBytes(uint64(e.Limit)))
}

// Object describes a stored blob.
type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store implements domain.BlobStore on a directory.
type Store struct {
	root     string
	baseURL  string
	maxBytes int64
	logger   *slog.Logger
}

// NewStore creates the upload directory if needed. URLs handed out are
// baseURL followed by URLPrefix and the key.
func NewStore(root, baseURL string, maxBytes int64, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &Store{
		root:     root,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: maxBytes,
		logger:   logger,
	}, nil
}

// Root returns the directory blobs are stored in.
func (s *Store) Root() string {
	return s.root
}

// MaxBytes returns the upload size limit.
func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// Upload normalizes key and image data and writes the blob. An existing blob
// with the same key is replaced.
func (s *Store) Upload(ctx context.Context, key string, data []byte) (domain.BlobRef, error) {
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return domain.BlobRef{}, &TooLargeError{Size: len(data), Limit: s.maxBytes}
	}
	key, err := NormalizeKey(key)
	if err != nil {
		return domain.BlobRef{}, err
	}
	data, format, err := NormalizeImage(data)
	if err != nil {
		return domain.BlobRef{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.BlobRef{}, err
	}

	dst := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return domain.BlobRef{}, fmt.Errorf("create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return domain.BlobRef{}, fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return domain.BlobRef{}, fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return domain.BlobRef{}, fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return domain.BlobRef{}, fmt.Errorf("store blob: %w", err)
	}

	s.logger.Info("blob stored", "key", key, "format", format, "size", humanize.IBytes(uint64(len(data))))
	return domain.BlobRef{Key: key}, nil
}

// URL returns the public URL of a stored blob.
func (s *Store) URL(_ context.Context, ref domain.BlobRef) (string, error) {
	key, err := NormalizeKey(ref.Key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(s.path(key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("stat blob: %w", err)
	}
	return s.baseURL + URLPrefix + key, nil
}

// KeyFromURL returns the key of a URL handed out by URL. Only the path is
// compared, since clients may reach the server under another host name. It
// reports false for URLs outside URLPrefix.
func (s *Store) KeyFromURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	key, ok := strings.CutPrefix(path.Clean(u.Path), URLPrefix)
	if !ok || key == "" {
		return "", false
	}
	return key, true
}

// List returns every stored blob.
func (s *Store) List(ctx context.Context) ([]Object, error) {
	var objects []Object
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		objects = append(objects, Object{
			Key:     filepath.ToSlash(rel),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	return objects, nil
}

// Delete removes a blob. Deleting a missing blob is not an error.
func (s *Store) Delete(key string) error {
	key, err := NormalizeKey(key)
	if err != nil {
		return err
	}
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}
