// Package filestore keeps uploaded images on local disk under generated keys.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrTooLarge is returned by Save when the payload exceeds the limit.
var ErrTooLarge = errors.New("file exceeds size limit")

// FileStore manages files below a single directory.
type FileStore struct {
	dir string
}

// New creates dir if needed.
func New(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the storage directory.
func (fs *FileStore) Dir() string {
	return fs.dir
}

// Path returns the on-disk path of key.
func (fs *FileStore) Path(key string) string {
	return filepath.Join(fs.dir, key)
}

// Save streams r into key via a temp file, fsync and atomic rename. At most
// maxBytes are accepted; a larger payload leaves nothing on disk and returns
// ErrTooLarge. maxBytes <= 0 disables the limit.
func (fs *FileStore) Save(r io.Reader, key string, maxBytes int64) (int64, error) {
	if err := checkKey(key); err != nil {
		return 0, err
	}
	fullPath := fs.Path(key)
	tmpPath := fullPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	size, err := io.Copy(f, src)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("write %s: %w", key, err)
	}
	if maxBytes > 0 && size > maxBytes {
		f.Close()
		os.Remove(tmpPath)
		return 0, ErrTooLarge
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("fsync %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("rename %s: %w", key, err)
	}
	return size, nil
}

// Size returns the size of key on disk.
func (fs *FileStore) Size(key string) (int64, error) {
	if err := checkKey(key); err != nil {
		return 0, err
	}
	info, err := os.Stat(fs.Path(key))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Exists reports whether key is present.
func (fs *FileStore) Exists(key string) bool {
	_, err := fs.Size(key)
	return err == nil
}

// Delete removes key. A missing file is not an error.
func (fs *FileStore) Delete(key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	err := os.Remove(fs.Path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func checkKey(key string) error {
	if key == "" || key != filepath.Base(key) || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return fmt.Errorf("invalid storage key %q", key)
	}
	return nil
}

// Extension returns the lower-cased extension of the client supplied name
// without the dot. Only the last path element is considered.
func Extension(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(strings.TrimSpace(name)), "."))
}

var (
	unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// SecureFilename reduces a client supplied name to a safe base name made of
// ASCII letters, digits, '_', '.' and '-'. It returns "" when nothing is left.
func SecureFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = whitespace.ReplaceAllString(strings.TrimSpace(name), "_")
	name = unsafeChars.ReplaceAllString(name, "")
	return strings.Trim(name, "._")
}
