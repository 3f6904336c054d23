// Package storage confines every file a server touches to one directory.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gabriel-vasile/mimetype"

	"github.com/Wa4h1h/tftp-engine/pkg/utils"
)

type Root struct {
	dir  string
	root *os.Root
}

// NewRoot opens dir as the access boundary. dir must be an existing,
// readable directory.
func NewRoot(dir string) (*Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("error while resolving root %s: %w", dir, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("error while checking root %s: %w", abs, err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", abs)
	}

	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, fmt.Errorf("error while opening root %s: %w", abs, err)
	}

	return &Root{dir: abs, root: root}, nil
}

func (r *Root) Dir() string {
	return r.dir
}

func (r *Root) Close() error {
	return r.root.Close()
}

// Resolve turns a requested filename into a path relative to the root.
// Leading slashes are accepted since many clients send absolute looking
// names. Anything that would leave the root is an access violation.
func (r *Root) Resolve(name string) (string, error) {
	rel := strings.TrimLeft(filepath.FromSlash(name), `/\`)

	if rel == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q escapes %s", utils.ErrAccessViolation, name, r.dir)
	}

	return filepath.Clean(rel), nil
}

// Open opens name for reading.
func (r *Root) Open(name string) (*os.File, error) {
	rel, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}

	f, err := r.root.Open(rel)
	if err != nil {
		return nil, MapError(err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()

		return nil, MapError(err)
	}

	if info.IsDir() {
		f.Close()

		return nil, fmt.Errorf("%w: %q is a directory", utils.ErrAccessViolation, name)
	}

	return f, nil
}

// Create opens name for writing, truncating an existing file unless
// overwrite is false.
func (r *Root) Create(name string, overwrite bool) (*os.File, error) {
	rel, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}

	f, err := r.root.OpenFile(rel, flags, 0o644)
	if err != nil {
		return nil, MapError(err)
	}

	return f, nil
}

// DetectType sniffs the content type of f and rewinds it.
func DetectType(f io.ReadSeeker) string {
	mime, err := mimetype.DetectReader(f)

	if _, errSeek := f.Seek(0, io.SeekStart); errSeek != nil || err != nil {
		return "application/octet-stream"
	}

	return mime.String()
}

// MapError wraps a file system error with the matching transfer failure.
// Open failures that are not otherwise classified are treated as access
// violations, including os.Root refusing a symlink out of the root.
func MapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %w", utils.ErrFileNotFound, err)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %w", utils.ErrFileExists, err)
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EDQUOT):
		return fmt.Errorf("%w: %w", utils.ErrDiskFull, err)
	default:
		return fmt.Errorf("%w: %w", utils.ErrAccessViolation, err)
	}
}

// MapWriteError classifies a failure while writing transfer data.
func MapWriteError(err error) error {
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) {
		return fmt.Errorf("%w: %w", utils.ErrDiskFull, err)
	}

	return fmt.Errorf("error while writing block to file: %w", err)
}
