package logging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// RotatingFile is an io.WriteCloser that keeps a log file below a size
// limit. Full files are shifted to path.1, path.2, ... up to Backups.
type RotatingFile struct {
	Path    string
	MaxSize int64
	Backups int

	mu   sync.Mutex
	f    *os.File
	size int64
}

func OpenRotatingFile(path string, maxSize int64, backups int) (*RotatingFile, error) {
	if path == "" {
		return nil, fmt.Errorf("log path is required")
	}
	if maxSize <= 0 {
		return nil, fmt.Errorf("log max size must be > 0")
	}
	if backups < 0 {
		backups = 0
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	r := &RotatingFile{Path: path, MaxSize: maxSize, Backups: backups}
	if err := r.open(os.O_APPEND); err != nil {
		return nil, err
	}
	if r.size > r.MaxSize {
		if err := r.rotate(); err != nil {
			r.f.Close()
			return nil, err
		}
	}
	return r, nil
}

func (r *RotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.f == nil {
		return 0, os.ErrClosed
	}
	// A single entry larger than MaxSize still lands in an empty file.
	if r.size > 0 && r.size+int64(len(p)) > r.MaxSize {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := r.f.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *RotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

func (r *RotatingFile) open(mode int) error {
	f, err := os.OpenFile(r.Path, os.O_CREATE|os.O_WRONLY|mode, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	r.f = f
	r.size = 0
	if info, err := f.Stat(); err == nil {
		r.size = info.Size()
	}
	return nil
}

func (r *RotatingFile) rotate() error {
	if r.f != nil {
		if err := r.f.Close(); err != nil {
			return err
		}
		r.f = nil
	}

	if r.Backups == 0 {
		if err := removeIfExists(r.Path); err != nil {
			return err
		}
	} else {
		if err := removeIfExists(r.backupName(r.Backups)); err != nil {
			return err
		}
		for i := r.Backups - 1; i >= 1; i-- {
			if err := renameIfExists(r.backupName(i), r.backupName(i+1)); err != nil {
				return err
			}
		}
		if err := renameIfExists(r.Path, r.backupName(1)); err != nil {
			return err
		}
	}

	return r.open(os.O_TRUNC)
}

func (r *RotatingFile) backupName(i int) string {
	return fmt.Sprintf("%s.%d", r.Path, i)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func renameIfExists(src, dst string) error {
	if err := os.Rename(src, dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
