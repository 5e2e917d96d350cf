package fs

import (
	"errors"
	"fmt"
	"os"
)

// Disk is the local filesystem collaborator used by recording sessions.
type Disk struct{}

func New() *Disk {
	return &Disk{}
}

// Append writes data at the end of path, creating the file if needed.
func (d *Disk) Append(path string, data []byte) error {
	const op = "storage.fs.Append"

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("%s: %w", op, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (d *Disk) MkdirAll(path string) error {
	const op = "storage.fs.MkdirAll"

	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Stat reports whether path exists and its size.
func (d *Disk) Stat(path string) (bool, int64, error) {
	const op = "storage.fs.Stat"

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, 0, nil
		}

		return false, 0, fmt.Errorf("%s: %w", op, err)
	}

	return true, info.Size(), nil
}

func (d *Disk) Remove(path string) error {
	const op = "storage.fs.Remove"

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// WritableDir checks that files can be created under dir.
type WritableDir struct {
	dir string
}

func NewWritableDir(dir string) *WritableDir {
	return &WritableDir{dir: dir}
}

func (w *WritableDir) CheckStorage() error {
	const op = "storage.fs.CheckStorage"

	if err := os.MkdirAll(w.dir, os.ModePerm); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	f, err := os.CreateTemp(w.dir, ".permcheck-*")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	name := f.Name()
	f.Close()

	if err := os.Remove(name); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
