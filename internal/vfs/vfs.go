// Package vfs is the filesystem seam used by the storage engine. Production
// code uses Default; tests wrap it with FaultFS to inject I/O errors.
package vfs

import (
	"io"
	"os"
	"path/filepath"
	"sort"
)

// FS is the filesystem interface.
type FS interface {
	// Create creates or truncates a writable file.
	Create(name string) (WritableFile, error)

	// Open opens a file for sequential reading.
	Open(name string) (io.ReadCloser, error)

	// OpenRandomAccess opens a file for positional reads.
	OpenRandomAccess(name string) (RandomAccessFile, error)

	// Rename atomically renames a file.
	Rename(oldname, newname string) error

	// Remove deletes a file.
	Remove(name string) error

	// RemoveAll removes a directory tree.
	RemoveAll(path string) error

	// MkdirAll creates a directory and its parents.
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns file info.
	Stat(name string) (os.FileInfo, error)

	// ListDir returns the sorted names in a directory.
	ListDir(path string) ([]string, error)

	// Lock takes an exclusive advisory lock on name, failing immediately
	// if another process holds it.
	Lock(name string) (io.Closer, error)

	// SyncDir makes directory entry changes (create, rename) durable.
	SyncDir(path string) error
}

// WritableFile is an append-only file.
type WritableFile interface {
	io.Writer
	io.Closer
	Sync() error
}

// RandomAccessFile supports positional reads.
type RandomAccessFile interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// Exists reports whether name exists on fs.
func Exists(fs FS, name string) bool {
	_, err := fs.Stat(name)
	return err == nil
}

type osFS struct{}

// Default returns the OS filesystem.
func Default() FS {
	return osFS{}
}

func (osFS) Create(name string) (WritableFile, error) {
	return os.Create(name)
}

func (osFS) Open(name string) (io.ReadCloser, error) {
	return os.Open(name)
}

func (osFS) OpenRandomAccess(name string) (RandomAccessFile, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &osRandomAccessFile{File: f, size: info.Size()}, nil
}

func (osFS) Rename(oldname, newname string) error { return os.Rename(oldname, newname) }

func (osFS) Remove(name string) error { return os.Remove(name) }

func (osFS) RemoveAll(path string) error { return os.RemoveAll(path) }

func (osFS) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }

func (osFS) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }

func (osFS) ListDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (osFS) Lock(name string) (io.Closer, error) {
	return lockFile(name)
}

func (osFS) SyncDir(path string) error {
	d, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	return d.Sync()
}

type osRandomAccessFile struct {
	*os.File
	size int64
}

func (f *osRandomAccessFile) Size() int64 { return f.size }
