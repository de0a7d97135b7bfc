package vfs

import (
	"errors"
	"io"
	"strings"
	"sync"
)

// ErrInjected is the default error returned by FaultFS.
var ErrInjected = errors.New("injected I/O error")

// FaultFS wraps an FS and fails writes, syncs, or reads of files whose name
// contains a configured substring.
type FaultFS struct {
	FS

	mu        sync.Mutex
	writeErr  map[string]error
	readErr   map[string]error
	syncCalls int
}

// NewFaultFS wraps base.
func NewFaultFS(base FS) *FaultFS {
	return &FaultFS{FS: base, writeErr: map[string]error{}, readErr: map[string]error{}}
}

// InjectWriteError makes writes and syncs to matching files fail with err
// (ErrInjected when nil).
func (fs *FaultFS) InjectWriteError(substr string, err error) {
	if err == nil {
		err = ErrInjected
	}
	fs.mu.Lock()
	fs.writeErr[substr] = err
	fs.mu.Unlock()
}

// InjectReadError makes opens of matching files fail.
func (fs *FaultFS) InjectReadError(substr string, err error) {
	if err == nil {
		err = ErrInjected
	}
	fs.mu.Lock()
	fs.readErr[substr] = err
	fs.mu.Unlock()
}

// ClearErrors removes every injected error.
func (fs *FaultFS) ClearErrors() {
	fs.mu.Lock()
	clear(fs.writeErr)
	clear(fs.readErr)
	fs.mu.Unlock()
}

// SyncCalls returns the number of file syncs observed.
func (fs *FaultFS) SyncCalls() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.syncCalls
}

func match(m map[string]error, name string) error {
	for substr, err := range m {
		if strings.Contains(name, substr) {
			return err
		}
	}
	return nil
}

func (fs *FaultFS) writeError(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return match(fs.writeErr, name)
}

func (fs *FaultFS) readError(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return match(fs.readErr, name)
}

// Create implements FS.
func (fs *FaultFS) Create(name string) (WritableFile, error) {
	if err := fs.writeError(name); err != nil {
		return nil, err
	}
	f, err := fs.FS.Create(name)
	if err != nil {
		return nil, err
	}
	return &faultFile{WritableFile: f, fs: fs, name: name}, nil
}

// Open implements FS.
func (fs *FaultFS) Open(name string) (io.ReadCloser, error) {
	if err := fs.readError(name); err != nil {
		return nil, err
	}
	return fs.FS.Open(name)
}

// OpenRandomAccess implements FS.
func (fs *FaultFS) OpenRandomAccess(name string) (RandomAccessFile, error) {
	if err := fs.readError(name); err != nil {
		return nil, err
	}
	return fs.FS.OpenRandomAccess(name)
}

type faultFile struct {
	WritableFile
	fs   *FaultFS
	name string
}

func (f *faultFile) Write(p []byte) (int, error) {
	if err := f.fs.writeError(f.name); err != nil {
		return 0, err
	}
	return f.WritableFile.Write(p)
}

func (f *faultFile) Sync() error {
	f.fs.mu.Lock()
	f.fs.syncCalls++
	f.fs.mu.Unlock()
	if err := f.fs.writeError(f.name); err != nil {
		return err
	}
	return f.WritableFile.Sync()
}
