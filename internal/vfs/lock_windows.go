//go:build windows

package vfs

import (
	"errors"
	"io"
	"os"
	"sync"
)

// Windows has no flock; locks are process-local, which still catches two
// opens of the same directory within one process.
var (
	heldMu sync.Mutex
	held   = map[string]bool{}
)

type fileLock struct {
	name string
	f    *os.File
}

func lockFile(name string) (io.Closer, error) {
	heldMu.Lock()
	defer heldMu.Unlock()
	if held[name] {
		return nil, errors.New("lock held by this process")
	}
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	held[name] = true
	return &fileLock{name: name, f: f}, nil
}

func (l *fileLock) Close() error {
	heldMu.Lock()
	delete(held, l.name)
	heldMu.Unlock()
	return l.f.Close()
}
