package vfs

import (
	"errors"
	"io"
	"path/filepath"
	"testing"
)

func TestDefault_CreateReadRename(t *testing.T) {
	fs := Default()
	dir := t.TempDir()
	name := filepath.Join(dir, "a.tmp")

	f, err := fs.Create(name)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := f.Write([]byte("hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := f.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	_ = f.Close()

	final := filepath.Join(dir, "a")
	if err := fs.Rename(name, final); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if err := fs.SyncDir(dir); err != nil {
		t.Fatalf("SyncDir() error = %v", err)
	}
	if Exists(fs, name) || !Exists(fs, final) {
		t.Error("rename did not move the file")
	}

	r, err := fs.Open(final)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	data, _ := io.ReadAll(r)
	_ = r.Close()
	if string(data) != "hello" {
		t.Errorf("read %q", data)
	}

	ra, err := fs.OpenRandomAccess(final)
	if err != nil {
		t.Fatalf("OpenRandomAccess() error = %v", err)
	}
	defer func() { _ = ra.Close() }()
	if ra.Size() != 5 {
		t.Errorf("Size() = %d", ra.Size())
	}

	names, err := fs.ListDir(dir)
	if err != nil || len(names) != 1 || names[0] != "a" {
		t.Errorf("ListDir() = %v, %v", names, err)
	}
}

func TestLock_Exclusive(t *testing.T) {
	fs := Default()
	name := filepath.Join(t.TempDir(), "LOCK")
	l, err := fs.Lock(name)
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if _, err := fs.Lock(name); err == nil {
		t.Error("second Lock() succeeded while first is held")
	}
	if err := l.Close(); err != nil {
		t.Fatalf("unlock error = %v", err)
	}
	l2, err := fs.Lock(name)
	if err != nil {
		t.Fatalf("Lock() after release error = %v", err)
	}
	_ = l2.Close()
}

func TestFaultFS_InjectWrite(t *testing.T) {
	fs := NewFaultFS(Default())
	dir := t.TempDir()
	f, err := fs.Create(filepath.Join(dir, "000001.log"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer func() { _ = f.Close() }()

	fs.InjectWriteError(".log", nil)
	if _, err := f.Write([]byte("x")); !errors.Is(err, ErrInjected) {
		t.Errorf("Write() error = %v, want ErrInjected", err)
	}
	if err := f.Sync(); !errors.Is(err, ErrInjected) {
		t.Errorf("Sync() error = %v, want ErrInjected", err)
	}
	fs.ClearErrors()
	if _, err := f.Write([]byte("x")); err != nil {
		t.Errorf("Write() after ClearErrors error = %v", err)
	}
	if fs.SyncCalls() != 1 {
		t.Errorf("SyncCalls() = %d", fs.SyncCalls())
	}
}
