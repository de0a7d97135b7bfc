package engine

// manifest.go implements the CURRENT file.
//
// CURRENT is a small text file naming the live log and tables:
//
//	rockyard-manifest 1
//	next_file 12
//	last_sequence 4031
//	log 11
//	table 10
//	table 7
//
// Tables are listed newest first. The file is replaced atomically by writing
// CURRENT.tmp and renaming it over CURRENT.

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aalhour/rockyardhost/internal/dbformat"
	"github.com/aalhour/rockyardhost/internal/vfs"
)

const manifestMagic = "rockyard-manifest"

const manifestVersion = 1

type manifest struct {
	nextFile     uint64
	lastSequence dbformat.SequenceNumber
	logNumber    uint64
	tables       []uint64
}

func (m *manifest) encode() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %d\n", manifestMagic, manifestVersion)
	fmt.Fprintf(&buf, "next_file %d\n", m.nextFile)
	fmt.Fprintf(&buf, "last_sequence %d\n", m.lastSequence)
	fmt.Fprintf(&buf, "log %d\n", m.logNumber)
	for _, n := range m.tables {
		fmt.Fprintf(&buf, "table %d\n", n)
	}
	return buf.Bytes()
}

func decodeManifest(r io.Reader) (*manifest, error) {
	sc := bufio.NewScanner(r)
	m := &manifest{}
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		key, val, ok := strings.Cut(text, " ")
		if !ok {
			return nil, corruption(nil, "CURRENT line %d: %q", line, text)
		}
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return nil, corruption(err, "CURRENT line %d", line)
		}
		if line == 1 {
			if key != manifestMagic || n != manifestVersion {
				return nil, corruption(nil, "CURRENT: unsupported header %q", text)
			}
			continue
		}
		switch key {
		case "next_file":
			m.nextFile = n
		case "last_sequence":
			m.lastSequence = dbformat.SequenceNumber(n)
		case "log":
			m.logNumber = n
		case "table":
			m.tables = append(m.tables, n)
		default:
			return nil, corruption(nil, "CURRENT line %d: unknown field %q", line, key)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, ioError(err, "read CURRENT")
	}
	if line == 0 {
		return nil, corruption(nil, "CURRENT is empty")
	}
	return m, nil
}

func readManifest(fs vfs.FS, dir string) (*manifest, error) {
	f, err := fs.Open(filepath.Join(dir, currentFileName))
	if err != nil {
		return nil, ioError(err, "open %s", filepath.Join(dir, currentFileName))
	}
	defer f.Close()
	return decodeManifest(f)
}

func writeManifest(fs vfs.FS, dir string, m *manifest) error {
	path := filepath.Join(dir, currentFileName)
	tmp := path + ".tmp"
	f, err := fs.Create(tmp)
	if err != nil {
		return ioError(err, "create %s", tmp)
	}
	if _, err := f.Write(m.encode()); err != nil {
		f.Close()
		return ioError(err, "write %s", tmp)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return ioError(err, "sync %s", tmp)
	}
	if err := f.Close(); err != nil {
		return ioError(err, "close %s", tmp)
	}
	if err := fs.Rename(tmp, path); err != nil {
		return ioError(err, "rename %s", tmp)
	}
	if err := fs.SyncDir(dir); err != nil {
		return ioError(err, "sync dir %s", dir)
	}
	return nil
}
