// Package options reads and writes the OPTIONS file persisted next to the
// data so that tools can report the settings a database was created with.
//
// The file is INI-style:
//
//	[Version]
//	  rockyard_version=1.0
//	  options_file_version=1
//	[DBOptions]
//	  max_open_files=1000
//	  info_log_level=INFO_LEVEL
//	[CFOptions "default"]
//	  write_buffer_size=4194304
//	  compression=kSnappyCompression
//	[TableOptions/BlockBasedTable "default"]
//	  block_size=4096
//	  checksum=kXXH3
//	  block_cache_size=8388608
package options

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aalhour/rockyardhost/internal/checksum"
	"github.com/aalhour/rockyardhost/internal/compression"
	"github.com/aalhour/rockyardhost/internal/vfs"
)

// FileVersion is the options_file_version this package writes.
const FileVersion = 1

// File is the parsed content of an OPTIONS file.
type File struct {
	Version            string
	OptionsFileVersion int

	MaxOpenFiles    int
	InfoLogLevel    string
	WriteBufferSize int64
	Compression     compression.Type
	BlockSize       int
	Checksum        checksum.Type
	BlockCacheSize  int64
}

// Write encodes f.
func Write(w io.Writer, f *File) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# Written by rockyardhost. Do not edit while the database is open.\n")
	fmt.Fprintf(bw, "[Version]\n  rockyard_version=%s\n  options_file_version=%d\n\n", f.Version, FileVersion)
	fmt.Fprintf(bw, "[DBOptions]\n  max_open_files=%d\n  info_log_level=%s_LEVEL\n\n", f.MaxOpenFiles, strings.ToUpper(f.InfoLogLevel))
	fmt.Fprintf(bw, "[CFOptions \"default\"]\n  write_buffer_size=%d\n  compression=%s\n\n", f.WriteBufferSize, f.Compression)
	fmt.Fprintf(bw, "[TableOptions/BlockBasedTable \"default\"]\n  block_size=%d\n  checksum=%s\n  block_cache_size=%d\n",
		f.BlockSize, checksumName(f.Checksum), f.BlockCacheSize)
	return bw.Flush()
}

// WriteFile writes f to path atomically (temp file, sync, rename).
func WriteFile(fs vfs.FS, path string, f *File) error {
	tmp := path + ".tmp"
	out, err := fs.Create(tmp)
	if err != nil {
		return err
	}
	if err := Write(out, f); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return fs.Rename(tmp, path)
}

// ReadFile reads and parses path.
func ReadFile(fs vfs.FS, path string) (*File, error) {
	in, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = in.Close() }()
	return Parse(in)
}

// Parse decodes an OPTIONS file. Unknown sections and keys are ignored so
// that files written by newer versions still load.
func Parse(r io.Reader) (*File, error) {
	f := &File{}
	scanner := bufio.NewScanner(r)
	section := ""
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = line[1 : len(line)-1]
			if i := strings.IndexByte(section, ' '); i >= 0 {
				section = section[:i]
			}
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("options: line %d: expected key=value", lineNo)
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if err := f.set(section, key, value); err != nil {
			return nil, fmt.Errorf("options: line %d: %s: %w", lineNo, key, err)
		}
	}
	return f, scanner.Err()
}

func (f *File) set(section, key, value string) error {
	var err error
	switch section + "." + key {
	case "Version.rockyard_version":
		f.Version = value
	case "Version.options_file_version":
		f.OptionsFileVersion, err = strconv.Atoi(value)
	case "DBOptions.max_open_files":
		f.MaxOpenFiles, err = strconv.Atoi(value)
	case "DBOptions.info_log_level":
		f.InfoLogLevel = strings.ToLower(strings.TrimSuffix(value, "_LEVEL"))
	case "CFOptions.write_buffer_size":
		f.WriteBufferSize, err = strconv.ParseInt(value, 10, 64)
	case "CFOptions.compression":
		f.Compression, err = compression.ParseType(value)
	case "TableOptions/BlockBasedTable.block_size":
		f.BlockSize, err = strconv.Atoi(value)
	case "TableOptions/BlockBasedTable.checksum":
		f.Checksum, err = parseChecksum(value)
	case "TableOptions/BlockBasedTable.block_cache_size":
		f.BlockCacheSize, err = strconv.ParseInt(value, 10, 64)
	}
	return err
}

func checksumName(t checksum.Type) string {
	switch t {
	case checksum.TypeCRC32C:
		return "kCRC32c"
	case checksum.TypeXXH3:
		return "kXXH3"
	default:
		return "kNoChecksum"
	}
}

func parseChecksum(s string) (checksum.Type, error) {
	switch s {
	case "kCRC32c":
		return checksum.TypeCRC32C, nil
	case "kXXH3":
		return checksum.TypeXXH3, nil
	case "kNoChecksum":
		return checksum.TypeNoChecksum, nil
	}
	return 0, fmt.Errorf("unknown checksum %q", s)
}
