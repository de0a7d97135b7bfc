package options

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aalhour/rockyardhost/internal/checksum"
	"github.com/aalhour/rockyardhost/internal/compression"
	"github.com/aalhour/rockyardhost/internal/vfs"
)

func TestWriteFile_ReadFile(t *testing.T) {
	want := &File{
		Version:         "1.0",
		MaxOpenFiles:    1000,
		InfoLogLevel:    "info",
		WriteBufferSize: 4 << 20,
		Compression:     compression.SnappyCompression,
		BlockSize:       4096,
		Checksum:        checksum.TypeXXH3,
		BlockCacheSize:  8 << 20,
	}
	fs := vfs.Default()
	path := filepath.Join(t.TempDir(), "OPTIONS")
	if err := WriteFile(fs, path, want); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	got, err := ReadFile(fs, path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	want.OptionsFileVersion = FileVersion
	if *got != *want {
		t.Errorf("ReadFile() = %+v, want %+v", got, want)
	}
}

func TestParse_IgnoresUnknownAndRejectsGarbage(t *testing.T) {
	in := "[Future]\n  shiny=1\n[CFOptions \"default\"]\n  unknown_key=3\n  compression=kZSTD\n"
	f, err := Parse(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if f.Compression != compression.ZstdCompression {
		t.Errorf("Compression = %v", f.Compression)
	}

	if _, err := Parse(strings.NewReader("[DBOptions]\nnot a pair\n")); err == nil {
		t.Error("Parse() accepted a line without '='")
	}
	if _, err := Parse(strings.NewReader("[DBOptions]\nmax_open_files=lots\n")); err == nil {
		t.Error("Parse() accepted a non-numeric value")
	}
}

func TestWrite_Format(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, &File{Version: "1.0", InfoLogLevel: "warn", Checksum: checksum.TypeCRC32C}); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"info_log_level=WARN_LEVEL", "checksum=kCRC32c", "compression=kNoCompression"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("output missing %q:\n%s", want, buf.String())
		}
	}
}
