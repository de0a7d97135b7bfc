// Package compression compresses and decompresses table blocks.
//
// Every data block in a table file is followed by a one-byte compression type
// so that a database may mix blocks written under different settings.
package compression

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type represents a compression algorithm.
type Type uint8

const (
	// NoCompression stores blocks as-is.
	NoCompression Type = 0x0
	// SnappyCompression uses Snappy block format.
	SnappyCompression Type = 0x1
	// ZlibCompression uses raw DEFLATE.
	ZlibCompression Type = 0x2
	// LZ4Compression uses the LZ4 frame format at the fast level.
	LZ4Compression Type = 0x4
	// LZ4HCCompression uses the LZ4 frame format at level 9.
	LZ4HCCompression Type = 0x5
	// ZstdCompression uses Zstandard.
	ZstdCompression Type = 0x7
)

// String returns the name used in OPTIONS files.
func (t Type) String() string {
	switch t {
	case NoCompression:
		return "kNoCompression"
	case SnappyCompression:
		return "kSnappyCompression"
	case ZlibCompression:
		return "kZlibCompression"
	case LZ4Compression:
		return "kLZ4Compression"
	case LZ4HCCompression:
		return "kLZ4HCCompression"
	case ZstdCompression:
		return "kZSTD"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// ParseType accepts either the OPTIONS-file spelling ("kSnappyCompression")
// or a short name ("snappy", "zlib", "lz4", "lz4hc", "zstd", "none").
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimPrefix(s, "k")) {
	case "nocompression", "none", "":
		return NoCompression, nil
	case "snappycompression", "snappy":
		return SnappyCompression, nil
	case "zlibcompression", "zlib":
		return ZlibCompression, nil
	case "lz4compression", "lz4":
		return LZ4Compression, nil
	case "lz4hccompression", "lz4hc":
		return LZ4HCCompression, nil
	case "zstd", "zstdcompression":
		return ZstdCompression, nil
	default:
		return NoCompression, fmt.Errorf("compression: unknown type %q", s)
	}
}

// zstd encoders and decoders are safe for concurrent EncodeAll/DecodeAll and
// expensive to build, so one of each is shared.
var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
	return zstdEnc, zstdDec, zstdErr
}

// Compress compresses data with algorithm t.
func Compress(t Type, data []byte) ([]byte, error) {
	switch t {
	case NoCompression:
		return data, nil
	case SnappyCompression:
		return snappy.Encode(nil, data), nil
	case ZlibCompression:
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, fmt.Errorf("deflate writer: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("deflate write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("deflate close: %w", err)
		}
		return buf.Bytes(), nil
	case LZ4Compression:
		return compressLZ4(data, lz4.Fast)
	case LZ4HCCompression:
		return compressLZ4(data, lz4.Level9)
	case ZstdCompression:
		enc, _, err := zstdCodec()
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return enc.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", t)
	}
}

func compressLZ4(data []byte, level lz4.CompressionLevel) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(level)); err != nil {
		return nil, fmt.Errorf("lz4 apply level: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(t Type, data []byte) ([]byte, error) {
	switch t {
	case NoCompression:
		return data, nil
	case SnappyCompression:
		return snappy.Decode(nil, data)
	case ZlibCompression:
		r := flate.NewReader(bytes.NewReader(data))
		defer func() { _ = r.Close() }()
		return io.ReadAll(r)
	case LZ4Compression, LZ4HCCompression:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	case ZstdCompression:
		_, dec, err := zstdCodec()
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return dec.DecodeAll(data, nil)
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", t)
	}
}
