// Package compress defines the value-compression capability used by the
// client and provides zlib and no-op implementations.
//
// The client decides *when* to compress (values above a configured size
// threshold) and records that decision in the value's flags; this
// package only decides *how*. Implementations must be total: a value
// that cannot be decompressed surfaces as an *Error, never as the raw
// bytes passed through silently.
package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// DefaultThreshold is the smallest value size, in bytes, worth
// compressing. Below this the framing overhead outweighs the savings.
const DefaultThreshold = 128

// Compressor compresses and decompresses raw value buffers.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// Error reports a failed compress or decompress operation. A decompress
// failure on data that was flagged as compressed usually means the data
// was written with a different algorithm, or corrupted in transit.
type Error struct {
	Op  string // "compress" or "decompress"
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("compress: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Zlib compresses values with the zlib (RFC 1950) deflate format.
type Zlib struct {
	Level int // zlib compression level, zlib.DefaultCompression if unset via NewZlib
}

// NewZlib returns a Zlib compressor at the default compression level.
func NewZlib() *Zlib {
	return &Zlib{Level: zlib.DefaultCompression}
}

// Compress deflates data into a fresh buffer.
func (z *Zlib) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, z.Level)
	if err != nil {
		return nil, &Error{Op: "compress", Err: err}
	}
	if _, err := w.Write(data); err != nil {
		return nil, &Error{Op: "compress", Err: err}
	}
	if err := w.Close(); err != nil {
		return nil, &Error{Op: "compress", Err: err}
	}
	return buf.Bytes(), nil
}

// Decompress inflates data into a fresh buffer.
func (z *Zlib) Decompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Op: "decompress", Err: err}
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, &Error{Op: "decompress", Err: err}
	}
	return out, nil
}

// Noop is a Compressor that leaves data untouched. Configuring it
// disables compression: the client will never mark values as
// compressed when the no-op compressor is selected.
type Noop struct{}

// Compress returns data unchanged.
func (Noop) Compress(data []byte) ([]byte, error) {
	return data, nil
}

// Decompress returns data unchanged.
func (Noop) Decompress(data []byte) ([]byte, error) {
	return data, nil
}
