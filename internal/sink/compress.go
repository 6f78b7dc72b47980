package sink

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

const (
	CompressNone = ""
	CompressGzip = "gzip"
	CompressZstd = "zstd"
)

// Compressed writes everything it accepts through a gzip or zstd encoder
// into a file it owns.
type Compressed struct {
	f   *os.File
	enc io.WriteCloser
}

// CreateCompressed creates path and wraps it in the encoder named by kind.
func CreateCompressed(path, kind string) (*Compressed, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("error creating output file: %v", err)
	}
	enc, err := newEncoder(f, kind)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Compressed{f: f, enc: enc}, nil
}

func newEncoder(w io.Writer, kind string) (io.WriteCloser, error) {
	switch kind {
	case CompressGzip:
		return pgzip.NewWriter(w), nil
	case CompressZstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("error creating zstd encoder: %v", err)
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", kind)
	}
}

func (c *Compressed) Accept(p []byte) error {
	if _, err := c.enc.Write(p); err != nil {
		return fmt.Errorf("error compressing output: %v", err)
	}
	return nil
}

// Close finishes the compressed stream and closes the file.
func (c *Compressed) Close() error {
	encErr := c.enc.Close()
	c.f.Sync()
	fileErr := c.f.Close()
	if encErr != nil {
		return fmt.Errorf("error finishing compressed stream: %v", encErr)
	}
	return fileErr
}

// Extension returns the file suffix conventionally used for kind.
func Extension(kind string) string {
	switch kind {
	case CompressGzip:
		return ".gz"
	case CompressZstd:
		return ".zst"
	}
	return ""
}
