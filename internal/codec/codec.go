// Package codec implements the streaming compression pipeline.
//
// Every codec writes a self-describing stream, so decompression never needs
// the effort level used at compression time. Codecs are identified on disk by
// the file suffix they append.
package codec

import (
	"fmt"
	"io"
	"strings"
)

// ChunkSize is the fixed buffer size used when streaming data through a codec.
const ChunkSize = 128 * 1024

// Codec is a streaming compressor/decompressor.
type Codec interface {
	// Name is the identifier used in configuration ("zstd", "lz4").
	Name() string

	// Suffix is appended to compressed file names (".zst", ".lz4").
	Suffix() string

	// LevelRange returns the lowest and highest accepted effort levels.
	LevelRange() (lo, hi int)

	// DefaultLevel is the effort used when none is configured.
	DefaultLevel() int

	// NewWriter returns a writer that compresses into w at the given effort level.
	// The caller must Close the writer to flush the final frame; Close does not close w.
	NewWriter(w io.Writer, level int) (io.WriteCloser, error)

	// NewReader returns a reader that decompresses r.
	NewReader(r io.Reader) (io.ReadCloser, error)
}

var registry = []Codec{Zstd{}, LZ4{}}

// Default is the codec used when none is configured.
const Default = "zstd"

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	if name == "" {
		name = Default
	}
	for _, c := range registry {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("unknown codec: %q", name)
}

// ForPath returns the codec whose suffix ends path, along with path minus the suffix.
// ok is false when no registered codec recognizes the suffix.
func ForPath(path string) (c Codec, base string, ok bool) {
	for _, c := range registry {
		if strings.HasSuffix(path, c.Suffix()) && len(path) > len(c.Suffix()) {
			return c, strings.TrimSuffix(path, c.Suffix()), true
		}
	}
	return nil, "", false
}

// ValidateLevel checks that level is within the effort range of c.
func ValidateLevel(c Codec, level int) error {
	lo, hi := c.LevelRange()
	if level < lo || level > hi {
		return fmt.Errorf("%s effort level %d out of range [%d, %d]", c.Name(), level, lo, hi)
	}
	return nil
}

// all returns every registered codec.
func all() []Codec {
	return append([]Codec(nil), registry...)
}

// Compress streams src through c into dst at the given effort level.
func Compress(c Codec, dst io.Writer, src io.Reader, level int) (int64, error) {
	w, err := c.NewWriter(dst, level)
	if err != nil {
		return 0, fmt.Errorf("creating %s writer: %w", c.Name(), err)
	}
	n, err := Copy(w, src)
	if err != nil {
		w.Close()
		return n, fmt.Errorf("compressing: %w", err)
	}
	if err := w.Close(); err != nil {
		return n, fmt.Errorf("finalizing %s stream: %w", c.Name(), err)
	}
	return n, nil
}

// Decompress streams the compressed src through c into dst.
func Decompress(c Codec, dst io.Writer, src io.Reader) (int64, error) {
	r, err := c.NewReader(src)
	if err != nil {
		return 0, fmt.Errorf("creating %s reader: %w", c.Name(), err)
	}
	defer r.Close()

	n, err := Copy(dst, r)
	if err != nil {
		return n, fmt.Errorf("decompressing: %w", err)
	}
	return n, nil
}

// Copy copies src to dst through a single ChunkSize buffer. Unlike io.Copy it
// never hands the stream to a ReaderFrom or WriterTo, so memory stays bounded
// by the buffer regardless of what the codec implementations prefer.
func Copy(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, ChunkSize)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			m, werr := dst.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
			if m != n {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
