package codec

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Zstd compresses with Zstandard. Effort levels follow the zstd CLI scale
// (1-22) and are mapped onto the encoder's speed presets.
type Zstd struct{}

func (Zstd) Name() string   { return "zstd" }
func (Zstd) Suffix() string { return ".zst" }

// LevelRange returns the accepted effort levels.
func (Zstd) LevelRange() (int, int) { return 1, 22 }
func (Zstd) DefaultLevel() int { return 17 }

func (Zstd) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	enc, err := zstd.NewWriter(w,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	return enc, nil
}

func (Zstd) NewReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(true),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return zstdReader{dec}, nil
}

// zstdReader adapts *zstd.Decoder, whose Close returns nothing, to io.ReadCloser.
type zstdReader struct {
	dec *zstd.Decoder
}

func (z zstdReader) Read(p []byte) (int, error) { return z.dec.Read(p) }

func (z zstdReader) Close() error {
	z.dec.Close()
	return nil
}
