package codec

import (
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// lz4Levels maps effort 0-9 onto lz4 compression levels; 0 is the fast mode.
var lz4Levels = []lz4.CompressionLevel{
	lz4.Fast,
	lz4.Level1, lz4.Level2, lz4.Level3,
	lz4.Level4, lz4.Level5, lz4.Level6,
	lz4.Level7, lz4.Level8, lz4.Level9,
}

// LZ4 compresses with the LZ4 frame format. It trades ratio for speed.
type LZ4 struct{}

func (LZ4) Name() string   { return "lz4" }
func (LZ4) Suffix() string { return ".lz4" }

// LevelRange returns the accepted effort levels.
func (LZ4) LevelRange() (int, int) { return 0, len(lz4Levels) - 1 }

func (LZ4) DefaultLevel() int { return 0 }

func (LZ4) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	if level < 0 {
		level = 0
	}
	if level >= len(lz4Levels) {
		level = len(lz4Levels) - 1
	}

	zw := lz4.NewWriter(w)
	if err := zw.Apply(
		lz4.CompressionLevelOption(lz4Levels[level]),
		lz4.ConcurrencyOption(1),
	); err != nil {
		return nil, fmt.Errorf("lz4 writer options: %w", err)
	}
	return zw, nil
}

func (LZ4) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}
