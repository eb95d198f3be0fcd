package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewExcludeMatcher(t *testing.T) {
	t.Run("skips blank lines and comments", func(t *testing.T) {
		t.Parallel()
		m := NewExcludeMatcher([]string{"", "  ", "# comment", "*.log"})
		if m.Len() != 1 {
			t.Fatalf("expected 1 pattern, got %d", m.Len())
		}
	})

	t.Run("keeps pattern order", func(t *testing.T) {
		t.Parallel()
		m := NewExcludeMatcher([]string{"*.log", "build/*"})
		if m.Len() != 2 {
			t.Fatalf("expected 2 patterns, got %d", m.Len())
		}
	})
}

func TestExcludeMatcher_Match(t *testing.T) {
	tests := []struct {
		name         string
		patterns     []string
		relativePath string
		want         bool
	}{
		{
			name:         "star matches file in root",
			patterns:     []string{"*.tmp"},
			relativePath: "app.tmp",
			want:         true,
		},
		{
			name:         "star crosses directory separators",
			patterns:     []string{"*.tmp"},
			relativePath: filepath.Join("sub", "deep", "app.tmp"),
			want:         true,
		},
		{
			name:         "different extension is kept",
			patterns:     []string{"*.tmp"},
			relativePath: "app.log",
			want:         false,
		},
		{
			name:         "pattern is anchored to the whole path",
			patterns:     []string{"app.log"},
			relativePath: filepath.Join("sub", "app.log"),
			want:         false,
		},
		{
			name:         "directory prefix pattern",
			patterns:     []string{"debug/*"},
			relativePath: filepath.Join("debug", "trace.log"),
			want:         true,
		},
		{
			name:         "leading dot slash is ignored",
			patterns:     []string{"./debug/*"},
			relativePath: filepath.Join("debug", "trace.log"),
			want:         true,
		},
		{
			name:         "directory prefix does not match sibling",
			patterns:     []string{"debug/*"},
			relativePath: filepath.Join("release", "trace.log"),
			want:         false,
		},
		{
			name:         "question mark wildcard",
			patterns:     []string{"?.txt"},
			relativePath: "a.txt",
			want:         true,
		},
		{
			name:         "question mark does not match multiple chars",
			patterns:     []string{"?.txt"},
			relativePath: "ab.txt",
			want:         false,
		},
		{
			name:         "character class",
			patterns:     []string{"*.[oa]"},
			relativePath: "main.o",
			want:         true,
		},
		{
			name:         "negated character class",
			patterns:     []string{"*.[!oa]"},
			relativePath: "main.o",
			want:         false,
		},
		{
			name:         "negated character class matches others",
			patterns:     []string{"*.[!oa]"},
			relativePath: "main.c",
			want:         true,
		},
		{
			name:         "unclosed bracket is literal",
			patterns:     []string{"[abc"},
			relativePath: "[abc",
			want:         true,
		},
		{
			name:         "regexp metacharacters are literal",
			patterns:     []string{"a+b(1).log"},
			relativePath: "a+b(1).log",
			want:         true,
		},
		{
			name:         "no patterns matches nothing",
			patterns:     nil,
			relativePath: "anything.txt",
			want:         false,
		},
		{
			name:         "empty string path",
			patterns:     []string{"*"},
			relativePath: "",
			want:         false,
		},
		{
			name:         "multiple patterns second matches",
			patterns:     []string{"*.log", "*.tmp"},
			relativePath: "data.tmp",
			want:         true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewExcludeMatcher(tt.patterns)
			got := m.Match(tt.relativePath)
			if got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.relativePath, got, tt.want)
			}
		})
	}
}

func TestParseExcludeFile(t *testing.T) {
	t.Run("reads patterns from file", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		path := filepath.Join(dir, ExcludeFileName)
		content := "*.log\n# comment\n\n*.tmp\nbuild/output\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("writing test file: %v", err)
		}

		patterns, err := ParseExcludeFile(path)
		if err != nil {
			t.Fatalf("ParseExcludeFile() error = %v", err)
		}
		if len(patterns) != 5 { // blank and comment lines are filtered by NewExcludeMatcher
			t.Fatalf("expected 5 raw lines, got %d", len(patterns))
		}

		m := NewExcludeMatcher(patterns)
		if m.Len() != 3 {
			t.Errorf("expected 3 parsed patterns, got %d", m.Len())
		}
	})

	t.Run("returns nil for missing file", func(t *testing.T) {
		t.Parallel()
		patterns, err := ParseExcludeFile("/nonexistent/" + ExcludeFileName)
		if err != nil {
			t.Fatalf("ParseExcludeFile() error = %v", err)
		}
		if patterns != nil {
			t.Errorf("expected nil patterns, got %v", patterns)
		}
	})
}
