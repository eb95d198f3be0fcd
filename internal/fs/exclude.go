package fs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"rack-go/internal/rack"
)

// ExcludeFileName is the optional exclude file at the project root, one glob per line.
const ExcludeFileName = ".rackignore"

// ExcludeMatcher checks relative paths against shell-style glob patterns.
// A pattern is matched against the whole relative path, forward-slash
// normalized. '*' and '?' match any character including '/', so "*.tmp"
// excludes "a.tmp" and "sub/a.tmp" alike.
type ExcludeMatcher struct {
	patterns []*regexp.Regexp
}

var _ rack.Matcher = (*ExcludeMatcher)(nil)

// NewExcludeMatcher compiles raw pattern strings in order.
// Blank lines and lines starting with '#' are skipped, and a leading "./"
// is dropped since relative paths never carry it.
func NewExcludeMatcher(rawPatterns []string) *ExcludeMatcher {
	m := &ExcludeMatcher{}
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		raw = strings.TrimPrefix(filepath.ToSlash(raw), "./")
		re, err := regexp.Compile(translateGlob(raw))
		if err != nil {
			// Unreachable for translated globs; skip rather than crash.
			continue
		}
		m.patterns = append(m.patterns, re)
	}
	return m
}

// Match reports whether relativePath is excluded by any pattern.
func (m *ExcludeMatcher) Match(relativePath string) bool {
	if relativePath == "" {
		return false
	}
	normalized := filepath.ToSlash(relativePath)
	for _, re := range m.patterns {
		if re.MatchString(normalized) {
			return true
		}
	}
	return false
}

// Len returns the number of compiled patterns.
func (m *ExcludeMatcher) Len() int {
	return len(m.patterns)
}

// translateGlob converts a shell glob into an anchored regular expression.
// Supported: '*', '?', bracket classes with '!' or '^' negation. An unclosed
// '[' is taken literally.
func translateGlob(pattern string) string {
	var b strings.Builder
	b.WriteString(`^(?s:`)

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch c := runes[i]; c {
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		case '[':
			j := i + 1
			if j < len(runes) && (runes[j] == '!' || runes[j] == '^') {
				j++
			}
			if j < len(runes) && runes[j] == ']' {
				j++
			}
			for j < len(runes) && runes[j] != ']' {
				j++
			}
			if j >= len(runes) {
				b.WriteString(`\[`)
				continue
			}
			class := runes[i+1 : j]
			b.WriteByte('[')
			if len(class) > 0 && (class[0] == '!' || class[0] == '^') {
				b.WriteByte('^')
				class = class[1:]
			}
			for _, r := range class {
				if r == '\\' || r == '[' || r == ']' || r == '^' {
					b.WriteByte('\\')
				}
				b.WriteRune(r)
			}
			b.WriteByte(']')
			i = j
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	b.WriteString(`)$`)
	return b.String()
}

// ParseExcludeFile reads a .rackignore file and returns the raw pattern strings.
// Returns nil and no error if the file does not exist.
func ParseExcludeFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening exclude file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading exclude file: %w", err)
	}
	return patterns, nil
}
