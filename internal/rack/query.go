package rack

import (
	"fmt"
	"sort"
	"strings"
)

// Sort fields accepted by List. Aliases accept the legacy index key names.
const (
	SortTimestamp = "timestamp"
	SortByteSize  = "byte_size"
	SortFileCount = "file_count"
	SortLabel     = "label"
	sortTagPrefix = "tag:"
)

var sortAliases = map[string]string{
	"":           SortTimestamp,
	"date":       SortTimestamp,
	"timestamp":  SortTimestamp,
	"size":       SortByteSize,
	"size_bytes": SortByteSize,
	"byte_size":  SortByteSize,
	"files":      SortFileCount,
	"file_count": SortFileCount,
	"msg":        SortLabel,
	"label":      SortLabel,
}

// Info returns a copy of the commit stored under fp.
func (s *Service) Info(fp string) (*Commit, error) {
	cat, err := s.loadCatalog()
	if err != nil {
		return nil, err
	}
	c, err := s.lookup(cat, fp)
	if err != nil {
		return nil, err
	}
	return c.Clone(), nil
}

// List returns every commit ordered by field. Ties are broken by
// fingerprint so the order is stable. Valid fields are timestamp, byte_size,
// file_count, label and tag:<name>, plus their aliases.
func (s *Service) List(field string, desc bool) ([]*Commit, error) {
	less, err := commitOrder(field)
	if err != nil {
		return nil, err
	}

	cat, err := s.loadCatalog()
	if err != nil {
		return nil, err
	}
	commits := make([]*Commit, 0, cat.Len())
	for _, c := range cat.Commits() {
		commits = append(commits, c.Clone())
	}

	sort.SliceStable(commits, func(i, j int) bool {
		a, b := commits[i], commits[j]
		if desc {
			a, b = b, a
		}
		if less(a, b) {
			return true
		}
		if less(b, a) {
			return false
		}
		return a.Fingerprint < b.Fingerprint
	})
	return commits, nil
}

func commitOrder(field string) (func(a, b *Commit) bool, error) {
	if name, ok := strings.CutPrefix(field, sortTagPrefix); ok {
		if name == "" {
			return nil, fmt.Errorf("empty tag name in sort field %q", field)
		}
		return func(a, b *Commit) bool { return a.Tags[name] < b.Tags[name] }, nil
	}

	switch sortAliases[field] {
	case SortTimestamp:
		return func(a, b *Commit) bool { return a.Timestamp.Before(b.Timestamp) }, nil
	case SortByteSize:
		return func(a, b *Commit) bool { return a.ByteSize < b.ByteSize }, nil
	case SortFileCount:
		return func(a, b *Commit) bool { return a.FileCount < b.FileCount }, nil
	case SortLabel:
		return func(a, b *Commit) bool { return a.Label < b.Label }, nil
	default:
		return nil, fmt.Errorf("unknown sort field %q", field)
	}
}

// Search returns commits matching every filter, ordered by timestamp.
// The keys "msg" and "label" match a case-insensitive substring of the
// label; any other key must equal the tag value, ignoring case.
func (s *Service) Search(filters Tags) ([]*Commit, error) {
	commits, err := s.List(SortTimestamp, false)
	if err != nil {
		return nil, err
	}

	var matched []*Commit
	for _, c := range commits {
		if matches(c, filters) {
			matched = append(matched, c)
		}
	}
	return matched, nil
}

func matches(c *Commit, filters Tags) bool {
	for k, v := range filters {
		switch k {
		case "msg", "label":
			if !strings.Contains(strings.ToLower(c.Label), strings.ToLower(v)) {
				return false
			}
		default:
			if !strings.EqualFold(c.Tags[k], v) {
				return false
			}
		}
	}
	return true
}
