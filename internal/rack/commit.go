package rack

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Storage layout modes.
const (
	ModeFiles  = "files"  // each file compressed independently, mirroring the source tree
	ModeFolder = "folder" // all files packed into one container, compressed as one stream
)

// Commit is the metadata record stored under a fingerprint in the index.
// Label and Timestamp are fixed at creation; StoragePath and Tags change
// only through re-identification.
type Commit struct {
	Fingerprint string    `json:"-"`
	Label       string    `json:"label"`
	Timestamp   time.Time `json:"timestamp"`
	ByteSize    int64     `json:"byte_size"`
	FileCount   int       `json:"file_count"`
	StoragePath string    `json:"storage_path"`
	SourceDir   string    `json:"source_dir"`
	Tags        Tags      `json:"tags"`
	Mode        string    `json:"mode,omitempty"`
	Codec       string    `json:"codec,omitempty"`
	Encrypted   bool      `json:"encrypted,omitempty"`
}

// Clone returns a deep copy of the commit.
func (c *Commit) Clone() *Commit {
	dup := *c
	dup.Tags = c.Tags.Clone()
	return &dup
}

// Tags maps tag keys to values. Ordering is irrelevant;
// use Keys for a deterministic iteration order.
type Tags map[string]string

// Clone returns a copy of t. A nil Tags clones to an empty, non-nil map.
func (t Tags) Clone() Tags {
	dup := make(Tags, len(t))
	for k, v := range t {
		dup[k] = v
	}
	return dup
}

// Merge returns a new Tags with update applied over t.
// Values in update win on key conflict; keys absent from update are kept.
func (t Tags) Merge(update Tags) Tags {
	merged := t.Clone()
	for k, v := range update {
		merged[k] = v
	}
	return merged
}

// Equal reports whether t and other hold the same key/value pairs.
func (t Tags) Equal(other Tags) bool {
	if len(t) != len(other) {
		return false
	}
	for k, v := range t {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Keys returns the tag keys sorted lexicographically.
func (t Tags) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String formats tags as "k1=v1, k2=v2" in key order.
func (t Tags) String() string {
	parts := make([]string, 0, len(t))
	for _, k := range t.Keys() {
		parts = append(parts, k+"="+t[k])
	}
	return strings.Join(parts, ", ")
}

// ParseTags parses "key=value" arguments. Keys and values are trimmed;
// the first '=' separates key from value.
func ParseTags(args []string) (Tags, error) {
	tags := make(Tags, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("invalid tag %q (expected key=value)", arg)
		}
		k = strings.TrimSpace(k)
		if k == "" {
			return nil, fmt.Errorf("invalid tag %q (empty key)", arg)
		}
		tags[k] = strings.TrimSpace(v)
	}
	return tags, nil
}

// Catalog is the in-memory form of the index document: every commit keyed by fingerprint.
// It is loaded at the start of an operation and saved whole at the end.
type Catalog struct {
	commits map[string]*Commit
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{commits: make(map[string]*Commit)}
}

// Get returns the commit stored under fingerprint, or nil.
func (c *Catalog) Get(fingerprint string) *Commit {
	return c.commits[fingerprint]
}

// Has reports whether fingerprint is present.
func (c *Catalog) Has(fingerprint string) bool {
	_, ok := c.commits[fingerprint]
	return ok
}

// Put stores commit under its Fingerprint, replacing any existing entry.
func (c *Catalog) Put(commit *Commit) {
	c.commits[commit.Fingerprint] = commit
}

// Delete removes fingerprint from the catalog.
func (c *Catalog) Delete(fingerprint string) {
	delete(c.commits, fingerprint)
}

// Len returns the number of commits.
func (c *Catalog) Len() int {
	return len(c.commits)
}

// Fingerprints returns every fingerprint, sorted.
func (c *Catalog) Fingerprints() []string {
	fps := make([]string, 0, len(c.commits))
	for fp := range c.commits {
		fps = append(fps, fp)
	}
	sort.Strings(fps)
	return fps
}

// Commits returns every commit ordered by fingerprint.
func (c *Catalog) Commits() []*Commit {
	out := make([]*Commit, 0, len(c.commits))
	for _, fp := range c.Fingerprints() {
		out = append(out, c.commits[fp])
	}
	return out
}
