package discovery

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/utils/clock"
	yaml "sigs.k8s.io/yaml"
)

// Kind is the on-disk form of a kind id.
type Kind struct {
	Group   string `json:"group,omitempty"`
	Version string `json:"version"`
	Kind    string `json:"kind"`
}

func (k Kind) GroupVersionKind() schema.GroupVersionKind {
	return schema.GroupVersionKind{Group: k.Group, Version: k.Version, Kind: k.Kind}
}

// Entry is the cached kind list of one cluster.
type Entry struct {
	Kinds   []Kind      `json:"kinds"`
	Created metav1.Time `json:"created"`
	Updated metav1.Time `json:"updated"`
}

// GroupVersionKinds returns the kinds as kind ids.
func (e *Entry) GroupVersionKinds() []schema.GroupVersionKind {
	out := make([]schema.GroupVersionKind, 0, len(e.Kinds))
	for _, k := range e.Kinds {
		out = append(out, k.GroupVersionKind())
	}
	return out
}

// FileCache stores one YAML file per cluster identity in Dir.
type FileCache struct {
	Dir   string
	Clock clock.PassiveClock
}

func (c *FileCache) now() metav1.Time {
	if c.Clock == nil {
		return metav1.Now()
	}
	return metav1.NewTime(c.Clock.Now())
}

func (c *FileCache) path(identity string) string {
	return filepath.Join(c.Dir, identity+".yaml")
}

// Load returns the entry for identity. A missing file yields an empty entry
// and no error; a corrupt one yields an empty entry and the parse error.
func (c *FileCache) Load(identity string) (*Entry, error) {
	data, err := os.ReadFile(c.path(identity))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Entry{}, nil
		}
		return &Entry{}, err
	}
	e := &Entry{}
	if err := yaml.Unmarshal(data, e); err != nil {
		return &Entry{}, fmt.Errorf("parse %s: %w", c.path(identity), err)
	}
	return e, nil
}

// Store replaces the kinds of identity. The created timestamp of an existing
// entry is kept, updated is set to now.
func (c *FileCache) Store(identity string, kinds []schema.GroupVersionKind) error {
	now := c.now()
	e, _ := c.Load(identity)
	if e.Created.IsZero() {
		e.Created = now
	}
	e.Updated = now
	e.Kinds = make([]Kind, 0, len(kinds))
	for _, k := range kinds {
		e.Kinds = append(e.Kinds, Kind{Group: k.Group, Version: k.Version, Kind: k.Kind})
	}
	data, err := yaml.Marshal(e)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return err
	}
	tmp := c.path(identity) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path(identity))
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Identity turns an API server URL into a file name.
func Identity(host string) string {
	s := strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
	s = strings.Trim(unsafeChars.ReplaceAllString(s, "_"), "_")
	if s == "" {
		return "default"
	}
	return s
}
