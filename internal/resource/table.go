package resource

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// ErrUnknownKind is returned when a kind has no entry in the table.
var ErrUnknownKind = errors.New("unknown kind")

// Info describes how to handle one kind.
type Info struct {
	Kind schema.GroupVersionKind
	// Resource is the plural resource name, e.g. "pods". Empty if not yet discovered.
	Resource   string
	Namespaced bool
	// New returns an empty typed object. Nil for kinds without a static Go type.
	New func() runtime.Object
	// Status computes a short status string of a typed object. Optional.
	Status func(runtime.Object) string
}

// Typed reports whether the kind can be decoded into a static Go type.
func (i Info) Typed() bool { return i.New != nil }

// GroupVersionResource returns the GVR, valid only when Resource is set.
func (i Info) GroupVersionResource() schema.GroupVersionResource {
	return i.Kind.GroupVersion().WithResource(i.Resource)
}

// Table maps kind ids to their Info. It starts from a fixed list of static
// kinds and grows with everything discovered at runtime.
type Table struct {
	mu    sync.RWMutex
	infos map[schema.GroupVersionKind]Info
}

// NewTable returns a table holding infos.
func NewTable(infos ...Info) *Table {
	t := &Table{infos: make(map[schema.GroupVersionKind]Info, len(infos))}
	for _, i := range infos {
		t.Add(i)
	}
	return t
}

// Add records info. Discovered data (resource, scope) is merged into an
// existing static entry instead of replacing its decoder.
func (t *Table) Add(info Info) {
	t.mu.Lock()
	defer t.mu.Unlock()
	existing, ok := t.infos[info.Kind]
	if !ok {
		t.infos[info.Kind] = info
		return
	}
	if info.Resource != "" {
		existing.Resource = info.Resource
		existing.Namespaced = info.Namespaced
	}
	if info.New != nil {
		existing.New = info.New
	}
	if info.Status != nil {
		existing.Status = info.Status
	}
	t.infos[info.Kind] = existing
}

// Lookup returns the info for kind.
func (t *Table) Lookup(kind schema.GroupVersionKind) (Info, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.infos[kind]
	return i, ok
}

// Kinds returns all kinds in the table, sorted.
func (t *Table) Kinds() []schema.GroupVersionKind {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]schema.GroupVersionKind, 0, len(t.infos))
	for k := range t.infos {
		out = append(out, k)
	}
	SortKinds(out)
	return out
}

// Decode turns a raw object of kind into a Resource. Typed kinds become
// *Typed unless forceUnstructured is set; everything else becomes *Unstructured.
func (t *Table) Decode(kind schema.GroupVersionKind, u *unstructured.Unstructured, forceUnstructured bool) (Resource, error) {
	info, ok := t.Lookup(kind)
	if forceUnstructured || !ok || !info.Typed() {
		return NewUnstructured(kind, u), nil
	}
	obj := info.New()
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(u.Object, obj); err != nil {
		return nil, fmt.Errorf("decode %s %s/%s: %w", kind.Kind, u.GetNamespace(), u.GetName(), err)
	}
	return &Typed{object: object{kind: kind, u: u}, obj: obj, status: info.Status}, nil
}

// SortKinds orders kinds by group, version and kind.
func SortKinds(kinds []schema.GroupVersionKind) {
	slices.SortFunc(kinds, func(a, b schema.GroupVersionKind) int {
		return cmp.Or(
			strings.Compare(a.Group, b.Group),
			strings.Compare(a.Version, b.Version),
			strings.Compare(a.Kind, b.Kind),
		)
	})
}
