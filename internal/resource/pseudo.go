package resource

import (
	"time"

	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Pseudo is a resource derived from the content of another one, e.g. one
// entry of a ConfigMap's data. It shares the parent's namespace and lifetime.
type Pseudo struct {
	parent    Resource
	extractor string
	child     string
	value     any
	projected map[string]any
}

func (*Pseudo) isResource() {}

// NewPseudo returns the child named child that extractor produced from parent.
func NewPseudo(parent Resource, extractor, child string, value any) *Pseudo {
	p := &Pseudo{parent: parent, extractor: extractor, child: child, value: value}
	kind := p.Kind()
	p.projected = map[string]any{
		"apiVersion": kind.GroupVersion().String(),
		"kind":       kind.Kind,
		"metadata": map[string]any{
			"name":      p.Name(),
			"namespace": p.Namespace(),
		},
		"id":     child,
		"value":  value,
		"parent": parent.Object(),
	}
	return p
}

// Parent returns the resource this one was extracted from.
func (p *Pseudo) Parent() Resource { return p.parent }

// Extractor returns the name of the extractor that produced this resource.
func (p *Pseudo) Extractor() string { return p.extractor }

// ChildID returns the id of this child within its parent and extractor.
func (p *Pseudo) ChildID() string { return p.child }

// Value returns the extracted value. Callers must not modify it.
func (p *Pseudo) Value() any { return p.value }

func (p *Pseudo) Kind() schema.GroupVersionKind {
	return DerivedKind(p.parent.Kind(), p.extractor, p.child)
}

func (p *Pseudo) Identity() string {
	return DerivedIdentity(p.parent.Identity(), p.extractor, p.child)
}

func (p *Pseudo) Namespace() string { return p.parent.Namespace() }

// Name is the value's "name" field when it has one, the child id otherwise.
func (p *Pseudo) Name() string {
	if m, ok := p.value.(map[string]any); ok {
		if s, ok := m["name"].(string); ok && s != "" {
			return s
		}
	}
	return p.child
}

func (p *Pseudo) CreationTimestamp() time.Time    { return p.parent.CreationTimestamp() }
func (p *Pseudo) DeletionTimestamp() *time.Time   { return p.parent.DeletionTimestamp() }
func (p *Pseudo) Age(now time.Time) time.Duration { return p.parent.Age(now) }

func (p *Pseudo) Status() string {
	if m, ok := p.value.(map[string]any); ok {
		if s, ok := m["status"].(string); ok {
			return s
		}
	}
	return ""
}

func (p *Pseudo) Object() map[string]any { return p.projected }
