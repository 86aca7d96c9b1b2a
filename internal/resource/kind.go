package resource

import (
	"strings"

	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Separator joins parent kind or identity, extractor name and child id of a
// derived resource. Kubernetes kinds and UIDs never contain it, extractor
// names are rejected with it and child ids are escaped.
const Separator = "#"

var childEscaper = strings.NewReplacer("%", "%25", Separator, "%23")

// EscapeChild makes a child id safe to join with Separator. Map keys
// returned by extractors may contain it.
func EscapeChild(child string) string {
	return childEscaper.Replace(child)
}

// DerivedKind returns the kind id of a child extracted from a resource of kind parent.
// Group and version are inherited; the Kind becomes "{parent}#{extractor}#{child}"
// with child escaped.
func DerivedKind(parent schema.GroupVersionKind, extractor, child string) schema.GroupVersionKind {
	return schema.GroupVersionKind{
		Group:   parent.Group,
		Version: parent.Version,
		Kind:    parent.Kind + Separator + extractor + Separator + EscapeChild(child),
	}
}

// DerivedIdentity returns the identity of a child extracted from the resource with parentIdentity.
func DerivedIdentity(parentIdentity, extractor, child string) string {
	return parentIdentity + Separator + extractor + Separator + EscapeChild(child)
}

// IsDerived reports whether kind was produced by DerivedKind.
func IsDerived(kind schema.GroupVersionKind) bool {
	return strings.Contains(kind.Kind, Separator)
}

// ParentKind strips the last "#extractor#child" pair from a derived kind.
func ParentKind(kind schema.GroupVersionKind) (schema.GroupVersionKind, bool) {
	i := strings.LastIndex(kind.Kind, Separator)
	if i < 0 {
		return kind, false
	}
	j := strings.LastIndex(kind.Kind[:i], Separator)
	if j < 0 {
		return kind, false
	}
	kind.Kind = kind.Kind[:j]
	return kind, true
}

// ExtractorKind returns "{parent}#{extractor}" for a derived kind, i.e. the key
// shared by all children of one extractor.
func ExtractorKind(kind schema.GroupVersionKind) (schema.GroupVersionKind, bool) {
	i := strings.LastIndex(kind.Kind, Separator)
	if i < 0 || !strings.Contains(kind.Kind[:i], Separator) {
		return kind, false
	}
	kind.Kind = kind.Kind[:i]
	return kind, true
}

// RootKind walks up the derived chain to the real kind.
func RootKind(kind schema.GroupVersionKind) schema.GroupVersionKind {
	for {
		parent, ok := ParentKind(kind)
		if !ok {
			return kind
		}
		kind = parent
	}
}
