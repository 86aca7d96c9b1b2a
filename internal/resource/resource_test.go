package resource

import (
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
)

var (
	podKind       = schema.GroupVersionKind{Version: "v1", Kind: "Pod"}
	configMapKind = schema.GroupVersionKind{Version: "v1", Kind: "ConfigMap"}
	widgetKind    = schema.GroupVersionKind{Group: "example.com", Version: "v1", Kind: "Widget"}
)

func newObject(kind schema.GroupVersionKind, ns, name, uid string) *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetGroupVersionKind(kind)
	u.SetNamespace(ns)
	u.SetName(name)
	u.SetUID(types.UID(uid))
	return u
}

func TestDerivedNaming(t *testing.T) {
	kind := DerivedKind(configMapKind, "jobs", "42")
	if kind.Kind != "ConfigMap#jobs#42" || kind.Version != "v1" || kind.Group != "" {
		t.Fatalf("DerivedKind = %v", kind)
	}
	if id := DerivedIdentity("uid-1", "jobs", "42"); id != "uid-1#jobs#42" {
		t.Fatalf("DerivedIdentity = %q", id)
	}

	parent, ok := ParentKind(kind)
	if !ok || parent != configMapKind {
		t.Fatalf("ParentKind = %v,%v", parent, ok)
	}
	ek, ok := ExtractorKind(kind)
	if !ok || ek.Kind != "ConfigMap#jobs" {
		t.Fatalf("ExtractorKind = %v,%v", ek, ok)
	}
	if _, ok := ParentKind(configMapKind); ok {
		t.Fatalf("real kind must not have a parent")
	}
	if _, ok := ExtractorKind(schema.GroupVersionKind{Kind: "ConfigMap#jobs"}); ok {
		t.Fatalf("extractor key must not have an extractor kind")
	}

	nested := DerivedKind(kind, "steps", "1")
	if nested.Kind != "ConfigMap#jobs#42#steps#1" {
		t.Fatalf("nested = %v", nested)
	}
	if RootKind(nested) != configMapKind {
		t.Fatalf("RootKind = %v", RootKind(nested))
	}
}

func TestDerivedNamingEscapesChild(t *testing.T) {
	kind := DerivedKind(widgetKind, "data", "a#b")
	if kind.Kind != "Widget#data#a%23b" {
		t.Fatalf("DerivedKind = %v", kind)
	}
	if id := DerivedIdentity("w1", "data", "50%#x"); id != "w1#data#50%25%23x" {
		t.Fatalf("DerivedIdentity = %q", id)
	}
	if parent, ok := ParentKind(kind); !ok || parent != widgetKind {
		t.Fatalf("ParentKind = %v,%v", parent, ok)
	}
	if ek, ok := ExtractorKind(kind); !ok || ek.Kind != "Widget#data" {
		t.Fatalf("ExtractorKind = %v,%v", ek, ok)
	}
	if RootKind(DerivedKind(kind, "lines", "#")) != widgetKind {
		t.Fatalf("RootKind of nested escaped kind")
	}
}

func TestIdentityFallback(t *testing.T) {
	table := DefaultTable()
	withUID, err := table.Decode(podKind, newObject(podKind, "default", "a", "u1"), false)
	if err != nil {
		t.Fatal(err)
	}
	if withUID.Identity() != "u1" {
		t.Fatalf("identity = %q; want u1", withUID.Identity())
	}
	noUID, err := table.Decode(podKind, newObject(podKind, "default", "a", ""), false)
	if err != nil {
		t.Fatal(err)
	}
	if noUID.Identity() != "Pod/default/a" {
		t.Fatalf("identity = %q; want Pod/default/a", noUID.Identity())
	}
}

func TestDecodeVariants(t *testing.T) {
	table := DefaultTable()
	u := newObject(podKind, "default", "a", "u1")
	if err := unstructured.SetNestedField(u.Object, "Running", "status", "phase"); err != nil {
		t.Fatal(err)
	}

	r, err := table.Decode(podKind, u, false)
	if err != nil {
		t.Fatal(err)
	}
	typed, ok := r.(*Typed)
	if !ok {
		t.Fatalf("got %T; want *Typed", r)
	}
	if _, ok := typed.Typed().(*corev1.Pod); !ok {
		t.Fatalf("typed object is %T", typed.Typed())
	}
	if r.Status() != "Running" {
		t.Fatalf("status = %q", r.Status())
	}

	r, err = table.Decode(podKind, u, true)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.(*Unstructured); !ok {
		t.Fatalf("forced decode got %T", r)
	}

	w := newObject(widgetKind, "ns", "w", "u2")
	r, err = table.Decode(widgetKind, w, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.(*Unstructured); !ok {
		t.Fatalf("unknown kind got %T", r)
	}
	if r.Status() != "" {
		t.Fatalf("status without status stanza = %q", r.Status())
	}
}

func TestDecodeError(t *testing.T) {
	table := DefaultTable()
	u := newObject(podKind, "default", "a", "u1")
	u.Object["spec"] = "not-a-map"
	if _, err := table.Decode(podKind, u, false); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestTableAddMergesDiscovery(t *testing.T) {
	table := DefaultTable()
	table.Add(Info{Kind: podKind, Resource: "pods", Namespaced: true})
	info, ok := table.Lookup(podKind)
	if !ok || !info.Typed() {
		t.Fatalf("discovery must not drop the static decoder: %+v", info)
	}
	table.Add(Info{Kind: widgetKind, Resource: "widgets", Namespaced: true})
	info, _ = table.Lookup(widgetKind)
	if info.Typed() || info.GroupVersionResource().Resource != "widgets" {
		t.Fatalf("widget info = %+v", info)
	}
}

func TestPseudo(t *testing.T) {
	table := DefaultTable()
	parentObj := newObject(configMapKind, "ns1", "cm", "p1")
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	parentObj.SetCreationTimestamp(metav1.NewTime(created))
	parent, err := table.Decode(configMapKind, parentObj, false)
	if err != nil {
		t.Fatal(err)
	}

	p := NewPseudo(parent, "jobs", "42", map[string]any{"name": "nightly", "status": "Done"})
	if p.Kind().Kind != "ConfigMap#jobs#42" {
		t.Fatalf("kind = %v", p.Kind())
	}
	if p.Identity() != "p1#jobs#42" {
		t.Fatalf("identity = %q", p.Identity())
	}
	if p.Name() != "nightly" || p.Namespace() != "ns1" || p.Status() != "Done" {
		t.Fatalf("name/ns/status = %q/%q/%q", p.Name(), p.Namespace(), p.Status())
	}
	if got := p.Age(created.Add(time.Hour)); got != time.Hour {
		t.Fatalf("age = %v", got)
	}
	if p.Object()["id"] != "42" {
		t.Fatalf("projection = %v", p.Object())
	}

	scalar := NewPseudo(parent, "keys", "a", "x")
	if scalar.Name() != "a" || scalar.Status() != "" {
		t.Fatalf("scalar child name/status = %q/%q", scalar.Name(), scalar.Status())
	}
}
