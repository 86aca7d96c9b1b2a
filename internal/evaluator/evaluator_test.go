package evaluator

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/sttts/kw/internal/columns"
	"github.com/sttts/kw/internal/resource"
	"github.com/sttts/kw/internal/testlog"
)

var (
	podKind       = schema.GroupVersionKind{Version: "v1", Kind: "Pod"}
	configMapKind = schema.GroupVersionKind{Version: "v1", Kind: "ConfigMap"}
)

func newObject(kind schema.GroupVersionKind, ns, name, uid string) *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetGroupVersionKind(kind)
	u.SetNamespace(ns)
	u.SetName(name)
	if uid != "" {
		u.SetUID(types.UID(uid))
	}
	return u
}

func newManager(t *testing.T, cfg *columns.Config) *Manager {
	return New(Options{
		Workers: 2,
		Log:     testlog.New(t),
		Clock:   clocktesting.NewFakePassiveClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
		Config:  cfg,
	})
}

func names(m *Manager, kind schema.GroupVersionKind) []string {
	var out []string
	for e := range m.GetResources(kind) {
		out = append(out, e.Resource.Namespace()+"/"+e.Resource.Name())
	}
	return out
}

func TestReplaceLastWriteWins(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()

	first := newObject(podKind, "default", "web", "u1")
	first.SetLabels(map[string]string{"rev": "1"})
	m.Replace(ctx, resource.NewUnstructured(podKind, first))

	second := newObject(podKind, "default", "web", "u1")
	second.SetLabels(map[string]string{"rev": "2"})
	m.Replace(ctx, resource.NewUnstructured(podKind, second))

	if got := m.Len(podKind); got != 1 {
		t.Fatalf("expected 1 entry, got %d", got)
	}
	e, ok := m.Get(podKind, "u1")
	if !ok {
		t.Fatalf("entry u1 missing")
	}
	if got := e.Resource.Object()["metadata"].(map[string]any)["labels"].(map[string]any)["rev"]; got != "2" {
		t.Fatalf("expected last write to win, got rev=%v", got)
	}
}

func TestEvaluateAllCellsFail(t *testing.T) {
	m := newManager(t, nil)
	failing := columns.EvaluatorFunc(func(resource.Resource, time.Time) (string, error) {
		return "", errors.New("boom")
	})
	cols := []columns.ColumnSpec{{Name: "a", Eval: failing}, {Name: "b", Eval: failing}, {Name: "c"}}

	r := resource.NewUnstructured(podKind, newObject(podKind, "default", "web", "u1"))
	cells := m.Evaluate(context.Background(), r, cols)
	if len(cells) != len(cols) {
		t.Fatalf("expected %d cells, got %d", len(cols), len(cells))
	}
	for i, c := range cells {
		if !c.Failed() {
			t.Fatalf("cell %d: expected error, got %+v", i, c)
		}
	}
}

func TestEvaluateMixed(t *testing.T) {
	m := newManager(t, nil)
	script, err := columns.Compile(`object.spec.missing`)
	if err != nil {
		t.Fatal(err)
	}
	cols := append(columns.Default(), columns.ColumnSpec{Name: "broken", Eval: script})

	r := resource.NewUnstructured(podKind, newObject(podKind, "default", "web", "u1"))
	cells := m.Evaluate(context.Background(), r, cols)
	if diff := cmp.Diff([]string{"default", "web"}, []string{cells[0].Text, cells[1].Text}); diff != "" {
		t.Fatalf("unexpected cells (-want +got):\n%s", diff)
	}
	if !cells[4].Failed() {
		t.Fatalf("expected script cell to fail")
	}
}

func TestEvaluateUsesBoundedPool(t *testing.T) {
	m := newManager(t, nil)
	var mu sync.Mutex
	running, peak := 0, 0
	slow := columns.EvaluatorFunc(func(resource.Resource, time.Time) (string, error) {
		mu.Lock()
		running++
		peak = max(peak, running)
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return "x", nil
	})
	cols := make([]columns.ColumnSpec, 8)
	for i := range cols {
		cols[i] = columns.ColumnSpec{Name: "slow", Eval: slow}
	}
	r := resource.NewUnstructured(podKind, newObject(podKind, "default", "web", "u1"))
	m.Evaluate(context.Background(), r, cols)
	if peak > 2 {
		t.Fatalf("expected at most 2 concurrent evaluations, saw %d", peak)
	}
}

func TestGetResourcesOrder(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()
	for _, o := range []struct{ ns, name, uid string }{
		{"b", "x", "1"}, {"a", "z", "2"}, {"a", "y", "3"}, {"", "cluster", "4"},
	} {
		m.Replace(ctx, resource.NewUnstructured(podKind, newObject(podKind, o.ns, o.name, o.uid)))
	}
	want := []string{"/cluster", "a/y", "a/z", "b/x"}
	if diff := cmp.Diff(want, names(m, podKind)); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestGetResourcesIsSnapshot(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()
	m.Replace(ctx, resource.NewUnstructured(podKind, newObject(podKind, "a", "one", "1")))
	seq := m.GetResources(podKind)
	m.Replace(ctx, resource.NewUnstructured(podKind, newObject(podKind, "a", "two", "2")))
	if got := len(slices.Collect(seq)); got != 1 {
		t.Fatalf("expected snapshot of 1, got %d", got)
	}
}

func TestGetColumnsChain(t *testing.T) {
	podCols := []columns.ColumnSpec{{Name: "pod"}}
	dataCols := []columns.ColumnSpec{{Name: "key"}}
	m := newManager(t, &columns.Config{Columns: map[schema.GroupVersionKind][]columns.ColumnSpec{
		podKind:                                 podCols,
		{Version: "v1", Kind: "ConfigMap#data"}: dataCols,
	}})

	tests := []struct {
		kind string
		want string
	}{
		{"Pod", "pod"},
		{"Pod#containers#0", "pod"},
		{"ConfigMap#data#key1", "key"},
		{"ConfigMap#data#key1#lines#3", "key"},
		{"ConfigMap", "namespace"},
		{"Secret#data#x", "namespace"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			cols := m.GetColumns(schema.GroupVersionKind{Version: "v1", Kind: tt.kind})
			if cols[0].Name != tt.want {
				t.Fatalf("got first column %q; want %q", cols[0].Name, tt.want)
			}
		})
	}
}

func TestReplaceRunsExtractors(t *testing.T) {
	x, err := columns.CompileExtractor("jobs", `object.data`)
	if err != nil {
		t.Fatal(err)
	}
	m := newManager(t, &columns.Config{Extractors: map[schema.GroupVersionKind][]*columns.Extractor{
		configMapKind: {x},
	}})

	u := newObject(configMapKind, "default", "cfg", "p1")
	u.Object["data"] = map[string]any{"42": "answer", "7": "seven"}
	m.Replace(context.Background(), resource.NewUnstructured(configMapKind, u))

	childKind := schema.GroupVersionKind{Version: "v1", Kind: "ConfigMap#jobs#42"}
	e, ok := m.Get(childKind, "p1#jobs#42")
	if !ok {
		t.Fatalf("derived resource missing; kinds=%v", m.Kinds())
	}
	p, ok := e.Resource.(*resource.Pseudo)
	if !ok {
		t.Fatalf("expected *resource.Pseudo, got %T", e.Resource)
	}
	if p.Value() != "answer" || p.Namespace() != "default" || p.Name() != "42" {
		t.Fatalf("unexpected pseudo resource: value=%v ns=%s name=%s", p.Value(), p.Namespace(), p.Name())
	}
	if got := m.Len(configMapKind); got != 1 {
		t.Fatalf("expected parent stored once, got %d", got)
	}
}

func TestExtractorChildIDWithSeparator(t *testing.T) {
	widget := schema.GroupVersionKind{Group: "example.com", Version: "v1", Kind: "Widget"}
	x, err := columns.CompileExtractor("data", `object.data`)
	if err != nil {
		t.Fatal(err)
	}
	m := newManager(t, &columns.Config{
		Columns:    map[schema.GroupVersionKind][]columns.ColumnSpec{widget: {{Name: "widgetcol"}}},
		Extractors: map[schema.GroupVersionKind][]*columns.Extractor{widget: {x}},
	})

	u := newObject(widget, "default", "w", "w1")
	u.Object["data"] = map[string]any{"plain": "p", "a#b": "hash"}
	m.Replace(context.Background(), resource.NewUnstructured(widget, u))

	for _, child := range []string{"plain", "a#b"} {
		kind := resource.DerivedKind(widget, "data", child)
		if cols := m.GetColumns(kind); len(cols) != 1 || cols[0].Name != "widgetcol" {
			t.Errorf("%s: expected parent columns, got %d columns", kind.Kind, len(cols))
		}
		if root := resource.RootKind(kind); root != widget {
			t.Errorf("%s: RootKind = %v", kind.Kind, root)
		}
		e, ok := m.Get(kind, resource.DerivedIdentity("w1", "data", child))
		if !ok {
			t.Fatalf("%s: derived resource missing; kinds=%v", kind.Kind, m.Kinds())
		}
		if e.Resource.Name() != child {
			t.Errorf("%s: name = %q; want the raw child id", kind.Kind, e.Resource.Name())
		}
	}
	if _, ok := m.Get(schema.GroupVersionKind{Group: "example.com", Version: "v1", Kind: "Widget#data#a%23b"}, "w1#data#a%23b"); !ok {
		t.Fatalf("expected escaped kind and identity")
	}
}

func TestReplaceDepthBounded(t *testing.T) {
	// every level derives one more child
	x, err := columns.CompileExtractor("self", `[object]`)
	if err != nil {
		t.Fatal(err)
	}
	extractors := map[schema.GroupVersionKind][]*columns.Extractor{configMapKind: {x}}
	kind := "ConfigMap"
	for range 2 * MaxDepth {
		kind += "#self"
		extractors[schema.GroupVersionKind{Version: "v1", Kind: kind}] = []*columns.Extractor{x}
		kind += "#0"
	}
	m := newManager(t, &columns.Config{Extractors: extractors})
	m.Replace(context.Background(), resource.NewUnstructured(configMapKind, newObject(configMapKind, "default", "cfg", "p1")))

	derived := 0
	for _, k := range m.Kinds() {
		if resource.IsDerived(k) {
			derived++
		}
	}
	if derived != MaxDepth {
		t.Fatalf("expected %d derived levels, got %d", MaxDepth, derived)
	}
}

func TestReevaluate(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()
	m.Replace(ctx, resource.NewUnstructured(podKind, newObject(podKind, "default", "web", "u1")))

	m.SetConfig(&columns.Config{Columns: map[schema.GroupVersionKind][]columns.ColumnSpec{
		podKind: {{Name: "fixed", Eval: columns.EvaluatorFunc(func(resource.Resource, time.Time) (string, error) { return "new", nil })}},
	}})
	if e, _ := m.Get(podKind, "u1"); len(e.Cells) != 4 {
		t.Fatalf("existing rows must keep their cells until re-evaluated")
	}
	if n := m.Reevaluate(ctx, podKind); n != 1 {
		t.Fatalf("expected 1 updated entry, got %d", n)
	}
	e, _ := m.Get(podKind, "u1")
	if diff := cmp.Diff([]columns.Cell{{Text: "new"}}, e.Cells); diff != "" {
		t.Fatalf("unexpected cells (-want +got):\n%s", diff)
	}
}

func TestTombstoneKept(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()
	m.Replace(ctx, resource.NewUnstructured(podKind, newObject(podKind, "default", "web", "u1")))

	gone := newObject(podKind, "default", "web", "u1")
	ts := metav1.NewTime(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	gone.SetDeletionTimestamp(&ts)
	m.Replace(ctx, resource.NewUnstructured(podKind, gone))

	e, ok := m.Get(podKind, "u1")
	if !ok || e.Resource.DeletionTimestamp() == nil {
		t.Fatalf("expected tombstone for u1")
	}
	if got := e.Cells[2].Text; got != "Terminating" {
		t.Fatalf("expected Terminating status, got %q", got)
	}
}
