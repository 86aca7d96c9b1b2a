package app

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/sttts/kw/internal/columns"
	"github.com/sttts/kw/internal/dispatch"
	"github.com/sttts/kw/internal/evaluator"
	"github.com/sttts/kw/internal/queue"
	"github.com/sttts/kw/internal/reflector"
	"github.com/sttts/kw/internal/resource"
)

type (
	Signal  = dispatch.Signal[*State]
	Context = dispatch.Context[*State]
)

// View is the presentation surface. Its methods are only called on the
// renderer goroutine.
type View interface {
	SetKinds(kinds []schema.GroupVersionKind)
	ShowKind(kind schema.GroupVersionKind, cols []columns.ColumnSpec)
	SetItems(kind schema.GroupVersionKind, items []*evaluator.Evaluated)
	UpsertRow(kind schema.GroupVersionKind, item *evaluator.Evaluated)
	AppendLog(key LogKey, line string)
	SetStatus(text string)
}

type Deleter interface {
	Delete(ctx context.Context, kind schema.GroupVersionKind, namespace, name string) error
}

type LogStreamer interface {
	Stream(ctx context.Context, namespace, pod, container string, fn func(line string)) error
}

type PortForwarder interface {
	Forward(ctx context.Context, namespace, pod string, local, remote uint16, ready func(local uint16)) error
}

type LogKey struct {
	Namespace, Pod, Container string
}

type ForwardKey struct {
	Namespace, Pod string
	Local, Remote  uint16
}

// State is shared by all signal handlers.
type State struct {
	Registry  *reflector.Registry
	Manager   *evaluator.Manager
	Table     *resource.Table
	Deleter   Deleter
	Logs      LogStreamer
	Forwarder PortForwarder

	log           logr.Logger
	notifications *queue.Queue[Notification]

	mu       sync.Mutex
	view     View
	kinds    []schema.GroupVersionKind
	selected schema.GroupVersionKind
	stale    sets.Set[schema.GroupVersionKind]
	logSubs  map[LogKey]context.CancelFunc
	forwards map[ForwardKey]context.CancelFunc
}

func (s *State) notify(ctx context.Context, n Notification) error {
	return s.notifications.Push(ctx, n)
}

// View returns the attached view, nil when running headless.
func (s *State) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Selected returns the kind currently shown.
func (s *State) Selected() schema.GroupVersionKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Kinds returns the last discovered kinds plus the extractor-level kinds
// that have derived rows.
func (s *State) Kinds() []schema.GroupVersionKind {
	s.mu.Lock()
	out := sets.New(s.kinds...)
	s.mu.Unlock()
	for _, k := range s.Manager.Kinds() {
		if x, ok := resource.ExtractorKind(k); ok {
			out.Insert(x)
		}
	}
	kinds := out.UnsortedList()
	resource.SortKinds(kinds)
	return kinds
}

// items returns the rows of kind. An extractor-level kind ("Parent#extractor")
// collects the children of every parent.
func (s *State) items(kind schema.GroupVersionKind) []*evaluator.Evaluated {
	if !isExtractorLevel(kind) {
		return slices.Collect(s.Manager.GetResources(kind))
	}
	var out []*evaluator.Evaluated
	for _, k := range s.Manager.Kinds() {
		if x, ok := resource.ExtractorKind(k); ok && x == kind {
			out = append(out, slices.Collect(s.Manager.GetResources(k))...)
		}
	}
	slices.SortFunc(out, func(a, b *evaluator.Evaluated) int {
		return cmp.Or(
			strings.Compare(a.Resource.Namespace(), b.Resource.Namespace()),
			strings.Compare(a.Resource.Name(), b.Resource.Name()),
			strings.Compare(a.Resource.Identity(), b.Resource.Identity()),
		)
	})
	return out
}

// isExtractorLevel reports whether kind is "Parent#extractor" without a child id.
func isExtractorLevel(kind schema.GroupVersionKind) bool {
	return strings.Count(kind.Kind, resource.Separator)%2 == 1
}

// extractorParent returns Parent of an extractor-level kind.
func extractorParent(kind schema.GroupVersionKind) schema.GroupVersionKind {
	i := strings.LastIndex(kind.Kind, resource.Separator)
	if i >= 0 {
		kind.Kind = kind.Kind[:i]
	}
	return kind
}
