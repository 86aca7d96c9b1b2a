package reflector

import (
	"context"
	"fmt"
	"sync"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
)

// Source opens an event stream for one kind. The stream starts with the
// current objects as Added events.
type Source interface {
	ListWatch(ctx context.Context, kind schema.GroupVersionKind) (watch.Interface, error)
}

// DynamicSource lists and watches through the dynamic client across all namespaces.
type DynamicSource struct {
	Client dynamic.Interface
	Mapper meta.RESTMapper
}

func (s *DynamicSource) ListWatch(ctx context.Context, kind schema.GroupVersionKind) (watch.Interface, error) {
	mapping, err := s.Mapper.RESTMapping(kind.GroupKind(), kind.Version)
	if err != nil {
		return nil, fmt.Errorf("mapping %s: %w", kind, err)
	}
	ri := s.Client.Resource(mapping.Resource)
	list, err := ri.List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", mapping.Resource.Resource, err)
	}
	w, err := ri.Watch(ctx, metav1.ListOptions{
		ResourceVersion:     list.GetResourceVersion(),
		AllowWatchBookmarks: true,
	})
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", mapping.Resource.Resource, err)
	}
	return newListWatch(list.Items, w), nil
}

// listWatch replays listed items as Added events, then forwards upstream.
type listWatch struct {
	upstream watch.Interface
	result   chan watch.Event
	stop     chan struct{}
	once     sync.Once
}

func newListWatch(items []unstructured.Unstructured, upstream watch.Interface) *listWatch {
	lw := &listWatch{
		upstream: upstream,
		result:   make(chan watch.Event),
		stop:     make(chan struct{}),
	}
	go lw.run(items)
	return lw
}

func (lw *listWatch) run(items []unstructured.Unstructured) {
	defer close(lw.result)
	for i := range items {
		if !lw.send(watch.Event{Type: watch.Added, Object: &items[i]}) {
			return
		}
	}
	for {
		select {
		case <-lw.stop:
			return
		case ev, ok := <-lw.upstream.ResultChan():
			if !ok {
				return
			}
			if !lw.send(ev) {
				return
			}
		}
	}
}

func (lw *listWatch) send(ev watch.Event) bool {
	select {
	case lw.result <- ev:
		return true
	case <-lw.stop:
		return false
	}
}

func (lw *listWatch) Stop() {
	lw.once.Do(func() {
		close(lw.stop)
		lw.upstream.Stop()
	})
}

func (lw *listWatch) ResultChan() <-chan watch.Event { return lw.result }
