// Package reflector supervises one watch stream per registered kind and
// funnels all decoded events into a single ordered queue.
package reflector

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/utils/clock"

	"github.com/sttts/kw/internal/evaluator"
	"github.com/sttts/kw/internal/metrics"
	"github.com/sttts/kw/internal/queue"
	"github.com/sttts/kw/internal/resource"
)

// ErrNoDecoder is returned by Register for kinds without a static Go type.
var ErrNoDecoder = errors.New("no static decoder for kind, use RegisterUnstructured")

// ErrRunning is returned by Run when another subscriber is active.
var ErrRunning = errors.New("reflector: events already consumed")

type EventType string

const (
	Applied EventType = "Applied"
	Deleted EventType = "Deleted"
)

// Event is one decoded change of a watched kind. Deleted events always carry
// a deletion timestamp.
type Event struct {
	Type     EventType
	Kind     schema.GroupVersionKind
	Resource resource.Resource
}

// Store answers Get. It is implemented by *evaluator.Manager.
type Store interface {
	GetResources(kind schema.GroupVersionKind) iter.Seq[*evaluator.Evaluated]
}

type Options struct {
	Source Source
	Table  *resource.Table
	Store  Store
	// QueueSize bounds the shared events queue. Producers block when it is full.
	QueueSize int
	Clock     clock.PassiveClock
	Log       logr.Logger
	Metrics   *metrics.Metrics
}

type watchHandle struct {
	gen          uint64
	unstructured bool
	cancel       context.CancelFunc
	done         chan struct{}
	alive        atomic.Bool
}

// Registry owns the watch tasks. At most one live task exists per kind.
type Registry struct {
	source  Source
	table   *resource.Table
	store   Store
	clock   clock.PassiveClock
	log     logr.Logger
	metrics *metrics.Metrics

	events     *queue.Queue[Event]
	consuming  atomic.Bool
	generation atomic.Uint64

	mu      sync.Mutex
	watches map[schema.GroupVersionKind]*watchHandle
}

func New(opts Options) *Registry {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Table == nil {
		opts.Table = resource.DefaultTable()
	}
	return &Registry{
		source:  opts.Source,
		table:   opts.Table,
		store:   opts.Store,
		clock:   opts.Clock,
		log:     opts.Log.WithName("reflector"),
		metrics: opts.Metrics,
		events:  queue.New[Event](opts.QueueSize, queue.Block),
		watches: map[schema.GroupVersionKind]*watchHandle{},
	}
}

// Register starts watching kind, decoding objects into their static Go type.
// It is a no-op while a task for kind is alive.
func (r *Registry) Register(ctx context.Context, kind schema.GroupVersionKind) error {
	info, ok := r.table.Lookup(kind)
	if !ok || !info.Typed() {
		return fmt.Errorf("%s: %w", kind, ErrNoDecoder)
	}
	return r.register(ctx, kind, false)
}

// RegisterUnstructured starts watching kind without typed decoding.
func (r *Registry) RegisterUnstructured(ctx context.Context, kind schema.GroupVersionKind) error {
	return r.register(ctx, kind, true)
}

func (r *Registry) register(ctx context.Context, kind schema.GroupVersionKind, unstructured bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.watches[kind]; ok && h.alive.Load() {
		r.log.Info("kind already registered", "severity", "warning", "kind", kind.String())
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &watchHandle{
		gen:          r.generation.Add(1),
		unstructured: unstructured,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	h.alive.Store(true)
	r.watches[kind] = h
	r.metrics.WatchStarted()
	go r.run(ctx, kind, h)
	return nil
}

// Unregister stops the task of kind and waits for it to finish. It reports
// whether a task existed.
func (r *Registry) Unregister(kind schema.GroupVersionKind) bool {
	r.mu.Lock()
	h, ok := r.watches[kind]
	r.mu.Unlock()
	if !ok {
		return false
	}
	h.cancel()
	<-h.done
	return true
}

// Alive reports whether a task for kind is running.
func (r *Registry) Alive(kind schema.GroupVersionKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.watches[kind]
	return ok && h.alive.Load()
}

// Kinds returns the kinds with a live task, sorted.
func (r *Registry) Kinds() []schema.GroupVersionKind {
	r.mu.Lock()
	out := make([]schema.GroupVersionKind, 0, len(r.watches))
	for k, h := range r.watches {
		if h.alive.Load() {
			out = append(out, k)
		}
	}
	r.mu.Unlock()
	resource.SortKinds(out)
	return out
}

// Get returns the evaluated resources of kind from the store.
func (r *Registry) Get(kind schema.GroupVersionKind) iter.Seq[*evaluator.Evaluated] {
	if r.store == nil {
		return func(func(*evaluator.Evaluated) bool) {}
	}
	return r.store.GetResources(kind)
}

// Run hands every event to fn, in queue order, until ctx is done. There is
// a single consumer; fn runs on the calling goroutine.
func (r *Registry) Run(ctx context.Context, fn func(Event)) error {
	if !r.consuming.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer r.consuming.Store(false)
	for {
		ev, ok := r.events.Pop(ctx)
		if !ok {
			return nil
		}
		fn(ev)
	}
}

// Stop cancels all tasks and closes the events queue.
func (r *Registry) Stop() {
	r.mu.Lock()
	handles := make([]*watchHandle, 0, len(r.watches))
	for _, h := range r.watches {
		handles = append(handles, h)
	}
	r.mu.Unlock()
	for _, h := range handles {
		h.cancel()
		<-h.done
	}
	r.events.Close()
}

func (r *Registry) run(ctx context.Context, kind schema.GroupVersionKind, h *watchHandle) {
	log := r.log.WithValues("kind", kind.String(), "generation", h.gen)
	defer func() {
		h.alive.Store(false)
		h.cancel()
		r.mu.Lock()
		if r.watches[kind] == h {
			delete(r.watches, kind)
		}
		r.mu.Unlock()
		r.metrics.WatchStopped()
		close(h.done)
	}()

	w, err := r.source.ListWatch(ctx, kind)
	if err != nil {
		log.Error(err, "failed to start watch")
		return
	}
	defer w.Stop()
	log.V(2).Info("watch started")

	for {
		select {
		case <-ctx.Done():
			log.V(2).Info("watch cancelled")
			return
		case ev, ok := <-w.ResultChan():
			if !ok {
				log.V(1).Info("watch stream ended")
				return
			}
			if !r.handle(ctx, log, kind, h, ev) {
				return
			}
		}
	}
}

// handle forwards one raw event. It returns false when the task must stop.
func (r *Registry) handle(ctx context.Context, log logr.Logger, kind schema.GroupVersionKind, h *watchHandle, ev watch.Event) bool {
	var typ EventType
	switch ev.Type {
	case watch.Bookmark:
		return true
	case watch.Error:
		log.Error(apierrors.FromObject(ev.Object), "watch stream failed")
		return false
	case watch.Added, watch.Modified:
		typ = Applied
	case watch.Deleted:
		typ = Deleted
	default:
		log.Info("ignoring unknown event type", "severity", "warning", "type", ev.Type)
		return true
	}

	u, err := toUnstructured(ev.Object)
	if err != nil {
		r.metrics.DecodeError(kind.Kind)
		log.Error(err, "failed to serialize object, skipping event")
		return true
	}
	if typ == Deleted && u.GetDeletionTimestamp() == nil {
		u = u.DeepCopy()
		ts := metav1.NewTime(r.clock.Now())
		u.SetDeletionTimestamp(&ts)
		r.metrics.NormalizedDelete()
		log.Info("deleted event without deletion timestamp, using local time", "severity", "warning", "namespace", u.GetNamespace(), "name", u.GetName())
	}

	res, err := r.table.Decode(kind, u, h.unstructured)
	if err != nil {
		r.metrics.DecodeError(kind.Kind)
		log.Error(err, "failed to decode object, skipping event")
		return true
	}

	if err := r.events.Push(ctx, Event{Type: typ, Kind: kind, Resource: res}); err != nil {
		return false
	}
	r.metrics.WatchEvent(kind.Kind, string(typ))
	return true
}

func toUnstructured(obj runtime.Object) (*unstructured.Unstructured, error) {
	if u, ok := obj.(*unstructured.Unstructured); ok {
		return u, nil
	}
	if obj == nil {
		return nil, fmt.Errorf("nil object")
	}
	m, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
	if err != nil {
		return nil, err
	}
	return &unstructured.Unstructured{Object: m}, nil
}
